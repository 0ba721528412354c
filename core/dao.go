package core

import (
	"context"
	"sync"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/axiomesh/treasury/repo"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

type Option func(*DAO)

func WithClock(clock Clock) Option {
	return func(d *DAO) {
		d.clock = clock
	}
}

// WithRegisterer exposes the governance counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *DAO) {
		d.Metrics.Register(reg)
	}
}

type DAO struct {
	Ctx     context.Context
	Client  Client
	Logger  *logrus.Logger
	DB      storage.Storage
	Config  *repo.Config
	Account AccountID
	Metrics *Metrics

	clock Clock

	// one entry point at a time
	mu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDAO(ctx context.Context, config *repo.Config, client Client, opts ...Option) (*DAO, error) {
	logger := log.New()
	logger.SetLevel(log.ParseLevel(config.Log.Level))

	// new leveldb
	db, err := leveldb.New(config.LevelDBPath())
	if err != nil {
		return nil, err
	}

	d := &DAO{
		Ctx:     ctx,
		Client:  client,
		Logger:  logger,
		DB:      db,
		Config:  config,
		Account: AccountID(config.DAO.AccountID),
		Metrics: &Metrics{},
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.genesis(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return d, nil
}

// genesis seeds config, policy and factory info when the state is empty.
func (d *DAO) genesis() error {
	st := NewState(d.DB)
	if st.Initialized() {
		return nil
	}

	policy, err := genesisPolicy(&d.Config.DAO)
	if err != nil {
		return err
	}
	if err := st.setPolicy(policy); err != nil {
		return err
	}
	if err := st.setConfig(Config{Name: d.Config.DAO.Name, Purpose: d.Config.DAO.Purpose}); err != nil {
		return err
	}
	if d.Config.DAO.FactoryID != "" {
		if err := st.setFactoryInfo(FactoryInfo{FactoryID: AccountID(d.Config.DAO.FactoryID)}); err != nil {
			return err
		}
	}
	st.Commit()

	d.Logger.WithFields(logrus.Fields{
		"name":  d.Config.DAO.Name,
		"roles": len(policy.Roles),
	}).Info("genesis state written")
	return nil
}

func genesisPolicy(config *repo.DAO) (*Policy, error) {
	if config.PolicyFile != "" {
		return LoadPolicyFile(config.PolicyFile)
	}

	council := lo.Map(config.Council, func(member string, _ int) AccountID { return AccountID(member) })
	policy := DefaultPolicy(council)
	var err error
	if policy.ProposalBond, err = ParseBalance(config.ProposalBond); err != nil {
		return nil, errors.WithMessage(err, "proposal bond")
	}
	if policy.BountyBond, err = ParseBalance(config.BountyBond); err != nil {
		return nil, errors.WithMessage(err, "bounty bond")
	}
	if config.ProposalPeriod > 0 {
		policy.ProposalPeriod = config.ProposalPeriod
	}
	if config.BountyForgivenessPeriod > 0 {
		policy.BountyForgivenessPeriod = config.BountyForgivenessPeriod
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (d *DAO) Start() error {
	ctx, cancel := context.WithCancel(d.Ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.listenOutcomes(ctx)

	d.Logger.Infof("treasury %s started", d.Account)
	return nil
}

func (d *DAO) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	return d.DB.Close()
}

func (d *DAO) listenOutcomes(ctx context.Context) {
	defer d.wg.Done()
	d.Logger.Info("listen outcomes")

	for {
		select {
		case <-ctx.Done():
			d.Logger.Info("context done")
			return
		case outcome, ok := <-d.Client.Outcomes():
			if !ok {
				d.Logger.Info("outcome channel closed")
				return
			}
			if err := d.OnOutcome(ctx, outcome); err != nil {
				d.Logger.WithField("token", outcome.Token).Errorf("handle outcome error: %s", err)
			}
		}
	}
}

func (d *DAO) now() time.Time {
	return d.clock.Now()
}

// update runs fn as one atomic entry point: its writes are committed only
// when it succeeds, and the calls it queued are dispatched afterwards.
func (d *DAO) update(ctx context.Context, fn func(st *State) error) error {
	d.mu.Lock()
	st := NewState(d.DB)
	if !st.Initialized() {
		d.mu.Unlock()
		return ErrNotInitialized
	}
	if err := fn(st); err != nil {
		d.mu.Unlock()
		return err
	}
	st.Commit()
	d.mu.Unlock()

	for _, hook := range st.hooks {
		hook()
	}
	d.dispatch(ctx, st.Calls())
	return nil
}

// view runs fn on a state that is never committed.
func (d *DAO) view(fn func(st *State) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(NewState(d.DB))
}

// dispatch hands committed calls to the client. A refused call is settled
// right away as failed.
func (d *DAO) dispatch(ctx context.Context, calls []*Call) {
	for _, call := range calls {
		d.Metrics.incCall(call.Kind)
		err := d.Client.Dispatch(ctx, call)
		if err == nil {
			continue
		}
		d.Logger.WithFields(logrus.Fields{
			"proposal": call.ProposalID,
			"token":    call.Token,
		}).Errorf("dispatch %s call error: %s", call.Kind, err)
		if err := d.OnOutcome(ctx, Outcome{Token: call.Token}); err != nil {
			d.Logger.WithField("token", call.Token).Errorf("settle refused call error: %s", err)
		}
	}
}

// user resolves the delegated weight of account.
func user(st *State, account AccountID) (UserInfo, error) {
	balance, err := st.DelegationOf(account)
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{Account: account, Balance: balance}, nil
}

func (d *DAO) Policy() (*Policy, error) {
	var policy *Policy
	err := d.view(func(st *State) (err error) {
		policy, err = st.Policy()
		return err
	})
	return policy, err
}

func (d *DAO) DAOConfig() (Config, error) {
	var config Config
	err := d.view(func(st *State) (err error) {
		config, err = st.Config()
		return err
	})
	return config, err
}

func (d *DAO) FactoryInfo() (FactoryInfo, error) {
	var info FactoryInfo
	err := d.view(func(st *State) (err error) {
		info, err = st.FactoryInfo()
		return err
	})
	return info, err
}

func (d *DAO) StakingContract() (AccountID, bool) {
	var (
		id AccountID
		ok bool
	)
	_ = d.view(func(st *State) error {
		id, ok = st.StakingContract()
		return nil
	})
	return id, ok
}
