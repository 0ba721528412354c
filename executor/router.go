package executor

import (
	"context"
	"sync"

	"github.com/axiomesh/treasury/core"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const outcomeChanSize = 1000

var ErrClosed = errors.New("executor closed")

// Transport carries one call to the end and reports its payload.
type Transport interface {
	Execute(ctx context.Context, call *core.Call) ([]byte, error)
}

var (
	_ Transport   = (*EVM)(nil)
	_ Transport   = (*Installer)(nil)
	_ core.Client = (*Router)(nil)
)

// Router is the treasury's client: deploy calls go to the installer, every
// other call to the chain. Calls run in the background and all outcomes come
// out of one channel.
type Router struct {
	Logger *logrus.Logger

	routes   map[core.CallKind]Transport
	outcomes chan core.Outcome

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRouter(ctx context.Context, chain, installer Transport, logger *logrus.Logger) *Router {
	ctx, cancel := context.WithCancel(ctx)
	return &Router{
		Logger: logger,
		routes: map[core.CallKind]Transport{
			core.CallTransfer: chain,
			core.CallFunction: chain,
			core.CallDeploy:   installer,
		},
		outcomes: make(chan core.Outcome, outcomeChanSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch starts call. The run is detached from ctx, which usually belongs
// to the request that triggered it.
func (r *Router) Dispatch(ctx context.Context, call *core.Call) error {
	transport, ok := r.routes[call.Kind]
	if !ok || transport == nil {
		return errors.Wrapf(core.ErrUnsupportedAction, "no transport for %s calls", call.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.wg.Add(1)
	go r.run(transport, call)
	return nil
}

func (r *Router) run(transport Transport, call *core.Call) {
	defer r.wg.Done()

	logger := r.Logger.WithFields(logrus.Fields{
		"token":    call.Token,
		"proposal": call.ProposalID,
		"kind":     call.Kind,
	})
	payload, err := transport.Execute(r.ctx, call)
	if err != nil {
		logger.Errorf("execute call error: %s", err)
		payload = []byte(err.Error())
	} else {
		logger.Info("call succeeded")
	}
	r.outcomes <- core.Outcome{Token: call.Token, Success: err == nil, Payload: payload}
}

func (r *Router) Outcomes() <-chan core.Outcome {
	return r.outcomes
}

// Close stops accepting calls, cancels the running ones and closes the
// outcome channel once they reported.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	close(r.outcomes)
}
