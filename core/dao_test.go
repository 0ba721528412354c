package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axiomesh/treasury/repo"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	alice AccountID = "0x1100000000000000000000000000000000000001"
	bob   AccountID = "0x2200000000000000000000000000000000000002"
	carol AccountID = "0x3300000000000000000000000000000000000003"
	dave  AccountID = "0x4400000000000000000000000000000000000004"
)

var (
	testBond       = NewBalance(10)
	testBountyBond = NewBalance(5)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(t *testing.T, council ...AccountID) *repo.Config {
	c := repo.DefaultConfig(t.TempDir())
	c.Log.Level = "debug"
	for _, member := range council {
		c.DAO.Council = append(c.DAO.Council, string(member))
	}
	c.DAO.ProposalBond = testBond.String()
	c.DAO.BountyBond = testBountyBond.String()
	return c
}

func newTestDAO(t *testing.T, council ...AccountID) (*DAO, *MockClient, *fakeClock) {
	return newTestDAOWithConfig(t, testConfig(t, council...))
}

func newTestDAOWithConfig(t *testing.T, c *repo.Config, opts ...Option) (*DAO, *MockClient, *fakeClock) {
	client := NewMockClient()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d, err := NewDAO(context.Background(), c, client, append([]Option{WithClock(clock)}, opts...)...)
	require.Nil(t, err)
	t.Cleanup(func() {
		_ = d.DB.Close()
	})
	return d, client, clock
}

func bonded(account AccountID) Caller {
	return Caller{Account: account, Deposit: testBond}
}

func TestGenesisDefaultPolicy(t *testing.T) {
	d, _, _ := newTestDAO(t, alice, bob)

	policy, err := d.Policy()
	require.Nil(t, err)
	require.Len(t, policy.Roles, 2)
	assert.Equal(t, "all", policy.Roles[0].Name)
	assert.Equal(t, "council", policy.Roles[1].Name)
	assert.Equal(t, []AccountID{alice, bob}, policy.Roles[1].Kind.Members)
	assert.Equal(t, 0, policy.ProposalBond.Cmp(testBond))
	assert.Equal(t, 0, policy.BountyBond.Cmp(testBountyBond))
	assert.Equal(t, 7*24*time.Hour, policy.ProposalPeriod)

	config, err := d.DAOConfig()
	require.Nil(t, err)
	assert.Equal(t, "treasury", config.Name)
}

func TestGenesisRunsOnce(t *testing.T) {
	c := testConfig(t, alice)
	d, _, _ := newTestDAOWithConfig(t, c)
	_, err := d.AddProposal(context.Background(), bonded(alice), ProposalInput{Kind: &SignalVote{}})
	require.Nil(t, err)
	require.Nil(t, d.DB.Close())

	c.DAO.Council = []string{string(bob)}
	reopened, _, _ := newTestDAOWithConfig(t, c)
	policy, err := reopened.Policy()
	require.Nil(t, err)
	role, ok := policy.Role("council")
	require.True(t, ok)
	assert.Equal(t, []AccountID{alice}, role.Kind.Members)

	last, err := reopened.LastProposalID()
	require.Nil(t, err)
	assert.EqualValues(t, 1, last)
}

func TestGenesisPolicyFile(t *testing.T) {
	c := testConfig(t)
	c.DAO.PolicyFile = filepath.Join(c.RepoRoot, "policy.yaml")
	require.Nil(t, os.WriteFile(c.DAO.PolicyFile, []byte(testPolicyYAML), 0644))

	d, _, _ := newTestDAOWithConfig(t, c)
	policy, err := d.Policy()
	require.Nil(t, err)
	require.Len(t, policy.Roles, 2)
	assert.Equal(t, RoleMember, policy.Roles[0].Kind.Type)
	assert.Equal(t, TokenWeight, policy.Roles[0].VotePolicy[LabelTransfer].WeightKind)
}

func TestFailedEntryPointLeavesNoWrites(t *testing.T) {
	d, client, _ := newTestDAO(t, alice)

	_, err := d.AddProposal(context.Background(), Caller{Account: alice, Deposit: NewBalance(9)}, ProposalInput{Kind: &SignalVote{}})
	assert.True(t, errors.Is(err, ErrInsufficientBond))

	last, err := d.LastProposalID()
	require.Nil(t, err)
	assert.EqualValues(t, 0, last)
	assert.Empty(t, client.Calls())
}

func TestDispatchRefusedSettlesFailed(t *testing.T) {
	d, client, _ := newTestDAO(t, alice)
	client.Refuse = errors.New("executor offline")
	ctx := context.Background()

	id, err := d.AddProposal(ctx, bonded(alice), ProposalInput{Kind: &Transfer{ReceiverID: bob, Amount: NewBalance(3)}})
	require.Nil(t, err)
	status, err := d.Vote(ctx, bonded(alice), id, VoteApprove)
	require.Nil(t, err)
	assert.Equal(t, InProgress, status)

	p, err := d.Proposal(id)
	require.Nil(t, err)
	assert.Equal(t, Failed, p.Status)
	assert.False(t, p.AwaitingOutcome())
}

func TestOutcomeLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reg := prometheus.NewRegistry()
	d, client, _ := newTestDAOWithConfig(t, testConfig(t, alice), WithRegisterer(reg))
	require.Nil(t, d.Start())
	ctx := context.Background()

	id, err := d.AddProposal(ctx, bonded(bob), ProposalInput{Kind: &Transfer{ReceiverID: carol, Amount: NewBalance(7)}})
	require.Nil(t, err)
	_, err = d.Vote(ctx, bonded(alice), id, VoteApprove)
	require.Nil(t, err)

	call, err := client.LastCall(id, PurposeProposal)
	require.Nil(t, err)
	assert.Equal(t, CallTransfer, call.Kind)
	assert.Equal(t, carol, call.Receiver)
	client.Resolve(call.Token, true)

	var refund *Call
	require.Eventually(t, func() bool {
		refund, err = client.LastCall(id, PurposeRefund)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, bob, refund.Receiver)
	assert.Equal(t, 0, refund.Amount.Cmp(testBond))

	p, err := d.Proposal(id)
	require.Nil(t, err)
	assert.Equal(t, Approved, p.Status)

	assert.Equal(t, float64(1), counterValue(t, d.Metrics.proposalsCounter.WithLabelValues(LabelTransfer)))
	assert.Equal(t, float64(1), counterValue(t, d.Metrics.outcomesCounter.WithLabelValues("success")))

	require.Nil(t, d.Stop())
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	m := &dto.Metric{}
	require.Nil(t, counter.Write(m))
	return m.GetCounter().GetValue()
}
