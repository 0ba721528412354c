package core

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWeights map[AccountID]Balance

func (f fakeWeights) DelegationOf(account AccountID) (Balance, error) {
	return f[account], nil
}

func (f fakeWeights) TotalDelegation() (Balance, error) {
	var total Balance
	for _, b := range f {
		var err error
		if total, err = total.Add(b); err != nil {
			return Balance{}, err
		}
	}
	return total, nil
}

var submitted = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// twoRolePolicy has a token weighted stakers role with quorum 100 and a 51%
// threshold, followed by a one vote per member council with quorum 2 and a
// majority threshold.
func twoRolePolicy() *Policy {
	policy := DefaultPolicy([]AccountID{alice, bob, carol})
	policy.Roles = []RolePermission{
		{
			Name:        "stakers",
			Kind:        RoleKind{Type: RoleMember, MinBalance: NewBalance(1)},
			Permissions: []string{"transfer:*"},
			VotePolicy: map[string]VotePolicy{
				LabelTransfer: {WeightKind: TokenWeight, Quorum: Weight(100), Threshold: RatioOf(51, 100)},
			},
		},
		policy.Roles[1],
	}
	policy.DefaultVotePolicy = VotePolicy{WeightKind: RoleWeight, Quorum: Weight(2), Threshold: RatioOf(1, 2)}
	return &policy
}

func tallied(counts map[string]VoteCounts) *Proposal {
	return &Proposal{
		Kind:           &Transfer{ReceiverID: dave, Amount: NewBalance(1)},
		Status:         InProgress,
		VoteCounts:     counts,
		Votes:          map[AccountID]Vote{},
		SubmissionTime: submitted,
	}
}

func counts(approve, reject, remove uint64) VoteCounts {
	return VoteCounts{NewBalance(approve), NewBalance(reject), NewBalance(remove)}
}

func TestProposalStatusTwoRoles(t *testing.T) {
	policy := twoRolePolicy()
	weights := fakeWeights{alice: NewBalance(500)}
	now := submitted.Add(time.Hour)

	tests := []struct {
		name   string
		counts map[string]VoteCounts
		status ProposalStatus
		role   string
	}{
		{
			name:   "no quorum anywhere",
			counts: map[string]VoteCounts{"stakers": counts(60, 0, 0), "council": counts(1, 0, 0)},
			status: InProgress,
		},
		{
			name:   "stakers approve",
			counts: map[string]VoteCounts{"stakers": counts(80, 30, 0)},
			status: Approved,
			role:   "stakers",
		},
		{
			name:   "stakers split, council rejects",
			counts: map[string]VoteCounts{"stakers": counts(55, 55, 0), "council": counts(0, 2, 0)},
			status: Rejected,
			role:   "council",
		},
		{
			name:   "first decisive role in declared order wins",
			counts: map[string]VoteCounts{"stakers": counts(100, 0, 0), "council": counts(0, 2, 0)},
			status: Approved,
			role:   "stakers",
		},
		{
			name:   "council removes",
			counts: map[string]VoteCounts{"council": counts(0, 0, 3)},
			status: Removed,
			role:   "council",
		},
		{
			name:   "tie is not decisive",
			counts: map[string]VoteCounts{"council": counts(1, 1, 0)},
			status: InProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, role, err := policy.ProposalStatus(tallied(tt.counts), weights, now)
			require.Nil(t, err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.role, role)
		})
	}
}

func TestProposalStatusRoleOrder(t *testing.T) {
	policy := twoRolePolicy()
	policy.Roles[0], policy.Roles[1] = policy.Roles[1], policy.Roles[0]

	p := tallied(map[string]VoteCounts{"stakers": counts(100, 0, 0), "council": counts(0, 2, 0)})
	status, role, err := policy.ProposalStatus(p, fakeWeights{}, submitted)
	require.Nil(t, err)
	assert.Equal(t, Rejected, status)
	assert.Equal(t, "council", role)
}

func TestProposalStatusExpiry(t *testing.T) {
	policy := twoRolePolicy()
	p := tallied(map[string]VoteCounts{"council": counts(1, 0, 0)})

	status, _, err := policy.ProposalStatus(p, fakeWeights{}, submitted.Add(policy.ProposalPeriod))
	require.Nil(t, err)
	assert.Equal(t, InProgress, status)

	status, _, err = policy.ProposalStatus(p, fakeWeights{}, submitted.Add(policy.ProposalPeriod+time.Nanosecond))
	require.Nil(t, err)
	assert.Equal(t, Expired, status)

	// a decisive tally wins over expiry
	p.VoteCounts["council"] = counts(2, 0, 0)
	status, _, err = policy.ProposalStatus(p, fakeWeights{}, submitted.Add(2*policy.ProposalPeriod))
	require.Nil(t, err)
	assert.Equal(t, Approved, status)
}

func TestProposalStatusEveryoneRole(t *testing.T) {
	policy := DefaultPolicy([]AccountID{alice})
	policy.Roles[0].Permissions = []string{"*:*"}

	// one vote per account has no total to measure against
	p := tallied(map[string]VoteCounts{"all": counts(10, 0, 0)})
	status, _, err := policy.ProposalStatus(p, fakeWeights{}, submitted)
	require.Nil(t, err)
	assert.Equal(t, InProgress, status)

	// token weight is measured against the total delegation
	policy.Roles = policy.Roles[:1]
	policy.DefaultVotePolicy = VotePolicy{WeightKind: TokenWeight, Quorum: Weight(1), Threshold: RatioOf(1, 2)}
	weights := fakeWeights{alice: NewBalance(100), bob: NewBalance(50)}

	p = tallied(map[string]VoteCounts{"all": counts(100, 0, 0)})
	status, role, err := policy.ProposalStatus(p, weights, submitted)
	require.Nil(t, err)
	assert.Equal(t, Approved, status)
	assert.Equal(t, "all", role)

	policy.DefaultVotePolicy.Quorum = RatioOf(3, 4)
	status, _, err = policy.ProposalStatus(p, weights, submitted)
	require.Nil(t, err)
	assert.Equal(t, InProgress, status)
}

func TestProposalStatusZeroWeightNeverDecides(t *testing.T) {
	policy := DefaultPolicy([]AccountID{alice, bob})
	policy.DefaultVotePolicy = VotePolicy{WeightKind: RoleWeight, Quorum: Weight(0), Threshold: Weight(0)}

	p := tallied(map[string]VoteCounts{"council": counts(0, 1, 0)})
	status, _, err := policy.ProposalStatus(p, fakeWeights{}, submitted)
	require.Nil(t, err)
	assert.Equal(t, Rejected, status)
}

func TestProposalStatusRatioQuorum(t *testing.T) {
	policy := DefaultPolicy(nil)
	policy.Roles = []RolePermission{{
		Name:        "stakers",
		Kind:        RoleKind{Type: RoleMember},
		Permissions: []string{"*:*"},
	}}
	policy.DefaultVotePolicy = VotePolicy{WeightKind: TokenWeight, Quorum: RatioOf(1, 10), Threshold: RatioOf(1, 2)}
	weights := fakeWeights{alice: NewBalance(600), bob: NewBalance(400)}

	// quorum is more than a tenth of 1000
	p := tallied(map[string]VoteCounts{"stakers": counts(100, 0, 0)})
	status, _, err := policy.ProposalStatus(p, weights, submitted)
	require.Nil(t, err)
	assert.Equal(t, InProgress, status)

	p.VoteCounts["stakers"] = counts(101, 0, 0)
	status, _, err = policy.ProposalStatus(p, weights, submitted)
	require.Nil(t, err)
	assert.Equal(t, Approved, status)
}

func TestProposalStatusOverflow(t *testing.T) {
	policy := DefaultPolicy([]AccountID{alice})
	maxUint := MustParseBalance("115792089237316195423570985008687907853269984665640564039457584007913129639935")

	p := tallied(map[string]VoteCounts{"council": {maxUint, NewBalance(1), Balance{}}})
	_, _, err := policy.ProposalStatus(p, fakeWeights{}, submitted)
	assert.True(t, errors.Is(err, ErrArithmeticOverflow))
}

func TestProposalStatusRatioQuorumIsExceeded(t *testing.T) {
	policy := DefaultPolicy([]AccountID{alice, bob, carol, dave})

	// half of four members is not enough, the ratio has to be exceeded
	p := tallied(map[string]VoteCounts{"council": counts(2, 0, 0)})
	status, _, err := policy.ProposalStatus(p, fakeWeights{}, submitted)
	require.Nil(t, err)
	assert.Equal(t, InProgress, status)

	p.VoteCounts["council"] = counts(3, 0, 0)
	status, role, err := policy.ProposalStatus(p, fakeWeights{}, submitted)
	require.Nil(t, err)
	assert.Equal(t, Approved, status)
	assert.Equal(t, "council", role)
}
