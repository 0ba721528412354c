package core

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) storage.Storage {
	db, err := leveldb.New(filepath.Join(t.TempDir(), "leveldb"))
	require.Nil(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func seededState(t *testing.T, db storage.Storage) *State {
	st := NewState(db)
	policy := DefaultPolicy([]AccountID{alice})
	policy.ProposalBond = NewBalance(77)
	require.Nil(t, st.setPolicy(&policy))
	st.Commit()
	return NewState(db)
}

func TestStateCommitsOnlyOnCommit(t *testing.T) {
	db := newTestStorage(t)
	st := seededState(t, db)

	id, err := st.nextProposalID()
	require.Nil(t, err)
	require.Nil(t, st.putProposal(&Proposal{ID: id, Kind: &SignalVote{}, SubmissionTime: submitted}))

	_, err = st.Proposal(id)
	require.Nil(t, err)
	_, err = NewState(db).Proposal(id)
	assert.True(t, errors.Is(err, ErrProposalNotFound))

	st.Commit()
	p, err := NewState(db).Proposal(id)
	require.Nil(t, err)
	assert.Equal(t, LabelVote, p.Kind.Label())
	last, err := NewState(db).LastProposalID()
	require.Nil(t, err)
	assert.EqualValues(t, 1, last)
}

func TestStateStagedDelete(t *testing.T) {
	db := newTestStorage(t)
	st := seededState(t, db)
	require.Nil(t, st.putClaims(alice, []BountyClaim{{BountyID: 1}}))
	st.Commit()

	st = NewState(db)
	require.Nil(t, st.putClaims(alice, nil))
	claims, err := st.Claims(alice)
	require.Nil(t, err)
	assert.Empty(t, claims)

	claims, err = NewState(db).Claims(alice)
	require.Nil(t, err)
	assert.Len(t, claims, 1)

	st.Commit()
	claims, err = NewState(db).Claims(alice)
	require.Nil(t, err)
	assert.Empty(t, claims)
}

func TestLegacyProposalUpgrade(t *testing.T) {
	db := newTestStorage(t)
	st := seededState(t, db)

	legacy := fmt.Sprintf(`{"id":3,"proposer":%q,"description":"old","kind":{"type":"transfer","params":{"token_id":"","receiver_id":%q,"amount":"5"}},"status":"Approved","vote_counts":{"council":[2,1,0]},"votes":{%q:"approve"},"submission_time":%d}`,
		alice, bob, alice, submitted.UnixNano())
	raw, err := json.Marshal(record{Version: 1, V1: json.RawMessage(legacy)})
	require.Nil(t, err)
	db.Put([]byte(proposalKey(3)), raw)

	p, err := st.Proposal(3)
	require.Nil(t, err)
	assert.Equal(t, Approved, p.Status)
	assert.Equal(t, "77", p.Bond.String())
	assert.True(t, submitted.Equal(p.SubmissionTime))
	assert.Equal(t, "2", p.VoteCounts["council"][VoteApprove].String())
	assert.Equal(t, "1", p.VoteCounts["council"][VoteReject].String())
	assert.Equal(t, VoteApprove, p.Votes[alice])
	transfer, ok := p.Kind.(*Transfer)
	require.True(t, ok)
	assert.Equal(t, bob, transfer.ReceiverID)

	// rewritten in the current version
	require.Nil(t, st.putProposal(p))
	st.Commit()
	var rec record
	require.Nil(t, json.Unmarshal(db.Get([]byte(proposalKey(3))), &rec))
	assert.Equal(t, recordVersion, rec.Version)
}

func TestLegacyBountyUpgrade(t *testing.T) {
	db := newTestStorage(t)
	st := seededState(t, db)

	legacy := fmt.Sprintf(`{"description":"fix","token":"","amount":9,"times":2,"max_deadline":%d}`, int64(time.Hour))
	raw, err := json.Marshal(record{Version: 1, V1: json.RawMessage(legacy)})
	require.Nil(t, err)
	db.Put([]byte(bountyKey(0)), raw)

	b, err := st.Bounty(0)
	require.Nil(t, err)
	assert.Equal(t, "9", b.Amount.String())
	assert.EqualValues(t, 2, b.Times)
	assert.Equal(t, time.Hour, b.MaxDeadline)

	_, err = st.Bounty(1)
	assert.True(t, errors.Is(err, ErrBountyNotFound))
}

func TestWipeStateKeepsFactoryInfo(t *testing.T) {
	db := newTestStorage(t)
	st := seededState(t, db)
	require.Nil(t, st.setFactoryInfo(FactoryInfo{FactoryID: carol, AutoUpdate: true}))
	require.Nil(t, st.setConfig(Config{Name: "t"}))
	st.Commit()

	st = NewState(db)
	st.WipeState()
	st.Commit()

	st = NewState(db)
	assert.False(t, st.Initialized())
	_, err := st.Config()
	assert.True(t, errors.Is(err, ErrNotInitialized))
	info, err := st.FactoryInfo()
	require.Nil(t, err)
	assert.Equal(t, carol, info.FactoryID)
	assert.True(t, info.AutoUpdate)
}

func TestDelegationBalances(t *testing.T) {
	db := newTestStorage(t)
	st := seededState(t, db)

	require.Nil(t, adjustDelegation(st, alice, NewBalance(30), Balance.Add))
	require.Nil(t, adjustDelegation(st, bob, NewBalance(20), Balance.Add))
	require.Nil(t, adjustDelegation(st, alice, NewBalance(10), Balance.Sub))

	a, err := st.DelegationOf(alice)
	require.Nil(t, err)
	assert.Equal(t, "20", a.String())
	total, err := st.TotalDelegation()
	require.Nil(t, err)
	assert.Equal(t, "40", total.String())

	err = adjustDelegation(st, bob, NewBalance(21), Balance.Sub)
	assert.True(t, errors.Is(err, ErrArithmeticOverflow))
}
