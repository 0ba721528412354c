package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const (
	statePrefix = "state/"

	configKey          = statePrefix + "config"
	policyKey          = statePrefix + "policy"
	lastProposalIDKey  = statePrefix + "last_proposal_id"
	proposalPrefix     = statePrefix + "proposal/"
	lastBountyIDKey    = statePrefix + "last_bounty_id"
	bountyPrefix       = statePrefix + "bounty/"
	claimsPrefix       = statePrefix + "claims/"
	bountyClaimersPref = statePrefix + "bounty_claimers/"
	pendingPrefix      = statePrefix + "pending/"
	stakingIDKey       = statePrefix + "staking_id"
	delegationPrefix   = statePrefix + "delegation/"
	totalDelegationKey = statePrefix + "total_delegation"
	blobPrefix         = statePrefix + "blob/"

	// kept outside the state namespace so a state wipe preserves it
	factoryKey = "FACTORY"

	recordVersion = 2
)

// PendingPurpose says what a dispatched call settles.
type PendingPurpose string

const (
	PurposeProposal PendingPurpose = "proposal"
	PurposeRefund   PendingPurpose = "refund"
)

// PendingCall is the bookkeeping kept for an in flight outbound call.
type PendingCall struct {
	ProposalID uint64         `json:"proposal_id"`
	Purpose    PendingPurpose `json:"purpose"`
	Receiver   AccountID      `json:"receiver,omitempty"`
	Amount     Balance        `json:"amount"`
}

type Blob struct {
	Owner AccountID `json:"owner"`
	Code  []byte    `json:"code"`
}

// record is the versioned envelope of proposals and bounties.
type record struct {
	Version int             `json:"version"`
	V1      json.RawMessage `json:"v1,omitempty"`
	V2      json.RawMessage `json:"v2,omitempty"`
}

type proposalV1 struct {
	ID          uint64               `json:"id"`
	Proposer    AccountID            `json:"proposer"`
	Description string               `json:"description"`
	Kind        *KindEnvelope        `json:"kind"`
	Status      ProposalStatus       `json:"status"`
	VoteCounts  map[string][3]uint64 `json:"vote_counts"`
	Votes       map[AccountID]Vote   `json:"votes"`
	// unix nanoseconds
	SubmissionTime int64 `json:"submission_time"`
}

// upgrade lifts a v1 proposal. v1 records carried no bond, so the current
// proposal bond stands in for it.
func (v proposalV1) upgrade(bond Balance) (*Proposal, error) {
	kind, err := DecodeKind(v.Kind)
	if err != nil {
		return nil, err
	}
	p := &Proposal{
		ID:             v.ID,
		Proposer:       v.Proposer,
		Description:    v.Description,
		Kind:           kind,
		Status:         v.Status,
		VoteCounts:     make(map[string]VoteCounts, len(v.VoteCounts)),
		Votes:          v.Votes,
		SubmissionTime: time.Unix(0, v.SubmissionTime).UTC(),
		Bond:           bond,
	}
	for role, counts := range v.VoteCounts {
		p.VoteCounts[role] = VoteCounts{NewBalance(counts[0]), NewBalance(counts[1]), NewBalance(counts[2])}
	}
	if p.Votes == nil {
		p.Votes = make(map[AccountID]Vote)
	}
	return p, nil
}

type bountyV1 struct {
	Description string        `json:"description"`
	Token       string        `json:"token"`
	Amount      uint64        `json:"amount"`
	Times       uint32        `json:"times"`
	MaxDeadline time.Duration `json:"max_deadline"`
}

func (v bountyV1) upgrade() *Bounty {
	return &Bounty{
		Description: v.Description,
		Token:       v.Token,
		Amount:      NewBalance(v.Amount),
		Times:       v.Times,
		MaxDeadline: v.MaxDeadline,
	}
}

// State is the view one entry point works on. Reads fall through to the
// database, writes are staged until Commit. Outbound calls are queued and
// only handed out once the writes are durable.
type State struct {
	db     storage.Storage
	writes map[string][]byte
	calls  []*Call
	hooks  []func()
}

func NewState(db storage.Storage) *State {
	return &State{
		db:     db,
		writes: make(map[string][]byte),
	}
}

func (s *State) get(key string) []byte {
	if v, ok := s.writes[key]; ok {
		return v
	}
	return s.db.Get([]byte(key))
}

func (s *State) put(key string, value []byte) {
	s.writes[key] = value
}

// delete stages a removal; a nil value marks it.
func (s *State) delete(key string) {
	s.writes[key] = nil
}

func (s *State) getJSON(key string, v any) (bool, error) {
	raw := s.get(key)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, errors.Wrapf(err, "unmarshal %s", key)
	}
	return true, nil
}

func (s *State) putJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	s.put(key, raw)
	return nil
}

func (s *State) getUint(key string) (uint64, error) {
	raw := s.get(key)
	if raw == nil {
		return 0, nil
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return n, nil
}

func (s *State) putUint(key string, n uint64) {
	s.put(key, []byte(strconv.FormatUint(n, 10)))
}

// Commit writes every staged change in one batch.
func (s *State) Commit() {
	if len(s.writes) == 0 {
		return
	}
	keys := lo.Keys(s.writes)
	sort.Strings(keys)
	batch := s.db.NewBatch()
	for _, key := range keys {
		if value := s.writes[key]; value == nil {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), value)
		}
	}
	batch.Commit()
	s.writes = make(map[string][]byte)
}

// onCommit registers fn to run once the entry point committed.
func (s *State) onCommit(fn func()) {
	s.hooks = append(s.hooks, fn)
}

// Calls returns the outbound calls queued so far.
func (s *State) Calls() []*Call {
	return s.calls
}

// enqueue queues call for dispatch and records what its outcome settles.
func (s *State) enqueue(call *Call) error {
	pending := PendingCall{
		ProposalID: call.ProposalID,
		Purpose:    call.Purpose,
		Receiver:   call.Receiver,
		Amount:     call.Amount,
	}
	if err := s.putJSON(pendingPrefix+call.Token, pending); err != nil {
		return err
	}
	s.calls = append(s.calls, call)
	return nil
}

func (s *State) Initialized() bool {
	return s.get(policyKey) != nil
}

func (s *State) Config() (Config, error) {
	var config Config
	ok, err := s.getJSON(configKey, &config)
	if err == nil && !ok {
		err = ErrNotInitialized
	}
	return config, err
}

func (s *State) setConfig(config Config) error {
	return s.putJSON(configKey, config)
}

// Policy reads the policy, upgrading the legacy council form.
func (s *State) Policy() (*Policy, error) {
	var versioned VersionedPolicy
	ok, err := s.getJSON(policyKey, &versioned)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	policy := versioned.Upgrade()
	return &policy, nil
}

func (s *State) setPolicy(policy *Policy) error {
	return s.putJSON(policyKey, VersionedPolicy{Current: policy})
}

func (s *State) LastProposalID() (uint64, error) {
	return s.getUint(lastProposalIDKey)
}

func (s *State) nextProposalID() (uint64, error) {
	id, err := s.LastProposalID()
	if err != nil {
		return 0, err
	}
	if id == ^uint64(0) {
		return 0, errors.Wrap(ErrArithmeticOverflow, "proposal id")
	}
	s.putUint(lastProposalIDKey, id+1)
	return id, nil
}

func proposalKey(id uint64) string {
	return fmt.Sprintf("%s%d", proposalPrefix, id)
}

func (s *State) Proposal(id uint64) (*Proposal, error) {
	var rec record
	ok, err := s.getJSON(proposalKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrProposalNotFound, "proposal %d", id)
	}
	switch rec.Version {
	case 1:
		var legacy proposalV1
		if err := json.Unmarshal(rec.V1, &legacy); err != nil {
			return nil, errors.Wrapf(err, "unmarshal v1 proposal %d", id)
		}
		policy, err := s.Policy()
		if err != nil {
			return nil, err
		}
		return legacy.upgrade(policy.ProposalBond)
	case recordVersion:
		p := &Proposal{}
		if err := json.Unmarshal(rec.V2, p); err != nil {
			return nil, errors.Wrapf(err, "unmarshal proposal %d", id)
		}
		return p, nil
	}
	return nil, errors.Errorf("proposal %d has unknown version %d", id, rec.Version)
}

func (s *State) putProposal(p *Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "marshal proposal %d", p.ID)
	}
	return s.putJSON(proposalKey(p.ID), record{Version: recordVersion, V2: raw})
}

func (s *State) LastBountyID() (uint64, error) {
	return s.getUint(lastBountyIDKey)
}

func (s *State) nextBountyID() (uint64, error) {
	id, err := s.LastBountyID()
	if err != nil {
		return 0, err
	}
	if id == ^uint64(0) {
		return 0, errors.Wrap(ErrArithmeticOverflow, "bounty id")
	}
	s.putUint(lastBountyIDKey, id+1)
	return id, nil
}

func bountyKey(id uint64) string {
	return fmt.Sprintf("%s%d", bountyPrefix, id)
}

func (s *State) Bounty(id uint64) (*Bounty, error) {
	var rec record
	ok, err := s.getJSON(bountyKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrBountyNotFound, "bounty %d", id)
	}
	switch rec.Version {
	case 1:
		var legacy bountyV1
		if err := json.Unmarshal(rec.V1, &legacy); err != nil {
			return nil, errors.Wrapf(err, "unmarshal v1 bounty %d", id)
		}
		return legacy.upgrade(), nil
	case recordVersion:
		b := &Bounty{}
		if err := json.Unmarshal(rec.V2, b); err != nil {
			return nil, errors.Wrapf(err, "unmarshal bounty %d", id)
		}
		return b, nil
	}
	return nil, errors.Errorf("bounty %d has unknown version %d", id, rec.Version)
}

func (s *State) putBounty(id uint64, b *Bounty) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return errors.Wrapf(err, "marshal bounty %d", id)
	}
	return s.putJSON(bountyKey(id), record{Version: recordVersion, V2: raw})
}

// Claims returns the claims of account in the order they were made.
func (s *State) Claims(account AccountID) ([]BountyClaim, error) {
	var claims []BountyClaim
	_, err := s.getJSON(claimsPrefix+string(account), &claims)
	return claims, err
}

func (s *State) putClaims(account AccountID, claims []BountyClaim) error {
	if len(claims) == 0 {
		s.delete(claimsPrefix + string(account))
		return nil
	}
	return s.putJSON(claimsPrefix+string(account), claims)
}

func bountyClaimersKey(id uint64) string {
	return fmt.Sprintf("%s%d", bountyClaimersPref, id)
}

// BountyClaimers returns every account holding at least one claim on bounty id.
func (s *State) BountyClaimers(id uint64) ([]AccountID, error) {
	var claimers []AccountID
	_, err := s.getJSON(bountyClaimersKey(id), &claimers)
	return claimers, err
}

func (s *State) putBountyClaimers(id uint64, claimers []AccountID) error {
	if len(claimers) == 0 {
		s.delete(bountyClaimersKey(id))
		return nil
	}
	return s.putJSON(bountyClaimersKey(id), claimers)
}

func (s *State) pending(token string) (*PendingCall, bool, error) {
	pending := &PendingCall{}
	ok, err := s.getJSON(pendingPrefix+token, pending)
	if err != nil || !ok {
		return nil, false, err
	}
	return pending, true, nil
}

func (s *State) deletePending(token string) {
	s.delete(pendingPrefix + token)
}

func (s *State) StakingContract() (AccountID, bool) {
	raw := s.get(stakingIDKey)
	return AccountID(raw), raw != nil
}

func (s *State) setStakingContract(id AccountID) {
	s.put(stakingIDKey, []byte(id))
}

func (s *State) DelegationOf(account AccountID) (Balance, error) {
	return s.getBalance(delegationPrefix + string(account))
}

func (s *State) TotalDelegation() (Balance, error) {
	return s.getBalance(totalDelegationKey)
}

func (s *State) getBalance(key string) (Balance, error) {
	raw := s.get(key)
	if raw == nil {
		return Balance{}, nil
	}
	return ParseBalance(string(raw))
}

func (s *State) putBalance(key string, b Balance) {
	if b.IsZero() {
		s.delete(key)
		return
	}
	s.put(key, []byte(b.String()))
}

func (s *State) Blob(hash common.Hash) (*Blob, error) {
	blob := &Blob{}
	ok, err := s.getJSON(blobPrefix+hash.Hex(), blob)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrBlobNotFound, "blob %s", hash)
	}
	return blob, nil
}

func (s *State) hasBlob(hash common.Hash) bool {
	return s.get(blobPrefix+hash.Hex()) != nil
}

func (s *State) putBlob(hash common.Hash, blob *Blob) error {
	return s.putJSON(blobPrefix+hash.Hex(), blob)
}

func (s *State) deleteBlob(hash common.Hash) {
	s.delete(blobPrefix + hash.Hex())
}

func (s *State) FactoryInfo() (FactoryInfo, error) {
	var info FactoryInfo
	_, err := s.getJSON(factoryKey, &info)
	return info, err
}

func (s *State) setFactoryInfo(info FactoryInfo) error {
	return s.putJSON(factoryKey, info)
}

// WipeState stages the removal of every state key. Factory info survives.
func (s *State) WipeState() {
	it := s.db.Prefix([]byte(statePrefix))
	for it.Next() {
		s.delete(string(it.Key()))
	}
	for key := range s.writes {
		if strings.HasPrefix(key, statePrefix) {
			s.writes[key] = nil
		}
	}
}
