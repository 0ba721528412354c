package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// AccountID identifies a member, a proposer or a call receiver.
type AccountID string

// NativeToken is the token id of the chain's native asset.
const NativeToken = ""

type ProposalStatus uint8

const (
	InProgress ProposalStatus = iota
	// Approved: a role reached quorum and threshold for approval and the action ran.
	Approved
	// Rejected: a role reached quorum and threshold for rejection. Bond is returned.
	Rejected
	// Removed: voted as spam. Bond is not returned.
	Removed
	// Expired: the proposal period passed without a decision.
	Expired
	// Moved: handed over to another governance hub.
	Moved
	// Failed: the external call of an approved proposal failed. Finalize may
	// move it to Approved or Expired.
	Failed
)

var statusNames = map[ProposalStatus]string{
	InProgress: "InProgress",
	Approved:   "Approved",
	Rejected:   "Rejected",
	Removed:    "Removed",
	Expired:    "Expired",
	Moved:      "Moved",
	Failed:     "Failed",
}

func (s ProposalStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ProposalStatus(%d)", uint8(s))
}

// Terminal reports whether finalize can no longer change the status.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case Approved, Rejected, Removed, Expired, Moved:
		return true
	}
	return false
}

func (s ProposalStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ProposalStatus) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return errors.Errorf("unknown proposal status %q", text)
}

// Vote is a ballot choice and the index of its weight in VoteCounts.
type Vote uint8

const (
	VoteApprove Vote = iota
	VoteReject
	VoteRemove
)

var voteNames = [...]string{"approve", "reject", "remove"}

func (v Vote) String() string {
	if int(v) < len(voteNames) {
		return voteNames[v]
	}
	return fmt.Sprintf("Vote(%d)", uint8(v))
}

func (v Vote) Action() Action {
	switch v {
	case VoteReject:
		return ActionVoteReject
	case VoteRemove:
		return ActionVoteRemove
	default:
		return ActionVoteApprove
	}
}

func (v Vote) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Vote) UnmarshalText(text []byte) error {
	for i, name := range voteNames {
		if name == string(text) {
			*v = Vote(i)
			return nil
		}
	}
	return errors.Errorf("unknown vote %q", text)
}

// Action is the verb half of a permission string.
type Action string

const (
	ActionAddProposal    Action = "AddProposal"
	ActionRemoveProposal Action = "RemoveProposal"
	ActionVoteApprove    Action = "VoteApprove"
	ActionVoteReject     Action = "VoteReject"
	ActionVoteRemove     Action = "VoteRemove"
	ActionFinalize       Action = "Finalize"
	ActionMoveToHub      Action = "MoveToHub"
)

var voteActions = []Action{ActionVoteApprove, ActionVoteReject, ActionVoteRemove}

// VoteCounts holds the approve/reject/remove weight sums of one role.
type VoteCounts [3]Balance

func (c VoteCounts) Total() (Balance, error) {
	total, err := c[VoteApprove].Add(c[VoteReject])
	if err != nil {
		return Balance{}, err
	}
	return total.Add(c[VoteRemove])
}

type Proposal struct {
	ID          uint64         `json:"id"`
	Proposer    AccountID      `json:"proposer"`
	Description string         `json:"description"`
	Kind        ProposalKind   `json:"kind"`
	Status      ProposalStatus `json:"status"`
	// weight sums per role name
	VoteCounts map[string]VoteCounts `json:"vote_counts"`
	// at most one entry per account
	Votes          map[AccountID]Vote `json:"votes"`
	SubmissionTime time.Time          `json:"submission_time"`
	// deposit attached at submission
	Bond Balance `json:"bond"`
	// set while the dispatched external call awaits its outcome
	CallToken string `json:"call_token,omitempty"`
}

// AwaitingOutcome reports whether the proposal is InProgress but dispatched.
func (p *Proposal) AwaitingOutcome() bool {
	return p.CallToken != ""
}

func (p *Proposal) expired(period time.Duration, now time.Time) bool {
	return p.SubmissionTime.Add(period).Before(now)
}

func (p Proposal) MarshalJSON() ([]byte, error) {
	type plain Proposal
	kind, err := EncodeKind(p.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Kind *KindEnvelope `json:"kind"`
	}{plain(p), kind})
}

func (p *Proposal) UnmarshalJSON(data []byte) error {
	type plain Proposal
	aux := struct {
		*plain
		Kind *KindEnvelope `json:"kind"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	kind, err := DecodeKind(aux.Kind)
	if err != nil {
		return err
	}
	p.Kind = kind
	return nil
}

// ProposalInput is what a proposer submits.
type ProposalInput struct {
	Description string       `json:"description"`
	Kind        ProposalKind `json:"kind"`
}

func (in ProposalInput) MarshalJSON() ([]byte, error) {
	kind, err := EncodeKind(in.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Description string        `json:"description"`
		Kind        *KindEnvelope `json:"kind"`
	}{in.Description, kind})
}

func (in *ProposalInput) UnmarshalJSON(data []byte) error {
	var aux struct {
		Description string        `json:"description"`
		Kind        *KindEnvelope `json:"kind"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	kind, err := DecodeKind(aux.Kind)
	if err != nil {
		return err
	}
	in.Description = aux.Description
	in.Kind = kind
	return nil
}

type Bounty struct {
	Description string `json:"description" yaml:"description"`
	// NativeToken or the token contract account
	Token  string  `json:"token" yaml:"token"`
	Amount Balance `json:"amount" yaml:"amount"`
	// remaining completions
	Times       uint32        `json:"times" yaml:"times"`
	MaxDeadline time.Duration `json:"max_deadline" yaml:"max_deadline"`
}

type BountyClaim struct {
	BountyID  uint64        `json:"bounty_id"`
	StartTime time.Time     `json:"start_time"`
	Deadline  time.Duration `json:"deadline"`
	Completed bool          `json:"completed"`
	Bond      Balance       `json:"bond"`
}

func (c *BountyClaim) expired(now time.Time) bool {
	return c.StartTime.Add(c.Deadline).Before(now)
}

// stale claims no longer hold a slot of their bounty.
func (c *BountyClaim) stale(forgiveness time.Duration, now time.Time) bool {
	return !c.Completed && c.StartTime.Add(c.Deadline).Add(forgiveness).Before(now)
}

// ClaimRef points at the claims of one account on one bounty.
type ClaimRef struct {
	BountyID uint64    `json:"bounty_id"`
	Account  AccountID `json:"account"`
}

type Config struct {
	Name     string `json:"name" yaml:"name"`
	Purpose  string `json:"purpose" yaml:"purpose"`
	Metadata string `json:"metadata" yaml:"metadata"`
}

// FactoryInfo names the factory that deployed the treasury and whether it may
// upgrade it automatically.
type FactoryInfo struct {
	FactoryID  AccountID `json:"factory_id"`
	AutoUpdate bool      `json:"auto_update"`
}

// Caller is what the host knows about the account invoking an entry point.
type Caller struct {
	Account AccountID
	Deposit Balance
}
