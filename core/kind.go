package core

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Policy labels of the proposal kinds. Permissions are written against these.
const (
	LabelConfig                        = "config"
	LabelPolicy                        = "policy"
	LabelAddMemberToRole               = "add_member_to_role"
	LabelRemoveMemberFromRole          = "remove_member_from_role"
	LabelFunctionCall                  = "call"
	LabelUpgradeSelf                   = "upgrade_self"
	LabelUpgradeRemote                 = "upgrade_remote"
	LabelTransfer                      = "transfer"
	LabelSetStakingContract            = "set_vote_token"
	LabelAddBounty                     = "add_bounty"
	LabelBountyDone                    = "bounty_done"
	LabelVote                          = "vote"
	LabelFactoryInfoUpdate             = "factory_info_update"
	LabelPolicyAddOrUpdateRole         = "policy_add_or_update_role"
	LabelPolicyRemoveRole              = "policy_remove_role"
	LabelPolicyUpdateDefaultVotePolicy = "policy_update_default_vote_policy"
	LabelPolicyUpdateParameters        = "policy_update_parameters"
)

// ProposalKind is the closed set of actions a proposal can carry. Only the
// pointer types declared in this file implement it.
type ProposalKind interface {
	Label() string
}

// ChangeConfig replaces the treasury config.
type ChangeConfig struct {
	Config Config `json:"config"`
}

// ChangePolicy replaces the whole policy.
type ChangePolicy struct {
	Policy VersionedPolicy `json:"policy"`
}

type AddMemberToRole struct {
	MemberID AccountID `json:"member_id"`
	Role     string    `json:"role"`
}

type RemoveMemberFromRole struct {
	MemberID AccountID `json:"member_id"`
	Role     string    `json:"role"`
}

// ActionCall is one method invocation of a FunctionCall batch.
type ActionCall struct {
	MethodName string  `json:"method_name"`
	Args       []byte  `json:"args"`
	Deposit    Balance `json:"deposit"`
	Gas        uint64  `json:"gas"`
}

// FunctionCall calls ReceiverID with every action in one external call.
type FunctionCall struct {
	ReceiverID AccountID    `json:"receiver_id"`
	Actions    []ActionCall `json:"actions"`
}

// UpgradeSelf installs the code stored under Hash in the blob store.
type UpgradeSelf struct {
	Hash common.Hash `json:"hash"`
}

// UpgradeRemote passes the code stored under Hash to MethodName of ReceiverID.
type UpgradeRemote struct {
	ReceiverID AccountID   `json:"receiver_id"`
	MethodName string      `json:"method_name"`
	Hash       common.Hash `json:"hash"`
}

// Transfer moves Amount of TokenID to ReceiverID. A non-empty Msg turns a
// token transfer into a transfer-and-call; it is invalid for NativeToken.
type Transfer struct {
	TokenID    string    `json:"token_id"`
	ReceiverID AccountID `json:"receiver_id"`
	Amount     Balance   `json:"amount"`
	Msg        string    `json:"msg,omitempty"`
}

// SetStakingContract sets the contract reporting delegated balances. It can
// only be set once.
type SetStakingContract struct {
	StakingID AccountID `json:"staking_id"`
}

type AddBounty struct {
	Bounty Bounty `json:"bounty"`
}

// BountyDone pays ReceiverID for a completed claim on BountyID. It is filed by
// CompleteBounty, never submitted directly.
type BountyDone struct {
	BountyID   uint64    `json:"bounty_id"`
	ReceiverID AccountID `json:"receiver_id"`
}

// SignalVote has no effect besides its recorded outcome.
type SignalVote struct{}

type FactoryInfoUpdate struct {
	FactoryInfo FactoryInfo `json:"factory_info"`
}

type ChangePolicyAddOrUpdateRole struct {
	Role RolePermission `json:"role"`
}

type ChangePolicyRemoveRole struct {
	Role string `json:"role"`
}

type ChangePolicyUpdateDefaultVotePolicy struct {
	VotePolicy VotePolicy `json:"vote_policy"`
}

type ChangePolicyUpdateParameters struct {
	Parameters PolicyParameters `json:"parameters"`
}

func (*ChangeConfig) Label() string { return LabelConfig }
func (*ChangePolicy) Label() string { return LabelPolicy }
func (*AddMemberToRole) Label() string { return LabelAddMemberToRole }
func (*RemoveMemberFromRole) Label() string { return LabelRemoveMemberFromRole }
func (*FunctionCall) Label() string { return LabelFunctionCall }
func (*UpgradeSelf) Label() string { return LabelUpgradeSelf }
func (*UpgradeRemote) Label() string { return LabelUpgradeRemote }
func (*Transfer) Label() string { return LabelTransfer }
func (*SetStakingContract) Label() string { return LabelSetStakingContract }
func (*AddBounty) Label() string { return LabelAddBounty }
func (*BountyDone) Label() string { return LabelBountyDone }
func (*SignalVote) Label() string { return LabelVote }
func (*FactoryInfoUpdate) Label() string { return LabelFactoryInfoUpdate }
func (*ChangePolicyAddOrUpdateRole) Label() string { return LabelPolicyAddOrUpdateRole }
func (*ChangePolicyRemoveRole) Label() string { return LabelPolicyRemoveRole }
func (*ChangePolicyUpdateDefaultVotePolicy) Label() string { return LabelPolicyUpdateDefaultVotePolicy }
func (*ChangePolicyUpdateParameters) Label() string { return LabelPolicyUpdateParameters }

var kindRegistry = map[string]func() ProposalKind{
	LabelConfig:                        func() ProposalKind { return &ChangeConfig{} },
	LabelPolicy:                        func() ProposalKind { return &ChangePolicy{} },
	LabelAddMemberToRole:               func() ProposalKind { return &AddMemberToRole{} },
	LabelRemoveMemberFromRole:          func() ProposalKind { return &RemoveMemberFromRole{} },
	LabelFunctionCall:                  func() ProposalKind { return &FunctionCall{} },
	LabelUpgradeSelf:                   func() ProposalKind { return &UpgradeSelf{} },
	LabelUpgradeRemote:                 func() ProposalKind { return &UpgradeRemote{} },
	LabelTransfer:                      func() ProposalKind { return &Transfer{} },
	LabelSetStakingContract:            func() ProposalKind { return &SetStakingContract{} },
	LabelAddBounty:                     func() ProposalKind { return &AddBounty{} },
	LabelBountyDone:                    func() ProposalKind { return &BountyDone{} },
	LabelVote:                          func() ProposalKind { return &SignalVote{} },
	LabelFactoryInfoUpdate:             func() ProposalKind { return &FactoryInfoUpdate{} },
	LabelPolicyAddOrUpdateRole:         func() ProposalKind { return &ChangePolicyAddOrUpdateRole{} },
	LabelPolicyRemoveRole:              func() ProposalKind { return &ChangePolicyRemoveRole{} },
	LabelPolicyUpdateDefaultVotePolicy: func() ProposalKind { return &ChangePolicyUpdateDefaultVotePolicy{} },
	LabelPolicyUpdateParameters:        func() ProposalKind { return &ChangePolicyUpdateParameters{} },
}

// Labels returns every known proposal label.
func Labels() []string {
	labels := make([]string, 0, len(kindRegistry))
	for label := range kindRegistry {
		labels = append(labels, label)
	}
	return labels
}

// NewKind returns a zero value of the kind registered under label.
func NewKind(label string) (ProposalKind, error) {
	factory, ok := kindRegistry[label]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "label %q", label)
	}
	return factory(), nil
}

// KindEnvelope is the serialized form of a ProposalKind.
type KindEnvelope struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

func EncodeKind(kind ProposalKind) (*KindEnvelope, error) {
	if kind == nil {
		return nil, errors.Wrap(ErrUnknownKind, "nil kind")
	}
	if _, ok := kindRegistry[kind.Label()]; !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "label %q", kind.Label())
	}
	params, err := json.Marshal(kind)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s params", kind.Label())
	}
	return &KindEnvelope{Type: kind.Label(), Params: params}, nil
}

func DecodeKind(env *KindEnvelope) (ProposalKind, error) {
	if env == nil {
		return nil, errors.Wrap(ErrUnknownKind, "missing kind")
	}
	kind, err := NewKind(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, kind); err != nil {
			return nil, errors.Wrapf(err, "unmarshal %s params", env.Type)
		}
	}
	return kind, nil
}
