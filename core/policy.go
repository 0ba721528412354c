package core

import (
	"os"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type WeightKind string

const (
	// TokenWeight counts the voter's delegated balance.
	TokenWeight WeightKind = "token"
	// RoleWeight counts one vote per member.
	RoleWeight WeightKind = "role"
)

type Ratio struct {
	Num uint64 `json:"num" yaml:"num"`
	Den uint64 `json:"den" yaml:"den"`
}

// WeightOrRatio is either an absolute weight or a fraction of some total.
type WeightOrRatio struct {
	Weight *Balance `json:"weight,omitempty" yaml:"weight,omitempty"`
	Ratio  *Ratio   `json:"ratio,omitempty" yaml:"ratio,omitempty"`
}

func Weight(n uint64) WeightOrRatio {
	w := NewBalance(n)
	return WeightOrRatio{Weight: &w}
}

func RatioOf(num, den uint64) WeightOrRatio {
	return WeightOrRatio{Ratio: &Ratio{Num: num, Den: den}}
}

func (w WeightOrRatio) validate() error {
	switch {
	case w.Weight != nil && w.Ratio != nil:
		return errors.Wrap(ErrInvalidPolicy, "both weight and ratio set")
	case w.Ratio != nil && w.Ratio.Den == 0:
		return errors.Wrap(ErrInvalidPolicy, "ratio denominator is zero")
	case w.Ratio != nil && w.Ratio.Num > w.Ratio.Den:
		return errors.Wrap(ErrInvalidPolicy, "ratio above one")
	}
	return nil
}

// share returns total*num/den for a ratio, the weight itself otherwise.
// An empty value is zero.
func (w WeightOrRatio) share(total Balance) (Balance, error) {
	switch {
	case w.Weight != nil:
		return *w.Weight, nil
	case w.Ratio != nil:
		scaled, err := total.Mul(NewBalance(w.Ratio.Num))
		if err != nil {
			return Balance{}, err
		}
		return scaled.Div(NewBalance(w.Ratio.Den))
	}
	return Balance{}, nil
}

type VotePolicy struct {
	WeightKind WeightKind `json:"weight_kind" yaml:"weight_kind"`
	// minimum weight cast before the role can decide
	Quorum WeightOrRatio `json:"quorum" yaml:"quorum"`
	// share of the cast weight an outcome needs
	Threshold WeightOrRatio `json:"threshold" yaml:"threshold"`
}

func (vp VotePolicy) validate() error {
	switch vp.WeightKind {
	case TokenWeight, RoleWeight:
	default:
		return errors.Wrapf(ErrInvalidPolicy, "unknown weight kind %q", vp.WeightKind)
	}
	if err := vp.Quorum.validate(); err != nil {
		return errors.WithMessage(err, "quorum")
	}
	if err := vp.Threshold.validate(); err != nil {
		return errors.WithMessage(err, "threshold")
	}
	return nil
}

type RoleKindType string

const (
	RoleEveryone RoleKindType = "everyone"
	// RoleMember matches accounts whose delegated balance reaches MinBalance.
	RoleMember RoleKindType = "member"
	RoleGroup  RoleKindType = "group"
)

type RoleKind struct {
	Type       RoleKindType `json:"type" yaml:"type"`
	Members    []AccountID  `json:"members,omitempty" yaml:"members,omitempty"`
	MinBalance Balance      `json:"min_balance" yaml:"min_balance"`
}

type RolePermission struct {
	Name string   `json:"name" yaml:"name"`
	Kind RoleKind `json:"kind" yaml:"kind"`
	// "<label>:<action>", either side may be "*"
	Permissions []string `json:"permissions" yaml:"permissions"`
	// per label overrides of the default vote policy
	VotePolicy map[string]VotePolicy `json:"vote_policy,omitempty" yaml:"vote_policy,omitempty"`
}

// UserInfo is the account an evaluation is made for.
type UserInfo struct {
	Account AccountID
	// delegated balance
	Balance Balance
}

func (r *RolePermission) matches(user UserInfo) bool {
	switch r.Kind.Type {
	case RoleEveryone:
		return true
	case RoleMember:
		return !user.Balance.Lt(r.Kind.MinBalance)
	case RoleGroup:
		return lo.Contains(r.Kind.Members, user.Account)
	}
	return false
}

func (r *RolePermission) permits(label string, action Action) bool {
	perms := mapset.NewThreadUnsafeSet(r.Permissions...)
	return perms.Contains(label+":"+string(action)) ||
		perms.Contains(label+":*") ||
		perms.Contains("*:"+string(action)) ||
		perms.Contains("*:*")
}

// PolicyParameters is a partial update of the bonds and periods.
type PolicyParameters struct {
	ProposalBond            *Balance       `json:"proposal_bond,omitempty" yaml:"proposal_bond,omitempty"`
	ProposalPeriod          *time.Duration `json:"proposal_period,omitempty" yaml:"proposal_period,omitempty"`
	BountyBond              *Balance       `json:"bounty_bond,omitempty" yaml:"bounty_bond,omitempty"`
	BountyForgivenessPeriod *time.Duration `json:"bounty_forgiveness_period,omitempty" yaml:"bounty_forgiveness_period,omitempty"`
}

type Policy struct {
	// evaluation order matters: the first decisive role settles a proposal
	Roles             []RolePermission `json:"roles" yaml:"roles"`
	DefaultVotePolicy VotePolicy       `json:"default_vote_policy" yaml:"default_vote_policy"`
	ProposalBond      Balance          `json:"proposal_bond" yaml:"proposal_bond"`
	ProposalPeriod    time.Duration    `json:"proposal_period" yaml:"proposal_period"`
	BountyBond        Balance          `json:"bounty_bond" yaml:"bounty_bond"`
	// how long an abandoned claim keeps its slot, and how long after claiming
	// a give up still returns the bond
	BountyForgivenessPeriod time.Duration `json:"bounty_forgiveness_period" yaml:"bounty_forgiveness_period"`
}

var defaultBond = MustParseBalance("1000000000000000000")

// DefaultPolicy lets everyone propose and gives the council every permission.
// A majority of the council must vote, and a majority of those votes decides.
func DefaultPolicy(council []AccountID) Policy {
	return Policy{
		Roles: []RolePermission{
			{
				Name:        "all",
				Kind:        RoleKind{Type: RoleEveryone},
				Permissions: []string{"*:" + string(ActionAddProposal)},
			},
			{
				Name:        "council",
				Kind:        RoleKind{Type: RoleGroup, Members: append([]AccountID(nil), council...)},
				Permissions: []string{"*:*"},
			},
		},
		DefaultVotePolicy: VotePolicy{
			WeightKind: RoleWeight,
			Quorum:     RatioOf(1, 2),
			Threshold:  RatioOf(1, 2),
		},
		ProposalBond:            defaultBond,
		ProposalPeriod:          7 * 24 * time.Hour,
		BountyBond:              defaultBond,
		BountyForgivenessPeriod: 24 * time.Hour,
	}
}

// VersionedPolicy is either a bare council list, the legacy form, or a full
// policy.
type VersionedPolicy struct {
	Council []AccountID `json:"council,omitempty" yaml:"council,omitempty"`
	Current *Policy     `json:"current,omitempty" yaml:"current,omitempty"`
}

// Upgrade converts the legacy form to a full policy.
func (v VersionedPolicy) Upgrade() Policy {
	if v.Current != nil {
		return *v.Current
	}
	return DefaultPolicy(v.Council)
}

func (p *Policy) Validate() error {
	names := mapset.NewThreadUnsafeSet[string]()
	for i := range p.Roles {
		role := &p.Roles[i]
		if role.Name == "" {
			return errors.Wrap(ErrInvalidPolicy, "empty role name")
		}
		if !names.Add(role.Name) {
			return errors.Wrapf(ErrInvalidPolicy, "duplicate role %q", role.Name)
		}
		switch role.Kind.Type {
		case RoleEveryone, RoleMember, RoleGroup:
		default:
			return errors.Wrapf(ErrInvalidPolicy, "role %q has unknown kind %q", role.Name, role.Kind.Type)
		}
		for label, vp := range role.VotePolicy {
			if err := vp.validate(); err != nil {
				return errors.WithMessagef(err, "role %q label %q", role.Name, label)
			}
		}
	}
	return errors.WithMessage(p.DefaultVotePolicy.validate(), "default vote policy")
}

// CanExecute returns the roles allowing user to run action on proposals
// labelled label, and whether there is at least one.
func (p *Policy) CanExecute(user UserInfo, label string, action Action) ([]string, bool) {
	var roles []string
	for i := range p.Roles {
		role := &p.Roles[i]
		if role.matches(user) && role.permits(label, action) {
			roles = append(roles, role.Name)
		}
	}
	return roles, len(roles) > 0
}

// VotingRoles returns, in declared order, the roles allowed to cast any vote
// on proposals labelled label.
func (p *Policy) VotingRoles(label string) []*RolePermission {
	var roles []*RolePermission
	for i := range p.Roles {
		role := &p.Roles[i]
		if lo.SomeBy(voteActions, func(a Action) bool { return role.permits(label, a) }) {
			roles = append(roles, role)
		}
	}
	return roles
}

func (p *Policy) Role(name string) (*RolePermission, bool) {
	for i := range p.Roles {
		if p.Roles[i].Name == name {
			return &p.Roles[i], true
		}
	}
	return nil, false
}

func (p *Policy) VotePolicyFor(role *RolePermission, label string) VotePolicy {
	if vp, ok := role.VotePolicy[label]; ok {
		return vp
	}
	return p.DefaultVotePolicy
}

func (p *Policy) IsTokenWeighted(role *RolePermission, label string) bool {
	return p.VotePolicyFor(role, label).WeightKind == TokenWeight
}

// MemberWeight is what one vote of user adds to the tally of role.
func (p *Policy) MemberWeight(user UserInfo, role *RolePermission, label string) Balance {
	if p.IsTokenWeighted(role, label) {
		return user.Balance
	}
	return NewBalance(1)
}

func (p *Policy) groupRole(name string) (*RolePermission, error) {
	role, ok := p.Role(name)
	if !ok {
		return nil, errors.Wrapf(ErrRoleNotFound, "role %q", name)
	}
	if role.Kind.Type != RoleGroup {
		return nil, errors.Wrapf(ErrRoleNotGroup, "role %q", name)
	}
	return role, nil
}

func (p *Policy) AddMemberToRole(name string, member AccountID) error {
	role, err := p.groupRole(name)
	if err != nil {
		return err
	}
	if !lo.Contains(role.Kind.Members, member) {
		role.Kind.Members = append(role.Kind.Members, member)
	}
	return nil
}

func (p *Policy) RemoveMemberFromRole(name string, member AccountID) error {
	role, err := p.groupRole(name)
	if err != nil {
		return err
	}
	role.Kind.Members = lo.Without(role.Kind.Members, member)
	return nil
}

// AddOrUpdateRole replaces the role with the same name, or appends it.
func (p *Policy) AddOrUpdateRole(role RolePermission) {
	if existing, ok := p.Role(role.Name); ok {
		*existing = role
		return
	}
	p.Roles = append(p.Roles, role)
}

func (p *Policy) RemoveRole(name string) {
	p.Roles = lo.Reject(p.Roles, func(r RolePermission, _ int) bool { return r.Name == name })
}

func (p *Policy) UpdateDefaultVotePolicy(vp VotePolicy) {
	p.DefaultVotePolicy = vp
}

func (p *Policy) UpdateParameters(params PolicyParameters) {
	if params.ProposalBond != nil {
		p.ProposalBond = *params.ProposalBond
	}
	if params.ProposalPeriod != nil {
		p.ProposalPeriod = *params.ProposalPeriod
	}
	if params.BountyBond != nil {
		p.BountyBond = *params.BountyBond
	}
	if params.BountyForgivenessPeriod != nil {
		p.BountyForgivenessPeriod = *params.BountyForgivenessPeriod
	}
}

// LoadPolicyFile reads a genesis policy written in yaml.
func LoadPolicyFile(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read policy file")
	}
	policy := &Policy{}
	if err := yaml.Unmarshal(raw, policy); err != nil {
		return nil, errors.Wrap(err, "unmarshal policy file")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}
