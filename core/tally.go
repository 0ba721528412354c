package core

import (
	"time"
)

// WeightSource reports delegated balances for token weighted voting.
type WeightSource interface {
	DelegationOf(account AccountID) (Balance, error)
	TotalDelegation() (Balance, error)
}

// ProposalStatus evaluates the tallies of p against the policy. It returns the
// decided status and the role that decided it, InProgress while undecided or
// Expired once the voting period passed without a decision.
func (p *Policy) ProposalStatus(proposal *Proposal, weights WeightSource, now time.Time) (ProposalStatus, string, error) {
	label := proposal.Kind.Label()
	for _, role := range p.VotingRoles(label) {
		vp := p.VotePolicyFor(role, label)
		// an open role has no countable membership to weigh one vote each against
		if role.Kind.Type == RoleEveryone && vp.WeightKind == RoleWeight {
			continue
		}
		counts := proposal.VoteCounts[role.Name]
		cast, err := counts.Total()
		if err != nil {
			return InProgress, "", err
		}
		if cast.IsZero() {
			continue
		}

		total, err := roleWeight(role, vp, weights)
		if err != nil {
			return InProgress, "", err
		}
		quorum, err := required(vp.Quorum, total)
		if err != nil {
			return InProgress, "", err
		}
		if cast.Lt(quorum) {
			continue
		}

		threshold, err := required(vp.Threshold, cast)
		if err != nil {
			return InProgress, "", err
		}
		for _, vote := range []Vote{VoteApprove, VoteReject, VoteRemove} {
			count := counts[vote]
			if count.IsZero() || count.Lt(threshold) {
				continue
			}
			switch vote {
			case VoteApprove:
				return Approved, role.Name, nil
			case VoteReject:
				return Rejected, role.Name, nil
			default:
				return Removed, role.Name, nil
			}
		}
	}

	if proposal.expired(p.ProposalPeriod, now) {
		return Expired, "", nil
	}
	return InProgress, "", nil
}

// required is the part of total a rule asks for. A ratio must be strictly
// exceeded, capped at total so that all of it always suffices.
func required(w WeightOrRatio, total Balance) (Balance, error) {
	if w.Ratio == nil {
		return w.share(total)
	}
	part, err := w.share(total)
	if err != nil {
		return Balance{}, err
	}
	part, err = part.Add(NewBalance(1))
	if err != nil {
		return Balance{}, err
	}
	return part.Min(total), nil
}

// roleWeight is the total weight the members of role could cast.
func roleWeight(role *RolePermission, vp VotePolicy, weights WeightSource) (Balance, error) {
	switch role.Kind.Type {
	case RoleGroup:
		if vp.WeightKind == RoleWeight {
			return NewBalance(uint64(len(role.Kind.Members))), nil
		}
		var total Balance
		for _, member := range role.Kind.Members {
			delegated, err := weights.DelegationOf(member)
			if err != nil {
				return Balance{}, err
			}
			if total, err = total.Add(delegated); err != nil {
				return Balance{}, err
			}
		}
		return total, nil
	case RoleMember, RoleEveryone:
		return weights.TotalDelegation()
	}
	return Balance{}, nil
}
