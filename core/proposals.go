package core

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AddProposal files input on behalf of caller. The attached deposit becomes
// the proposal bond.
func (d *DAO) AddProposal(ctx context.Context, caller Caller, input ProposalInput) (uint64, error) {
	if _, ok := input.Kind.(*BountyDone); ok {
		return 0, errors.Wrap(ErrInvalidProposal, "bounty_done is filed by completing a bounty claim")
	}

	var id uint64
	err := d.update(ctx, func(st *State) (err error) {
		id, err = d.addProposal(st, caller, input)
		return err
	})
	return id, err
}

func (d *DAO) addProposal(st *State, caller Caller, input ProposalInput) (uint64, error) {
	if input.Kind == nil {
		return 0, errors.Wrap(ErrUnknownKind, "missing kind")
	}
	policy, err := st.Policy()
	if err != nil {
		return 0, err
	}
	if err := validateKind(st, policy, input.Kind); err != nil {
		return 0, err
	}
	if caller.Deposit.Lt(policy.ProposalBond) {
		return 0, errors.Wrapf(ErrInsufficientBond, "attached %s, required %s", caller.Deposit, policy.ProposalBond)
	}

	label := input.Kind.Label()
	u, err := user(st, caller.Account)
	if err != nil {
		return 0, err
	}
	if _, ok := policy.CanExecute(u, label, ActionAddProposal); !ok {
		return 0, errors.Wrapf(ErrNoPermission, "%s can not add %s proposals", caller.Account, label)
	}

	id, err := st.nextProposalID()
	if err != nil {
		return 0, err
	}
	p := &Proposal{
		ID:             id,
		Proposer:       caller.Account,
		Description:    input.Description,
		Kind:           input.Kind,
		Status:         InProgress,
		VoteCounts:     make(map[string]VoteCounts),
		Votes:          make(map[AccountID]Vote),
		SubmissionTime: d.now(),
		Bond:           caller.Deposit,
	}
	if err := st.putProposal(p); err != nil {
		return 0, err
	}

	st.onCommit(func() {
		d.Metrics.incProposal(label)
		d.Logger.WithFields(logrus.Fields{
			"proposal": id,
			"kind":     label,
			"proposer": caller.Account,
		}).Info("proposal added")
	})
	return id, nil
}

// validateKind rejects proposals that could never be executed.
func validateKind(st *State, policy *Policy, kind ProposalKind) error {
	switch k := kind.(type) {
	case *Transfer:
		if k.TokenID == NativeToken && k.Msg != "" {
			return errors.Wrap(ErrInvalidProposal, "native transfer can not carry a message")
		}
		if k.ReceiverID == "" {
			return errors.Wrap(ErrInvalidProposal, "missing receiver")
		}
	case *FunctionCall:
		if len(k.Actions) == 0 {
			return errors.Wrap(ErrInvalidProposal, "function call without actions")
		}
		if k.ReceiverID == "" {
			return errors.Wrap(ErrInvalidProposal, "missing receiver")
		}
	case *UpgradeRemote:
		if k.ReceiverID == "" || k.MethodName == "" {
			return errors.Wrap(ErrInvalidProposal, "missing receiver or method")
		}
	case *AddBounty:
		if k.Bounty.Times == 0 || k.Bounty.MaxDeadline <= 0 {
			return errors.Wrap(ErrInvalidProposal, "bounty needs times and a max deadline")
		}
	case *SetStakingContract:
		if _, ok := st.StakingContract(); ok {
			return ErrStakingContractSet
		}
		if k.StakingID == "" {
			return errors.Wrap(ErrInvalidProposal, "missing staking contract")
		}
	case *ChangePolicy:
		next := k.Policy.Upgrade()
		return next.Validate()
	case *ChangePolicyAddOrUpdateRole:
		next := *policy
		next.Roles = append([]RolePermission(nil), policy.Roles...)
		next.AddOrUpdateRole(k.Role)
		return next.Validate()
	case *ChangePolicyUpdateDefaultVotePolicy:
		return k.VotePolicy.validate()
	case *BountyDone:
		if _, err := st.Bounty(k.BountyID); err != nil {
			return err
		}
	}
	return nil
}

// Vote records caller's vote in every role allowing it, then applies the
// status the tally yields.
func (d *DAO) Vote(ctx context.Context, caller Caller, id uint64, vote Vote) (ProposalStatus, error) {
	var status ProposalStatus
	err := d.update(ctx, func(st *State) error {
		policy, err := st.Policy()
		if err != nil {
			return err
		}
		p, err := st.Proposal(id)
		if err != nil {
			return err
		}
		if p.Status != InProgress || p.AwaitingOutcome() {
			return errors.Wrapf(ErrInvalidTransition, "vote on proposal %d in status %s", id, p.Status)
		}

		label := p.Kind.Label()
		u, err := user(st, caller.Account)
		if err != nil {
			return err
		}
		roles, ok := policy.CanExecute(u, label, vote.Action())
		if !ok {
			return errors.Wrapf(ErrNoPermission, "%s can not %s %s proposals", caller.Account, vote, label)
		}
		if _, voted := p.Votes[caller.Account]; voted {
			return errors.Wrapf(ErrAlreadyVoted, "%s on proposal %d", caller.Account, id)
		}

		if p.VoteCounts == nil {
			p.VoteCounts = make(map[string]VoteCounts)
		}
		if p.Votes == nil {
			p.Votes = make(map[AccountID]Vote)
		}
		for _, name := range roles {
			role, _ := policy.Role(name)
			counts := p.VoteCounts[name]
			if counts[vote], err = counts[vote].Add(policy.MemberWeight(u, role, label)); err != nil {
				return err
			}
			p.VoteCounts[name] = counts
		}
		p.Votes[caller.Account] = vote

		st.onCommit(func() { d.Metrics.incVote(vote) })
		status, err = d.settle(st, policy, p)
		return err
	})
	return status, err
}

// Finalize settles a proposal whose voting period ran out, or retries the
// action of a failed one.
func (d *DAO) Finalize(ctx context.Context, caller Caller, id uint64) (ProposalStatus, error) {
	var status ProposalStatus
	err := d.update(ctx, func(st *State) error {
		policy, err := st.Policy()
		if err != nil {
			return err
		}
		p, err := st.Proposal(id)
		if err != nil {
			return err
		}
		u, err := user(st, caller.Account)
		if err != nil {
			return err
		}
		if _, ok := policy.CanExecute(u, p.Kind.Label(), ActionFinalize); !ok {
			return errors.Wrapf(ErrNoPermission, "%s can not finalize %s proposals", caller.Account, p.Kind.Label())
		}

		switch {
		case p.Status.Terminal():
			status = p.Status
			return nil
		case p.AwaitingOutcome():
			return errors.Wrapf(ErrInvalidTransition, "proposal %d awaits its call outcome", id)
		case p.Status == InProgress:
			status, err = d.settle(st, policy, p)
			return err
		}

		// Failed: past the voting period the action is not retried anymore
		now := d.now()
		evaluated := Expired
		if !p.expired(policy.ProposalPeriod, now) {
			if evaluated, _, err = policy.ProposalStatus(p, st, now); err != nil {
				return err
			}
		}
		switch evaluated {
		case Approved:
			if err := d.execute(st, policy, p); err != nil {
				return err
			}
		case Expired:
			p.Status = Expired
			if err := d.refundBond(st, p); err != nil {
				return err
			}
			if err := reopenClaim(st, p); err != nil {
				return err
			}
		default:
			status = p.Status
			return nil
		}
		d.logStatus(st, p, "")
		status = p.Status
		return st.putProposal(p)
	})
	return status, err
}

// RemoveProposal marks an in progress proposal as removed. The bond is kept.
func (d *DAO) RemoveProposal(ctx context.Context, caller Caller, id uint64) error {
	return d.update(ctx, func(st *State) error {
		policy, err := st.Policy()
		if err != nil {
			return err
		}
		p, err := st.Proposal(id)
		if err != nil {
			return err
		}
		u, err := user(st, caller.Account)
		if err != nil {
			return err
		}
		if _, ok := policy.CanExecute(u, p.Kind.Label(), ActionRemoveProposal); !ok {
			return errors.Wrapf(ErrNoPermission, "%s can not remove %s proposals", caller.Account, p.Kind.Label())
		}
		if p.Status != InProgress || p.AwaitingOutcome() {
			return errors.Wrapf(ErrInvalidTransition, "remove proposal %d in status %s", id, p.Status)
		}
		p.Status = Removed
		if err := reopenClaim(st, p); err != nil {
			return err
		}
		d.logStatus(st, p, "")
		return st.putProposal(p)
	})
}

// settle applies the status the tally of p yields and stores p.
func (d *DAO) settle(st *State, policy *Policy, p *Proposal) (ProposalStatus, error) {
	evaluated, role, err := policy.ProposalStatus(p, st, d.now())
	if err != nil {
		return p.Status, err
	}
	switch evaluated {
	case InProgress:
		return p.Status, st.putProposal(p)
	case Approved:
		if err := d.execute(st, policy, p); err != nil {
			return p.Status, err
		}
	case Rejected, Expired:
		p.Status = evaluated
		if err := d.refundBond(st, p); err != nil {
			return p.Status, err
		}
		if err := reopenClaim(st, p); err != nil {
			return p.Status, err
		}
	case Removed:
		p.Status = Removed
		if err := reopenClaim(st, p); err != nil {
			return p.Status, err
		}
	}
	d.logStatus(st, p, role)
	return p.Status, st.putProposal(p)
}

func (d *DAO) logStatus(st *State, p *Proposal, role string) {
	id, status, awaiting := p.ID, p.Status, p.AwaitingOutcome()
	st.onCommit(func() {
		if !awaiting {
			d.Metrics.incStatus(status)
		}
		d.Logger.WithFields(logrus.Fields{
			"proposal": id,
			"status":   status,
			"role":     role,
			"awaiting": awaiting,
		}).Info("proposal settled")
	})
}

func (d *DAO) Proposal(id uint64) (*Proposal, error) {
	var p *Proposal
	err := d.view(func(st *State) (err error) {
		p, err = st.Proposal(id)
		return err
	})
	return p, err
}

func (d *DAO) LastProposalID() (uint64, error) {
	var id uint64
	err := d.view(func(st *State) (err error) {
		id, err = st.LastProposalID()
		return err
	})
	return id, err
}

// Proposals returns up to limit proposals starting at id from.
func (d *DAO) Proposals(from, limit uint64) ([]*Proposal, error) {
	var proposals []*Proposal
	err := d.view(func(st *State) error {
		last, err := st.LastProposalID()
		if err != nil {
			return err
		}
		for id := from; id < last && uint64(len(proposals)) < limit; id++ {
			p, err := st.Proposal(id)
			if err != nil {
				return err
			}
			proposals = append(proposals, p)
		}
		return nil
	})
	return proposals, err
}
