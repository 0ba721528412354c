package core

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// execute runs the action of an approved proposal. Local actions take effect
// at once and approve it. External actions queue a call and leave it in
// progress until the outcome arrives.
func (d *DAO) execute(st *State, policy *Policy, p *Proposal) error {
	switch kind := p.Kind.(type) {
	case *ChangeConfig:
		if err := st.setConfig(kind.Config); err != nil {
			return err
		}
	case *ChangePolicy:
		next := kind.Policy.Upgrade()
		if err := next.Validate(); err != nil {
			return err
		}
		if err := st.setPolicy(&next); err != nil {
			return err
		}
	case *AddMemberToRole:
		if err := policy.AddMemberToRole(kind.Role, kind.MemberID); err != nil {
			return err
		}
		if err := st.setPolicy(policy); err != nil {
			return err
		}
	case *RemoveMemberFromRole:
		if err := policy.RemoveMemberFromRole(kind.Role, kind.MemberID); err != nil {
			return err
		}
		if err := st.setPolicy(policy); err != nil {
			return err
		}
	case *ChangePolicyAddOrUpdateRole:
		policy.AddOrUpdateRole(kind.Role)
		if err := st.setPolicy(policy); err != nil {
			return err
		}
	case *ChangePolicyRemoveRole:
		policy.RemoveRole(kind.Role)
		if err := st.setPolicy(policy); err != nil {
			return err
		}
	case *ChangePolicyUpdateDefaultVotePolicy:
		policy.UpdateDefaultVotePolicy(kind.VotePolicy)
		if err := st.setPolicy(policy); err != nil {
			return err
		}
	case *ChangePolicyUpdateParameters:
		policy.UpdateParameters(kind.Parameters)
		if err := st.setPolicy(policy); err != nil {
			return err
		}
	case *SetStakingContract:
		if _, ok := st.StakingContract(); ok {
			return ErrStakingContractSet
		}
		st.setStakingContract(kind.StakingID)
	case *AddBounty:
		id, err := st.nextBountyID()
		if err != nil {
			return err
		}
		bounty := kind.Bounty
		if err := st.putBounty(id, &bounty); err != nil {
			return err
		}
	case *SignalVote:
	case *FactoryInfoUpdate:
		if err := st.setFactoryInfo(kind.FactoryInfo); err != nil {
			return err
		}
	case *Transfer:
		return d.call(st, p, &Call{
			Kind:     CallTransfer,
			Receiver: kind.ReceiverID,
			TokenID:  kind.TokenID,
			Amount:   kind.Amount,
			Msg:      kind.Msg,
		})
	case *FunctionCall:
		return d.call(st, p, &Call{
			Kind:     CallFunction,
			Receiver: kind.ReceiverID,
			Actions:  kind.Actions,
		})
	case *UpgradeSelf:
		blob, err := st.Blob(kind.Hash)
		if err != nil {
			return err
		}
		return d.call(st, p, &Call{
			Kind:     CallDeploy,
			Receiver: d.Account,
			Code:     blob.Code,
			CodeHash: kind.Hash,
		})
	case *UpgradeRemote:
		blob, err := st.Blob(kind.Hash)
		if err != nil {
			return err
		}
		return d.call(st, p, &Call{
			Kind:     CallFunction,
			Receiver: kind.ReceiverID,
			Actions:  []ActionCall{{MethodName: kind.MethodName, Args: blob.Code}},
			CodeHash: kind.Hash,
		})
	case *BountyDone:
		bounty, err := st.Bounty(kind.BountyID)
		if err != nil {
			return err
		}
		if err := markClaimCompleted(st, ClaimRef{BountyID: kind.BountyID, Account: kind.ReceiverID}); err != nil {
			return err
		}
		return d.call(st, p, &Call{
			Kind:     CallTransfer,
			Receiver: kind.ReceiverID,
			TokenID:  bounty.Token,
			Amount:   bounty.Amount,
		})
	default:
		return errors.Wrapf(ErrUnknownKind, "proposal %d", p.ID)
	}

	p.Status = Approved
	return d.refundBond(st, p)
}

// call queues the outbound call of p.
func (d *DAO) call(st *State, p *Proposal, call *Call) error {
	call.Token = uuid.NewString()
	call.ProposalID = p.ID
	call.Purpose = PurposeProposal
	if err := st.enqueue(call); err != nil {
		return err
	}
	p.Status = InProgress
	p.CallToken = call.Token
	return nil
}

// refundBond returns the proposal bond to the proposer.
func (d *DAO) refundBond(st *State, p *Proposal) error {
	return d.refund(st, p.ID, p.Proposer, p.Bond)
}

func (d *DAO) refund(st *State, id uint64, receiver AccountID, amount Balance) error {
	if amount.IsZero() {
		return nil
	}
	return st.enqueue(&Call{
		Token:      uuid.NewString(),
		ProposalID: id,
		Purpose:    PurposeRefund,
		Kind:       CallTransfer,
		Receiver:   receiver,
		TokenID:    NativeToken,
		Amount:     amount,
	})
}

// OnOutcome settles the pending call outcome belongs to. Each outcome is
// accepted once.
func (d *DAO) OnOutcome(ctx context.Context, outcome Outcome) error {
	return d.update(ctx, func(st *State) error {
		pending, ok, err := st.pending(outcome.Token)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrDoubleOutcome, "token %s", outcome.Token)
		}
		st.deletePending(outcome.Token)
		st.onCommit(func() { d.Metrics.incOutcome(outcome.Success) })

		if pending.Purpose == PurposeRefund {
			if !outcome.Success {
				st.onCommit(func() {
					d.Logger.WithFields(logrus.Fields{
						"proposal": pending.ProposalID,
						"receiver": pending.Receiver,
						"amount":   pending.Amount,
					}).Error("refund failed")
				})
			}
			return nil
		}

		p, err := st.Proposal(pending.ProposalID)
		if err != nil {
			return err
		}
		if p.CallToken != outcome.Token {
			return errors.Wrapf(ErrInvalidOutcomeMapping, "proposal %d awaits %q, got %q", p.ID, p.CallToken, outcome.Token)
		}
		p.CallToken = ""

		done, isBountyDone := p.Kind.(*BountyDone)
		if outcome.Success {
			if isBountyDone {
				if err := d.payBounty(st, done); err != nil {
					return err
				}
			}
			p.Status = Approved
			if err := d.refundBond(st, p); err != nil {
				return err
			}
		} else {
			p.Status = Failed
			if isBountyDone {
				if err := revertClaim(st, ClaimRef{BountyID: done.BountyID, Account: done.ReceiverID}); err != nil {
					return err
				}
			}
		}
		d.logStatus(st, p, "")
		return st.putProposal(p)
	})
}

// ReconcileCallback settles the call proposal id awaits.
func (d *DAO) ReconcileCallback(ctx context.Context, id uint64, success bool) error {
	p, err := d.Proposal(id)
	if err != nil {
		return err
	}
	if !p.AwaitingOutcome() {
		return errors.Wrapf(ErrDoubleOutcome, "proposal %d awaits no outcome", id)
	}
	return d.OnOutcome(ctx, Outcome{Token: p.CallToken, Success: success})
}
