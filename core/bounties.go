package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// ClaimBounty reserves one completion slot of bounty id for caller until
// deadline passes.
func (d *DAO) ClaimBounty(ctx context.Context, caller Caller, id uint64, deadline time.Duration) error {
	return d.update(ctx, func(st *State) error {
		bounty, err := st.Bounty(id)
		if err != nil {
			return err
		}
		policy, err := st.Policy()
		if err != nil {
			return err
		}
		u, err := user(st, caller.Account)
		if err != nil {
			return err
		}
		if _, ok := policy.CanExecute(u, LabelBountyDone, ActionAddProposal); !ok {
			return errors.Wrapf(ErrNoPermission, "%s can not claim bounties", caller.Account)
		}
		if caller.Deposit.Lt(policy.BountyBond) {
			return errors.Wrapf(ErrInsufficientBond, "attached %s, required %s", caller.Deposit, policy.BountyBond)
		}
		if deadline > bounty.MaxDeadline {
			return errors.Wrapf(ErrDeadlineExceeded, "%s over %s", deadline, bounty.MaxDeadline)
		}
		if bounty.Times == 0 {
			return errors.Wrapf(ErrAllClaimed, "bounty %d", id)
		}

		now := d.now()
		active, err := purgeStaleClaims(st, id, policy.BountyForgivenessPeriod, now)
		if err != nil {
			return err
		}
		if active >= int(bounty.Times) {
			return errors.Wrapf(ErrAllClaimed, "bounty %d has %d active claims", id, active)
		}

		claims, err := st.Claims(caller.Account)
		if err != nil {
			return err
		}
		claims = append(claims, BountyClaim{
			BountyID:  id,
			StartTime: now,
			Deadline:  deadline,
			Bond:      caller.Deposit,
		})
		if err := st.putClaims(caller.Account, claims); err != nil {
			return err
		}
		claimers, err := st.BountyClaimers(id)
		if err != nil {
			return err
		}
		if !lo.Contains(claimers, caller.Account) {
			claimers = append(claimers, caller.Account)
		}
		if err := st.putBountyClaimers(id, claimers); err != nil {
			return err
		}

		st.onCommit(func() {
			d.Metrics.incClaim()
			d.Logger.WithFields(logrus.Fields{
				"bounty":   id,
				"claimer":  caller.Account,
				"deadline": deadline,
			}).Info("bounty claimed")
		})
		return nil
	})
}

// purgeStaleClaims drops the stale claims on bounty id and returns how many
// claims still hold a slot.
func purgeStaleClaims(st *State, id uint64, forgiveness time.Duration, now time.Time) (int, error) {
	claimers, err := st.BountyClaimers(id)
	if err != nil {
		return 0, err
	}
	active := 0
	var kept []AccountID
	for _, claimer := range claimers {
		claims, err := st.Claims(claimer)
		if err != nil {
			return 0, err
		}
		fresh := lo.Reject(claims, func(c BountyClaim, _ int) bool {
			return c.BountyID == id && c.stale(forgiveness, now)
		})
		if len(fresh) != len(claims) {
			if err := st.putClaims(claimer, fresh); err != nil {
				return 0, err
			}
		}
		if n := lo.CountBy(fresh, func(c BountyClaim) bool { return c.BountyID == id }); n > 0 {
			active += n
			kept = append(kept, claimer)
		}
	}
	if len(kept) != len(claimers) {
		if err := st.putBountyClaimers(id, kept); err != nil {
			return 0, err
		}
	}
	return active, nil
}

// openClaim returns the claims of ref's account and the index of its earliest
// incomplete claim on ref's bounty.
func openClaim(st *State, ref ClaimRef) ([]BountyClaim, int, error) {
	claims, err := st.Claims(ref.Account)
	if err != nil {
		return nil, 0, err
	}
	_, idx, found := lo.FindIndexOf(claims, func(c BountyClaim) bool {
		return c.BountyID == ref.BountyID && !c.Completed
	})
	if found {
		return claims, idx, nil
	}
	if lo.ContainsBy(claims, func(c BountyClaim) bool { return c.BountyID == ref.BountyID }) {
		return nil, 0, errors.Wrapf(ErrClaimCompleted, "bounty %d by %s", ref.BountyID, ref.Account)
	}
	return nil, 0, errors.Wrapf(ErrNoClaim, "bounty %d by %s", ref.BountyID, ref.Account)
}

// dropClaim removes claims[idx] and unregisters the claimer once it holds no
// claim on the bounty anymore.
func dropClaim(st *State, ref ClaimRef, claims []BountyClaim, idx int) error {
	claims = append(claims[:idx:idx], claims[idx+1:]...)
	if err := st.putClaims(ref.Account, claims); err != nil {
		return err
	}
	if lo.ContainsBy(claims, func(c BountyClaim) bool { return c.BountyID == ref.BountyID }) {
		return nil
	}
	claimers, err := st.BountyClaimers(ref.BountyID)
	if err != nil {
		return err
	}
	return st.putBountyClaimers(ref.BountyID, lo.Without(claimers, ref.Account))
}

// GiveUpBounty releases caller's earliest open claim on the bounty. The bond
// is returned only within the forgiveness period from the claim start.
func (d *DAO) GiveUpBounty(ctx context.Context, caller Caller, ref ClaimRef) error {
	if caller.Account != ref.Account {
		return errors.Wrapf(ErrNotClaimOwner, "%s is not %s", caller.Account, ref.Account)
	}
	return d.update(ctx, func(st *State) error {
		policy, err := st.Policy()
		if err != nil {
			return err
		}
		claims, idx, err := openClaim(st, ref)
		if err != nil {
			return err
		}
		claim := claims[idx]
		now := d.now()
		if claim.expired(now) {
			return errors.Wrapf(ErrClaimExpired, "bounty %d by %s", ref.BountyID, ref.Account)
		}
		if err := dropClaim(st, ref, claims, idx); err != nil {
			return err
		}
		if now.Before(claim.StartTime.Add(policy.BountyForgivenessPeriod)) {
			return d.refund(st, 0, ref.Account, claim.Bond)
		}
		return nil
	})
}

// CompleteBounty files the BountyDone proposal paying caller for the earliest
// open claim and marks that claim completed.
func (d *DAO) CompleteBounty(ctx context.Context, caller Caller, ref ClaimRef, note string) (uint64, error) {
	if caller.Account != ref.Account {
		return 0, errors.Wrapf(ErrNotClaimOwner, "%s is not %s", caller.Account, ref.Account)
	}
	var id uint64
	err := d.update(ctx, func(st *State) error {
		claims, idx, err := openClaim(st, ref)
		if err != nil {
			return err
		}
		if claims[idx].expired(d.now()) {
			return errors.Wrapf(ErrClaimExpired, "bounty %d by %s", ref.BountyID, ref.Account)
		}
		id, err = d.addProposal(st, caller, ProposalInput{
			Description: note,
			Kind:        &BountyDone{BountyID: ref.BountyID, ReceiverID: ref.Account},
		})
		if err != nil {
			return err
		}
		claims[idx].Completed = true
		return st.putClaims(ref.Account, claims)
	})
	return id, err
}

// PurgeClaim removes an open claim whose deadline passed. The bond is kept.
func (d *DAO) PurgeClaim(ctx context.Context, caller Caller, ref ClaimRef) error {
	return d.update(ctx, func(st *State) error {
		claims, idx, err := openClaim(st, ref)
		if err != nil {
			return err
		}
		if !claims[idx].expired(d.now()) {
			return errors.Wrapf(ErrClaimNotExpired, "bounty %d by %s", ref.BountyID, ref.Account)
		}
		if err := dropClaim(st, ref, claims, idx); err != nil {
			return err
		}
		st.onCommit(func() {
			d.Logger.WithFields(logrus.Fields{
				"bounty":  ref.BountyID,
				"claimer": ref.Account,
				"by":      caller.Account,
			}).Info("expired bounty claim purged")
		})
		return nil
	})
}

// markClaimCompleted makes sure the claim a BountyDone pays for is marked
// completed. A payout retried after failure finds it reverted.
func markClaimCompleted(st *State, ref ClaimRef) error {
	claims, err := st.Claims(ref.Account)
	if err != nil {
		return err
	}
	if lo.ContainsBy(claims, func(c BountyClaim) bool { return c.BountyID == ref.BountyID && c.Completed }) {
		return nil
	}
	_, idx, found := lo.FindIndexOf(claims, func(c BountyClaim) bool { return c.BountyID == ref.BountyID })
	if !found {
		return errors.Wrapf(ErrNoClaim, "bounty %d by %s", ref.BountyID, ref.Account)
	}
	claims[idx].Completed = true
	return st.putClaims(ref.Account, claims)
}

// revertClaim turns the completed claim of a failed payout back into an open
// one.
func revertClaim(st *State, ref ClaimRef) error {
	claims, err := st.Claims(ref.Account)
	if err != nil {
		return err
	}
	_, idx, found := lo.FindIndexOf(claims, func(c BountyClaim) bool {
		return c.BountyID == ref.BountyID && c.Completed
	})
	if !found {
		return nil
	}
	claims[idx].Completed = false
	return st.putClaims(ref.Account, claims)
}

// reopenClaim gives the claim behind a BountyDone that will not be paid back
// to its claimer, who can then finish, give up or let it lapse.
func reopenClaim(st *State, p *Proposal) error {
	done, ok := p.Kind.(*BountyDone)
	if !ok {
		return nil
	}
	return revertClaim(st, ClaimRef{BountyID: done.BountyID, Account: done.ReceiverID})
}

// payBounty books a successful payout: one completion less, the completed
// claim removed and its bond returned.
func (d *DAO) payBounty(st *State, done *BountyDone) error {
	bounty, err := st.Bounty(done.BountyID)
	if err != nil {
		return err
	}
	if bounty.Times == 0 {
		return errors.Wrapf(ErrArithmeticOverflow, "bounty %d times below zero", done.BountyID)
	}
	bounty.Times--
	if err := st.putBounty(done.BountyID, bounty); err != nil {
		return err
	}

	ref := ClaimRef{BountyID: done.BountyID, Account: done.ReceiverID}
	claims, err := st.Claims(ref.Account)
	if err != nil {
		return err
	}
	claim, idx, found := lo.FindIndexOf(claims, func(c BountyClaim) bool {
		return c.BountyID == ref.BountyID && c.Completed
	})
	if !found {
		return nil
	}
	if err := dropClaim(st, ref, claims, idx); err != nil {
		return err
	}
	return d.refund(st, 0, ref.Account, claim.Bond)
}

func (d *DAO) Bounty(id uint64) (*Bounty, error) {
	var bounty *Bounty
	err := d.view(func(st *State) (err error) {
		bounty, err = st.Bounty(id)
		return err
	})
	return bounty, err
}

func (d *DAO) LastBountyID() (uint64, error) {
	var id uint64
	err := d.view(func(st *State) (err error) {
		id, err = st.LastBountyID()
		return err
	})
	return id, err
}

func (d *DAO) BountyClaims(account AccountID) ([]BountyClaim, error) {
	var claims []BountyClaim
	err := d.view(func(st *State) (err error) {
		claims, err = st.Claims(account)
		return err
	})
	return claims, err
}

// BountyNumberOfClaims counts the stored claims on bounty id.
func (d *DAO) BountyNumberOfClaims(id uint64) (int, error) {
	var n int
	err := d.view(func(st *State) error {
		claimers, err := st.BountyClaimers(id)
		if err != nil {
			return err
		}
		for _, claimer := range claimers {
			claims, err := st.Claims(claimer)
			if err != nil {
				return err
			}
			n += lo.CountBy(claims, func(c BountyClaim) bool { return c.BountyID == id })
		}
		return nil
	})
	return n, err
}
