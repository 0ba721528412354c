package core

import (
	"context"

	"github.com/pkg/errors"
)

// Delegate adds amount to the voting weight of account. Only the staking
// contract may call it.
func (d *DAO) Delegate(ctx context.Context, caller Caller, account AccountID, amount Balance) error {
	return d.update(ctx, func(st *State) error {
		if err := checkStakingContract(st, caller); err != nil {
			return err
		}
		return adjustDelegation(st, account, amount, Balance.Add)
	})
}

// Undelegate removes amount from the voting weight of account.
func (d *DAO) Undelegate(ctx context.Context, caller Caller, account AccountID, amount Balance) error {
	return d.update(ctx, func(st *State) error {
		if err := checkStakingContract(st, caller); err != nil {
			return err
		}
		return adjustDelegation(st, account, amount, Balance.Sub)
	})
}

func checkStakingContract(st *State, caller Caller) error {
	staking, ok := st.StakingContract()
	if !ok || staking != caller.Account {
		return errors.Wrapf(ErrNotStakingContract, "caller %s", caller.Account)
	}
	return nil
}

func adjustDelegation(st *State, account AccountID, amount Balance, op func(Balance, Balance) (Balance, error)) error {
	current, err := st.DelegationOf(account)
	if err != nil {
		return err
	}
	total, err := st.TotalDelegation()
	if err != nil {
		return err
	}
	if current, err = op(current, amount); err != nil {
		return errors.WithMessagef(err, "delegation of %s", account)
	}
	if total, err = op(total, amount); err != nil {
		return errors.WithMessage(err, "total delegation")
	}
	st.putBalance(delegationPrefix+string(account), current)
	st.putBalance(totalDelegationKey, total)
	return nil
}

func (d *DAO) DelegationOf(account AccountID) (Balance, error) {
	var balance Balance
	err := d.view(func(st *State) (err error) {
		balance, err = st.DelegationOf(account)
		return err
	})
	return balance, err
}

func (d *DAO) TotalDelegation() (Balance, error) {
	var balance Balance
	err := d.view(func(st *State) (err error) {
		balance, err = st.TotalDelegation()
		return err
	})
	return balance, err
}
