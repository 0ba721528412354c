package core

import (
	"context"
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// StoreBlob keeps code under its sha256 hash for upgrade proposals.
func (d *DAO) StoreBlob(ctx context.Context, caller Caller, code []byte) (common.Hash, error) {
	hash := common.Hash(sha256.Sum256(code))
	err := d.update(ctx, func(st *State) error {
		if st.hasBlob(hash) {
			return errors.Wrapf(ErrBlobExists, "blob %s", hash)
		}
		if err := st.putBlob(hash, &Blob{Owner: caller.Account, Code: code}); err != nil {
			return err
		}
		st.onCommit(func() {
			d.Logger.Infof("blob %s stored by %s, %d bytes", hash, caller.Account, len(code))
		})
		return nil
	})
	return hash, err
}

// RemoveBlob deletes a blob. Only the account that stored it may.
func (d *DAO) RemoveBlob(ctx context.Context, caller Caller, hash common.Hash) error {
	return d.update(ctx, func(st *State) error {
		blob, err := st.Blob(hash)
		if err != nil {
			return err
		}
		if blob.Owner != caller.Account {
			return errors.Wrapf(ErrNotBlobOwner, "blob %s", hash)
		}
		st.deleteBlob(hash)
		return nil
	})
}

func (d *DAO) HasBlob(hash common.Hash) bool {
	var ok bool
	_ = d.view(func(st *State) error {
		ok = st.hasBlob(hash)
		return nil
	})
	return ok
}
