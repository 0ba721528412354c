package core

import "github.com/pkg/errors"

// Every entry point fails with one of these (possibly wrapped) and leaves no
// staged write behind.
var (
	ErrNoPermission       = errors.New("no permission")
	ErrAlreadyVoted       = errors.New("already voted")
	ErrInsufficientBond   = errors.New("insufficient bond")
	ErrAllClaimed         = errors.New("bounty all claimed")
	ErrDeadlineExceeded   = errors.New("claim deadline exceeds bounty max deadline")
	ErrNotClaimOwner      = errors.New("not claim owner")
	ErrDoubleOutcome      = errors.New("outcome already delivered")
	ErrInvalidTransition  = errors.New("invalid proposal status transition")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	ErrProposalNotFound      = errors.New("proposal not found")
	ErrBountyNotFound        = errors.New("bounty not found")
	ErrNoClaim               = errors.New("no matching bounty claim")
	ErrClaimExpired          = errors.New("bounty claim deadline elapsed")
	ErrClaimNotExpired       = errors.New("bounty claim deadline not elapsed")
	ErrClaimCompleted        = errors.New("bounty claim already completed")
	ErrUnknownKind           = errors.New("unknown proposal kind")
	ErrInvalidProposal       = errors.New("invalid proposal")
	ErrInvalidPolicy         = errors.New("invalid policy")
	ErrRoleNotFound          = errors.New("role not found")
	ErrRoleNotGroup          = errors.New("role is not a group")
	ErrStakingContractSet    = errors.New("staking contract can not be changed")
	ErrNotStakingContract    = errors.New("caller is not the staking contract")
	ErrBlobNotFound          = errors.New("blob not found")
	ErrBlobExists            = errors.New("blob already exists")
	ErrNotBlobOwner          = errors.New("not blob owner")
	ErrNotInitialized        = errors.New("state not initialized")
	ErrUnsupportedAction     = errors.New("unsupported action")
	ErrInvalidOutcomeMapping = errors.New("outcome does not match pending call")
)
