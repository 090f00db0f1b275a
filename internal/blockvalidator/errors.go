package blockvalidator

import "errors"

var (
	// ErrUnauthorizedSigner is returned when a batch's signer fails the
	// permission verifier.
	ErrUnauthorizedSigner = errors.New("blockvalidator: signer not authorized")
	// ErrDuplicateBatch is returned when a block introduces a batch id
	// already committed or already present on an uncommitted ancestor.
	ErrDuplicateBatch = errors.New("blockvalidator: duplicate batch id")
	// ErrDuplicateTransaction is returned when a block introduces a
	// transaction id already committed or already present on an
	// uncommitted ancestor.
	ErrDuplicateTransaction = errors.New("blockvalidator: duplicate transaction id")
	// ErrDependencyNotMet is returned when a transaction declares a
	// dependency that is satisfied neither within the block, nor by an
	// uncommitted ancestor on this branch, nor by a committed ancestor.
	ErrDependencyNotMet = errors.New("blockvalidator: transaction dependency not met")
	// ErrUnknownPredecessor is returned when a block's predecessor is
	// neither NULL_BLOCK_IDENTIFIER nor known to the Block Manager.
	ErrUnknownPredecessor = errors.New("blockvalidator: predecessor not known to block manager")
)
