package blockmgr

import "errors"

var (
	// ErrMissingInput is returned by Put for an empty chain.
	ErrMissingInput = errors.New("blockmgr: empty chain")
	// ErrMissingPredecessor is returned when a chain's first block's
	// predecessor is neither NULL_BLOCK_IDENTIFIER nor already known.
	ErrMissingPredecessor = errors.New("blockmgr: missing predecessor")
	// ErrMissingPredecessorInBranch is returned when two consecutive
	// blocks within a Put chain do not actually chain together.
	ErrMissingPredecessorInBranch = errors.New("blockmgr: missing predecessor in branch")
	// ErrUnknownBlock is returned by Ref for an id the manager has never seen.
	ErrUnknownBlock = errors.New("blockmgr: unknown block id")
)
