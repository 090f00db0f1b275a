package blockstore

import "errors"

var (
	// ErrNotFound is returned by lookups that miss.
	ErrNotFound = errors.New("blockstore: not found")
	// ErrNotChainHead is returned by Delete for any id that is not the
	// current chain head. §9's Open Question on delete-of-non-tip is
	// resolved by rejecting rather than guessing at a walk-back target.
	ErrNotChainHead = errors.New("blockstore: delete target is not the current chain head")
)
