package publisher

import "errors"

var (
	// ErrBlockInProgress is returned by InitializeBlock when a candidate
	// already exists.
	ErrBlockInProgress = errors.New("publisher: block already in progress")
	// ErrMissingPredecessor is returned by InitializeBlock when previous is
	// not known to the Block Manager.
	ErrMissingPredecessor = errors.New("publisher: predecessor not known to block manager")
	// ErrNoCandidate is returned by SummarizeBlock/FinalizeBlock/CancelBlock
	// when there is no open candidate.
	ErrNoCandidate = errors.New("publisher: no candidate block in progress")
	// ErrEmptyCandidate is returned by SummarizeBlock/FinalizeBlock when the
	// candidate has no batches and force was not set.
	ErrEmptyCandidate = errors.New("publisher: candidate has no batches")
)
