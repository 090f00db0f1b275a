// Package execution implements the Execution Scheduler contract (C6): a
// per-root scheduler producing per-transaction results, per §4.6.
// Supplemented, per original_source's sdk/rust/src/processor/mod.rs and
// validator/src/execution/py_executor.rs, with a pluggable transaction-
// family handler registry standing in for the wire-level transaction
// processor protocol of §6 (family business logic itself is out of scope).
package execution

import "ledgercore/internal/merkle"

// TransactionResult is one transaction's outcome, in batch order.
type TransactionResult struct {
	TransactionID string
	Valid         bool
	ErrorMessage  string
}

// BatchResult is one batch's outcome, in schedule order.
type BatchResult struct {
	BatchID      string
	Valid        bool
	ErrorMessage string
	Transactions []TransactionResult
}

// Completion is returned by Complete: the scheduler's final accounting.
type Completion struct {
	BeginningStateHash merkle.Hash
	EndingStateHash    merkle.Hash
	Batches            []BatchResult
}

// Scheduler is the execution-scheduler contract consumed by the block
// validator (C7) and the publisher (C8).
type Scheduler interface {
	// AddBatch schedules batch atop everything already added. If
	// expectedStateHash is set and required, a mismatch between the state
	// root after this batch (and all prior batches) and expectedStateHash
	// marks the batch invalid at Finalize (the stricter of the two
	// interpretations the source argues for, per DESIGN.md).
	AddBatch(batch *BatchInput, expectedStateHash *merkle.Hash, required bool) error
	// Finalize closes the scheduler to further AddBatch calls.
	// unscheduleIncomplete is accepted for contract parity with §4.6; this
	// implementation executes batches eagerly in AddBatch, so there is
	// never an "incomplete" batch to unschedule.
	Finalize(unscheduleIncomplete bool) error
	// Cancel abandons the scheduler. Any state root it produced but never
	// had adopted by a committed block becomes unreferenced and is left
	// for the State Pruning Manager to reclaim.
	Cancel()
	// Complete returns the per-batch and per-transaction results. When
	// block is true and the scheduler has not yet been finalized, Complete
	// blocks until it has; when false, it returns ErrNotFinalized instead
	// of waiting.
	Complete(block bool) (*Completion, error)
	// AbandonedRoot reports the scheduler's most recent ending root, for a
	// caller that cancels instead of committing to hand off to pruning.
	AbandonedRoot() (merkle.Hash, bool)
}

// BatchInput is the minimal batch shape the scheduler needs: a batch plus
// its family-dispatchable transactions.
type BatchInput struct {
	ID           string
	Transactions []TransactionInput
}

// TransactionInput is the minimal transaction shape the scheduler needs to
// dispatch to a handler.
type TransactionInput struct {
	ID            string
	FamilyName    string
	FamilyVersion string
	Payload       []byte
}
