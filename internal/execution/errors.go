package execution

import "errors"

var (
	// ErrSchedulerFinalized is returned by AddBatch once Finalize has run.
	ErrSchedulerFinalized = errors.New("execution: scheduler already finalized")
	// ErrSchedulerCancelled is returned by any operation on a cancelled scheduler.
	ErrSchedulerCancelled = errors.New("execution: scheduler cancelled")
	// ErrNotFinalized is returned by Complete before Finalize has run.
	ErrNotFinalized = errors.New("execution: scheduler not yet finalized")
	// ErrUnknownFamily is returned when no handler is registered for a
	// transaction's (family_name, family_version).
	ErrUnknownFamily = errors.New("execution: no handler registered for transaction family")
)
