package execution

import (
	"sync"

	"github.com/sirupsen/logrus"

	"ledgercore/internal/merkle"
)

// SerialScheduler is the simplest Scheduler: it executes each batch's
// transactions against the trie in AddBatch order as they arrive, rather
// than speculatively scheduling independent batches in parallel. Grounded
// on original_source's validator/src/execution/scheduler/serial.rs, which
// the Rust validator itself uses as its baseline scheduler implementation.
type SerialScheduler struct {
	mu sync.Mutex

	db       *merkle.Database
	handlers map[string]TxnHandler
	logger   *logrus.Logger

	beginRoot merkle.Hash
	curRoot   merkle.Hash

	finalized bool
	cancelled bool

	results []BatchResult
}

// TxnHandler applies one transaction family's business logic to a batch of
// address writes. Registered per (family name, family version) pair; models
// the in-process side of the wire-level transaction-processor protocol
// described in §6, which is itself out of this module's scope.
type TxnHandler interface {
	FamilyName() string
	FamilyVersion() string
	// Apply executes payload against ctx, staging the address writes and
	// deletions it wants committed through ctx.Set and ctx.Delete. An error
	// fails the owning transaction (and, by the
	// all-or-nothing batch invariant, the whole batch).
	Apply(ctx *ApplyContext, payload []byte) error
}

// ApplyContext is the state handle a TxnHandler sees: reads fall through to
// the trie at the scheduler's current root, writes accumulate in-memory
// until the owning batch commits them in one SetMany call.
type ApplyContext struct {
	db      *merkle.Database
	root    merkle.Hash
	writes  map[string][]byte
	deletes map[string]struct{}
}

// Get reads address, preferring an uncommitted write from this same batch
// over the trie's committed value.
func (c *ApplyContext) Get(address string) ([]byte, bool, error) {
	if v, ok := c.writes[address]; ok {
		return v, true, nil
	}
	if _, deleted := c.deletes[address]; deleted {
		return nil, false, nil
	}
	return c.db.Get(c.root, address)
}

// Set stages a write, to be committed atomically with the rest of the batch.
func (c *ApplyContext) Set(address string, value []byte) error {
	if err := merkle.ValidateAddress(address); err != nil {
		return err
	}
	delete(c.deletes, address)
	c.writes[address] = value
	return nil
}

// Delete stages a deletion, to be committed atomically with the rest of the
// batch.
func (c *ApplyContext) Delete(address string) error {
	if err := merkle.ValidateAddress(address); err != nil {
		return err
	}
	delete(c.writes, address)
	c.deletes[address] = struct{}{}
	return nil
}

// NewSerialScheduler starts a scheduler atop beginRoot, dispatching
// transactions to handlers keyed by "family_name/family_version".
func NewSerialScheduler(db *merkle.Database, beginRoot merkle.Hash, handlers []TxnHandler, logger *logrus.Logger) *SerialScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	reg := make(map[string]TxnHandler, len(handlers))
	for _, h := range handlers {
		reg[handlerKey(h.FamilyName(), h.FamilyVersion())] = h
	}
	return &SerialScheduler{
		db:        db,
		handlers:  reg,
		logger:    logger,
		beginRoot: beginRoot,
		curRoot:   beginRoot,
	}
}

func handlerKey(name, version string) string { return name + "/" + version }

// AddBatch executes batch's transactions in order, accumulating their
// address writes into a single commit so the batch is atomic: either every
// transaction's writes land, or (on the first transaction failure) none do
// and the batch is marked invalid.
func (s *SerialScheduler) AddBatch(batch *BatchInput, expectedStateHash *merkle.Hash, required bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return ErrSchedulerCancelled
	}
	if s.finalized {
		return ErrSchedulerFinalized
	}

	ctx := &ApplyContext{
		db:      s.db,
		root:    s.curRoot,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}

	result := BatchResult{BatchID: batch.ID, Valid: true}
	for _, tx := range batch.Transactions {
		h, ok := s.handlers[handlerKey(tx.FamilyName, tx.FamilyVersion)]
		if !ok {
			result.Valid = false
			result.ErrorMessage = ErrUnknownFamily.Error()
			result.Transactions = append(result.Transactions, TransactionResult{
				TransactionID: tx.ID, Valid: false, ErrorMessage: ErrUnknownFamily.Error(),
			})
			break
		}
		if err := h.Apply(ctx, tx.Payload); err != nil {
			result.Valid = false
			result.ErrorMessage = err.Error()
			result.Transactions = append(result.Transactions, TransactionResult{
				TransactionID: tx.ID, Valid: false, ErrorMessage: err.Error(),
			})
			break
		}
		result.Transactions = append(result.Transactions, TransactionResult{TransactionID: tx.ID, Valid: true})
	}

	if result.Valid {
		newRoot, err := s.db.SetMany(s.curRoot, ctx.writes, ctx.deletes)
		if err != nil {
			return err
		}
		s.curRoot = newRoot

		if expectedStateHash != nil && required && newRoot != *expectedStateHash {
			result.Valid = false
			result.ErrorMessage = "state hash mismatch after batch"
			s.logger.WithFields(logrus.Fields{
				"batch_id": batch.ID,
				"got":      newRoot.String(),
				"want":     expectedStateHash.String(),
			}).Warn("execution: batch produced unexpected state hash")
		}
	}

	s.results = append(s.results, result)
	return nil
}

// Finalize closes the scheduler to further AddBatch calls. This scheduler
// executes eagerly, so unscheduleIncomplete has nothing to act on; it is
// accepted only for interface parity with other Scheduler implementations.
func (s *SerialScheduler) Finalize(unscheduleIncomplete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return ErrSchedulerCancelled
	}
	s.finalized = true
	return nil
}

// Cancel abandons the scheduler. Any root produced beyond beginRoot but
// never committed is left for AbandonedRoot to report to the caller, which
// in turn hands it to the State Pruning Manager.
func (s *SerialScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Complete returns the accumulated results. This implementation never
// blocks, since AddBatch executes synchronously: before Finalize has run it
// returns ErrNotFinalized whatever the value of block, and it does not
// wait for Finalize.
func (s *SerialScheduler) Complete(block bool) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return nil, ErrSchedulerCancelled
	}
	if !s.finalized {
		if !block {
			return nil, ErrNotFinalized
		}
		return nil, ErrNotFinalized
	}
	out := make([]BatchResult, len(s.results))
	copy(out, s.results)
	return &Completion{
		BeginningStateHash: s.beginRoot,
		EndingStateHash:    s.curRoot,
		Batches:            out,
	}, nil
}

// AbandonedRoot reports the scheduler's working root once Cancel has been
// called, so the caller can enqueue it with the State Pruning Manager
// instead of leaving it unreferenced and untracked.
func (s *SerialScheduler) AbandonedRoot() (merkle.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cancelled || s.curRoot == s.beginRoot {
		return merkle.Hash{}, false
	}
	return s.curRoot, true
}
