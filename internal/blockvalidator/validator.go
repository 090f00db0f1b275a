package blockvalidator

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"ledgercore/internal/blockmgr"
	"ledgercore/internal/blockstore"
	"ledgercore/internal/execution"
	"ledgercore/internal/merkle"
	"ledgercore/internal/metrics"
	"ledgercore/internal/types"
)

// PermissionVerifier authorizes a batch's signer. Concrete permission
// policy is external to this module, per §1; this is the seam it plugs
// into.
type PermissionVerifier interface {
	Authorized(signerPublicKey string) bool
}

// Notifier is the subset of the consensus facade (C9) the validator drives
// directly: one call per completed validation, per §4.5 step 4 ("notify
// ... the consensus facade").
type Notifier interface {
	BlockValid(id string)
	BlockInvalid(id string)
}

// SchedulerFactory opens a fresh execution scheduler (C6) atop root, per
// §4.5 step 1.
type SchedulerFactory func(root merkle.Hash) execution.Scheduler

// Validator is the block-validator half of C7: a fixed-size worker pool
// that consumes ready blocks from a Scheduler and produces Results.
type Validator struct {
	logger *logrus.Logger

	store      *blockstore.Store
	mgr        *blockmgr.Manager
	newSched   SchedulerFactory
	perm       PermissionVerifier
	cache      *ResultCache
	scheduler  *Scheduler
	notifier   Notifier
	numWorkers int
	metrics    metrics.Sink

	workC chan *types.Block
	wg    sync.WaitGroup
	stop  chan struct{}
	once  sync.Once
}

// NewValidator wires the block validator. numWorkers is the configured
// worker-pool size from §5 ("N workers, default 1 in reference
// configurations").
func NewValidator(
	store *blockstore.Store,
	mgr *blockmgr.Manager,
	newSched SchedulerFactory,
	perm PermissionVerifier,
	cache *ResultCache,
	scheduler *Scheduler,
	notifier Notifier,
	numWorkers int,
	logger *logrus.Logger,
	sink metrics.Sink,
) *Validator {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = metrics.Noop
	}
	return &Validator{
		logger:     logger,
		store:      store,
		mgr:        mgr,
		newSched:   newSched,
		perm:       perm,
		cache:      cache,
		scheduler:  scheduler,
		notifier:   notifier,
		numWorkers: numWorkers,
		metrics:    sink,
		workC:      make(chan *types.Block, numWorkers*4),
		stop:       make(chan struct{}),
	}
}

// Start launches the worker pool. Each worker polls the shared exit flag
// (§5's cancellation model) between blocks.
func (v *Validator) Start() {
	for i := 0; i < v.numWorkers; i++ {
		v.wg.Add(1)
		go v.worker()
	}
}

// Stop signals all workers to exit and waits for them to drain.
func (v *Validator) Stop() {
	v.once.Do(func() { close(v.stop) })
	v.wg.Wait()
}

func (v *Validator) worker() {
	defer v.wg.Done()
	for {
		select {
		case <-v.stop:
			return
		case b, ok := <-v.workC:
			if !ok {
				return
			}
			v.validateAndRecord(b)
		}
	}
}

// Submit enqueues blocks the scheduler has marked ready for validation. It
// blocks if the worker pool's queue is full.
func (v *Validator) Submit(blocks []*types.Block) {
	for _, b := range blocks {
		select {
		case v.workC <- b:
		case <-v.stop:
			return
		}
	}
}

func (v *Validator) validateAndRecord(b *types.Block) {
	result := v.ValidateBlock(b)
	v.cache.Put(result)

	switch result.Status {
	case StatusValid:
		v.metrics.IncBlocksValid()
		v.notifier.BlockValid(b.ID())
	case StatusInvalid:
		v.metrics.IncBlocksInvalid()
		v.notifier.BlockInvalid(b.ID())
	}

	ready := v.scheduler.Done(b.ID())
	if len(ready) > 0 {
		v.Submit(ready)
	}
}

// ValidateBlock runs §4.5's algorithm against a single block and returns
// its result without touching the scheduler or cache; exported for direct
// use by tests and by callers that want synchronous validation outside the
// worker pool (e.g. the publisher validating its own candidate). A panic
// during validation is recovered and reported as StatusUnknown.
func (v *Validator) ValidateBlock(b *types.Block) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{BlockID: b.ID(), Status: StatusUnknown, FailMessage: fmt.Sprintf("transient execution error: panic: %v", r)}
		}
	}()
	if err := types.ValidateStructure(b); err != nil {
		return Result{BlockID: b.ID(), Status: StatusInvalid, FailMessage: err.Error()}
	}

	predID := b.Header.PreviousBlockID

	var predRoot merkle.Hash
	if predID != types.NullBlockIdentifier {
		found := v.mgr.Get([]string{predID})
		if len(found) == 0 {
			return Result{BlockID: b.ID(), Status: StatusUnknown, FailMessage: ErrUnknownPredecessor.Error()}
		}
		root, err := merkle.ParseHash(found[0].Header.StateRootHash)
		if err != nil {
			return Result{BlockID: b.ID(), Status: StatusInvalid, FailMessage: err.Error()}
		}
		predRoot = root
	} else {
		predRoot = merkle.EmptyRoot()
	}

	ccs, err := newChainCommitState(v.store, v.mgr, predID)
	if err != nil {
		return Result{BlockID: b.ID(), Status: StatusUnknown, FailMessage: err.Error()}
	}

	sched := v.newSched(predRoot)
	intraBlockSeen := make(map[string]struct{})
	structurallyInvalid := false
	var failMessage string

	for _, batch := range b.Batches {
		if !v.perm.Authorized(batch.Header.SignerPublicKey) {
			structurallyInvalid = true
			failMessage = ErrUnauthorizedSigner.Error()
			break
		}
		if err := ccs.CheckBatch(batch, intraBlockSeen); err != nil {
			structurallyInvalid = true
			failMessage = err.Error()
			break
		}
		for _, t := range batch.Transactions {
			intraBlockSeen[t.ID()] = struct{}{}
		}

		input := toBatchInput(batch)
		if err := sched.AddBatch(input, nil, false); err != nil {
			sched.Cancel()
			return Result{BlockID: b.ID(), Status: StatusUnknown, FailMessage: fmt.Sprintf("transient execution error: %v", err)}
		}
	}

	if structurallyInvalid {
		sched.Cancel()
		return Result{BlockID: b.ID(), Status: StatusInvalid, FailMessage: failMessage}
	}

	if err := sched.Finalize(false); err != nil {
		return Result{BlockID: b.ID(), Status: StatusUnknown, FailMessage: err.Error()}
	}
	completion, err := sched.Complete(true)
	if err != nil {
		return Result{BlockID: b.ID(), Status: StatusUnknown, FailMessage: err.Error()}
	}

	wantRoot, err := merkle.ParseHash(b.Header.StateRootHash)
	if err != nil {
		return Result{BlockID: b.ID(), Status: StatusInvalid, FailMessage: err.Error()}
	}

	status := StatusValid
	for _, br := range completion.Batches {
		if !br.Valid {
			status = StatusInvalid
			failMessage = br.ErrorMessage
			break
		}
	}
	if status == StatusValid && completion.EndingStateHash != wantRoot {
		status = StatusInvalid
		failMessage = "state root after execution does not match block's declared state_root_hash"
	}

	return Result{
		BlockID:      b.ID(),
		Status:       status,
		BatchResults: completion.Batches,
		FailMessage:  failMessage,
	}
}

func toBatchInput(b *types.Batch) *execution.BatchInput {
	txns := make([]execution.TransactionInput, len(b.Transactions))
	for i, t := range b.Transactions {
		txns[i] = execution.TransactionInput{
			ID:            t.ID(),
			FamilyName:    t.Header.FamilyName,
			FamilyVersion: t.Header.FamilyVersion,
			Payload:       t.Payload,
		}
	}
	return &execution.BatchInput{ID: b.ID(), Transactions: txns}
}
