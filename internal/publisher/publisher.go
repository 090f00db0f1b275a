// Package publisher implements the candidate-block builder and
// pending-batch pool (C8), per §4.7. Grounded on original_source's
// libsawtooth/src/journal/publisher.rs and candidate_block.rs, with the
// teacher's storage.go contributing the zap hot-path logging convention
// used on the pool-rebuild path.
package publisher

import (
	"crypto/sha256"
	"sync"

	"go.uber.org/zap"

	"ledgercore/internal/blockmgr"
	"ledgercore/internal/execution"
	"ledgercore/internal/merkle"
	"ledgercore/internal/metrics"
	"ledgercore/internal/types"
)

// defaultMaxBatchesPerBlock bounds how many batches one candidate will
// drain from the pool before it is considered full, per §4.7's "while a
// candidate is open and not full" clause.
const defaultMaxBatchesPerBlock = 100

// defaultQueueWindow and defaultQueueAverage are §4.7's named defaults:
// N=30 samples, initial average 30.
const (
	defaultQueueWindow  = 30
	defaultQueueAverage = 30
)

// SchedulerFactory opens a fresh execution scheduler atop root, mirroring
// the block validator's own factory seam (C6 is opened independently by
// each of C7 and C8).
type SchedulerFactory func(root merkle.Hash) execution.Scheduler

// Observer is notified when a new batch is appended to the pool.
type Observer interface {
	BatchEnqueued(batch *types.Batch)
}

// candidate is the publisher's single open candidate block, together with
// the bookkeeping needed to answer FinalizeBlock's contract.
type candidate struct {
	previousID string
	predRef    *blockmgr.Ref
	scheduler  execution.Scheduler

	included map[string]*types.Batch
	order    []*types.Batch
	rejected []*types.Batch

	poolLenAtStart int
	consumed       int
}

// Publisher builds candidate blocks against the Block Manager's current
// tip, draining the pending-batch pool into an open execution scheduler.
// Per §5, exactly one candidate is open at a time and this type holds the
// sole mutable reference to it.
type Publisher struct {
	mu sync.Mutex

	mgr      *blockmgr.Manager
	newSched SchedulerFactory

	pool    *pool
	limiter *queueLimiter

	observers          []Observer
	maxBatchesPerBlock int
	candidate          *candidate

	logger  *zap.SugaredLogger
	metrics metrics.Sink
}

// New builds a Publisher. maxBatchesPerBlock <= 0 selects
// defaultMaxBatchesPerBlock; logger == nil installs a no-op sugared logger;
// sink == nil installs metrics.Noop.
func New(mgr *blockmgr.Manager, newSched SchedulerFactory, maxBatchesPerBlock int, logger *zap.SugaredLogger, sink metrics.Sink) *Publisher {
	if maxBatchesPerBlock <= 0 {
		maxBatchesPerBlock = defaultMaxBatchesPerBlock
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if sink == nil {
		sink = metrics.Noop
	}
	return &Publisher{
		mgr:                mgr,
		newSched:           newSched,
		pool:               newPool(),
		limiter:            newQueueLimiter(defaultQueueWindow, defaultQueueAverage),
		maxBatchesPerBlock: maxBatchesPerBlock,
		logger:             logger,
		metrics:            sink,
	}
}

// AddObserver registers obs to be notified of newly pooled batches.
func (p *Publisher) AddObserver(obs Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, obs)
}

// QueueLimit exposes the pool's current rolling-average-derived limit.
func (p *Publisher) QueueLimit() int { return p.limiter.Limit() }

// InitializeBlock opens a new candidate atop previous.
func (p *Publisher) InitializeBlock(previous string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candidate != nil {
		return ErrBlockInProgress
	}

	var root merkle.Hash
	var ref *blockmgr.Ref
	if previous != types.NullBlockIdentifier {
		found := p.mgr.Get([]string{previous})
		if len(found) == 0 {
			return ErrMissingPredecessor
		}
		r, err := merkle.ParseHash(found[0].Header.StateRootHash)
		if err != nil {
			return err
		}
		pinned, err := p.mgr.Ref(previous)
		if err != nil {
			return ErrMissingPredecessor
		}
		root, ref = r, pinned
	} else {
		root = merkle.EmptyRoot()
	}

	p.candidate = &candidate{
		previousID:     previous,
		predRef:        ref,
		scheduler:      p.newSched(root),
		included:       make(map[string]*types.Batch),
		poolLenAtStart: p.pool.Len(),
	}
	p.drainLocked()
	return nil
}

// SubmitBatch is the pool's batch-ingress path. If batch is new, it is
// appended to the pool and observers are notified; the open candidate (if
// any) then drains as much of the pool as it has room for.
func (p *Publisher) SubmitBatch(batch *types.Batch) {
	if p.pool.Add(batch) {
		p.mu.Lock()
		observers := append([]Observer(nil), p.observers...)
		p.mu.Unlock()
		for _, obs := range observers {
			obs.BatchEnqueued(batch)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainLocked()
	p.reportPoolMetricsLocked()
}

// reportPoolMetricsLocked pushes the current pool size and queue limit to
// the metrics sink. Must be called with p.mu held.
func (p *Publisher) reportPoolMetricsLocked() {
	p.metrics.SetPoolSize(p.pool.Len())
	p.metrics.SetQueueLimit(p.limiter.Limit())
}

// drainLocked feeds pool entries into the open candidate's scheduler until
// either the pool empties or the candidate reaches maxBatchesPerBlock
// accepted batches. Must be called with p.mu held.
func (p *Publisher) drainLocked() {
	if p.candidate == nil {
		return
	}
	for len(p.candidate.order) < p.maxBatchesPerBlock {
		batch, ok := p.pool.PopFront()
		if !ok {
			break
		}
		p.candidate.consumed++
		if err := p.candidate.scheduler.AddBatch(toBatchInput(batch), nil, false); err != nil {
			// The scheduler rejected the batch outright (e.g. already
			// finalized/cancelled underneath us); hand it back rather than
			// silently dropping it.
			p.candidate.rejected = append(p.candidate.rejected, batch)
			continue
		}
		p.candidate.included[batch.ID()] = batch
		p.candidate.order = append(p.candidate.order, batch)
	}
}

// SummarizeBlock returns a digest over the candidate's currently included
// batch ids, suitable for the consensus engine to sign over.
func (p *Publisher) SummarizeBlock(force bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candidate == nil {
		return nil, ErrNoCandidate
	}
	if !force && len(p.candidate.order) == 0 {
		return nil, ErrEmptyCandidate
	}
	h := sha256.New()
	for _, b := range p.candidate.order {
		h.Write([]byte(b.ID()))
	}
	return h.Sum(nil), nil
}

// FinalizeResult is FinalizeBlock's return value: the assembled block, plus
// the batches the scheduler rejected (returned to the pool). Injected is
// always nil: a scheduler result naming a batch this candidate never
// submitted carries only the batch id, and FinalizeBlock skips it.
type FinalizeResult struct {
	Block          *types.Block
	ReturnedToPool []*types.Batch
	Injected       []*types.Batch
}

// FinalizeBlock closes the candidate's scheduler and assembles the
// completed block.
func (p *Publisher) FinalizeBlock(consensusData []byte, force bool) (*FinalizeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candidate == nil {
		return nil, ErrNoCandidate
	}
	if !force && len(p.candidate.order) == 0 {
		return nil, ErrEmptyCandidate
	}
	c := p.candidate

	if err := c.scheduler.Finalize(false); err != nil {
		return nil, err
	}
	completion, err := c.scheduler.Complete(true)
	if err != nil {
		return nil, err
	}

	var finalBatches, injected []*types.Batch
	for _, br := range completion.Batches {
		b, ours := c.included[br.BatchID]
		if !ours {
			// A result with no corresponding submission: the scheduler
			// injected this batch itself.
			continue
		}
		if !br.Valid {
			c.rejected = append(c.rejected, b)
			continue
		}
		finalBatches = append(finalBatches, b)
	}
	_ = injected // stays nil; see FinalizeResult.

	batchIDs := make([]string, len(finalBatches))
	for i, b := range finalBatches {
		batchIDs[i] = b.ID()
	}

	hdr := types.BlockHeader{
		PreviousBlockID: c.previousID,
		StateRootHash:   completion.EndingStateHash.String(),
		BatchIDs:        batchIDs,
		ConsensusData:   consensusData,
	}
	if c.previousID != types.NullBlockIdentifier {
		if predBlocks := p.mgr.Get([]string{c.previousID}); len(predBlocks) == 1 {
			hdr.BlockNum = predBlocks[0].Header.BlockNum + 1
		}
	}
	sig, err := types.ComputeHeaderSignature(hdr)
	if err != nil {
		return nil, err
	}
	block := &types.Block{Header: hdr, HeaderSignature: sig, Batches: finalBatches}

	result := &FinalizeResult{
		Block:          block,
		ReturnedToPool: append([]*types.Batch(nil), c.rejected...),
		Injected:       injected,
	}

	p.limiter.Observe(c.poolLenAtStart, c.consumed)
	if c.predRef != nil {
		c.predRef.Unref()
	}
	p.candidate = nil
	for _, b := range result.ReturnedToPool {
		p.pool.Add(b)
	}
	p.reportPoolMetricsLocked()

	p.logger.Infow("candidate block finalized",
		"block_id", block.ID(),
		"batch_count", len(finalBatches),
		"returned_to_pool", len(result.ReturnedToPool),
	)
	return result, nil
}

// CancelBlock discards the open candidate, if any, returning any batches it
// had already drained from the pool back to the pool's front.
func (p *Publisher) CancelBlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

func (p *Publisher) cancelLocked() {
	if p.candidate == nil {
		return
	}
	p.candidate.scheduler.Cancel()
	if p.candidate.predRef != nil {
		p.candidate.predRef.Unref()
	}
	p.pool.PrependAll(p.candidate.order)
	p.candidate = nil
	p.reportPoolMetricsLocked()
}

// OnChainUpdated rebuilds the pool after a chain-head transition: the new
// pool is (uncommitted batches from the old fork, minus committed) followed
// by (previous pool entries, minus committed), with order preserved within
// each group, per §4.7. Any open candidate is discarded since it was built
// atop a tip that is no longer current.
func (p *Publisher) OnChainUpdated(newHead string, committedBatches, uncommittedBatches []*types.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()

	committedIDs := make(map[string]struct{}, len(committedBatches))
	for _, b := range committedBatches {
		committedIDs[b.ID()] = struct{}{}
	}

	seen := make(map[string]struct{})
	var newOrder []*types.Batch
	for _, b := range uncommittedBatches {
		if _, c := committedIDs[b.ID()]; c {
			continue
		}
		if _, dup := seen[b.ID()]; dup {
			continue
		}
		seen[b.ID()] = struct{}{}
		newOrder = append(newOrder, b)
	}
	for _, b := range p.pool.Snapshot() {
		if _, c := committedIDs[b.ID()]; c {
			continue
		}
		if _, dup := seen[b.ID()]; dup {
			continue
		}
		seen[b.ID()] = struct{}{}
		newOrder = append(newOrder, b)
	}
	p.pool.Rebuild(newOrder)
	p.cancelLocked()

	p.logger.Infow("pending-batch pool rebuilt after chain update",
		"new_head", newHead,
		"pool_size", len(newOrder),
	)
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
