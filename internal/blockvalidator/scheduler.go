// Package blockvalidator implements the block scheduler and block
// validator (C7), per §4.4 and §4.5. Grounded on the teacher's
// core/transaction_pool.go (pending/processing set bookkeeping) and
// original_source's validator/src/journal/block_scheduler.rs and
// validator/src/journal/validation_rule_enforcer.rs.
package blockvalidator

import (
	"sync"

	"ledgercore/internal/types"
)

// Status is a block's validation status, as tracked by the result cache.
type Status int

const (
	// StatusUnknown is both "never validated" and "validation in flight".
	StatusUnknown Status = iota
	StatusValid
	StatusInvalid
)

// StatusLookup reports a block's last known validation status. The
// block scheduler consults it (§4.4 step 3) to decide whether a block's
// predecessor must itself be (re)scheduled before the block can proceed.
type StatusLookup interface {
	Status(id string) (Status, bool)
}

// BlockFetcher resolves a block id to its block, for the scheduler's
// recursive ancestor walk. Backed by the Block Manager in production.
type BlockFetcher interface {
	Get(ids []string) []*types.Block
}

// Scheduler maintains the pending/processing partition and the
// descendants-by-previous-id multimap described in §4.4. It is the sole
// place that enforces "predecessors are validated before descendants".
type Scheduler struct {
	mu sync.Mutex

	pending    map[string]struct{}
	processing map[string]struct{}
	// descendants[prevID] holds blocks parked in pending because prevID is
	// itself still processing, still pending, or has unknown status.
	descendants map[string][]*types.Block

	status StatusLookup
	fetch  BlockFetcher
}

// NewScheduler builds a scheduler. status is consulted for predecessor
// validation status; fetch resolves ancestor blocks for the recursive
// unknown-status walk (both typically backed by the same result cache and
// Block Manager the validator itself uses).
func NewScheduler(status StatusLookup, fetch BlockFetcher) *Scheduler {
	return &Scheduler{
		pending:     make(map[string]struct{}),
		processing:  make(map[string]struct{}),
		descendants: make(map[string][]*types.Block),
		status:      status,
		fetch:       fetch,
	}
}

// Schedule admits blocks, returning those immediately ready to validate (in
// the order scheduleOneLocked produces them).
func (s *Scheduler) Schedule(blocks []*types.Block) []*types.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*types.Block
	for _, b := range blocks {
		ready = append(ready, s.scheduleOneLocked(b)...)
	}
	return ready
}

func (s *Scheduler) scheduleOneLocked(b *types.Block) []*types.Block {
	id := b.ID()
	if _, ok := s.pending[id]; ok {
		return nil
	}
	if _, ok := s.processing[id]; ok {
		return nil
	}

	prev := b.Header.PreviousBlockID
	if prev != types.NullBlockIdentifier {
		_, prevPending := s.pending[prev]
		_, prevProcessing := s.processing[prev]
		if prevPending || prevProcessing {
			s.parkLocked(prev, b)
			return nil
		}

		if st, known := s.status.Status(prev); !known || st == StatusUnknown {
			s.parkLocked(prev, b)
			// Recursively schedule the predecessor itself (and, through
			// that same recursion, any further unknown-status ancestors)
			// until a known-status ancestor is reached.
			if ancestors := s.fetch.Get([]string{prev}); len(ancestors) == 1 {
				return s.scheduleOneLocked(ancestors[0])
			}
			return nil
		}
	}

	s.processing[id] = struct{}{}
	return []*types.Block{b}
}

func (s *Scheduler) parkLocked(prev string, b *types.Block) {
	s.pending[b.ID()] = struct{}{}
	s.descendants[prev] = append(s.descendants[prev], b)
}

// Done removes id from processing and promotes every descendant that was
// waiting on it, returning the newly ready blocks. The promoted blocks may
// re-park on a different predecessor if their own chain is still unknown.
func (s *Scheduler) Done(id string) []*types.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.processing, id)
	waiting := s.descendants[id]
	delete(s.descendants, id)

	var ready []*types.Block
	for _, b := range waiting {
		delete(s.pending, b.ID())
		ready = append(ready, s.scheduleOneLocked(b)...)
	}
	return ready
}

// Pending reports whether id is currently parked awaiting a predecessor.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// Processing reports whether id is currently being validated.
func (s *Scheduler) Processing(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processing[id]
	return ok
}
