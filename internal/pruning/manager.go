// Package pruning implements the State Pruning Manager (§4.9): a min-heap
// of abandoned state roots keyed by block number, periodically drained so
// a root is only reclaimed once no live branch can still reach it.
// Grounded on original_source's
// validator/src/state/state_pruning_manager.rs (BinaryHeap of (height,
// root) pairs, decimated on execute), ported onto container/heap the way
// the teacher's core/amm.go uses it for its routing queue.
package pruning

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"ledgercore/internal/merkle"
	"ledgercore/internal/metrics"
)

// maxAttempts bounds how many no-op prune passes an entry tolerates
// before it is dropped, per DESIGN.md's Open Question decision: the
// original never bounds this, but an entry whose root is permanently live
// elsewhere would otherwise retry forever.
const maxAttempts = 8

// PrunedRoot names a state root abandoned (or reclaimed) at a given block
// number, the unit the prune queue operates on.
type PrunedRoot struct {
	BlockNum uint64
	Root     merkle.Hash
}

// LiveRoots reports the state roots still reachable from a live branch
// tip. merkle.Database.Prune needs this set to tell a genuinely abandoned
// root from one still claimed by another fork.
type LiveRoots interface {
	LiveRoots() map[merkle.Hash]struct{}
}

type entry struct {
	blockNum uint64
	root     merkle.Hash
	attempts int
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].blockNum < h[j].blockNum }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Manager is the State Pruning Manager.
type Manager struct {
	mu      sync.Mutex
	queue   entryHeap
	present map[merkle.Hash]struct{}

	db      *merkle.Database
	live    LiveRoots
	logger  *logrus.Logger
	metrics metrics.Sink
}

// New builds an empty Manager. live may be nil, in which case Execute
// treats every queued root as unclaimed elsewhere (useful for a single
// branch chain with no forks to protect). sink == nil installs
// metrics.Noop.
func New(db *merkle.Database, live LiveRoots, logger *logrus.Logger, sink metrics.Sink) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = metrics.Noop
	}
	m := &Manager{db: db, live: live, logger: logger, metrics: sink, present: make(map[merkle.Hash]struct{})}
	heap.Init(&m.queue)
	return m
}

// UpdateQueue adds abandoned roots to the prune queue and removes added
// roots from it, e.g. when a reorg re-chooses a previously abandoned
// fork, per §4.9.
func (m *Manager) UpdateQueue(added, abandoned []PrunedRoot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range abandoned {
		m.addLocked(a)
	}
	if len(added) == 0 {
		m.metrics.SetPruneQueueLength(m.queue.Len())
		return
	}

	reclaim := make(map[merkle.Hash]struct{}, len(added))
	for _, a := range added {
		reclaim[a.Root] = struct{}{}
	}
	kept := make(entryHeap, 0, len(m.queue))
	for _, e := range m.queue {
		if _, drop := reclaim[e.root]; drop {
			delete(m.present, e.root)
			m.logger.WithField("state_root", e.root.String()).Debug("pruning: root reclaimed by reorg, removed from queue")
			continue
		}
		kept = append(kept, e)
	}
	m.queue = kept
	heap.Init(&m.queue)
	m.metrics.SetPruneQueueLength(m.queue.Len())
}

func (m *Manager) addLocked(r PrunedRoot) {
	if _, ok := m.present[r.Root]; ok {
		return
	}
	heap.Push(&m.queue, &entry{blockNum: r.BlockNum, root: r.Root})
	m.present[r.Root] = struct{}{}
	m.logger.WithField("state_root", r.Root.String()).Debug("pruning: queued")
}

// Execute pops every entry with block_num <= depth and attempts to prune
// it. A root still claimed by another live branch prunes no keys and is
// re-queued; after maxAttempts such passes it is dropped with a warning
// instead of retried indefinitely.
func (m *Manager) Execute(depth uint64) {
	m.mu.Lock()
	var due []*entry
	for m.queue.Len() > 0 && m.queue[0].blockNum <= depth {
		due = append(due, heap.Pop(&m.queue).(*entry))
	}
	m.mu.Unlock()

	var liveRoots map[merkle.Hash]struct{}
	if m.live != nil {
		liveRoots = m.live.LiveRoots()
	}

	var totalRemoved, rootsPruned int
	for _, e := range due {
		removed, err := m.db.Prune(e.root, liveRoots)
		if err != nil {
			m.logger.WithError(err).WithField("state_root", e.root.String()).Warn("pruning: prune failed, will retry")
			m.requeue(e)
			continue
		}
		if len(removed) == 0 {
			e.attempts++
			if e.attempts >= maxAttempts {
				m.forget(e.root)
				m.logger.WithField("state_root", e.root.String()).Warn("pruning: giving up after repeated no-op prunes")
				continue
			}
			m.requeue(e)
			continue
		}
		totalRemoved += len(removed)
		rootsPruned++
		m.forget(e.root)
	}
	if totalRemoved > 0 {
		m.metrics.IncPrunedRoots(rootsPruned)
		m.logger.WithField("count", totalRemoved).Info("pruning: pruned keys from state database")
	}
	m.metrics.SetPruneQueueLength(m.Len())
}

func (m *Manager) requeue(e *entry) {
	m.mu.Lock()
	heap.Push(&m.queue, e)
	m.mu.Unlock()
}

func (m *Manager) forget(root merkle.Hash) {
	m.mu.Lock()
	delete(m.present, root)
	m.mu.Unlock()
}

// Len reports the number of roots currently queued for pruning.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}
