// Package blockmgr implements the in-memory, refcounted, multi-branch DAG
// of candidate blocks (C5), per §4.3. Grounded on the teacher's
// core/chain_fork_manager.go (side-branch tracking) and original_source's
// validator/src/journal/block_manager_ffi.rs.
package blockmgr

import (
	"sync"

	"ledgercore/internal/types"
)

type entry struct {
	block    *types.Block
	refcount int
}

// Manager is a reader-writer-locked map of id -> node record, per §5's
// concurrency model: the DAG is traversed under read locks, mutations take
// the write lock.
type Manager struct {
	mu      sync.RWMutex
	nodes   map[string]*entry
	onChain map[string]struct{}
}

// New creates an empty Block Manager.
func New() *Manager {
	return &Manager{
		nodes:   make(map[string]*entry),
		onChain: make(map[string]struct{}),
	}
}

// Put inserts a chronologically-ordered run of blocks. The first block's
// previous_block_id must already be known to the manager or be
// NULL_BLOCK_IDENTIFIER; consecutive blocks in the run must chain.
func (m *Manager) Put(chain []*types.Block) error {
	if len(chain) == 0 {
		return ErrMissingInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	first := chain[0]
	if first.Header.PreviousBlockID != types.NullBlockIdentifier {
		if _, ok := m.nodes[first.Header.PreviousBlockID]; !ok {
			return ErrMissingPredecessor
		}
	}
	for i := 1; i < len(chain); i++ {
		if chain[i].Header.PreviousBlockID != chain[i-1].ID() {
			return ErrMissingPredecessorInBranch
		}
	}

	for _, b := range chain {
		if _, ok := m.nodes[b.ID()]; ok {
			continue
		}
		m.nodes[b.ID()] = &entry{block: b}
	}
	return nil
}

// Get returns the block for each id in ids, stopping at the first unknown
// id (the returned slice may be shorter than ids).
func (m *Manager) Get(ids []string) []*types.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Block, 0, len(ids))
	for _, id := range ids {
		n, ok := m.nodes[id]
		if !ok {
			break
		}
		out = append(out, n.block)
	}
	return out
}

// BranchIterator walks a branch starting at some tip via previous_block_id,
// with explicit cursor state so it can be restarted only by re-issuing the
// call that produced it.
type BranchIterator struct {
	mgr  *Manager
	cur  string
	done bool
}

// Branch walks tip -> ... via previous_block_id, ending at the genesis
// block or at a block whose predecessor is not loaded.
func (m *Manager) Branch(tip string) *BranchIterator {
	return &BranchIterator{mgr: m, cur: tip}
}

// Next returns the next block on the branch, or (nil, false) once the walk
// has ended.
func (it *BranchIterator) Next() (*types.Block, bool) {
	if it.done {
		return nil, false
	}
	it.mgr.mu.RLock()
	n, ok := it.mgr.nodes[it.cur]
	it.mgr.mu.RUnlock()
	if !ok {
		it.done = true
		return nil, false
	}
	if n.block.Header.PreviousBlockID == types.NullBlockIdentifier {
		it.done = true
	} else {
		it.cur = n.block.Header.PreviousBlockID
	}
	return n.block, true
}

// BranchDiff yields the blocks on branch(tip) that are not on branch(exclude),
// in descending block_num order. It first collects every block id on
// branch(exclude), then walks branch(tip) from tip until it reaches one of
// them.
func (m *Manager) BranchDiff(tip, exclude string) []*types.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()

	excludeSet := make(map[string]struct{})
	cur := exclude
	for cur != "" {
		n, ok := m.nodes[cur]
		if !ok {
			break
		}
		excludeSet[cur] = struct{}{}
		if n.block.Header.PreviousBlockID == types.NullBlockIdentifier {
			break
		}
		cur = n.block.Header.PreviousBlockID
	}

	var out []*types.Block
	cur = tip
	for cur != "" {
		n, ok := m.nodes[cur]
		if !ok {
			break
		}
		if _, excluded := excludeSet[cur]; excluded {
			break
		}
		out = append(out, n.block)
		if n.block.Header.PreviousBlockID == types.NullBlockIdentifier {
			break
		}
		cur = n.block.Header.PreviousBlockID
	}
	return out
}

// Ref is a scoped handle that pins a block in memory until Unref is called.
type Ref struct {
	mgr *Manager
	id  string
}

// Ref obtains a pinned handle on id, incrementing its refcount.
func (m *Manager) Ref(id string) (*Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, ErrUnknownBlock
	}
	n.refcount++
	return &Ref{mgr: m, id: id}, nil
}

// Unref releases the pin. If the block's refcount drops to zero and it is
// not on the committed chain, it becomes eligible for eviction immediately.
func (r *Ref) Unref() {
	m := r.mgr
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[r.id]
	if !ok {
		return
	}
	if n.refcount > 0 {
		n.refcount--
	}
	m.evictLocked(r.id)
}

func (m *Manager) evictLocked(id string) {
	n, ok := m.nodes[id]
	if !ok {
		return
	}
	if n.refcount > 0 {
		return
	}
	if _, onChain := m.onChain[id]; onChain {
		return
	}
	delete(m.nodes, id)
}

// SetChainHead records which blocks are currently on the committed chain
// (walking head back to genesis), protecting them from eviction regardless
// of refcount, and makes previously-committed blocks no longer on the
// resulting chain evictable again.
func (m *Manager) SetChainHead(head string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newOnChain := make(map[string]struct{})
	cur := head
	for cur != "" {
		n, ok := m.nodes[cur]
		if !ok {
			break
		}
		newOnChain[cur] = struct{}{}
		if n.block.Header.PreviousBlockID == types.NullBlockIdentifier {
			break
		}
		cur = n.block.Header.PreviousBlockID
	}

	for id := range m.onChain {
		if _, stillOnChain := newOnChain[id]; !stillOnChain {
			m.evictLocked(id)
		}
	}
	m.onChain = newOnChain
}

// Contains reports whether id is currently known to the manager.
func (m *Manager) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[id]
	return ok
}

// LiveStateRoots returns the state_root_hash of every block still tracked
// by the manager, whether on the committed chain or a live side branch.
// The State Pruning Manager uses this as the set of roots a prune pass
// must not remove.
func (m *Manager) LiveStateRoots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n.block.Header.StateRootHash)
	}
	return out
}
