// Package merkle implements the content-addressed, copy-on-write radix trie
// state database (C2) and its read-only view factory (C3), per §4.1.
package merkle

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"ledgercore/internal/kv"
)

// Sub-index names, per §6's Persisted Layout table.
const (
	NodesIndex     = "state_nodes"
	ChangeLogIndex = "state_change_log"
)

// Indexes returns the sub-index names the merkle Database needs from its
// kv.Store, for use at kv.Open time.
func Indexes() []string { return []string{NodesIndex, ChangeLogIndex} }

// Database is the copy-on-write Merkle state database described in §4.1.
type Database struct {
	store kv.Store
}

// New wraps an already-open kv.Store (which must have been opened with at
// least Indexes() among its index names).
func New(store kv.Store) *Database {
	return &Database{store: store}
}

// EmptyRoot is the root hash of a trie with no entries.
func EmptyRoot() Hash {
	return hashNode(newEmptyNode())
}

// RootCID exposes a root hash as a standard IPFS CIDv1, for tooling that
// wants a conventional content identifier rather than the raw SHA-512
// digest. It is purely a presentation convenience: the root-hash identity
// tested against §3/§8 is always the SHA-512 digest, never the CID.
func RootCID(h Hash) (cid.Cid, error) {
	return cidFor(h)
}

func (db *Database) loadNode(txn kv.Txn, h Hash) (*node, error) {
	// The zero hash (no child link) and the empty trie's root hash are both
	// computable without a store round-trip, so neither is read from the
	// store.
	if h.IsZero() || h == EmptyRoot() {
		return newEmptyNode(), nil
	}
	raw, ok, err := txn.Get(NodesIndex, h[:])
	if err != nil {
		return nil, fmt.Errorf("merkle: load node: %w", err)
	}
	if !ok {
		return nil, ErrInvalidRecord
	}
	return decodeNode(raw)
}

// Get traverses root to address, returning (value, true) if a value is
// present, (nil, false) if the address has no value (absent path or a node
// without a value), or an error if the path is corrupt.
func (db *Database) Get(root Hash, address string) ([]byte, bool, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, false, err
	}
	txn, err := db.store.BeginRead()
	if err != nil {
		return nil, false, fmt.Errorf("merkle: begin read: %w", err)
	}
	defer txn.Abort()

	cur, err := db.loadNode(txn, root)
	if err != nil {
		return nil, false, err
	}
	for i := 0; i < AddressLength; i++ {
		nb := nibble(address, i)
		child, ok := cur.children[nb]
		if !ok {
			return nil, false, nil
		}
		cur, err = db.loadNode(txn, child)
		if err != nil {
			return nil, false, err
		}
	}
	if !cur.hasValue {
		return nil, false, nil
	}
	out := append([]byte(nil), cur.value...)
	return out, true, nil
}

// SetMany applies writes and deletes atop root, producing a new root. The
// operation is deterministic: the same (writes, deletes) atop the same root
// always yields the same new root, because node encoding is canonical.
// set_many(R, {}, {}) == R: an empty diff is the identity and performs no
// store writes.
func (db *Database) SetMany(root Hash, writes map[string][]byte, deletes map[string]struct{}) (Hash, error) {
	for addr := range writes {
		if err := ValidateAddress(addr); err != nil {
			return Hash{}, err
		}
	}
	for addr := range deletes {
		if err := ValidateAddress(addr); err != nil {
			return Hash{}, err
		}
	}
	if len(writes) == 0 && len(deletes) == 0 {
		return root, nil
	}

	txn, err := db.store.BeginWrite()
	if err != nil {
		return Hash{}, fmt.Errorf("merkle: begin write: %w", err)
	}
	defer txn.Abort()

	additions := make(map[Hash]struct{})
	removals := make(map[Hash]struct{})

	cur := root
	apply := func(addr string, value []byte, hasValue bool) error {
		path, err := db.loadPath(txn, cur, addr)
		if err != nil {
			return err
		}
		newRoot, err := db.rewritePath(txn, path, addr, value, hasValue, additions, removals)
		if err != nil {
			return err
		}
		cur = newRoot
		return nil
	}

	for addr, val := range writes {
		if err := apply(addr, val, true); err != nil {
			return Hash{}, err
		}
	}
	for addr := range deletes {
		if err := apply(addr, nil, false); err != nil {
			return Hash{}, err
		}
	}

	entry := &ChangeLogEntry{Parent: root}
	for h := range additions {
		entry.Additions = append(entry.Additions, h)
	}
	for h := range removals {
		if _, stillAdded := additions[h]; stillAdded {
			continue
		}
		entry.Removals = append(entry.Removals, h)
	}
	raw, err := encodeChangeLog(entry)
	if err != nil {
		return Hash{}, fmt.Errorf("merkle: encode change log: %w", err)
	}
	if err := txn.Put(ChangeLogIndex, cur[:], raw); err != nil {
		return Hash{}, fmt.Errorf("merkle: put change log: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return Hash{}, fmt.Errorf("merkle: commit: %w", err)
	}
	return cur, nil
}

// pathStep is one level of the root-to-leaf walk: the node at this level and
// the hash it was loaded from (zero hash for a level that didn't exist yet).
type pathStep struct {
	oldHash Hash
	n       *node
}

func (db *Database) loadPath(txn kv.Txn, root Hash, address string) ([]pathStep, error) {
	steps := make([]pathStep, 0, AddressLength+1)
	n, err := db.loadNode(txn, root)
	if err != nil {
		return nil, err
	}
	steps = append(steps, pathStep{oldHash: root, n: n})
	cur := n
	for i := 0; i < AddressLength; i++ {
		nb := nibble(address, i)
		childHash, ok := cur.children[nb]
		var child *node
		if ok {
			child, err = db.loadNode(txn, childHash)
			if err != nil {
				return nil, err
			}
		} else {
			child = newEmptyNode()
			childHash = Hash{}
		}
		steps = append(steps, pathStep{oldHash: childHash, n: child})
		cur = child
	}
	return steps, nil
}

// rewritePath clones every node on the path, sets the value at the leaf,
// re-hashes bottom-up, persists the new nodes, and returns the new root
// hash. Nodes whose content is unchanged (e.g. re-applying the same value)
// collapse back to their original hash and are not re-persisted.
func (db *Database) rewritePath(txn kv.Txn, path []pathStep, address string, value []byte, hasValue bool, additions, removals map[Hash]struct{}) (Hash, error) {
	n := len(path)
	leaf := path[n-1].n.clone()
	leaf.hasValue = hasValue
	leaf.value = append([]byte(nil), value...)

	newHash := hashNode(leaf)
	if err := db.persistIfNew(txn, newHash, leaf, additions); err != nil {
		return Hash{}, err
	}
	if old := path[n-1].oldHash; !old.IsZero() && old != newHash {
		removals[old] = struct{}{}
	}

	childHash := newHash
	for i := n - 2; i >= 0; i-- {
		parent := path[i].n.clone()
		nb := nibble(address, i)
		parent.children[nb] = childHash

		parentHash := hashNode(parent)
		if err := db.persistIfNew(txn, parentHash, parent, additions); err != nil {
			return Hash{}, err
		}
		if old := path[i].oldHash; !old.IsZero() && old != parentHash {
			removals[old] = struct{}{}
		}
		childHash = parentHash
	}
	return childHash, nil
}

func (db *Database) persistIfNew(txn kv.Txn, h Hash, n *node, additions map[Hash]struct{}) error {
	_, ok, err := txn.Get(NodesIndex, h[:])
	if err != nil {
		return fmt.Errorf("merkle: check node: %w", err)
	}
	if ok {
		return nil
	}
	if err := txn.Put(NodesIndex, h[:], n.encode()); err != nil {
		return fmt.Errorf("merkle: put node: %w", err)
	}
	additions[h] = struct{}{}
	return nil
}

// Prune removes the nodes root's change log entry added, unless they are
// still reachable from another live root. A root that is itself in
// liveRoots is left untouched and Prune returns no removed hashes.
// liveRoots is supplied by the caller (the State Pruning Manager, §4.9,
// which tracks the Block Manager's live branch tips) since the trie store
// itself has no notion of which branches are still wanted.
func (db *Database) Prune(root Hash, liveRoots map[Hash]struct{}) ([]Hash, error) {
	if _, live := liveRoots[root]; live {
		return nil, nil
	}
	txn, err := db.store.BeginWrite()
	if err != nil {
		return nil, fmt.Errorf("merkle: begin write: %w", err)
	}
	defer txn.Abort()

	raw, ok, err := txn.Get(ChangeLogIndex, root[:])
	if err != nil {
		return nil, fmt.Errorf("merkle: get change log: %w", err)
	}
	if !ok {
		return nil, nil
	}
	entry, err := decodeChangeLog(raw)
	if err != nil {
		return nil, err
	}

	claimed := make(map[Hash]struct{})
	for other := range liveRoots {
		if other == root {
			continue
		}
		if err := db.collectReachable(txn, other, claimed); err != nil {
			return nil, err
		}
	}

	var removed []Hash
	for _, h := range entry.Additions {
		if _, still := claimed[h]; still {
			continue
		}
		if err := txn.Delete(NodesIndex, h[:]); err != nil {
			return nil, fmt.Errorf("merkle: delete node: %w", err)
		}
		removed = append(removed, h)
	}
	if err := txn.Delete(ChangeLogIndex, root[:]); err != nil {
		return nil, fmt.Errorf("merkle: delete change log: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("merkle: commit: %w", err)
	}
	return removed, nil
}

// collectReachable walks every node reachable from root, adding their
// hashes to visited. A hash already present in visited is not re-walked,
// which bounds the cost even when branches share large common subtrees.
func (db *Database) collectReachable(txn kv.Txn, root Hash, visited map[Hash]struct{}) error {
	if root.IsZero() {
		return nil
	}
	if _, ok := visited[root]; ok {
		return nil
	}
	n, err := db.loadNode(txn, root)
	if err != nil {
		if err == ErrInvalidRecord {
			// Already pruned from under us; nothing further to walk.
			return nil
		}
		return err
	}
	visited[root] = struct{}{}
	for _, child := range n.children {
		if err := db.collectReachable(txn, child, visited); err != nil {
			return err
		}
	}
	return nil
}
