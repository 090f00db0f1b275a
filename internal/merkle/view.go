package merkle

import (
	"fmt"

	"ledgercore/internal/kv"
)

// Leaf is one (address, value) pair yielded by a View's Leaves sequence.
type Leaf struct {
	Address string
	Value   []byte
}

// View is an immutable reader bound to one root hash and one underlying
// read transaction. Because writers only publish a new root and its change
// log together in a single kv.Txn commit, a View never observes a
// concurrent writer's half-finished state.
type View struct {
	db   *Database
	root Hash
	txn  kv.Txn
}

// NewView opens a read-only snapshot at root. The caller must Close it.
func (db *Database) NewView(root Hash) (*View, error) {
	txn, err := db.store.BeginRead()
	if err != nil {
		return nil, fmt.Errorf("merkle: begin read: %w", err)
	}
	return &View{db: db, root: root, txn: txn}, nil
}

// Close releases the view's underlying read transaction.
func (v *View) Close() error {
	return v.txn.Abort()
}

// Contains reports whether address has a value under this view's root.
func (v *View) Contains(address string) (bool, error) {
	_, ok, err := v.getLocked(address)
	return ok, err
}

// Get returns the value at address, or (nil, false) if absent.
func (v *View) Get(address string) ([]byte, bool, error) {
	return v.getLocked(address)
}

func (v *View) getLocked(address string) ([]byte, bool, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, false, err
	}
	cur, err := v.db.loadNode(v.txn, v.root)
	if err != nil {
		return nil, false, err
	}
	for i := 0; i < AddressLength; i++ {
		nb := nibble(address, i)
		child, ok := cur.children[nb]
		if !ok {
			return nil, false, nil
		}
		cur, err = v.db.loadNode(v.txn, child)
		if err != nil {
			return nil, false, err
		}
	}
	if !cur.hasValue {
		return nil, false, nil
	}
	return append([]byte(nil), cur.value...), true, nil
}

// Leaves returns every (address, value) pair whose address starts with
// prefix, in address order. prefix may be empty to enumerate the whole
// trie. The sequence is computed eagerly against this view's fixed
// transaction; it is safe to keep using after further writes land on other
// roots.
func (v *View) Leaves(prefix string) ([]Leaf, error) {
	var out []Leaf
	var walk func(n *node, addr string) error
	walk = func(n *node, addr string) error {
		if len(addr) == AddressLength {
			if n.hasValue {
				out = append(out, Leaf{Address: addr, Value: append([]byte(nil), n.value...)})
			}
			return nil
		}
		for nb := byte(0); nb < 16; nb++ {
			child, ok := n.children[nb]
			if !ok {
				continue
			}
			childNode, err := v.db.loadNode(v.txn, child)
			if err != nil {
				return err
			}
			if err := walk(childNode, addr+string(nibbleChar(nb))); err != nil {
				return err
			}
		}
		return nil
	}

	root, err := v.db.loadNode(v.txn, v.root)
	if err != nil {
		return nil, err
	}

	start := addrPrefixNode(v.db, v.txn, root, prefix)
	if start.node == nil {
		return nil, start.err
	}
	if err := walk(start.node, prefix); err != nil {
		return nil, err
	}
	return out, nil
}

type prefixDescend struct {
	node *node
	err  error
}

func addrPrefixNode(db *Database, txn kv.Txn, root *node, prefix string) prefixDescend {
	cur := root
	for i := 0; i < len(prefix); i++ {
		nb := nibble(prefix, i)
		child, ok := cur.children[nb]
		if !ok {
			return prefixDescend{node: newEmptyNode()}
		}
		n, err := db.loadNode(txn, child)
		if err != nil {
			return prefixDescend{err: err}
		}
		cur = n
	}
	return prefixDescend{node: cur}
}

func nibbleChar(nb byte) byte {
	const hexdigits = "0123456789abcdef"
	return hexdigits[nb]
}
