// Package boltstore implements kv.Store over go.etcd.io/bbolt: an ordered,
// single-writer/multi-reader embedded page store whose buckets map directly
// onto the abstract contract's named sub-indexes. Adopted from the
// retrieval pack's erigon example, which depends on bbolt for exactly this
// kind of embedded ordered store — the teacher repo carries no dependency
// of its own for this concern.
package boltstore

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"ledgercore/internal/kv"
)

// Store wraps a single *bolt.DB opened over a fixed set of buckets.
type Store struct {
	db      *bolt.DB
	indexes map[string]struct{}
}

// Open creates or opens the store at path, ensuring every named index
// exists as a top-level bucket. maxMapSize is accepted for contract
// parity with §6 but bbolt grows its mmap automatically, so it is only
// used to size the initial file via bolt.Options.InitialMmapSize.
func Open(path string, indexNames []string, maxMapSize int) (*Store, error) {
	opts := &bolt.Options{InitialMmapSize: maxMapSize}
	db, err := bolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	idx := make(map[string]struct{}, len(indexNames))
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range indexNames {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("boltstore: create bucket %s: %w", name, err)
			}
			idx[name] = struct{}{}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, indexes: idx}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRead opens a snapshot-isolated read transaction.
func (s *Store) BeginRead() (kv.Txn, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("boltstore: begin read: %w", err)
	}
	return &txn{tx: tx, indexes: s.indexes}, nil
}

// BeginWrite opens the single concurrent write transaction.
func (s *Store) BeginWrite() (kv.Txn, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("boltstore: begin write: %w", err)
	}
	return &txn{tx: tx, indexes: s.indexes}, nil
}

type txn struct {
	tx      *bolt.Tx
	indexes map[string]struct{}
}

func (t *txn) bucket(index string) (*bolt.Bucket, error) {
	if _, ok := t.indexes[index]; !ok {
		return nil, kv.ErrUnknownIndex
	}
	b := t.tx.Bucket([]byte(index))
	if b == nil {
		return nil, kv.ErrUnknownIndex
	}
	return b, nil
}

func (t *txn) Get(index string, key []byte) ([]byte, bool, error) {
	b, err := t.bucket(index)
	if err != nil {
		return nil, false, err
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *txn) Put(index string, key, value []byte) error {
	b, err := t.bucket(index)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (t *txn) Delete(index string, key []byte) error {
	b, err := t.bucket(index)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

func (t *txn) Iter(index string, prefix []byte) (kv.Iterator, error) {
	b, err := t.bucket(index)
	if err != nil {
		return nil, err
	}
	return &cursorIter{c: b.Cursor(), prefix: prefix, first: true}, nil
}

func (t *txn) Commit() error { return t.tx.Commit() }
func (t *txn) Abort() error  { return t.tx.Rollback() }

type cursorIter struct {
	c      *bolt.Cursor
	prefix []byte
	first  bool
	k, v   []byte
	done   bool
}

func (it *cursorIter) Next() bool {
	if it.done {
		return false
	}
	var k, v []byte
	if it.first {
		it.first = false
		if len(it.prefix) > 0 {
			k, v = it.c.Seek(it.prefix)
		} else {
			k, v = it.c.First()
		}
	} else {
		k, v = it.c.Next()
	}
	if k == nil || (len(it.prefix) > 0 && !bytes.HasPrefix(k, it.prefix)) {
		it.done = true
		return false
	}
	it.k, it.v = k, v
	return true
}

func (it *cursorIter) Key() []byte   { return it.k }
func (it *cursorIter) Value() []byte { return it.v }
func (it *cursorIter) Err() error    { return nil }
func (it *cursorIter) Close() error  { return nil }
