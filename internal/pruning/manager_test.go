package pruning

import (
	"path/filepath"
	"strings"
	"testing"

	"ledgercore/internal/kv/boltstore"
	"ledgercore/internal/merkle"
	"ledgercore/internal/testutil"
)

func newTestDB(t *testing.T) *merkle.Database {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })
	store, err := boltstore.Open(filepath.Join(sb.Root, "merkle.db"), merkle.Indexes(), 1<<20)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return merkle.New(store)
}

func addr(suffix string) string {
	return strings.Repeat("0", merkle.AddressLength-len(suffix)) + suffix
}

type fixedLiveRoots map[merkle.Hash]struct{}

func (f fixedLiveRoots) LiveRoots() map[merkle.Hash]struct{} { return f }

func TestExecuteSkipsEntriesAboveDepth(t *testing.T) {
	db := newTestDB(t)
	root := merkle.EmptyRoot()
	r1, err := db.SetMany(root, map[string][]byte{addr("aa"): {1}}, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}

	m := New(db, nil, nil, nil)
	m.UpdateQueue(nil, []PrunedRoot{{BlockNum: 10, Root: r1}})

	m.Execute(5)
	if m.Len() != 1 {
		t.Fatalf("entry above depth must not be popped, queue len = %d", m.Len())
	}

	if _, _, err := db.Get(r1, addr("aa")); err != nil {
		t.Fatalf("root must remain unpruned: %v", err)
	}
}

func TestExecutePrunesEntryAtOrBelowDepth(t *testing.T) {
	db := newTestDB(t)
	root := merkle.EmptyRoot()
	r1, err := db.SetMany(root, map[string][]byte{addr("aa"): {1}}, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}

	m := New(db, nil, nil, nil)
	m.UpdateQueue(nil, []PrunedRoot{{BlockNum: 3, Root: r1}})

	m.Execute(3)
	if m.Len() != 0 {
		t.Fatalf("pruned entry must be removed from the queue, len = %d", m.Len())
	}
	if _, _, err := db.Get(r1, addr("aa")); err != merkle.ErrInvalidRecord {
		t.Fatalf("want ErrInvalidRecord after prune, got %v", err)
	}
}

func TestExecuteRequeuesRootStillLiveElsewhere(t *testing.T) {
	db := newTestDB(t)
	root := merkle.EmptyRoot()
	r1, err := db.SetMany(root, map[string][]byte{addr("aa"): {1}}, nil)
	if err != nil {
		t.Fatalf("set many 1: %v", err)
	}
	r2, err := db.SetMany(r1, map[string][]byte{addr("bb"): {2}}, nil)
	if err != nil {
		t.Fatalf("set many 2: %v", err)
	}

	live := fixedLiveRoots{r1: {}, r2: {}}
	m := New(db, live, nil, nil)
	m.UpdateQueue(nil, []PrunedRoot{{BlockNum: 1, Root: r1}})

	m.Execute(1)
	if m.Len() != 1 {
		t.Fatalf("root that is itself still live must be re-queued, len = %d", m.Len())
	}

	val, ok, err := db.Get(r2, addr("aa"))
	if err != nil || !ok || val[0] != 1 {
		t.Fatalf("r2 must still see r1's write: val=%v ok=%v err=%v", val, ok, err)
	}
}

func TestExecuteDropsEntryAfterMaxAttempts(t *testing.T) {
	db := newTestDB(t)
	root := merkle.EmptyRoot()
	r1, err := db.SetMany(root, map[string][]byte{addr("aa"): {1}}, nil)
	if err != nil {
		t.Fatalf("set many 1: %v", err)
	}
	r2, err := db.SetMany(r1, map[string][]byte{addr("bb"): {2}}, nil)
	if err != nil {
		t.Fatalf("set many 2: %v", err)
	}

	live := fixedLiveRoots{r1: {}, r2: {}}
	m := New(db, live, nil, nil)
	m.UpdateQueue(nil, []PrunedRoot{{BlockNum: 1, Root: r1}})

	for i := 0; i < maxAttempts; i++ {
		m.Execute(1)
	}
	if m.Len() != 0 {
		t.Fatalf("entry must be dropped after %d unsuccessful attempts, len = %d", maxAttempts, m.Len())
	}
}

func TestUpdateQueueRemovesReclaimedRoot(t *testing.T) {
	db := newTestDB(t)
	root := merkle.EmptyRoot()
	r1, err := db.SetMany(root, map[string][]byte{addr("aa"): {1}}, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}

	m := New(db, nil, nil, nil)
	m.UpdateQueue(nil, []PrunedRoot{{BlockNum: 1, Root: r1}})
	if m.Len() != 1 {
		t.Fatalf("want 1 queued entry, got %d", m.Len())
	}

	m.UpdateQueue([]PrunedRoot{{BlockNum: 1, Root: r1}}, nil)
	if m.Len() != 0 {
		t.Fatalf("root re-chosen by a reorg must be removed from the queue, len = %d", m.Len())
	}
}

func TestUpdateQueueDedupesAlreadyQueuedRoot(t *testing.T) {
	db := newTestDB(t)
	root := merkle.EmptyRoot()
	r1, err := db.SetMany(root, map[string][]byte{addr("aa"): {1}}, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}

	m := New(db, nil, nil, nil)
	m.UpdateQueue(nil, []PrunedRoot{{BlockNum: 1, Root: r1}})
	m.UpdateQueue(nil, []PrunedRoot{{BlockNum: 1, Root: r1}})
	if m.Len() != 1 {
		t.Fatalf("re-adding an already-queued root must not duplicate it, len = %d", m.Len())
	}
}
