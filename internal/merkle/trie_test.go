package merkle

import (
	"path/filepath"
	"strings"
	"testing"

	"ledgercore/internal/kv/boltstore"
	"ledgercore/internal/testutil"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })
	store, err := boltstore.Open(filepath.Join(sb.Root, "merkle.db"), Indexes(), 1<<20)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func addr(suffix string) string {
	return strings.Repeat("0", AddressLength-len(suffix)) + suffix
}

func TestSetManyNoOpIsIdentity(t *testing.T) {
	db := newTestDB(t)
	root := EmptyRoot()
	newRoot, err := db.SetMany(root, nil, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}
	if newRoot != root {
		t.Fatalf("no-op write must be identity")
	}
}

func TestSetAndGet(t *testing.T) {
	db := newTestDB(t)
	root := EmptyRoot()
	a := addr("aa")
	newRoot, err := db.SetMany(root, map[string][]byte{a: {0x01}}, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}
	val, ok, err := db.Get(newRoot, a)
	if err != nil || !ok {
		t.Fatalf("get: val=%v ok=%v err=%v", val, ok, err)
	}
	if len(val) != 1 || val[0] != 0x01 {
		t.Fatalf("want [0x01], got %v", val)
	}

	// Old root is unaffected.
	_, ok, err = db.Get(root, a)
	if err != nil {
		t.Fatalf("get old root: %v", err)
	}
	if ok {
		t.Fatalf("old root should not see the new write")
	}
}

func TestAbsentVsPresentEmpty(t *testing.T) {
	db := newTestDB(t)
	root := EmptyRoot()
	a := addr("bb")
	b := addr("cc")
	newRoot, err := db.SetMany(root, map[string][]byte{a: {}}, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}
	val, ok, err := db.Get(newRoot, a)
	if err != nil || !ok {
		t.Fatalf("present-empty should be found: val=%v ok=%v err=%v", val, ok, err)
	}
	if len(val) != 0 {
		t.Fatalf("want zero-length value, got %v", val)
	}
	_, ok, err = db.Get(newRoot, b)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("absent address must not be found")
	}
}

func TestDeterministicRoot(t *testing.T) {
	db := newTestDB(t)
	root := EmptyRoot()
	writes := map[string][]byte{addr("01"): {1}, addr("02"): {2}}
	r1, err := db.SetMany(root, writes, nil)
	if err != nil {
		t.Fatalf("set many 1: %v", err)
	}
	r2, err := db.SetMany(root, writes, nil)
	if err != nil {
		t.Fatalf("set many 2: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("identical writes atop the same root must yield the same root")
	}
}

func TestPruneRemovesUnsharedNodesOnly(t *testing.T) {
	db := newTestDB(t)
	root := EmptyRoot()
	a := addr("aa")
	b := addr("bb")

	r1, err := db.SetMany(root, map[string][]byte{a: {1}}, nil)
	if err != nil {
		t.Fatalf("set many 1: %v", err)
	}
	r2, err := db.SetMany(r1, map[string][]byte{b: {2}}, nil)
	if err != nil {
		t.Fatalf("set many 2: %v", err)
	}

	// r2 is live (descendant of r1 still referencing shared nodes); pruning
	// r1 must not break r2.
	live := map[Hash]struct{}{r2: {}}
	if _, err := db.Prune(r1, live); err != nil {
		t.Fatalf("prune: %v", err)
	}

	val, ok, err := db.Get(r2, a)
	if err != nil || !ok || val[0] != 1 {
		t.Fatalf("r2 must still see a's value written on r1: val=%v ok=%v err=%v", val, ok, err)
	}
	val, ok, err = db.Get(r2, b)
	if err != nil || !ok || val[0] != 2 {
		t.Fatalf("r2 must see its own write: val=%v ok=%v err=%v", val, ok, err)
	}
}

func TestRootCID(t *testing.T) {
	c, err := RootCID(EmptyRoot())
	if err != nil {
		t.Fatalf("root cid: %v", err)
	}
	if c.String() == "" {
		t.Fatalf("expected non-empty cid string")
	}
}

func TestPruneThenGetFails(t *testing.T) {
	db := newTestDB(t)
	root := EmptyRoot()
	a := addr("dd")
	r1, err := db.SetMany(root, map[string][]byte{a: {9}}, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}
	if _, err := db.Prune(r1, nil); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, _, err := db.Get(r1, a); err != ErrInvalidRecord {
		t.Fatalf("want ErrInvalidRecord after prune, got %v", err)
	}
}
