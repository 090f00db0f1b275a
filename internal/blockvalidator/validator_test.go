package blockvalidator

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"ledgercore/internal/blockmgr"
	"ledgercore/internal/blockstore"
	"ledgercore/internal/execution"
	"ledgercore/internal/kv/boltstore"
	"ledgercore/internal/merkle"
	"ledgercore/internal/testutil"
	"ledgercore/internal/types"
)

type allowAll struct{}

func (allowAll) Authorized(string) bool { return true }

type recordingNotifier struct {
	valid   []string
	invalid []string
}

func (n *recordingNotifier) BlockValid(id string)   { n.valid = append(n.valid, id) }
func (n *recordingNotifier) BlockInvalid(id string) { n.invalid = append(n.invalid, id) }

// setHandler writes a fixed address/value pair, mirroring the execution
// package's own test double.
type setHandler struct {
	address string
	value   []byte
}

func (h *setHandler) FamilyName() string    { return "setter" }
func (h *setHandler) FamilyVersion() string { return "1.0" }
func (h *setHandler) Apply(ctx *execution.ApplyContext, payload []byte) error {
	return ctx.Set(h.address, h.value)
}

func newHarness(t *testing.T) (*merkle.Database, *blockstore.Store, *blockmgr.Manager) {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })

	indexes := append(append([]string{}, merkle.Indexes()...), blockstore.Indexes()...)
	store, err := boltstore.Open(filepath.Join(sb.Root, "test.db"), indexes, 1<<20)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	db := merkle.New(store)
	bs := blockstore.New(store, logrus.New())
	mgr := blockmgr.New()
	return db, bs, mgr
}

func addr(suffix string) string {
	return strings.Repeat("0", merkle.AddressLength-len(suffix)) + suffix
}

func mustTxn(t *testing.T, family string, deps []string) *types.Transaction {
	t.Helper()
	hdr := types.TransactionHeader{FamilyName: family, FamilyVersion: "1.0", Dependencies: deps, Nonce: family, SignerPublicKey: "signer1"}
	sig, err := types.ComputeHeaderSignature(hdr)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &types.Transaction{Header: hdr, HeaderSignature: sig}
}

func mustBatch(t *testing.T, txns ...*types.Transaction) *types.Batch {
	t.Helper()
	ids := make([]string, len(txns))
	for i, tx := range txns {
		ids[i] = tx.ID()
	}
	hdr := types.BatchHeader{TransactionIDs: ids, SignerPublicKey: "signer1"}
	sig, err := types.ComputeHeaderSignature(hdr)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &types.Batch{Header: hdr, HeaderSignature: sig, Transactions: txns}
}

func mustBlock(t *testing.T, num uint64, prev, stateRoot string, batches ...*types.Batch) *types.Block {
	t.Helper()
	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.ID()
	}
	hdr := types.BlockHeader{BlockNum: num, PreviousBlockID: prev, StateRootHash: stateRoot, BatchIDs: ids}
	sig, err := types.ComputeHeaderSignature(hdr)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &types.Block{Header: hdr, HeaderSignature: sig, Batches: batches}
}

func newTestValidator(db *merkle.Database, bs *blockstore.Store, mgr *blockmgr.Manager, handler execution.TxnHandler, cache *ResultCache, sched *Scheduler, notifier Notifier) *Validator {
	factory := func(root merkle.Hash) execution.Scheduler {
		return execution.NewSerialScheduler(db, root, []execution.TxnHandler{handler}, nil)
	}
	return NewValidator(bs, mgr, factory, allowAll{}, cache, sched, notifier, 1, nil, nil)
}

func TestValidateBlockValid(t *testing.T) {
	db, bs, mgr := newHarness(t)
	handler := &setHandler{address: addr("01"), value: []byte{7}}

	wantRoot, err := db.SetMany(merkle.EmptyRoot(), map[string][]byte{handler.address: handler.value}, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}

	txn := mustTxn(t, "setter", nil)
	batch := mustBatch(t, txn)
	genesis := mustBlock(t, 0, types.NullBlockIdentifier, wantRoot.String(), batch)

	cache, err := NewResultCache(DefaultCacheSize)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	notifier := &recordingNotifier{}
	sched := NewScheduler(cache, mgr)
	v := newTestValidator(db, bs, mgr, handler, cache, sched, notifier)

	result := v.ValidateBlock(genesis)
	if result.Status != StatusValid {
		t.Fatalf("want Valid, got %v (%s)", result.Status, result.FailMessage)
	}
}

func TestValidateBlockStateRootMismatchIsInvalid(t *testing.T) {
	db, bs, mgr := newHarness(t)
	handler := &setHandler{address: addr("02"), value: []byte{1}}

	txn := mustTxn(t, "setter", nil)
	batch := mustBatch(t, txn)
	genesis := mustBlock(t, 0, types.NullBlockIdentifier, merkle.EmptyRoot().String(), batch)

	cache, err := NewResultCache(DefaultCacheSize)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	sched := NewScheduler(cache, mgr)
	v := newTestValidator(db, bs, mgr, handler, cache, sched, &recordingNotifier{})

	result := v.ValidateBlock(genesis)
	if result.Status != StatusInvalid {
		t.Fatalf("want Invalid on state root mismatch, got %v", result.Status)
	}
}

func TestValidateBlockDuplicateBatchIsInvalid(t *testing.T) {
	db, bs, mgr := newHarness(t)
	handler := &setHandler{address: addr("03"), value: []byte{1}}

	root1, err := db.SetMany(merkle.EmptyRoot(), map[string][]byte{handler.address: handler.value}, nil)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}
	txn := mustTxn(t, "setter", nil)
	batch := mustBatch(t, txn)
	genesis := mustBlock(t, 0, types.NullBlockIdentifier, root1.String(), batch)
	if err := bs.Put([]*types.Block{genesis}); err != nil {
		t.Fatalf("commit genesis: %v", err)
	}
	if err := mgr.Put([]*types.Block{genesis}); err != nil {
		t.Fatalf("put genesis: %v", err)
	}

	// A child block that reuses the already-committed batch id.
	child := mustBlock(t, 1, genesis.ID(), root1.String(), batch)

	cache, err := NewResultCache(DefaultCacheSize)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	sched := NewScheduler(cache, mgr)
	v := newTestValidator(db, bs, mgr, handler, cache, sched, &recordingNotifier{})

	result := v.ValidateBlock(child)
	if result.Status != StatusInvalid {
		t.Fatalf("want Invalid on duplicate batch, got %v (%s)", result.Status, result.FailMessage)
	}
}

func TestValidateBlockUnauthorizedSignerIsInvalid(t *testing.T) {
	db, bs, mgr := newHarness(t)
	handler := &setHandler{address: addr("04"), value: []byte{1}}

	txn := mustTxn(t, "setter", nil)
	batch := mustBatch(t, txn)
	genesis := mustBlock(t, 0, types.NullBlockIdentifier, merkle.EmptyRoot().String(), batch)

	cache, err := NewResultCache(DefaultCacheSize)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	sched := NewScheduler(cache, mgr)
	factory := func(root merkle.Hash) execution.Scheduler {
		return execution.NewSerialScheduler(db, root, []execution.TxnHandler{handler}, nil)
	}
	v := NewValidator(bs, mgr, factory, denyAll{}, cache, sched, &recordingNotifier{}, 1, nil, nil)

	result := v.ValidateBlock(genesis)
	if result.Status != StatusInvalid {
		t.Fatalf("want Invalid for unauthorized signer, got %v", result.Status)
	}
}

type denyAll struct{}

func (denyAll) Authorized(string) bool { return false }
