package publisher

import (
	"path/filepath"
	"testing"

	"ledgercore/internal/blockmgr"
	"ledgercore/internal/execution"
	"ledgercore/internal/kv/boltstore"
	"ledgercore/internal/merkle"
	"ledgercore/internal/testutil"
	"ledgercore/internal/types"
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

func mustTxn(t *testing.T, family, nonce string) *types.Transaction {
	t.Helper()
	hdr := types.TransactionHeader{FamilyName: family, FamilyVersion: "1.0", Nonce: nonce, SignerPublicKey: "signer1"}
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

// noopHandler ignores its payload and writes nothing; enough to exercise
// the publisher's pool/candidate bookkeeping without a real domain.
type noopHandler struct{ family string }

func (h *noopHandler) FamilyName() string    { return h.family }
func (h *noopHandler) FamilyVersion() string { return "1.0" }
func (h *noopHandler) Apply(ctx *execution.ApplyContext, payload []byte) error { return nil }

func newTestPublisher(t *testing.T) (*Publisher, *blockmgr.Manager) {
	t.Helper()
	db := newTestDB(t)
	mgr := blockmgr.New()
	factory := func(root merkle.Hash) execution.Scheduler {
		return execution.NewSerialScheduler(db, root, []execution.TxnHandler{&noopHandler{family: "intkey"}}, nil)
	}
	return New(mgr, factory, 10, nil, nil), mgr
}

func TestInitializeBlockOnGenesis(t *testing.T) {
	p, _ := newTestPublisher(t)
	if err := p.InitializeBlock(types.NullBlockIdentifier); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := p.InitializeBlock(types.NullBlockIdentifier); err != ErrBlockInProgress {
		t.Fatalf("want ErrBlockInProgress, got %v", err)
	}
}

func TestInitializeBlockMissingPredecessor(t *testing.T) {
	p, _ := newTestPublisher(t)
	if err := p.InitializeBlock("unknown"); err != ErrMissingPredecessor {
		t.Fatalf("want ErrMissingPredecessor, got %v", err)
	}
}

func TestSubmitBatchDrainsIntoCandidate(t *testing.T) {
	p, _ := newTestPublisher(t)
	if err := p.InitializeBlock(types.NullBlockIdentifier); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	batch := mustBatch(t, mustTxn(t, "intkey", "n1"))
	p.SubmitBatch(batch)

	digest, err := p.SummarizeBlock(false)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(digest) != 32 {
		t.Fatalf("want a sha256 digest, got %d bytes", len(digest))
	}
}

func TestFinalizeBlockAssemblesBlock(t *testing.T) {
	p, _ := newTestPublisher(t)
	if err := p.InitializeBlock(types.NullBlockIdentifier); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	batch := mustBatch(t, mustTxn(t, "intkey", "n1"))
	p.SubmitBatch(batch)

	result, err := p.FinalizeBlock([]byte("consensus"), false)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(result.Block.Batches) != 1 || result.Block.Batches[0].ID() != batch.ID() {
		t.Fatalf("expected finalized block to contain submitted batch, got %+v", result.Block.Batches)
	}
	if result.Block.Header.PreviousBlockID != types.NullBlockIdentifier {
		t.Fatalf("expected genesis predecessor")
	}

	// A second InitializeBlock should succeed now that the candidate closed.
	if err := p.InitializeBlock(types.NullBlockIdentifier); err != nil {
		t.Fatalf("re-initialize after finalize: %v", err)
	}
}

func TestFinalizeBlockEmptyCandidateRequiresForce(t *testing.T) {
	p, _ := newTestPublisher(t)
	if err := p.InitializeBlock(types.NullBlockIdentifier); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := p.FinalizeBlock(nil, false); err != ErrEmptyCandidate {
		t.Fatalf("want ErrEmptyCandidate, got %v", err)
	}
	result, err := p.FinalizeBlock(nil, true)
	if err != nil {
		t.Fatalf("finalize forced: %v", err)
	}
	if len(result.Block.Batches) != 0 {
		t.Fatalf("expected an empty block")
	}
}

func TestCancelBlockReturnsDrainedBatchesToPool(t *testing.T) {
	p, _ := newTestPublisher(t)
	if err := p.InitializeBlock(types.NullBlockIdentifier); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	batch := mustBatch(t, mustTxn(t, "intkey", "n1"))
	p.SubmitBatch(batch)
	p.CancelBlock()

	if err := p.InitializeBlock(types.NullBlockIdentifier); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	digest, err := p.SummarizeBlock(false)
	if err != nil {
		t.Fatalf("summarize after cancel should still see the returned batch: %v", err)
	}
	if len(digest) != 32 {
		t.Fatalf("expected non-empty digest")
	}
}

func TestOnChainUpdatedRebuildsPoolExcludingCommitted(t *testing.T) {
	p, _ := newTestPublisher(t)
	a := mustBatch(t, mustTxn(t, "intkey", "a"))
	b := mustBatch(t, mustTxn(t, "intkey", "b"))
	p.SubmitBatch(a)
	p.SubmitBatch(b)

	p.OnChainUpdated("new-head", []*types.Batch{a}, nil)

	if err := p.InitializeBlock(types.NullBlockIdentifier); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	digest, err := p.SummarizeBlock(true)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(digest) != 32 {
		t.Fatalf("expected a digest")
	}
	if p.pool.Len() != 0 {
		t.Fatalf("pool should have drained batch b into the new candidate, got len=%d", p.pool.Len())
	}
}

type recordingObserver struct {
	seen []string
}

func (o *recordingObserver) BatchEnqueued(b *types.Batch) { o.seen = append(o.seen, b.ID()) }

func TestObserverNotifiedOnNewBatch(t *testing.T) {
	p, _ := newTestPublisher(t)
	obs := &recordingObserver{}
	p.AddObserver(obs)

	batch := mustBatch(t, mustTxn(t, "intkey", "n1"))
	p.SubmitBatch(batch)
	p.SubmitBatch(batch) // duplicate, should not notify again

	if len(obs.seen) != 1 || obs.seen[0] != batch.ID() {
		t.Fatalf("want exactly one notification for the new batch, got %v", obs.seen)
	}
}
