package genesis

import (
	"path/filepath"
	"testing"

	"ledgercore/internal/testutil"
	"ledgercore/internal/types"
)

func mustTxn(t *testing.T, nonce string, deps []string) *types.Transaction {
	t.Helper()
	hdr := types.TransactionHeader{FamilyName: "intkey", FamilyVersion: "1.0", Dependencies: deps, Nonce: nonce, SignerPublicKey: "signer1"}
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

func TestSaveLoadRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })

	batch := mustBatch(t, mustTxn(t, "n1", nil))
	path := filepath.Join(sb.Root, "genesis.batch")

	if err := Save(path, &Data{Batches: []*types.Batch{batch}}, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Batches) != 1 || got.Batches[0].ID() != batch.ID() {
		t.Fatalf("round trip mismatch: %+v", got.Batches)
	}
}

func TestSaveRefusesToOverwriteWithoutForce(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })

	path := filepath.Join(sb.Root, "genesis.batch")
	data := &Data{Batches: []*types.Batch{mustBatch(t, mustTxn(t, "n1", nil))}}
	if err := Save(path, data, false); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := Save(path, data, false); err == nil {
		t.Fatalf("expected an error overwriting without force")
	}
	if err := Save(path, data, true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}

func TestValidateDependenciesRejectsUnsatisfiedDependency(t *testing.T) {
	txn := mustTxn(t, "n1", []string{"missing"})
	if err := ValidateDependencies([]*types.Batch{mustBatch(t, txn)}); err == nil {
		t.Fatalf("expected an error for an unsatisfied dependency")
	}
}

func TestValidateDependenciesAcceptsEarlierTransactionID(t *testing.T) {
	first := mustTxn(t, "n1", nil)
	second := mustTxn(t, "n2", []string{first.ID()})
	if err := ValidateDependencies([]*types.Batch{mustBatch(t, first, second)}); err != nil {
		t.Fatalf("expected dependency on an earlier transaction to be satisfied: %v", err)
	}
}
