package chaincontroller

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"ledgercore/internal/blockmgr"
	"ledgercore/internal/blockstore"
	"ledgercore/internal/consensus"
	"ledgercore/internal/kv/boltstore"
	"ledgercore/internal/merkle"
	"ledgercore/internal/pruning"
	"ledgercore/internal/testutil"
	"ledgercore/internal/types"
)

func newHarness(t *testing.T) (*blockstore.Store, *blockmgr.Manager) {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { _ = sb.Cleanup() })

	store, err := boltstore.Open(filepath.Join(sb.Root, "test.db"), blockstore.Indexes(), 1<<20)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	bs := blockstore.New(store, logrus.New())
	mgr := blockmgr.New()
	return bs, mgr
}

func mustBlock(t *testing.T, num uint64, prev string) *types.Block {
	t.Helper()
	hdr := types.BlockHeader{BlockNum: num, PreviousBlockID: prev, StateRootHash: merkle.EmptyRoot().String()}
	sig, err := types.ComputeHeaderSignature(hdr)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &types.Block{Header: hdr, HeaderSignature: sig}
}

type recordingPublisher struct {
	newHead            string
	committedBatches   []*types.Batch
	uncommittedBatches []*types.Batch
	calls              int
}

func (p *recordingPublisher) OnChainUpdated(newHead string, committed, uncommitted []*types.Batch) {
	p.calls++
	p.newHead = newHead
	p.committedBatches = committed
	p.uncommittedBatches = uncommitted
}

type recordingPruner struct {
	added, abandoned []pruning.PrunedRoot
}

func (p *recordingPruner) UpdateQueue(added, abandoned []pruning.PrunedRoot) {
	p.added = added
	p.abandoned = abandoned
}

func newTestController(t *testing.T, bs *blockstore.Store, mgr *blockmgr.Manager, pub *recordingPublisher, pruner *recordingPruner) *Controller {
	t.Helper()
	facade := consensus.NewFacade(mgr.Contains, nil, nil)
	return New(bs, mgr, pub, pruner, facade, nil)
}

func TestCommitGenesisSetsChainHead(t *testing.T) {
	bs, mgr := newHarness(t)
	genesis := mustBlock(t, 0, types.NullBlockIdentifier)
	if err := mgr.Put([]*types.Block{genesis}); err != nil {
		t.Fatalf("mgr put: %v", err)
	}

	pub := &recordingPublisher{}
	pruner := &recordingPruner{}
	ctl := newTestController(t, bs, mgr, pub, pruner)

	if err := ctl.Commit(genesis.ID()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	head, ok, err := bs.ChainHead()
	if err != nil || !ok {
		t.Fatalf("chain head: ok=%v err=%v", ok, err)
	}
	if head != genesis.ID() {
		t.Fatalf("want head %s, got %s", genesis.ID(), head)
	}
	if pub.calls != 1 || pub.newHead != genesis.ID() {
		t.Fatalf("publisher not notified of genesis commit: %+v", pub)
	}
}

func TestCommitExtendsChain(t *testing.T) {
	bs, mgr := newHarness(t)
	genesis := mustBlock(t, 0, types.NullBlockIdentifier)
	b1 := mustBlock(t, 1, genesis.ID())
	if err := mgr.Put([]*types.Block{genesis, b1}); err != nil {
		t.Fatalf("mgr put: %v", err)
	}

	pub := &recordingPublisher{}
	pruner := &recordingPruner{}
	ctl := newTestController(t, bs, mgr, pub, pruner)

	if err := ctl.Commit(genesis.ID()); err != nil {
		t.Fatalf("commit genesis: %v", err)
	}
	if err := ctl.Commit(b1.ID()); err != nil {
		t.Fatalf("commit b1: %v", err)
	}

	head, ok, err := bs.ChainHead()
	if err != nil || !ok || head != b1.ID() {
		t.Fatalf("want head %s, got %s (ok=%v err=%v)", b1.ID(), head, ok, err)
	}
	if pub.newHead != b1.ID() {
		t.Fatalf("publisher should see b1 as new head, got %s", pub.newHead)
	}
}

func TestCommitUnknownBlockFails(t *testing.T) {
	bs, mgr := newHarness(t)
	pub := &recordingPublisher{}
	pruner := &recordingPruner{}
	ctl := newTestController(t, bs, mgr, pub, pruner)

	if err := ctl.Commit("does-not-exist"); err == nil {
		t.Fatal("want error committing unknown block")
	}
}

func TestCommitOfCommittedHeadSucceedsAgain(t *testing.T) {
	bs, mgr := newHarness(t)
	genesis := mustBlock(t, 0, types.NullBlockIdentifier)
	if err := mgr.Put([]*types.Block{genesis}); err != nil {
		t.Fatalf("mgr put: %v", err)
	}

	pub := &recordingPublisher{}
	pruner := &recordingPruner{}
	ctl := newTestController(t, bs, mgr, pub, pruner)

	if err := ctl.Commit(genesis.ID()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := ctl.Commit(genesis.ID()); err != nil {
		t.Fatalf("re-commit of an already-committed head should be a no-op, got: %v", err)
	}
	if pub.calls != 2 {
		t.Fatalf("each successful Commit call rebuilds the publisher pool once, want 2 calls got %d", pub.calls)
	}
}

func TestCommitReorgAbandonsOldFork(t *testing.T) {
	bs, mgr := newHarness(t)
	genesis := mustBlock(t, 0, types.NullBlockIdentifier)
	forkA := mustBlock(t, 1, genesis.ID())
	forkBHdr := forkA.Header
	forkBHdr.ConsensusData = []byte("fork-b")
	forkBSig, err := types.ComputeHeaderSignature(forkBHdr)
	if err != nil {
		t.Fatalf("sign forkB: %v", err)
	}
	forkB := &types.Block{Header: forkBHdr, HeaderSignature: forkBSig}
	if err := mgr.Put([]*types.Block{genesis}); err != nil {
		t.Fatalf("mgr put genesis: %v", err)
	}
	if err := mgr.Put([]*types.Block{forkA}); err != nil {
		t.Fatalf("mgr put forkA: %v", err)
	}
	if err := mgr.Put([]*types.Block{forkB}); err != nil {
		t.Fatalf("mgr put forkB: %v", err)
	}

	pub := &recordingPublisher{}
	pruner := &recordingPruner{}
	ctl := newTestController(t, bs, mgr, pub, pruner)

	if err := ctl.Commit(genesis.ID()); err != nil {
		t.Fatalf("commit genesis: %v", err)
	}
	if err := ctl.Commit(forkA.ID()); err != nil {
		t.Fatalf("commit forkA: %v", err)
	}
	if err := ctl.Commit(forkB.ID()); err != nil {
		t.Fatalf("commit forkB (reorg): %v", err)
	}

	head, ok, err := bs.ChainHead()
	if err != nil || !ok || head != forkB.ID() {
		t.Fatalf("want head %s after reorg, got %s (ok=%v err=%v)", forkB.ID(), head, ok, err)
	}
	if len(pruner.abandoned) != 1 || pruner.abandoned[0].BlockNum != forkA.Header.BlockNum {
		t.Fatalf("want forkA enqueued for pruning as abandoned, got %+v", pruner.abandoned)
	}
}
