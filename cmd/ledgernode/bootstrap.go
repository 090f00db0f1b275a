package main

import (
	"fmt"

	"ledgercore/internal/blockmgr"
	"ledgercore/internal/blockstore"
	"ledgercore/internal/execution"
	"ledgercore/internal/genesis"
	"ledgercore/internal/merkle"
	"ledgercore/internal/types"
)

// applyGenesis builds and commits block 0 from the batches named by
// genesisFile, if the block store has no chain head yet. It runs the
// batches through the same execution path a regular block would (via
// newSched), so a malformed genesis set is rejected the same way a bad
// network block would be. A no-op if genesisFile is empty or a chain
// head already exists.
func applyGenesis(genesisFile string, store *blockstore.Store, mgr *blockmgr.Manager, newSched func(merkle.Hash) execution.Scheduler) error {
	if genesisFile == "" {
		return nil
	}
	if _, hasHead, err := store.ChainHead(); err != nil {
		return err
	} else if hasHead {
		return nil
	}

	data, err := genesis.Load(genesisFile)
	if err != nil {
		return err
	}
	if err := genesis.ValidateDependencies(data.Batches); err != nil {
		return err
	}

	sched := newSched(merkle.EmptyRoot())
	for _, b := range data.Batches {
		if err := sched.AddBatch(toBatchInput(b), nil, false); err != nil {
			sched.Cancel()
			return fmt.Errorf("genesis: add batch %s: %w", b.ID(), err)
		}
	}
	if err := sched.Finalize(false); err != nil {
		return fmt.Errorf("genesis: finalize: %w", err)
	}
	completion, err := sched.Complete(true)
	if err != nil {
		return fmt.Errorf("genesis: complete: %w", err)
	}
	for _, br := range completion.Batches {
		if !br.Valid {
			return fmt.Errorf("genesis: batch %s invalid: %s", br.BatchID, br.ErrorMessage)
		}
	}

	batchIDs := make([]string, len(data.Batches))
	for i, b := range data.Batches {
		batchIDs[i] = b.ID()
	}
	hdr := types.BlockHeader{
		BlockNum:        0,
		PreviousBlockID: types.NullBlockIdentifier,
		StateRootHash:   completion.EndingStateHash.String(),
		BatchIDs:        batchIDs,
	}
	sig, err := types.ComputeHeaderSignature(hdr)
	if err != nil {
		return err
	}
	block := &types.Block{Header: hdr, HeaderSignature: sig, Batches: data.Batches}

	if err := store.Put([]*types.Block{block}); err != nil {
		return err
	}
	if err := mgr.Put([]*types.Block{block}); err != nil {
		return err
	}
	mgr.SetChainHead(block.ID())
	return nil
}

func toBatchInput(b *types.Batch) *execution.BatchInput {
	txns := make([]execution.TransactionInput, len(b.Transactions))
	for i, t := range b.Transactions {
		txns[i] = execution.TransactionInput{
			ID:            t.ID(),
			FamilyName:    t.Header.FamilyName,
			FamilyVersion: t.Header.FamilyVersion,
			Payload:       t.Payload,
		}
	}
	return &execution.BatchInput{ID: b.ID(), Transactions: txns}
}
