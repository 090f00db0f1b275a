// Package blockstore implements the persistent block index (C4): by id, by
// batch id, and by transaction id, plus the chain-head cell, per §4.2.
// Grounded on the teacher's core/ledger.go (WAL replay, snapshot, and
// indexing conventions) and original_source's
// validator/src/journal/block_store.rs.
package blockstore

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"ledgercore/internal/kv"
	"ledgercore/internal/types"
)

// Sub-index names, per §6's Persisted Layout table.
const (
	BlocksIndex      = "blocks"
	BatchIndex       = "block_by_batch"
	TransactionIndex = "block_by_txn"
	ChainHeadIndex   = "chain_head"
)

// ChainHeadKey is the constant key under which the current chain head's
// block id is stored.
const ChainHeadKey = "head"

// Indexes returns the sub-index names this store needs from its kv.Store.
func Indexes() []string {
	return []string{BlocksIndex, BatchIndex, TransactionIndex, ChainHeadIndex}
}

// Store is the persistent block index.
type Store struct {
	kv     kv.Store
	logger *logrus.Logger
}

// New wraps an already-open kv.Store.
func New(store kv.Store, logger *logrus.Logger) *Store {
	return &Store{kv: store, logger: logger}
}

// Get returns the block with the given header signature.
func (s *Store) Get(id string) (*types.Block, bool, error) {
	txn, err := s.kv.BeginRead()
	if err != nil {
		return nil, false, fmt.Errorf("blockstore: begin read: %w", err)
	}
	defer txn.Abort()
	return s.getIn(txn, id)
}

func (s *Store) getIn(txn kv.Txn, id string) (*types.Block, bool, error) {
	raw, ok, err := txn.Get(BlocksIndex, []byte(id))
	if err != nil {
		return nil, false, fmt.Errorf("blockstore: get block: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var b types.Block
	if err := types.Decode(raw, &b); err != nil {
		return nil, false, fmt.Errorf("blockstore: decode block: %w", err)
	}
	return &b, true, nil
}

// GetByBatch resolves the block that contains batchID.
func (s *Store) GetByBatch(batchID string) (*types.Block, bool, error) {
	txn, err := s.kv.BeginRead()
	if err != nil {
		return nil, false, fmt.Errorf("blockstore: begin read: %w", err)
	}
	defer txn.Abort()
	blockID, ok, err := txn.Get(BatchIndex, []byte(batchID))
	if err != nil || !ok {
		return nil, false, err
	}
	return s.getIn(txn, string(blockID))
}

// GetByTransaction resolves the block that contains transactionID.
func (s *Store) GetByTransaction(transactionID string) (*types.Block, bool, error) {
	txn, err := s.kv.BeginRead()
	if err != nil {
		return nil, false, fmt.Errorf("blockstore: begin read: %w", err)
	}
	defer txn.Abort()
	blockID, ok, err := txn.Get(TransactionIndex, []byte(transactionID))
	if err != nil || !ok {
		return nil, false, err
	}
	return s.getIn(txn, string(blockID))
}

// ChainHead returns the id of the current chain head, if any.
func (s *Store) ChainHead() (string, bool, error) {
	txn, err := s.kv.BeginRead()
	if err != nil {
		return "", false, fmt.Errorf("blockstore: begin read: %w", err)
	}
	defer txn.Abort()
	raw, ok, err := txn.Get(ChainHeadIndex, []byte(ChainHeadKey))
	if err != nil || !ok {
		return "", false, err
	}
	return string(raw), true, nil
}

// Put inserts blocks transactionally across all three indexes, then updates
// the chain-head cell to the highest-numbered inserted block if it exceeds
// the current head.
func (s *Store) Put(blocks []*types.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	txn, err := s.kv.BeginWrite()
	if err != nil {
		return fmt.Errorf("blockstore: begin write: %w", err)
	}
	defer txn.Abort()

	headRaw, hasHead, err := txn.Get(ChainHeadIndex, []byte(ChainHeadKey))
	if err != nil {
		return fmt.Errorf("blockstore: get chain head: %w", err)
	}
	var headNum uint64
	var headID string
	if hasHead {
		headID = string(headRaw)
		existing, ok, err := s.getIn(txn, headID)
		if err != nil {
			return err
		}
		if ok {
			headNum = existing.Header.BlockNum
		}
	}

	for _, b := range blocks {
		raw, err := types.Encode(b)
		if err != nil {
			return fmt.Errorf("blockstore: encode block: %w", err)
		}
		if err := txn.Put(BlocksIndex, []byte(b.ID()), raw); err != nil {
			return fmt.Errorf("blockstore: put block: %w", err)
		}
		for _, batch := range b.Batches {
			if err := txn.Put(BatchIndex, []byte(batch.ID()), []byte(b.ID())); err != nil {
				return fmt.Errorf("blockstore: put batch index: %w", err)
			}
			for _, t := range batch.Transactions {
				if err := txn.Put(TransactionIndex, []byte(t.ID()), []byte(b.ID())); err != nil {
					return fmt.Errorf("blockstore: put transaction index: %w", err)
				}
			}
		}
		if !hasHead || b.Header.BlockNum > headNum {
			headNum = b.Header.BlockNum
			headID = b.ID()
			hasHead = true
		}
	}
	if hasHead {
		if err := txn.Put(ChainHeadIndex, []byte(ChainHeadKey), []byte(headID)); err != nil {
			return fmt.Errorf("blockstore: put chain head: %w", err)
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("blockstore: commit: %w", err)
	}
	s.logger.WithField("count", len(blocks)).Debug("blockstore: put")
	return nil
}

// Delete removes ids, walking the chain head back one block per deletion.
// Per §9's Open Question, a delete target that is not the current chain
// head is rejected rather than guessed at: ids must be supplied in
// head-to-tail order so each one is the head at the moment it is removed.
func (s *Store) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	txn, err := s.kv.BeginWrite()
	if err != nil {
		return fmt.Errorf("blockstore: begin write: %w", err)
	}
	defer txn.Abort()

	for _, id := range ids {
		headRaw, hasHead, err := txn.Get(ChainHeadIndex, []byte(ChainHeadKey))
		if err != nil {
			return fmt.Errorf("blockstore: get chain head: %w", err)
		}
		if !hasHead || string(headRaw) != id {
			return ErrNotChainHead
		}
		blk, ok, err := s.getIn(txn, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		for _, batch := range blk.Batches {
			if err := txn.Delete(BatchIndex, []byte(batch.ID())); err != nil {
				return fmt.Errorf("blockstore: delete batch index: %w", err)
			}
			for _, t := range batch.Transactions {
				if err := txn.Delete(TransactionIndex, []byte(t.ID())); err != nil {
					return fmt.Errorf("blockstore: delete transaction index: %w", err)
				}
			}
		}
		if err := txn.Delete(BlocksIndex, []byte(id)); err != nil {
			return fmt.Errorf("blockstore: delete block: %w", err)
		}
		if blk.Header.PreviousBlockID == types.NullBlockIdentifier {
			if err := txn.Delete(ChainHeadIndex, []byte(ChainHeadKey)); err != nil {
				return fmt.Errorf("blockstore: clear chain head: %w", err)
			}
		} else {
			if err := txn.Put(ChainHeadIndex, []byte(ChainHeadKey), []byte(blk.Header.PreviousBlockID)); err != nil {
				return fmt.Errorf("blockstore: walk back chain head: %w", err)
			}
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("blockstore: commit: %w", err)
	}
	s.logger.WithField("count", len(ids)).Debug("blockstore: delete")
	return nil
}
