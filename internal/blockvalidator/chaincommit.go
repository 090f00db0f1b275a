package blockvalidator

import (
	"ledgercore/internal/blockmgr"
	"ledgercore/internal/blockstore"
	"ledgercore/internal/types"
)

// chainCommitState is the stateless-per-candidate predicate described in
// §4.5: built fresh for each block under validation, it checks proposed
// batches and transactions against both the committed chain (C4's batch
// and transaction indexes) and the uncommitted blocks between the fork
// point and the predecessor under validation.
type chainCommitState struct {
	store *blockstore.Store

	uncommittedBatchIDs map[string]struct{}
	uncommittedTxnIDs   map[string]struct{}
}

// newChainCommitState walks branch(predecessorID) via the Block Manager,
// collecting batch and transaction ids from every block not yet present in
// the committed block store, and stops once it reaches a block the store
// already knows (the fork point, or the chain head itself).
func newChainCommitState(store *blockstore.Store, mgr *blockmgr.Manager, predecessorID string) (*chainCommitState, error) {
	s := &chainCommitState{
		store:               store,
		uncommittedBatchIDs: make(map[string]struct{}),
		uncommittedTxnIDs:   make(map[string]struct{}),
	}
	if predecessorID == types.NullBlockIdentifier {
		return s, nil
	}

	it := mgr.Branch(predecessorID)
	for {
		b, ok := it.Next()
		if !ok {
			break
		}
		if _, committed, err := store.Get(b.ID()); err != nil {
			return nil, err
		} else if committed {
			break
		}
		for _, batch := range b.Batches {
			s.uncommittedBatchIDs[batch.ID()] = struct{}{}
			for _, t := range batch.Transactions {
				s.uncommittedTxnIDs[t.ID()] = struct{}{}
			}
		}
	}
	return s, nil
}

// CheckBatch validates batch against the committed chain, the uncommitted
// ancestors collected at construction, and intraBlockSeen (transaction ids
// from batches earlier in the same block under validation, which satisfy
// dependencies and must not themselves be rejected as duplicates of
// something the block itself just introduced, since intra-block duplicate
// ids are instead caught by types.ValidateStructure before this ever runs).
func (s *chainCommitState) CheckBatch(batch *types.Batch, intraBlockSeen map[string]struct{}) error {
	if _, found, err := s.store.GetByBatch(batch.ID()); err != nil {
		return err
	} else if found {
		return ErrDuplicateBatch
	}
	if _, dup := s.uncommittedBatchIDs[batch.ID()]; dup {
		return ErrDuplicateBatch
	}

	for _, t := range batch.Transactions {
		if _, found, err := s.store.GetByTransaction(t.ID()); err != nil {
			return err
		} else if found {
			return ErrDuplicateTransaction
		}
		if _, dup := s.uncommittedTxnIDs[t.ID()]; dup {
			return ErrDuplicateTransaction
		}
		for _, dep := range t.Header.Dependencies {
			if !s.dependencySatisfied(dep, intraBlockSeen) {
				return ErrDependencyNotMet
			}
		}
	}
	return nil
}

func (s *chainCommitState) dependencySatisfied(dep string, intraBlockSeen map[string]struct{}) bool {
	if _, ok := intraBlockSeen[dep]; ok {
		return true
	}
	if _, ok := s.uncommittedTxnIDs[dep]; ok {
		return true
	}
	_, found, err := s.store.GetByTransaction(dep)
	return err == nil && found
}
