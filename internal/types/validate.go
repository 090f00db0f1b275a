package types

// ValidateStructure checks the invariants of §3 that can be decided from the
// block alone, without any chain context: batch/transaction id agreement,
// the genesis block-number rule, and intra-block duplicate/dependency
// ordering. Cross-block invariants (duplicate ids across the chain,
// dependencies satisfied by an ancestor) are the block validator's
// responsibility since they require chain context.
func ValidateStructure(b *Block) error {
	if b.HeaderSignature == "" {
		return ErrEmptyBlock
	}
	want := b.BatchIDs()
	got := b.Header.BatchIDs
	if !stringsEqual(want, got) {
		return ErrBatchIDMismatch
	}
	if b.Header.PreviousBlockID == NullBlockIdentifier && b.Header.BlockNum != 0 {
		return ErrGenesisBlockNum
	}

	seenBatch := make(map[string]struct{}, len(b.Batches))
	seenTxn := make(map[string]struct{})
	for _, batch := range b.Batches {
		if _, dup := seenBatch[batch.ID()]; dup {
			return ErrDuplicateBatch
		}
		seenBatch[batch.ID()] = struct{}{}

		wantTx := batch.TransactionIDs()
		gotTx := batch.Header.TransactionIDs
		if !stringsEqual(wantTx, gotTx) {
			return ErrTxnIDMismatch
		}
		for _, txn := range batch.Transactions {
			if _, dup := seenTxn[txn.ID()]; dup {
				return ErrDuplicateTxn
			}
			seenTxn[txn.ID()] = struct{}{}
		}
	}

	// Dependencies must appear earlier: within the same block, a
	// transaction may only depend on ids already seen while walking batches
	// in order.
	seen := make(map[string]struct{})
	var all []*Transaction
	for _, batch := range b.Batches {
		all = append(all, batch.Transactions...)
	}
	for _, batch := range b.Batches {
		for _, txn := range batch.Transactions {
			for _, dep := range txn.Header.Dependencies {
				if _, ok := seen[dep]; ok {
					continue
				}
				// Not seen yet in this block: the dependency must be
				// resolved by an ancestor, which the caller (blockvalidator)
				// verifies with chain context. We only reject the case the
				// spec calls out explicitly: a dependency on a transaction
				// that appears *later* in the same block.
				if dependsOnLaterSibling(txn.ID(), dep, all) {
					return ErrDependencyNotMet
				}
			}
			seen[txn.ID()] = struct{}{}
		}
	}
	return nil
}

func dependsOnLaterSibling(selfID, dep string, siblings []*Transaction) bool {
	seenSelf := false
	for _, s := range siblings {
		if s.ID() == selfID {
			seenSelf = true
			continue
		}
		if seenSelf && s.ID() == dep {
			return true
		}
	}
	return false
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
