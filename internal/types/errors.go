package types

import "errors"

// Argument errors (§7): malformed input, rejected without side effects.
var (
	ErrEmptyBlock        = errors.New("block has no header signature")
	ErrBatchIDMismatch   = errors.New("block.batch_ids does not match block.batches")
	ErrTxnIDMismatch     = errors.New("batch.header.transaction_ids does not match batch.transactions")
	ErrGenesisBlockNum   = errors.New("block with NULL_BLOCK_IDENTIFIER predecessor must have block_num == 0")
	ErrDependencyNotMet  = errors.New("transaction dependency not satisfied earlier in the block")
	ErrDuplicateBatch    = errors.New("duplicate batch id on chain")
	ErrDuplicateTxn      = errors.New("duplicate transaction id on chain")
)
