// Package types holds the wire-level data model shared by every core
// component: transactions, batches, and blocks, per the ledger's data model.
package types

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// NullBlockIdentifier denotes "no predecessor" for a genesis block.
const NullBlockIdentifier = "0000000000000000"

// TransactionHeader carries the immutable metadata of a Transaction.
type TransactionHeader struct {
	FamilyName       string   `json:"family_name"`
	FamilyVersion    string   `json:"family_version"`
	Inputs           []string `json:"inputs"`
	Outputs          []string `json:"outputs"`
	Dependencies     []string `json:"dependencies"`
	SignerPublicKey  string   `json:"signer_public_key"`
	BatcherPublicKey string   `json:"batcher_public_key"`
	PayloadSha512    string   `json:"payload_sha512"`
	Nonce            string   `json:"nonce"`
}

// Transaction is immutable once constructed; its identity is its header
// signature.
type Transaction struct {
	Header          TransactionHeader `json:"header"`
	HeaderSignature string            `json:"header_signature"`
	Payload         []byte            `json:"payload"`
}

// ID returns the transaction's identity.
func (t *Transaction) ID() string { return t.HeaderSignature }

// BatchHeader carries the immutable metadata of a Batch.
type BatchHeader struct {
	TransactionIDs  []string `json:"transaction_ids"`
	SignerPublicKey string   `json:"signer_public_key"`
}

// Batch is the atomic commit unit: either every transaction in it commits or
// none does. Identity is its header signature.
type Batch struct {
	Header          BatchHeader    `json:"header"`
	HeaderSignature string         `json:"header_signature"`
	Transactions    []*Transaction `json:"transactions"`
}

// ID returns the batch's identity.
func (b *Batch) ID() string { return b.HeaderSignature }

// BlockHeader carries the immutable metadata of a Block.
type BlockHeader struct {
	BlockNum        uint64   `json:"block_num"`
	PreviousBlockID string   `json:"previous_block_id"`
	StateRootHash   string   `json:"state_root_hash"`
	BatchIDs        []string `json:"batch_ids"`
	ConsensusData   []byte   `json:"consensus"`
	SignerPublicKey string   `json:"signer_public_key"`
}

// Block is the unit of chain progress. Identity is its header signature.
type Block struct {
	Header          BlockHeader `json:"header"`
	HeaderSignature string      `json:"header_signature"`
	Batches         []*Batch    `json:"batches"`
}

// ID returns the block's identity.
func (b *Block) ID() string { return b.HeaderSignature }

// BatchIDs returns the header signatures of the block's batches in order.
func (b *Block) BatchIDs() []string {
	ids := make([]string, len(b.Batches))
	for i, batch := range b.Batches {
		ids[i] = batch.ID()
	}
	return ids
}

// TransactionIDs returns the header signatures of the batch's transactions
// in order.
func (b *Batch) TransactionIDs() []string {
	ids := make([]string, len(b.Transactions))
	for i, txn := range b.Transactions {
		ids[i] = txn.ID()
	}
	return ids
}

// Encode produces the canonical byte encoding of v used for hashing and
// persistence. Go's json.Marshal emits struct fields in declaration order,
// which is stable across calls and processes, so this is deterministic.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode is the inverse of Encode.
func Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// ComputeHeaderSignature stands in for the external signing library: it
// derives a deterministic identity from the canonical encoding of header so
// that test doubles and fixtures can mint ids without a real keypair. A real
// deployment signs header with the signer's private key instead.
func ComputeHeaderSignature(header interface{}) (string, error) {
	raw, err := Encode(header)
	if err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	sum := sha512.Sum512(raw)
	return hex.EncodeToString(sum[:]), nil
}
