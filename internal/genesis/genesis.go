// Package genesis defines the on-disk genesis batch list a fresh
// validator applies before accepting any block from the network, and the
// dependency check a batch set must pass to qualify as a genesis set.
// Grounded on original_source's adm/src/commands/genesis.rs, standing in
// for its protobuf GenesisData message with a JSON file since this module
// carries no family-specific protobuf definitions of its own.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"

	"ledgercore/internal/types"
)

// Data is the on-disk shape of a genesis file: the ordered set of batches
// applied to build the chain's block 0.
type Data struct {
	Batches []*types.Batch `json:"batches"`
}

// Load reads and decodes a genesis file written by ledgeradm's genesis
// command.
func Load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("genesis: decode %s: %w", path, err)
	}
	return &d, nil
}

// Save encodes and writes a genesis file. It refuses to overwrite an
// existing file unless force is set, matching the original admin tool's
// create-only default.
func Save(path string, d *Data, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("genesis: file already exists: %s", path)
		}
	}
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		return fmt.Errorf("genesis: write %s: %w", path, err)
	}
	return nil
}

// ValidateDependencies rejects a genesis set where a transaction depends on
// an id not satisfied by an earlier transaction in the same set, since a
// genesis block has no predecessor chain to draw dependencies from.
func ValidateDependencies(batches []*types.Batch) error {
	seen := make(map[string]struct{})
	for _, batch := range batches {
		for _, txn := range batch.Transactions {
			for _, dep := range txn.Header.Dependencies {
				if _, ok := seen[dep]; !ok {
					return fmt.Errorf("genesis: unsatisfied dependency in transaction %s: %s", txn.ID(), dep)
				}
			}
			seen[txn.ID()] = struct{}{}
		}
	}
	return nil
}
