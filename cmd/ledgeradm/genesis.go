package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ledgercore/internal/genesis"
	"ledgercore/internal/types"
)

var genesisForce bool

var genesisCmd = &cobra.Command{
	Use:   "genesis <output-file> <input-file>...",
	Short: "Assemble a genesis batch file from one or more signed batch files",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runGenesis,
}

func init() {
	genesisCmd.Flags().BoolVar(&genesisForce, "force", false, "overwrite output-file if it already exists")
}

func runGenesis(_ *cobra.Command, args []string) error {
	outputPath, inputPaths := args[0], args[1:]

	var batches []*types.Batch
	for _, p := range inputPaths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		var list genesis.Data
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("decode %s: %w", p, err)
		}
		batches = append(batches, list.Batches...)
	}

	if err := genesis.ValidateDependencies(batches); err != nil {
		return err
	}

	if err := genesis.Save(outputPath, &genesis.Data{Batches: batches}, genesisForce); err != nil {
		return err
	}
	fmt.Printf("wrote %d batch(es) to %s\n", len(batches), outputPath)
	return nil
}
