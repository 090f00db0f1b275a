package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ledgercore/internal/types"
)

var blockstoreCmd = &cobra.Command{
	Use:               "blockstore",
	Short:             "Inspect and modify the persistent block index",
	PersistentPreRunE: openStore,
}

var (
	blockstoreListStart string
	blockstoreListCount int
)

var blockstoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocks walking back from the chain head",
	RunE:  runBlockstoreList,
}

var blockstoreShowCmd = &cobra.Command{
	Use:   "show <block-id>",
	Short: "Print one block as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlockstoreShow,
}

var blockstoreExportCmd = &cobra.Command{
	Use:   "export <block-id>",
	Short: "Write one block, JSON-encoded, to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlockstoreExport,
}

var blockstoreImportCmd = &cobra.Command{
	Use:   "import <block-file>",
	Short: "Read a JSON-encoded block and append it to the chain head",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlockstoreImport,
}

var blockstorePruneCmd = &cobra.Command{
	Use:   "prune <block-id>",
	Short: "Delete the chain head back through and including block-id",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlockstorePrune,
}

func init() {
	blockstoreListCmd.Flags().StringVar(&blockstoreListStart, "start", "", "block id to start from (default: chain head)")
	blockstoreListCmd.Flags().IntVar(&blockstoreListCount, "count", 100, "maximum number of blocks to print")
	blockstoreCmd.AddCommand(blockstoreListCmd, blockstoreShowCmd, blockstoreExportCmd, blockstoreImportCmd, blockstorePruneCmd)
}

func runBlockstoreList(_ *cobra.Command, _ []string) error {
	blockID := blockstoreListStart
	if blockID == "" {
		head, ok, err := blocks.ChainHead()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "blockstore is empty")
			return nil
		}
		blockID = head
	}

	fmt.Printf("%-5s %-128s %-5s %-5s %s\n", "NUM", "BLOCK_ID", "BATS", "TXNS", "SIGNER")
	remaining := blockstoreListCount
	for blockID != types.NullBlockIdentifier && remaining > 0 {
		block, ok, err := blocks.Get(blockID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("block not found: %s", blockID)
		}
		txns := 0
		for _, b := range block.Batches {
			txns += len(b.Transactions)
		}
		signer := block.Header.SignerPublicKey
		if len(signer) > 6 {
			signer = signer[:6]
		}
		fmt.Printf("%-5d %-128s %-5d %-5d %s...\n", block.Header.BlockNum, block.ID(), len(block.Batches), txns, signer)
		blockID = block.Header.PreviousBlockID
		remaining--
	}
	return nil
}

func runBlockstoreShow(_ *cobra.Command, args []string) error {
	block, ok, err := blocks.Get(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("block not found: %s", args[0])
	}
	out, err := json.MarshalIndent(block, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runBlockstoreExport(_ *cobra.Command, args []string) error {
	block, ok, err := blocks.Get(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("block not found: %s", args[0])
	}
	raw, err := types.Encode(block)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(raw)
	return err
}

func runBlockstoreImport(_ *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	var block types.Block
	if err := types.Decode(raw, &block); err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}

	head, hasHead, err := blocks.ChainHead()
	if err != nil {
		return err
	}
	if hasHead && block.Header.PreviousBlockID != head {
		return fmt.Errorf("new block must be an immediate child of the current chain head: %s", head)
	}

	if err := blocks.Put([]*types.Block{&block}); err != nil {
		return err
	}
	fmt.Printf("block %s added\n", block.ID())
	return nil
}

// runBlockstorePrune walks the chain head backward, deleting every block
// through and including block-id, per original_source's blockstore prune
// command. Store.Delete requires ids in head-to-tail order, which this walk
// produces naturally.
func runBlockstorePrune(_ *cobra.Command, args []string) error {
	target := args[0]
	if _, ok, err := blocks.Get(target); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("block not found: %s", target)
	}

	head, ok, err := blocks.ChainHead()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("blockstore has no chain head")
	}

	var ids []string
	current := head
	for {
		block, ok, err := blocks.Get(current)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("block not found: %s", current)
		}
		ids = append(ids, current)
		if current == target {
			break
		}
		current = block.Header.PreviousBlockID
		if current == types.NullBlockIdentifier {
			return fmt.Errorf("block %s is not an ancestor of the chain head", target)
		}
	}

	if err := blocks.Delete(ids); err != nil {
		return err
	}
	fmt.Printf("pruned %d block(s) down to and including %s\n", len(ids), target)
	return nil
}
