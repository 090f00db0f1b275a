package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ledgercore/internal/merkle"
)

var stateCmd = &cobra.Command{
	Use:               "state",
	Short:             "Inspect and prune the merkle state database directly",
	PersistentPreRunE: openStore,
}

var stateGetCmd = &cobra.Command{
	Use:   "get <root> <address>",
	Short: "Read one address out of the trie rooted at root",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateGet,
}

var statePruneLive []string

var statePruneCmd = &cobra.Command{
	Use:   "prune <root>",
	Short: "Prune every node reachable only from root, given a set of roots to keep live",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatePrune,
}

func init() {
	statePruneCmd.Flags().StringSliceVar(&statePruneLive, "live", nil, "state roots that must remain reachable (comma-separated)")
	stateCmd.AddCommand(stateGetCmd, statePruneCmd)
}

func runStateGet(_ *cobra.Command, args []string) error {
	root, err := merkle.ParseHash(args[0])
	if err != nil {
		return fmt.Errorf("parse root: %w", err)
	}
	value, ok, err := trie.Get(root, args[1])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("address not set: %s", args[1])
	}
	fmt.Println(strings.ToUpper(fmt.Sprintf("%x", value)))
	return nil
}

func runStatePrune(_ *cobra.Command, args []string) error {
	root, err := merkle.ParseHash(args[0])
	if err != nil {
		return fmt.Errorf("parse root: %w", err)
	}

	live := make(map[merkle.Hash]struct{}, len(statePruneLive))
	for _, s := range statePruneLive {
		h, err := merkle.ParseHash(s)
		if err != nil {
			return fmt.Errorf("parse live root %q: %w", s, err)
		}
		live[h] = struct{}{}
	}

	removed, err := trie.Prune(root, live)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d node(s)\n", len(removed))
	return nil
}
