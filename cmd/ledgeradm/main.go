// Command ledgeradm is the offline administration tool for a ledgercore
// data directory: it inspects, prunes, exports and imports blocks without
// a running validator process, and assembles a genesis batch file from
// signed batches produced elsewhere.
//
// Grounded on original_source's adm/src/commands/{blockstore,genesis}.rs
// and the teacher's cmd/cli layout of one file per subcommand group.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "ledgeradm",
		Short:         "Offline administration for a ledgercore data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(blockstoreCmd, genesisCmd, stateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
