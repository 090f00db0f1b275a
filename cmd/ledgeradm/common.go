package main

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ledgercore/internal/blockstore"
	"ledgercore/internal/kv/boltstore"
	"ledgercore/internal/merkle"
	"ledgercore/pkg/utils"
)

// dataDirEnv names the environment variable pointing at the directory that
// holds the node's bbolt-backed block store and state database, mirroring
// the teacher cmd/cli's LEDGER_PATH convention.
const dataDirEnv = "LEDGERADM_DATA_DIR"

var (
	storeOnce sync.Once
	storeErr  error
	kvStore   *boltstore.Store
	blocks    *blockstore.Store
	trie      *merkle.Database
)

func dataDir() string {
	return utils.EnvOrDefault(dataDirEnv, "data")
}

// openStore lazily opens the shared kv store backing both the block store
// and the merkle state database. It is installed as a PersistentPreRunE so
// every subcommand opens the store exactly once, the same sync.Once-guarded
// shape the teacher uses for its ledger handle.
func openStore(_ *cobra.Command, _ []string) error {
	storeOnce.Do(func() {
		dir := dataDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			storeErr = utils.Wrap(err, "create data directory")
			return
		}
		path := filepath.Join(dir, "ledger.db")
		indexes := append(append([]string{}, blockstore.Indexes()...), merkle.Indexes()...)
		store, err := boltstore.Open(path, indexes, 1<<30)
		if err != nil {
			storeErr = utils.Wrap(err, "open kv store")
			return
		}
		kvStore = store
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		blocks = blockstore.New(store, logger)
		trie = merkle.New(store)
	})
	return storeErr
}
