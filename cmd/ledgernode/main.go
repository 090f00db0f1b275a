// Command ledgernode is the validator process: it wires the block
// manager, merkle state database, block scheduler and validator,
// publisher, chain controller, state pruning manager and consensus
// facade together and drives them against a bbolt-backed data directory,
// serving consensus engine connections over the §6 wire protocol until it
// receives SIGINT or SIGTERM.
//
// Grounded on the teacher's cmd/synnergy entrypoint (a thin cobra root
// wired to long-running subcommands) and original_source's
// validator/src/journal/chain.rs for the set of components a running
// node must start in sequence.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledgercore/internal/blockmgr"
	"ledgercore/internal/blockstore"
	"ledgercore/internal/blockvalidator"
	"ledgercore/internal/chaincontroller"
	"ledgercore/internal/consensus"
	"ledgercore/internal/execution"
	"ledgercore/internal/kv/boltstore"
	"ledgercore/internal/merkle"
	"ledgercore/internal/metrics"
	"ledgercore/internal/publisher"
	"ledgercore/internal/pruning"
	"ledgercore/pkg/config"
	"ledgercore/pkg/utils"
)

func main() {
	var env string

	root := &cobra.Command{
		Use:           "ledgernode",
		Short:         "Run a ledgercore validator node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Load configuration, wire the core pipeline, and serve consensus engine connections",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(env)
		},
	}
	start.Flags().StringVar(&env, "env", "", "configuration overlay name, merged atop default.yaml")
	root.AddCommand(start)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return utils.Wrap(err, "load configuration")
	}

	logger := logrus.New()
	if level, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.File != "" {
		f, ferr := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if ferr != nil {
			return utils.Wrap(ferr, "open log file")
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return utils.Wrap(err, "build publisher logger")
	}
	defer zapLogger.Sync()

	if err := os.MkdirAll(cfg.KVStore.Path, 0o755); err != nil {
		return utils.Wrap(err, "create data directory")
	}
	dbPath := filepath.Join(cfg.KVStore.Path, "ledger.db")
	indexes := append(append([]string{}, blockstore.Indexes()...), merkle.Indexes()...)
	mmapBytes := cfg.KVStore.MmapSizeMB << 20
	if mmapBytes <= 0 {
		mmapBytes = 1 << 30
	}
	store, err := boltstore.Open(dbPath, indexes, mmapBytes)
	if err != nil {
		return utils.Wrap(err, "open kv store")
	}
	defer store.Close()

	blocks := blockstore.New(store, logger)
	trie := merkle.New(store)
	mgr := blockmgr.New()

	newSched := func(root merkle.Hash) execution.Scheduler {
		return execution.NewSerialScheduler(trie, root, nil, logger)
	}

	if err := applyGenesis(cfg.BlockManager.GenesisFile, blocks, mgr, newSched); err != nil {
		return utils.Wrap(err, "apply genesis")
	}

	sink := metrics.Noop
	var promSink *metrics.Prometheus
	if cfg.Metrics.ListenAddr != "" {
		promSink = metrics.NewPrometheus()
		sink = promSink
	}

	cacheSize := cfg.Validator.ResultCacheSize
	if cacheSize <= 0 {
		cacheSize = blockvalidator.DefaultCacheSize
	}
	cache, err := blockvalidator.NewResultCache(cacheSize)
	if err != nil {
		return utils.Wrap(err, "build validation result cache")
	}
	scheduler := blockvalidator.NewScheduler(cache, mgr)

	transport := consensus.NewTCPTransport()
	facade := consensus.NewFacade(mgr.Contains, transport, logger)
	facade.Start()
	defer facade.Stop()

	validator := blockvalidator.NewValidator(
		blocks, mgr, newSched, allowAllSigners{}, cache, scheduler,
		facadeNotifier{facade}, cfg.Validator.Workers, logger, sink,
	)
	validator.Start()
	defer validator.Stop()

	pub := publisher.New(mgr, newSched, cfg.Publisher.MaxBatchesPerBlock, zapLogger.Sugar(), sink)

	pruner := pruning.New(trie, pruning.BlockManagerLiveRoots{Mgr: mgr}, logger, sink)

	controller := chaincontroller.New(blocks, mgr, pub, pruner, facade, logger)

	dispatcher := NewDispatcher(
		pub, validator, scheduler, mgr, blocks, controller, facade,
		pruner, uint64(cfg.Pruning.Depth), cfg.Pruning.IntervalBlocks,
	)

	if head, ok, herr := blocks.ChainHead(); herr == nil && ok {
		mgr.SetChainHead(head)
	}

	ln, err := net.Listen("tcp", cfg.Consensus.ListenAddr)
	if err != nil {
		return utils.Wrap(err, "listen for consensus engine connections")
	}
	defer ln.Close()

	srv := &engineServer{
		ln:         ln,
		transport:  transport,
		facade:     facade,
		dispatcher: dispatcher,
		chainHead: func() string {
			head, _, _ := blocks.ChainHead()
			return head
		},
		localID: uuid.New().String(),
		logger:  logger,
	}
	go srv.Serve()
	logger.WithField("addr", cfg.Consensus.ListenAddr).Info("ledgernode: consensus engine listener started")

	var metricsSrv *http.Server
	if promSink != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promSink.Registry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if serr := metricsSrv.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
				logger.WithError(serr).Warn("ledgernode: metrics server stopped")
			}
		}()
		logger.WithField("addr", cfg.Metrics.ListenAddr).Info("ledgernode: metrics listener started")
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	<-sigC
	logger.Info("ledgernode: shutting down")

	if metricsSrv != nil {
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(ctxShutdown)
	}
	return nil
}
