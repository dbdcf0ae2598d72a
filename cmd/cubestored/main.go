// Command cubestored is cubestore's server process: it opens the
// metastore, wires the storage core, scheduler and cache eviction manager
// together, and serves the Postgres wire front end until a termination
// signal arrives. Its `serve` and `verify-index` subcommands replace the
// teacher's bare `func main()` (cmd/coordinator/main.go,
// cmd/node/main.go) with a cobra.Command tree, the shape the rest of the
// example pack's CLIs use.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/cache"
	"github.com/cubedb/cubestore/internal/clusterrpc"
	"github.com/cubedb/cubestore/internal/config"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/pgwire"
	"github.com/cubedb/cubestore/internal/scheduler"
	"github.com/cubedb/cubestore/internal/storagecore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var dataDir string

	root := &cobra.Command{
		Use:   "cubestored",
		Short: "cubestore server process",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a cubestore TOML config file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./cubestore-data", "directory for the metastore db and partition files")

	root.AddCommand(newServeCmd(&configPath, &dataDir))
	root.AddCommand(newVerifyIndexCmd(&configPath, &dataDir))
	return root
}

func newServeCmd(configPath, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the cubestore server until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, *dataDir)
		},
	}
}

func newVerifyIndexCmd(configPath, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-index <index-id>",
		Short: "check one index's active partitions for key-range gaps/overlaps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid index id %q: %w", args[0], err)
			}
			return runVerifyIndex(cmd.Context(), *configPath, *dataDir, indexID)
		},
	}
}

// bootstrap holds the long-lived components every subcommand needs,
// so serve and verify-index don't duplicate the open/close dance.
type bootstrap struct {
	log   *zap.Logger
	cfg   config.Config
	meta  *metastore.Store
	store *storagecore.Store
}

func newBootstrap(configPath, dataDir string) (*bootstrap, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	kv, err := metastore.OpenBboltKV(dataDir + "/metastore.db")
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}
	meta := metastore.Open(kv)

	files, err := storagecore.NewDirFileStore(dataDir + "/files")
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}
	store := storagecore.New(meta, files, log)

	return &bootstrap{log: log, cfg: cfg, meta: meta, store: store}, nil
}

func (b *bootstrap) Close() {
	if err := b.meta.Close(); err != nil {
		b.log.Warn("metastore close failed", zap.Error(err))
	}
	_ = b.log.Sync()
}

func runVerifyIndex(ctx context.Context, configPath, dataDir string, indexID int64) error {
	b, err := newBootstrap(configPath, dataDir)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.store.Verify(ctx, indexID); err != nil {
		return fmt.Errorf("index %d failed verification: %w", indexID, err)
	}
	fmt.Printf("index %d: ok\n", indexID)
	return nil
}

func runServe(ctx context.Context, configPath, dataDir string) error {
	b, err := newBootstrap(configPath, dataDir)
	if err != nil {
		return err
	}
	defer b.Close()
	log := b.log

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	workerNames := make([]string, len(b.cfg.Workers))
	workerInfos := make([]clusterrpc.WorkerInfo, len(b.cfg.Workers))
	for i, w := range b.cfg.Workers {
		workerNames[i] = w.Name
		workerInfos[i] = clusterrpc.WorkerInfo{Name: w.Name, Addr: w.Addr}
	}
	registry := clusterrpc.NewRegistry(workerInfos)
	rpcClient := clusterrpc.NewClient(registry, log)
	workers := scheduler.NewWorkerSet(workerNames)

	bus := scheduler.NewBus()
	gcQueue := scheduler.NewGCQueue()
	gcExecutor := scheduler.NewExecutor(b.store, log)
	schedCfg := scheduler.Config{
		NotUsedTimeout:            b.cfg.Scheduler.NotUsedTimeout,
		ImportTimeout:             b.cfg.Scheduler.ImportTimeout,
		SplitThreshold:            b.cfg.Scheduler.SplitThreshold,
		ChunkCountMax:             b.cfg.Scheduler.ChunkCountMax,
		ChunkRowThreshold:         b.cfg.Scheduler.ChunkRowThreshold,
		OrphanJobMaxAge:           b.cfg.Scheduler.OrphanJobMaxAge,
		MetaStoreSnapshotInterval: b.cfg.Scheduler.MetaStoreSnapshotInterval,
	}
	reactor := scheduler.NewReactor(b.store, workers, rpcClient, gcQueue, schedCfg)
	reconciler := scheduler.NewReconciler(b.meta, b.store, reactor, schedCfg, log)
	sched := scheduler.New(bus, reactor, gcQueue, gcExecutor, reconciler,
		b.cfg.Scheduler.GCInterval, b.cfg.Scheduler.ReconcileInterval, log)

	healthMonitor := clusterrpc.NewHealthMonitor(registry, 5*time.Second, log)

	policy, err := cache.ParsePolicy(b.cfg.Cache.Policy)
	if err != nil {
		return fmt.Errorf("cache policy: %w", err)
	}
	cacheCfg := cache.Config{
		MaxKeysSoft:           b.cfg.Cache.MaxKeysSoft,
		MaxKeysHard:           b.cfg.Cache.MaxKeysHard,
		MaxSizeSoft:           b.cfg.Cache.MaxSizeSoft,
		MaxSizeHard:           b.cfg.Cache.MaxSizeHard,
		BelowThresholdPercent: b.cfg.Cache.BelowThresholdPercent,
		EvictionBatchSize:     b.cfg.Cache.EvictionBatchSize,
		PersistBatchSize:      b.cfg.Cache.PersistBatchSize,
		TTLBufferMaxSize:      b.cfg.Cache.TTLBufferMaxSize,
		NotifyChannelCapacity: b.cfg.Cache.NotifyChannelCapacity,
		Policy:                policy,
	}
	cacheMgr := cache.NewManager(b.meta, cacheCfg, log)
	if err := cacheMgr.Load(ctx); err != nil {
		return fmt.Errorf("cache bootstrap load: %w", err)
	}

	listener, err := net.Listen("tcp", b.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", b.cfg.BindAddr, err)
	}
	pgServer := pgwire.NewServer(listener, b.cfg.PGWire, pgwire.LiteralExecutor{}, log)

	log.Info("cubestore server starting",
		zap.String("bind_addr", b.cfg.BindAddr),
		zap.Int("workers", len(b.cfg.Workers)))

	go sched.Run(ctx)
	go healthMonitor.Run(ctx)
	go cacheMgr.RunPersistLoop(ctx, b.cfg.Cache.PersistInterval)
	go cacheMgr.RunEvictionLoop(ctx, b.cfg.Cache.EvictionInterval)

	serveErr := make(chan error, 1)
	go func() { serveErr <- pgServer.Serve(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("cubestore server shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("pgwire server exited", zap.Error(err))
			return err
		}
	}
	return nil
}
