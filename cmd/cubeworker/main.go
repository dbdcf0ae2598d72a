// Command cubeworker is the ClusterSend execution target: it hosts one
// cubestore worker's partition store, accepts scheduler jobs dispatched by
// the coordinator's clusterrpc.Client over HTTP, and serves ClusterSend
// sub-plan reads (a snapshot of partition IDs) as colfile-encoded row
// batches. Grounded on the teacher's cmd/node/main.go role split
// (coordinator dispatches, node executes), rebuilt around storagecore's
// partition operations instead of the teacher's shard replicas.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/colfile"
	"github.com/cubedb/cubestore/internal/config"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
	"github.com/cubedb/cubestore/internal/scheduler"
	"github.com/cubedb/cubestore/internal/storagecore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, dataDir, listenAddr string

	root := &cobra.Command{
		Use:   "cubeworker",
		Short: "cubestore worker: executes dispatched jobs and ClusterSend reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), configPath, dataDir, listenAddr)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a cubestore TOML config file")
	root.Flags().StringVar(&dataDir, "data-dir", "./cubeworker-data", "directory for this worker's metastore db and partition files")
	root.Flags().StringVar(&listenAddr, "listen", ":9010", "address this worker's RPC/ClusterSend HTTP server binds")
	return root
}

// executeRequest is a ClusterSend sub-plan sent to this worker: read the
// named partitions of one index and return their rows as a colfile batch.
// The full vendor-SQL sub-plan lowering spec.md's ClusterSend describes is
// internal/rewriter's concern; this is the execution-side row fetch a
// pushed-down plan ultimately bottoms out in.
type executeRequest struct {
	IndexID      int64   `json:"index_id"`
	PartitionIDs []int64 `json:"partition_ids"`
}

type worker struct {
	store  *storagecore.Store
	meta   *metastore.Store
	sched  scheduler.Config
	log    *zap.Logger
}

func runWorker(ctx context.Context, configPath, dataDir, listenAddr string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	kv, err := metastore.OpenBboltKV(dataDir + "/metastore.db")
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	meta := metastore.Open(kv)
	defer meta.Close()

	files, err := storagecore.NewDirFileStore(dataDir + "/files")
	if err != nil {
		return fmt.Errorf("open file store: %w", err)
	}
	store := storagecore.New(meta, files, log)

	w := &worker{
		store: store,
		meta:  meta,
		sched: scheduler.Config{
			NotUsedTimeout:            cfg.Scheduler.NotUsedTimeout,
			ImportTimeout:             cfg.Scheduler.ImportTimeout,
			SplitThreshold:            cfg.Scheduler.SplitThreshold,
			ChunkCountMax:             cfg.Scheduler.ChunkCountMax,
			ChunkRowThreshold:         cfg.Scheduler.ChunkRowThreshold,
			OrphanJobMaxAge:           cfg.Scheduler.OrphanJobMaxAge,
			MetaStoreSnapshotInterval: cfg.Scheduler.MetaStoreSnapshotInterval,
		},
		log: log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", w.handleHealth)
	mux.HandleFunc("/jobs", w.handleJob)
	mux.HandleFunc("/execute", w.handleExecute)
	mux.HandleFunc("/broadcast/", w.handleBroadcast)

	server := &http.Server{Addr: listenAddr, Handler: mux}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	log.Info("cubeworker listening", zap.String("addr", listenAddr))

	select {
	case <-ctx.Done():
		log.Info("cubeworker shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (w *worker) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	fmt.Fprint(rw, "{}")
}

func (w *worker) handleJob(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind     string `json:"kind"`
		TargetID int64  `json:"target_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJobResponse(rw, false, err.Error())
		return
	}

	if err := w.runJob(r.Context(), scheduler.JobKind(req.Kind), req.TargetID); err != nil {
		w.log.Warn("job execution failed", zap.String("kind", req.Kind), zap.Int64("target_id", req.TargetID), zap.Error(err))
		writeJobResponse(rw, false, err.Error())
		return
	}
	writeJobResponse(rw, true, "")
}

func writeJobResponse(rw http.ResponseWriter, accepted bool, errMsg string) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		Accepted bool   `json:"accepted"`
		Error    string `json:"error,omitempty"`
	}{Accepted: accepted, Error: errMsg})
}

// runJob executes one dispatched job against this worker's local store. The
// scheduler only hands over {kind, target id}; everything else (thresholds,
// member partitions, current rows) is read back from the metastore here,
// the same way Compact/Repartition/SplitMultiPartition expect it.
func (w *worker) runJob(ctx context.Context, kind scheduler.JobKind, targetID int64) error {
	switch kind {
	case scheduler.JobCompactPartition:
		return w.store.Compact(ctx, targetID, storagecore.CompactionParams{
			MaxChunks:         w.sched.ChunkCountMax,
			ChunkRowThreshold: w.sched.ChunkRowThreshold,
			SplitThreshold:    w.sched.SplitThreshold,
		})
	case scheduler.JobRepartition:
		return w.store.Repartition(ctx, targetID)
	case scheduler.JobSplitMultiPartition, scheduler.JobFinishMultiSplit:
		return w.runSplit(ctx, targetID)
	default:
		return fmt.Errorf("cubeworker: unknown job kind %q", kind)
	}
}

func (w *worker) runSplit(ctx context.Context, multiPartitionID int64) error {
	members, err := w.store.PartitionsByMultiPartition(multiPartitionID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return fmt.Errorf("cubeworker: multi-partition %d has no members", multiPartitionID)
	}

	ix, err := w.store.LoadIndex(members[0].IndexID)
	if err != nil {
		return err
	}

	rowsByMember := make(map[int64][]model.Row, len(members))
	for _, p := range members {
		rows, err := w.store.PartitionRows(ctx, p.ID)
		if err != nil {
			return err
		}
		rowsByMember[p.ID] = rows
	}

	return w.store.SplitMultiPartition(ctx, multiPartitionID, ix.SortKey(), members, rowsByMember, w.sched.SplitThreshold)
}

// handleExecute serves a ClusterSend sub-plan: read the named partitions'
// current rows and return them as one encoded colfile batch. Filter,
// projection and aggregate pushdown happen upstream in the rewriter's
// wrapped-select lowering (internal/rewriter); by the time a sub-plan
// reaches here it is just "which partitions, which columns."
func (w *worker) handleExecute(rw http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	ix, err := w.store.LoadIndex(req.IndexID)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusNotFound)
		return
	}

	var all []model.Row
	for _, pid := range req.PartitionIDs {
		rows, err := w.store.PartitionRows(r.Context(), pid)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		all = append(all, rows...)
	}

	f := colfile.NewFile(ix.Columns, all)
	data, err := f.Encode()
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.Write(data)
}

// handleBroadcast accepts cluster-membership and config-reload pushes from
// the coordinator (clusterrpc.Client.Broadcast). cubeworker doesn't hold
// any of its own cluster membership state today, so every path is
// acknowledged and logged rather than acted on.
func (w *worker) handleBroadcast(rw http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && r.ContentLength != 0 {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	w.log.Info("broadcast received", zap.String("path", r.URL.Path))
	rw.WriteHeader(http.StatusOK)
}
