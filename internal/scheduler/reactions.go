package scheduler

import (
	"time"

	"github.com/cubedb/cubestore/internal/storagecore"
)

// Config carries the thresholds the five reaction rules and the
// reconciliation sweep are evaluated against (spec.md §4.3).
type Config struct {
	NotUsedTimeout            time.Duration
	ImportTimeout             time.Duration
	SplitThreshold            int64
	ChunkCountMax             int
	ChunkRowThreshold         int64
	OrphanJobMaxAge           time.Duration
	MetaStoreSnapshotInterval time.Duration
}

// gcDeadline computes the deadline for a GC task guarding against a class of
// entity whose removal must not race ahead of the metadata snapshot that
// last observed it still live: at least 2*MetaStoreSnapshotInterval, or
// NotUsedTimeout, whichever is greater (spec.md §4.4).
func (c Config) gcDeadline(now time.Time) time.Time {
	return now.Add(max(2*c.MetaStoreSnapshotInterval, c.NotUsedTimeout))
}

// JobKind names a unit of background work the scheduler can dispatch.
type JobKind string

const (
	JobCompactPartition     JobKind = "compact_partition"
	JobSplitMultiPartition  JobKind = "split_multi_partition"
	JobRepartition          JobKind = "repartition"
	JobFinishMultiSplit     JobKind = "finish_multi_split"
)

// Job is one unit of dispatched work, carrying the worker chosen by a
// stable hash of its target ID (spec.md §4.3 "Dispatch").
type Job struct {
	Kind     JobKind
	TargetID int64
	Worker   string
}

// Dispatcher hands a Job to its assigned worker. The concrete
// implementation (internal/clusterrpc) posts it over the cluster RPC
// transport; tests use a fake that records Jobs.
type Dispatcher interface {
	Dispatch(Job) error
}

// Reactor turns observed metadata Events into dispatched Jobs and GC tasks,
// implementing the five reaction rules of spec.md §4.3.
type Reactor struct {
	store    *storagecore.Store
	workers  *WorkerSet
	dispatch Dispatcher
	gc       *GCQueue
	cfg      Config
}

// NewReactor builds a Reactor over the given storage core, worker pool,
// job dispatcher and GC queue.
func NewReactor(store *storagecore.Store, workers *WorkerSet, dispatch Dispatcher, gc *GCQueue, cfg Config) *Reactor {
	return &Reactor{store: store, workers: workers, dispatch: dispatch, gc: gc, cfg: cfg}
}

// React applies the reaction appropriate to ev's (Kind, Op) pair, a no-op
// for any combination none of the five rules names.
func (r *Reactor) React(ev Event) error {
	switch {
	case ev.Kind == EntityChunk && ev.Op == OpUpdate && ev.Uploaded:
		return r.onChunkUploaded(ev)
	case ev.Kind == EntityChunk && ev.Op == OpUpdate && ev.Deactivated:
		return r.onChunkDeactivated(ev)
	case ev.Kind == EntityMultiPartition && ev.Op == OpUpdate:
		return r.onMultiPartitionUpdate(ev)
	case ev.Kind == EntityPartition && ev.Op == OpUpdate && !ev.Active:
		return r.onPartitionInactive(ev)
	case ev.Kind == EntityJob && ev.Op == OpDelete:
		return r.onJobDeleted(ev)
	}
	return nil
}

// onChunkUploaded: when the owning partition is active, dispatch
// compaction of partition ev.ID if the chunk is in-memory, or if the
// partition has more than ChunkCountMax active chunks or more than
// ChunkRowThreshold rows across them (spec.md §4.3 reaction 1). Nothing is
// dispatched for an inactive partition, and chunk age is not considered.
func (r *Reactor) onChunkUploaded(ev Event) error {
	if !ev.Active {
		return nil
	}
	chunks, err := r.store.ChunksOf(ev.ID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	var total int64
	for _, c := range chunks {
		total += c.RowCount
	}
	if len(chunks) <= r.cfg.ChunkCountMax && total <= r.cfg.ChunkRowThreshold && !ev.InMemory {
		return nil
	}
	return r.dispatchJob(JobCompactPartition, ev.ID)
}

// onChunkDeactivated: enqueue a DeleteChunk GC task with deadline
// max(2*meta_store_snapshot_interval, not_used_timeout) out (spec.md §4.3
// reaction 2, §4.4).
func (r *Reactor) onChunkDeactivated(ev Event) error {
	now := nowFunc()
	r.gc.Enqueue(GCTask{Kind: TaskDeleteChunk, TargetID: ev.ID, Deadline: r.cfg.gcDeadline(now)})
	return nil
}

// onMultiPartitionUpdate: if total_row_count exceeds split_threshold and
// the multi-partition is active, enqueue a split job on a worker chosen by
// stable hash of the id (spec.md §4.3 reaction 3).
func (r *Reactor) onMultiPartitionUpdate(ev Event) error {
	if !ev.Active || ev.RowCount <= r.cfg.SplitThreshold {
		return nil
	}
	return r.dispatchJob(JobSplitMultiPartition, ev.ID)
}

// onPartitionInactive: enqueue a RemoveRemoteFile GC task if the partition
// has a main file; if it still has chunks, request a repartition
// (spec.md §4.3 reaction 4).
func (r *Reactor) onPartitionInactive(ev Event) error {
	if ev.RowCount > 0 {
		r.gc.Enqueue(GCTask{Kind: TaskRemoveRemoteFile, TargetID: ev.ID, Deadline: r.cfg.gcDeadline(nowFunc())})
	}
	chunks, err := r.store.ChunksOf(ev.ID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return r.dispatchJob(JobRepartition, ev.ID)
}

// onJobDeleted: if the deleted job was a multi-partition split, its target
// ID names the parent multi-partition; dispatch one FinishMultiSplit job
// for that parent ID (spec.md §4.3 reaction 5). The split's child
// multi-partitions are not inspected here.
func (r *Reactor) onJobDeleted(ev Event) error {
	if !ev.SplitJob {
		return nil
	}
	return r.dispatchJob(JobFinishMultiSplit, ev.ID)
}

func (r *Reactor) dispatchJob(kind JobKind, targetID int64) error {
	worker, err := r.workers.PickWorkerByIDs(targetID)
	if err != nil {
		return err
	}
	return r.dispatch.Dispatch(Job{Kind: kind, TargetID: targetID, Worker: worker})
}
