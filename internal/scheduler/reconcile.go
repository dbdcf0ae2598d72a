package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
	"github.com/cubedb/cubestore/internal/storagecore"
)

// Reconciler runs the periodic sweep (spec.md §4.3 "Reconciliation loop"):
// a correctness safety net that re-discovers work the event-driven
// reactions may have missed (dropped broadcast events, a reaction that ran
// before its prerequisite committed, a crashed worker's abandoned job).
type Reconciler struct {
	meta    *metastore.Store
	store   *storagecore.Store
	reactor *Reactor
	cfg     Config
	log     *zap.Logger
}

// NewReconciler builds a Reconciler over the given metadata store,
// storage core, reactor and thresholds.
func NewReconciler(meta *metastore.Store, store *storagecore.Store, reactor *Reactor, cfg Config, log *zap.Logger) *Reconciler {
	return &Reconciler{meta: meta, store: store, reactor: reactor, cfg: cfg, log: log}
}

// Run executes one reconciliation pass: remove orphaned jobs older than
// OrphanJobMaxAge, re-run the partition-deactivated reaction for every
// deactivated partition, and delete stale intermediate partitions
// (spec.md §4.3).
func (r *Reconciler) Run(ctx context.Context) error {
	now := nowFunc()

	if err := r.sweepOrphanJobs(now); err != nil {
		return err
	}
	if err := r.sweepInactivePartitions(); err != nil {
		return err
	}
	if err := r.sweepStalePartitions(now); err != nil {
		return err
	}
	return nil
}

// sweepOrphanJobs removes Job rows older than OrphanJobMaxAge: a job whose
// worker crashed before reporting completion would otherwise linger
// forever (spec.md §4.3 "removes orphaned jobs (age > threshold)").
func (r *Reconciler) sweepOrphanJobs(now time.Time) error {
	var stale []int64
	err := metastore.ListRows(r.meta, metastore.BucketJobs, func(data []byte) error {
		var j model.Job
		if err := json.Unmarshal(data, &j); err != nil {
			return err
		}
		if now.Sub(j.CreatedAt) > r.cfg.OrphanJobMaxAge {
			stale = append(stale, j.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range stale {
		if err := metastore.DeleteRow(r.meta, metastore.BucketJobs, id); err != nil {
			return err
		}
		if r.log != nil {
			r.log.Info("reconcile: dropped orphaned job", zap.Int64("job_id", id))
		}
	}
	return nil
}

// sweepInactivePartitions runs the Partition-deactivated reaction directly
// for every deactivated partition (the reaction itself checks for a main
// file and for remaining chunks), in case the original reaction's event
// was dropped by the bounded broadcast bus
// (spec.md §4.3 "re-enqueues inactive chunks/partitions not yet picked
// up").
func (r *Reconciler) sweepInactivePartitions() error {
	var deactivated []*model.Partition
	err := metastore.ListRows(r.meta, metastore.BucketPartitions, func(data []byte) error {
		var p model.Partition
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.State == model.PartitionDeactivated {
			cp := p
			deactivated = append(deactivated, &cp)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range deactivated {
		if err := r.reactor.React(Event{
			Kind:     EntityPartition,
			Op:       OpUpdate,
			ID:       p.ID,
			Active:   false,
			RowCount: p.MainRowCount,
		}); err != nil {
			return err
		}
	}
	return nil
}

// sweepStalePartitions deletes partitions stuck in PartitionCreating past
// ImportTimeout — "created but never written" (spec.md §4.3) — and
// deactivated partitions with no chunks and no main rows, which are
// middle-man split intermediates left behind after a further split.
func (r *Reconciler) sweepStalePartitions(now time.Time) error {
	var toDelete []int64
	err := metastore.ListRows(r.meta, metastore.BucketPartitions, func(data []byte) error {
		var p model.Partition
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.State == model.PartitionCreating && now.Sub(p.CreatedAt) > r.cfg.ImportTimeout {
			toDelete = append(toDelete, p.ID)
			return nil
		}
		if p.State == model.PartitionDeactivated && p.MainRowCount == 0 {
			chunks, err := r.store.ChunksOf(p.ID)
			if err != nil {
				return err
			}
			if len(chunks) == 0 {
				toDelete = append(toDelete, p.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range toDelete {
		if err := metastore.DeleteRow(r.meta, metastore.BucketPartitions, id); err != nil {
			return err
		}
	}
	return nil
}
