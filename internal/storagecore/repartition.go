package storagecore

import (
	"context"

	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

// Repartition redistributes a deactivated partition's orphaned chunks to
// the index's current active partitions (spec.md §4.2 "Repartition"): for
// each chunk, read its rows, route them via partition_rows against the
// active set, create new chunks on the receiving partitions, then swap the
// old chunks inactive.
func (s *Store) Repartition(ctx context.Context, orphanPartitionID int64) error {
	var orphan model.Partition
	if err := metastore.GetRow(s.Meta, metastore.BucketPartitions, orphanPartitionID, &orphan); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "load orphan partition", err)
	}
	ix, err := s.LoadIndex(orphan.IndexID)
	if err != nil {
		return err
	}
	activeParts, err := s.ActivePartitions(orphan.IndexID)
	if err != nil {
		return err
	}
	if len(activeParts) == 0 {
		return cubeerr.New(cubeerr.KindInternal, "", "repartition: no active partitions to receive orphaned chunks")
	}

	chunks, err := s.ChunksOf(orphanPartitionID)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		f, err := s.chunkFile(ctx, c)
		if err != nil {
			return err
		}
		rows := f.Rows()
		sortRows(rows, ix.SortKey())

		buckets, err := partitionRows(rows, ix.SortKey(), activeParts)
		if err != nil {
			return err
		}
		for partitionID, bucketRows := range buckets {
			if len(bucketRows) == 0 {
				continue
			}
			if err := s.createChunk(ctx, partitionID, ix.Columns, bucketRows, InsertOptions{}); err != nil {
				return err
			}
		}
		c.Active = false
		if err := metastore.PutRow(s.Meta, metastore.BucketChunks, c.ID, c); err != nil {
			return cubeerr.Wrap(cubeerr.KindTransient, "", "deactivate repartitioned chunk", err)
		}
	}

	if s.log != nil {
		s.log.Info("repartitioned orphan", zap.Int64("partition_id", orphanPartitionID), zap.Int("chunks", len(chunks)))
	}
	return nil
}
