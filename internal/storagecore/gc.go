package storagecore

import (
	"context"

	"github.com/cubedb/cubestore/internal/colfile"
	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

// DeleteChunkIfStillDeactivated implements the DeleteChunk GC task's pop
// re-check (spec.md §4.4 and §8 property 7 "GC grace"): if the chunk no
// longer exists or has been re-activated since the task was enqueued, this
// is a no-op; otherwise its row and (if uploaded) backing file are removed.
func (s *Store) DeleteChunkIfStillDeactivated(chunkID int64) error {
	var c model.Chunk
	if err := metastore.GetRow(s.Meta, metastore.BucketChunks, chunkID, &c); err != nil {
		if err == metastore.ErrKeyNotFound {
			return nil
		}
		return cubeerr.Wrap(cubeerr.KindTransient, "", "load chunk for gc", err)
	}
	if c.Active {
		return nil // re-activated since the task was enqueued; skip and do not re-queue
	}
	ctx := context.Background()
	if c.Uploaded {
		if err := s.Files.Delete(ctx, colfile.FileName("chunk", c.ID, "")); err != nil {
			return cubeerr.Wrap(cubeerr.KindTransient, "", "remove chunk file", err)
		}
	}
	s.memMu.Lock()
	delete(s.memory, c.ID)
	s.memMu.Unlock()
	return metastore.DeleteRow(s.Meta, metastore.BucketChunks, chunkID)
}

// DeletePartitionFileIfDeactivated implements the RemoveRemoteFile /
// DeletePartition / DeleteMiddleManPartition GC tasks' pop re-check: skip
// if the partition has been reactivated or already deleted, otherwise
// remove its main file and transition it to deleted.
func (s *Store) DeletePartitionFileIfDeactivated(partitionID int64) error {
	var p model.Partition
	if err := metastore.GetRow(s.Meta, metastore.BucketPartitions, partitionID, &p); err != nil {
		if err == metastore.ErrKeyNotFound {
			return nil
		}
		return cubeerr.Wrap(cubeerr.KindTransient, "", "load partition for gc", err)
	}
	if p.State != model.PartitionDeactivated {
		return nil // reactivated or already collected; skip
	}
	ctx := context.Background()
	if p.MainRowCount > 0 {
		if err := s.Files.Delete(ctx, colfile.FileName("partition", p.ID, "")); err != nil {
			return cubeerr.Wrap(cubeerr.KindTransient, "", "remove partition file", err)
		}
	}
	return s.TransitionPartition(partitionID, model.PartitionDeleted)
}
