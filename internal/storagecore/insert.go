package storagecore

import (
	"context"
	"fmt"

	"github.com/cubedb/cubestore/internal/colfile"
	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

// InsertOptions controls how freshly partitioned rows are turned into
// chunks.
type InsertOptions struct {
	// InMemory, when true, keeps new chunks as in-memory RecordBatches on
	// this process rather than uploading a temporary file (spec.md §4.2:
	// "either (a) in-memory ... or (b) a temporary columnar file").
	InMemory bool
	// Owner identifies the worker holding an in-memory chunk's rows.
	Owner string
}

// Insert is the write path (spec.md §4.2): remap the batch into each of the
// table's indexes' column order, sort on the full sort-key prefix,
// partition against the index's active partitions, aggregate-roll-up if
// the index is an aggregate type, and land each resulting slice as a new
// Chunk.
func (s *Store) Insert(ctx context.Context, tableID int64, rows []model.Row, opts InsertOptions) error {
	table, err := s.LoadTable(tableID)
	if err != nil {
		return err
	}
	roles := rolesFor(table)

	for _, indexID := range table.IndexIDs {
		ix, err := s.LoadIndex(indexID)
		if err != nil {
			return err
		}
		remapped := remapRows(rows, ix.Columns)
		sortRows(remapped, ix.SortKey())

		parts, err := s.ActivePartitions(indexID)
		if err != nil {
			return err
		}
		if len(parts) == 0 {
			p, err := s.createInitialPartition(indexID)
			if err != nil {
				return err
			}
			parts = []*model.Partition{p}
		}

		buckets, err := partitionRows(remapped, ix.SortKey(), parts)
		if err != nil {
			return err
		}
		for partitionID, bucketRows := range buckets {
			if len(bucketRows) == 0 {
				continue
			}
			if ix.Type == model.IndexAggregate {
				bucketRows = rollup(bucketRows, ix.SortKey(), roles)
			}
			if err := s.createChunk(ctx, partitionID, ix.Columns, bucketRows, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

// rolesFor builds the column-name -> AggregateRole map a table's columns
// declare, used by both insert roll-up and compaction.
func rolesFor(table *model.Table) map[string]model.AggregateRole {
	roles := make(map[string]model.AggregateRole, len(table.Columns))
	for _, c := range table.Columns {
		roles[c.Name] = c.Role
	}
	return roles
}

// remapRows projects each row onto columns, the column order of one of the
// table's indexes, dropping any column the index does not carry.
func remapRows(rows []model.Row, columns []string) []model.Row {
	out := make([]model.Row, len(rows))
	for i, r := range rows {
		remapped := make(model.Row, len(columns))
		for _, c := range columns {
			remapped[c] = r[c]
		}
		out[i] = remapped
	}
	return out
}

// partitionRows buckets sorted rows by which active partition's [min, max)
// range their sort key falls into. A row matching no partition is a broken
// invariant §3.1 and is fatal (spec.md §4.2 "Failure semantics").
func partitionRows(rows []model.Row, sortKey []string, parts []*model.Partition) (map[int64][]model.Row, error) {
	buckets := make(map[int64][]model.Row, len(parts))
	for _, row := range rows {
		p := findPartition(row, sortKey, parts)
		if p == nil {
			return nil, cubeerr.New(cubeerr.KindInternal, "", fmt.Sprintf("row %v matches no active partition; key-range cover invariant broken", row))
		}
		buckets[p.ID] = append(buckets[p.ID], row)
	}
	return buckets, nil
}

func findPartition(row model.Row, sortKey []string, parts []*model.Partition) *model.Partition {
	for _, p := range parts {
		if rowInRange(row, sortKey, p.MinRow, p.MaxRow) {
			return p
		}
	}
	return nil
}

// createInitialPartition creates the single (-inf, +inf) active partition
// an index with no active partitions yet needs before it can accept rows.
func (s *Store) createInitialPartition(indexID int64) (*model.Partition, error) {
	p := &model.Partition{
		ID:      s.newPartitionID(),
		IndexID: indexID,
		State:   model.PartitionActive,
	}
	if err := metastore.PutRow(s.Meta, metastore.BucketPartitions, p.ID, p); err != nil {
		return nil, cubeerr.Wrap(cubeerr.KindTransient, "", "create initial partition", err)
	}
	return p, nil
}

// createChunk lands rows as a new chunk, metadata-first: the Chunk row is
// created, the data is uploaded (unless in-memory), then Uploaded is set
// (spec.md §4.2 "Chunk creation is metadata-first").
func (s *Store) createChunk(ctx context.Context, partitionID int64, columns []string, rows []model.Row, opts InsertOptions) error {
	c := &model.Chunk{
		ID:          newChunkID(),
		PartitionID: partitionID,
		RowCount:    int64(len(rows)),
		Active:      true,
		InMemory:    opts.InMemory,
		Uploaded:    false,
	}
	if err := metastore.PutRow(s.Meta, metastore.BucketChunks, c.ID, c); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "create chunk row", err)
	}

	if opts.InMemory {
		s.memMu.Lock()
		s.memory[c.ID] = &InMemoryChunk{Rows: rows, Owner: opts.Owner}
		s.memMu.Unlock()
		return nil
	}

	f := colfile.NewFile(columns, rows)
	data, err := f.Encode()
	if err != nil {
		return cubeerr.Wrap(cubeerr.KindInternal, "", "encode chunk file", err)
	}
	if err := s.Files.Put(ctx, colfile.FileName("chunk", c.ID, ""), data); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "upload chunk file", err)
	}
	c.Uploaded = true
	if err := metastore.PutRow(s.Meta, metastore.BucketChunks, c.ID, c); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "mark chunk uploaded", err)
	}
	return nil
}
