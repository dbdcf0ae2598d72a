package storagecore

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

// CompactionParams carries the configured thresholds compaction selects
// chunks and sizes child partitions against (spec.md §4.2).
type CompactionParams struct {
	// MaxChunks bounds how many of a partition's smallest active chunks a
	// single compaction run merges.
	MaxChunks int
	// ChunkRowThreshold is the cumulative row-count ceiling chunk
	// selection stays under.
	ChunkRowThreshold int64
	// SplitThreshold sizes new_partition_count = ceil((main+chunk)/SplitThreshold)
	// when a partition has no multi-partition parent.
	SplitThreshold int64
}

// selectChunks picks the k smallest active chunks (by row count, already
// ID-ascending from ChunksOf) whose cumulative row count stays under
// ChunkRowThreshold, bounded by MaxChunks (spec.md §4.2 step 1).
func selectChunks(chunks []*model.Chunk, params CompactionParams) []*model.Chunk {
	sorted := append([]*model.Chunk(nil), chunks...)
	sortChunksByRowCount(sorted)

	var selected []*model.Chunk
	var total int64
	for _, c := range sorted {
		if params.MaxChunks > 0 && len(selected) >= params.MaxChunks {
			break
		}
		if len(selected) > 0 && total+c.RowCount > params.ChunkRowThreshold {
			break
		}
		selected = append(selected, c)
		total += c.RowCount
	}
	return selected
}

// Compact merges partitionID's smallest chunks into its main table (spec.md
// §4.2 "Compaction"). If the partition belongs to a multi-partition parent
// the merged result becomes a single new chunk; otherwise the partition's
// main table is rewritten and, if it has grown past SplitThreshold, split
// into several child partitions.
func (s *Store) Compact(ctx context.Context, partitionID int64, params CompactionParams) error {
	var p model.Partition
	if err := metastore.GetRow(s.Meta, metastore.BucketPartitions, partitionID, &p); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "load partition", err)
	}
	ix, err := s.LoadIndex(p.IndexID)
	if err != nil {
		return err
	}
	table, err := s.LoadTable(ix.TableID)
	if err != nil {
		return err
	}

	chunks, err := s.ChunksOf(partitionID)
	if err != nil {
		return err
	}
	selected := selectChunks(chunks, params)
	if len(selected) == 0 {
		return nil
	}

	var chunkRows []model.Row
	for _, c := range selected {
		f, err := s.chunkFile(ctx, c)
		if err != nil {
			return err
		}
		chunkRows = append(chunkRows, f.Rows()...)
	}
	sortRows(chunkRows, ix.SortKey())

	if p.MultiPartitionID != nil {
		return s.compactIntoSingleChunk(ctx, &p, ix, table, selected, chunkRows)
	}
	return s.compactIntoMainTable(ctx, &p, ix, table, selected, chunkRows, params)
}

// compactIntoSingleChunk handles step 2: a partition with a multi-partition
// parent stays un-split; its selected chunks collapse into one new chunk.
func (s *Store) compactIntoSingleChunk(ctx context.Context, p *model.Partition, ix *model.Index, table *model.Table, selected []*model.Chunk, rows []model.Row) error {
	if ix.Type == model.IndexAggregate {
		rows = rollup(rows, ix.SortKey(), rolesFor(table))
	}
	if err := s.createChunk(ctx, p.ID, ix.Columns, rows, InsertOptions{}); err != nil {
		return err
	}
	return s.deactivateChunks(selected)
}

// compactIntoMainTable handles step 3: merge the partition's main table
// with the selected chunks, split into ceil((main+chunk)/SplitThreshold)
// children, and atomically swap the active partition set.
func (s *Store) compactIntoMainTable(ctx context.Context, p *model.Partition, ix *model.Index, table *model.Table, selected []*model.Chunk, chunkRows []model.Row, params CompactionParams) error {
	mainFile, err := s.partitionMainFile(ctx, p)
	if err != nil {
		return err
	}
	merged := mergeSorted(mainFile.Rows(), chunkRows, ix.SortKey())

	if table.HasUniqueKey() {
		merged = lastRowByUniqueKey(merged, table.UniqueKey)
	} else if ix.Type == model.IndexAggregate {
		merged = rollup(merged, ix.SortKey(), rolesFor(table))
	}

	total := int64(len(merged))
	newCount := 1
	if params.SplitThreshold > 0 {
		newCount = int(math.Ceil(float64(total) / float64(params.SplitThreshold)))
		if newCount < 1 {
			newCount = 1
		}
	}
	groups := splitIntoFiles(merged, ix.SortKey(), newCount)

	children := make([]*model.Partition, 0, len(groups))
	for i, g := range groups {
		child := &model.Partition{
			ID:           s.newPartitionID(),
			IndexID:      ix.ID,
			ParentID:     &p.ID,
			MainRowCount: int64(len(g)),
			State:        model.PartitionActive,
		}
		if i == 0 {
			child.MinRow = p.MinRow
		} else {
			child.MinRow = groups[i][0]
		}
		if i == len(groups)-1 {
			child.MaxRow = p.MaxRow
		} else {
			child.MaxRow = groups[i+1][0]
		}
		if err := s.uploadPartitionRows(ctx, child, ix.Columns, g); err != nil {
			return err
		}
		children = append(children, child)
	}

	for _, child := range children {
		if err := metastore.PutRow(s.Meta, metastore.BucketPartitions, child.ID, child); err != nil {
			return cubeerr.Wrap(cubeerr.KindTransient, "", "create child partition", err)
		}
	}
	if err := s.deactivateChunks(selected); err != nil {
		return err
	}
	p.State = model.PartitionDeactivated
	if err := metastore.PutRow(s.Meta, metastore.BucketPartitions, p.ID, p); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "deactivate parent partition", err)
	}
	if s.log != nil {
		s.log.Info("compacted partition", zap.Int64("partition_id", p.ID), zap.Int("children", len(children)), zap.Int64("rows", total))
	}
	return nil
}

func (s *Store) deactivateChunks(chunks []*model.Chunk) error {
	for _, c := range chunks {
		c.Active = false
		if err := metastore.PutRow(s.Meta, metastore.BucketChunks, c.ID, c); err != nil {
			return cubeerr.Wrap(cubeerr.KindTransient, "", "deactivate chunk", err)
		}
	}
	return nil
}

// mergeSorted merges two already sort-key-sorted row slices, preserving
// order, the way a stream-merge exec would (spec.md §4.2 step 3
// "stream-merge ⨝merge").
func mergeSorted(a, b []model.Row, sortKey []string) []model.Row {
	out := make([]model.Row, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if compareSortKeys(a[i].SortKeyValues(sortKey), b[j].SortKeyValues(sortKey)) <= 0 {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// lastRowByUniqueKey collapses rows sharing a unique-key value, keeping the
// last (most recently merged) row for each (spec.md §4.2 step 3).
func lastRowByUniqueKey(rows []model.Row, uniqueKey []string) []model.Row {
	if len(rows) == 0 {
		return rows
	}
	out := make([]model.Row, 0, len(rows))
	groupStart := 0
	for i := 1; i < len(rows); i++ {
		if compareSortKeys(rows[i].SortKeyValues(uniqueKey), rows[groupStart].SortKeyValues(uniqueKey)) != 0 {
			out = append(out, rows[i-1])
			groupStart = i
		}
	}
	out = append(out, rows[len(rows)-1])
	return out
}

// splitIntoFiles routes merged rows into n files of ≈ len(rows)/n each,
// never splitting a run of equal sort keys across a boundary (spec.md
// §4.2 step 3 "the boundary between two files never splits a run of equal
// partition-keys").
func splitIntoFiles(rows []model.Row, sortKey []string, n int) [][]model.Row {
	if n <= 1 || len(rows) == 0 {
		return [][]model.Row{rows}
	}
	target := len(rows) / n
	if target == 0 {
		target = 1
	}
	var groups [][]model.Row
	start := 0
	for len(groups) < n-1 && start < len(rows) {
		end := start + target
		if end >= len(rows) {
			break
		}
		for end < len(rows) && compareSortKeys(rows[end].SortKeyValues(sortKey), rows[end-1].SortKeyValues(sortKey)) == 0 {
			end++
		}
		groups = append(groups, rows[start:end])
		start = end
	}
	groups = append(groups, rows[start:])
	return groups
}

func sortChunksByRowCount(chunks []*model.Chunk) {
	// simple insertion sort is fine: chunk counts per partition are small
	// (bounded by scheduler thresholds well before compaction runs).
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].RowCount < chunks[j-1].RowCount; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}
