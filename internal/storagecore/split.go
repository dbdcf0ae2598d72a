package storagecore

import (
	"context"

	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

// SplitMultiPartition implements spec.md §4.2 "Multi-partition split":
// sweep the member partitions' rows to find boundary keys whose interval
// row counts stay under splitThreshold, then fan each member partition's
// rows out into one child multi-partition per interval.
//
// rowsByMember supplies each member partition's already-sorted full row set
// (the merge-sort read over member files described by the spec is the
// caller's responsibility — storagecore only owns the boundary sweep and
// the resulting metadata commit).
func (s *Store) SplitMultiPartition(ctx context.Context, multiPartitionID int64, sortKey []string, members []*model.Partition, rowsByMember map[int64][]model.Row, splitThreshold int64) error {
	var mp model.MultiPartition
	if err := metastore.GetRow(s.Meta, metastore.BucketMultiPartitions, multiPartitionID, &mp); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "load multi-partition", err)
	}

	boundaries := sweepBoundaries(members, rowsByMember, sortKey, splitThreshold)
	// boundaries always has at least one interval, even with zero explicit
	// boundary keys (the whole key space as one interval).

	newMPs := make([]*model.MultiPartition, len(boundaries)+1)
	for i := range newMPs {
		child := &model.MultiPartition{
			ID:       s.newPartitionID(),
			ParentID: &multiPartitionID,
			Active:   true,
		}
		newMPs[i] = child
	}

	for _, member := range members {
		rows := rowsByMember[member.ID]
		groupsByInterval := routeByBoundaries(rows, sortKey, boundaries)
		for i, child := range newMPs {
			g := groupsByInterval[i]
			if len(g) == 0 && i != 0 && i != len(newMPs)-1 {
				continue
			}
			childPartition := &model.Partition{
				ID:               s.newPartitionID(),
				IndexID:          member.IndexID,
				ParentID:         &member.ID,
				MainRowCount:     int64(len(g)),
				State:            model.PartitionActive,
				MultiPartitionID: &child.ID,
			}
			if i == 0 {
				childPartition.MinRow = member.MinRow
			} else {
				childPartition.MinRow = boundaryRow(sortKey, boundaries[i-1])
			}
			if i == len(newMPs)-1 {
				childPartition.MaxRow = member.MaxRow
			} else {
				childPartition.MaxRow = boundaryRow(sortKey, boundaries[i])
			}
			childIx, err := s.LoadIndex(childPartition.IndexID)
			if err != nil {
				return err
			}
			if err := s.uploadPartitionRows(ctx, childPartition, childIx.Columns, g); err != nil {
				return err
			}
			child.TotalRowCount += int64(len(g))
			if err := metastore.PutRow(s.Meta, metastore.BucketPartitions, childPartition.ID, childPartition); err != nil {
				return cubeerr.Wrap(cubeerr.KindTransient, "", "create split child partition", err)
			}
		}
		member.State = model.PartitionDeactivated
		if err := metastore.PutRow(s.Meta, metastore.BucketPartitions, member.ID, member); err != nil {
			return cubeerr.Wrap(cubeerr.KindTransient, "", "deactivate split member", err)
		}
	}

	for _, child := range newMPs {
		if err := metastore.PutRow(s.Meta, metastore.BucketMultiPartitions, child.ID, child); err != nil {
			return cubeerr.Wrap(cubeerr.KindTransient, "", "create child multi-partition", err)
		}
	}
	mp.Active = false
	mp.PreparedForSplit = true
	mp.CompactionVersion++
	if err := metastore.PutRow(s.Meta, metastore.BucketMultiPartitions, mp.ID, &mp); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "mark multi-partition split", err)
	}
	if s.log != nil {
		s.log.Info("split multi-partition", zap.Int64("multi_partition_id", multiPartitionID), zap.Int("children", len(newMPs)))
	}
	return nil
}

// boundaryKey is one swept boundary: the key value tuple of the first row of
// the group that triggered the cut, plus the cumulative row count of the
// interval that precedes it. The boundary key itself belongs to the next
// interval, not the one it closes off — the writer switches files before
// emitting the boundary row (spec.md §4.2 step 4).
type boundaryKey struct {
	key   []any
	count int64
}

// sweepBoundaries accumulates row counts per distinct key across every
// member's rows in sort-key order, emitting a boundary whenever the running
// sum would exceed splitThreshold (spec.md §4.2 step 2). Each boundary is the
// sort key of the row that overflowed the threshold, so routeByBoundaries can
// route it (and everything equal to it) into the next interval.
func sweepBoundaries(members []*model.Partition, rowsByMember map[int64][]model.Row, sortKey []string, splitThreshold int64) []boundaryKey {
	all := make([]model.Row, 0)
	for _, m := range members {
		all = append(all, rowsByMember[m.ID]...)
	}
	sortRows(all, sortKey)

	var boundaries []boundaryKey
	var running int64
	i := 0
	for i < len(all) {
		j := i + 1
		for j < len(all) && compareSortKeys(all[j].SortKeyValues(sortKey), all[i].SortKeyValues(sortKey)) == 0 {
			j++
		}
		groupCount := int64(j - i)
		if running > 0 && running+groupCount > splitThreshold {
			boundaries = append(boundaries, boundaryKey{key: all[i].SortKeyValues(sortKey), count: running})
			running = 0
		}
		running += groupCount
		i = j
	}
	// The final, open-ended interval is implicit; routeByBoundaries treats
	// len(boundaries) as one interval past the last explicit boundary.
	return boundaries
}

// routeByBoundaries splits rows into len(boundaries)+1 groups by which
// boundary interval each row's sort key falls in. A row equal to a boundary
// key routes into the later group, matching rowInRange's half-open [min,
// max) convention where MaxRow is exclusive.
func routeByBoundaries(rows []model.Row, sortKey []string, boundaries []boundaryKey) [][]model.Row {
	groups := make([][]model.Row, len(boundaries)+1)
	for _, row := range rows {
		v := row.SortKeyValues(sortKey)
		idx := len(boundaries)
		for i, b := range boundaries {
			if compareSortKeys(v, b.key) < 0 {
				idx = i
				break
			}
		}
		groups[idx] = append(groups[idx], row)
	}
	return groups
}

func boundaryRow(sortKey []string, b boundaryKey) model.Row {
	r := make(model.Row, len(sortKey))
	for i, col := range sortKey {
		r[col] = b.key[i]
	}
	return r
}
