package storagecore

import (
	"context"
	"fmt"

	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/model"
)

// Verify checks invariant §3.1 (key-range cover) for one index: its active
// partitions, sorted by min, must start open, end open, and have each
// partition's max equal the next partition's min. This is not exercised on
// any hot path — it is a diagnostic cmd/cubestorectl, cmd/cubestored and
// tests call to
// catch a regression early, before it surfaces as a fatal "row matches no
// active partition" during insert.
func (s *Store) Verify(ctx context.Context, indexID int64) error {
	ix, err := s.LoadIndex(indexID)
	if err != nil {
		return err
	}
	parts, err := s.ActivePartitions(indexID)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return nil
	}
	if !parts[0].IsOpenMin() {
		return cubeerr.New(cubeerr.KindInternal, "", fmt.Sprintf("index %d: leftmost active partition %d has a bounded min", indexID, parts[0].ID))
	}
	if !parts[len(parts)-1].IsOpenMax() {
		return cubeerr.New(cubeerr.KindInternal, "", fmt.Sprintf("index %d: rightmost active partition %d has a bounded max", indexID, parts[len(parts)-1].ID))
	}
	for i := 0; i < len(parts)-1; i++ {
		if !rowsEqual(parts[i].MaxRow, parts[i+1].MinRow, ix.SortKey()) {
			return cubeerr.New(cubeerr.KindInternal, "", fmt.Sprintf("index %d: gap or overlap between partitions %d and %d", indexID, parts[i].ID, parts[i+1].ID))
		}
	}
	return nil
}

func rowsEqual(a, b model.Row, sortKey []string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return compareSortKeys(a.SortKeyValues(sortKey), b.SortKeyValues(sortKey)) == 0
}
