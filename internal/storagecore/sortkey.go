package storagecore

import (
	"fmt"
	"sort"
	"time"

	"github.com/cubedb/cubestore/internal/model"
)

// compareValue orders two column values of the same logical type. nil
// sorts before any concrete value (used for open partition bounds, which
// are represented as a nil Row rather than a nil value within a row).
func compareValue(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch av := a.(type) {
	case float64:
		bv, _ := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv, _ := b.(bool)
		if av == bv {
			return 0
		}
		if !av && bv {
			return -1
		}
		return 1
	case time.Time:
		bv, _ := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	default:
		// Fall back to string comparison so mixed/absent-typed test
		// fixtures still order deterministically instead of panicking.
		as, bs := fmt.Sprint(a), fmt.Sprint(b)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
}

// compareSortKeys lexicographically compares two sort-key value slices.
func compareSortKeys(a, b []any) int {
	for i := range a {
		if c := compareValue(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// sortRows sorts rows ascending by the given sort-key column list
// (invariant §3.2: row-group ordering is lex-ascending on the sort-key
// prefix).
func sortRows(rows []model.Row, sortKey []string) {
	sort.SliceStable(rows, func(i, j int) bool {
		return compareSortKeys(rows[i].SortKeyValues(sortKey), rows[j].SortKeyValues(sortKey)) < 0
	})
}

// rowInRange reports whether row's sort key falls within [min, max), where
// a nil min/max means that side of the range is open (unbounded).
func rowInRange(row model.Row, sortKey []string, min, max model.Row) bool {
	v := row.SortKeyValues(sortKey)
	if min != nil && compareSortKeys(v, min.SortKeyValues(sortKey)) < 0 {
		return false
	}
	if max != nil && compareSortKeys(v, max.SortKeyValues(sortKey)) >= 0 {
		return false
	}
	return true
}

// sortPartitionsByMin orders partitions ascending by min key under
// sortKey, open (nil) min sorting first — the leftmost partition in the
// contiguous cover (invariant §3.1).
func sortPartitionsByMin(parts []*model.Partition, sortKey []string) {
	sort.SliceStable(parts, func(i, j int) bool {
		a, b := parts[i], parts[j]
		if a.MinRow == nil {
			return b.MinRow != nil
		}
		if b.MinRow == nil {
			return false
		}
		return compareSortKeys(a.MinRow.SortKeyValues(sortKey), b.MinRow.SortKeyValues(sortKey)) < 0
	})
}

func sortChunksByID(chunks []*model.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
}
