// Package model defines the core entities of the cubestore data model:
// schemas, tables, indexes, partitions, chunks, multi-partitions and cache
// items, plus the small value types (rows, aggregate roles, column types)
// shared by the rewriter, storage core, scheduler and cache packages.
//
// Types here are plain value structs with no behavior beyond simple
// accessors; the packages that own each entity's lifecycle (storagecore,
// cache) hold the mutexes and state machines around them.
package model

import "time"

// ColumnType is the logical type of a table column.
type ColumnType int

const (
	ColumnUnknown ColumnType = iota
	ColumnInt
	ColumnFloat
	ColumnString
	ColumnBool
	ColumnTimestamp
	ColumnBytes
)

func (t ColumnType) String() string {
	switch t {
	case ColumnInt:
		return "int"
	case ColumnFloat:
		return "float"
	case ColumnString:
		return "string"
	case ColumnBool:
		return "bool"
	case ColumnTimestamp:
		return "timestamp"
	case ColumnBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// AggregateRole names the roll-up function applied to a non-key column of
// an aggregate-type index when rows with an equal sort-key prefix collapse.
type AggregateRole int

const (
	AggregateNone AggregateRole = iota
	AggregateSum
	AggregateMin
	AggregateMax
	AggregateCount
	AggregateCountDistinctHLL
	AggregateMerge
)

// Column describes one column of a Table.
type Column struct {
	Name    string
	Type    ColumnType
	Indexed bool
	// Role is AggregateNone for a plain dimension column, or one of the
	// roll-up roles if this column participates in an aggregate index.
	Role AggregateRole
}

// IndexType distinguishes a plain sorted index from one whose writes
// collapse equal sort-key-prefix rows via the table's aggregate roles.
type IndexType int

const (
	IndexRegular IndexType = iota
	IndexAggregate
)

// Table is a logical table: its columns, optional unique-key declaration,
// and the indexes derived from it.
type Table struct {
	ID         int64
	Schema     string
	Name       string
	Columns    []Column
	UniqueKey  []string // column names; empty if the table has none
	Locations  []string // inline or external file locations
	Sealed     bool
	IndexIDs   []int64
}

// ColumnNames returns the table's column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasUniqueKey reports whether the table declares a unique-key column set,
// which selects LastRowByUniqueKey semantics during compaction instead of
// aggregate roll-up.
func (t *Table) HasUniqueKey() bool {
	return len(t.UniqueKey) > 0
}

// Index is an ordered projection of a table's columns used for sorting and
// partitioning. SortKeyLen is K, the prefix length used for ordering and
// for partition key-range tests (invariant §3.1).
type Index struct {
	ID         int64
	TableID    int64
	Name       string
	Columns    []string // full column order for this index
	SortKeyLen int      // K: leading columns used as the sort-key prefix
	Type       IndexType
}

// SortKey returns the leading K column names used for ordering.
func (ix *Index) SortKey() []string {
	if ix.SortKeyLen > len(ix.Columns) {
		return ix.Columns
	}
	return ix.Columns[:ix.SortKeyLen]
}

// PartitionState is the lifecycle state of a Partition (spec.md §4.2).
type PartitionState string

const (
	PartitionCreating    PartitionState = "creating"
	PartitionActive      PartitionState = "active"
	PartitionDeactivated PartitionState = "deactivated"
	PartitionDeleted     PartitionState = "deleted"
)

// Row is a single record addressed by an index's column order. Values are
// keyed by column name so the same Row can be remapped across indexes that
// reorder or subset a table's columns.
type Row map[string]any

// SortKeyValues extracts the values of the given sort-key columns from the
// row, in order, for lexicographic comparison.
func (r Row) SortKeyValues(sortKey []string) []any {
	vals := make([]any, len(sortKey))
	for i, col := range sortKey {
		vals[i] = r[col]
	}
	return vals
}

// Partition is an immutable-once-active file covering a contiguous key
// range of one index (spec.md §3 invariant 1).
type Partition struct {
	ID               int64
	IndexID          int64
	ParentID         *int64
	MinRow           Row // nil means "open" (leftmost partition)
	MaxRow           Row // nil means "open" (rightmost partition)
	MainRowCount     int64
	FileSize         int64
	State            PartitionState
	WarmedUp         bool
	MultiPartitionID *int64
	CreatedAt        time.Time
}

// IsOpenMin reports whether the partition's minimum key is unbounded.
func (p *Partition) IsOpenMin() bool { return p.MinRow == nil }

// IsOpenMax reports whether the partition's maximum key is unbounded.
func (p *Partition) IsOpenMax() bool { return p.MaxRow == nil }

// Chunk is a small, recent file or in-memory batch of rows not yet merged
// into a partition's main file.
type Chunk struct {
	ID          int64
	PartitionID int64
	RowCount    int64
	Active      bool
	InMemory    bool
	Uploaded    bool
	CreatedAt   time.Time
}

// MultiPartition groups co-sorted partitions spanning the same key range
// across shards; it is the unit of a multi-way split.
type MultiPartition struct {
	ID                int64
	ParentID          *int64
	Active            bool
	TotalRowCount      int64
	PreparedForSplit  bool
	CompactionVersion int64 // supplements the spec's bare prepared flag
}

// CacheItem is a single cached key/value row tracked by the eviction
// manager, with the extended LRU/LFU/TTL statistics carried inline.
type CacheItem struct {
	Key       string
	Value     []byte
	TTL       *time.Time // nil means no expiry
	RawSize   int64
	LRU       time.Time
	LFU       uint8
	Version   int64
}

// Measure is a single measure (aggregated column) exposed by a table or
// pre-aggregation, e.g. sum(total_amount).
type Measure struct {
	Column string
	Role   AggregateRole
}

// Granularity is a date-truncation bucket, ordered coarsest-last for the
// invariant §3.7 comparison (Q's granularity must be a coarsening of P's).
type Granularity int

const (
	GranularityUnknown Granularity = iota
	GranularityHour
	GranularityDay
	GranularityWeek
	GranularityMonth
	GranularityQuarter
	GranularityYear
)

var granularityOrder = map[Granularity]int{
	GranularityHour:    0,
	GranularityDay:     1,
	GranularityWeek:    2,
	GranularityMonth:   3,
	GranularityQuarter: 4,
	GranularityYear:    5,
}

// CoarserOrEqual reports whether g is at least as coarse as other, i.e.
// a query at granularity g can be served by data rolled up to granularity
// other (day can serve a month query's DATE_TRUNC('month', ...) residual,
// but not vice versa).
func (g Granularity) CoarserOrEqual(other Granularity) bool {
	return granularityOrder[g] >= granularityOrder[other]
}

func (g Granularity) String() string {
	for name, gr := range map[string]Granularity{
		"hour": GranularityHour, "day": GranularityDay, "week": GranularityWeek,
		"month": GranularityMonth, "quarter": GranularityQuarter, "year": GranularityYear,
	} {
		if gr == g {
			return name
		}
	}
	return "unknown"
}

// JobKind names a unit of scheduled background work persisted so a crashed
// worker's in-flight job is visible to the reconcile loop.
type JobKind string

const (
	JobCompactPartition    JobKind = "compact_partition"
	JobSplitMultiPartition JobKind = "split_multi_partition"
	JobRepartition         JobKind = "repartition"
	JobFinishMultiSplit    JobKind = "finish_multi_split"
)

// Job is a persisted unit of background work, created when the scheduler
// dispatches it and deleted on completion; the reconcile loop re-enqueues
// or garbage-collects jobs whose worker never reported back.
type Job struct {
	ID        int64
	Kind      JobKind
	TargetID  int64
	Worker    string
	CreatedAt time.Time
	// ChildIDs holds child multi-partition IDs for a SplitMultiPartition
	// job. Nothing in this repository sets or reads it; the scheduler's
	// Job.delete reaction does not consult it.
	ChildIDs []int64
}

// PreAggregation describes a pre-materialized table derived from a base
// table by a fixed (measures, dimensions, time-dim, granularity) rollup.
type PreAggregation struct {
	Name        string
	TableID     int64  // the pre-aggregation's own storage table
	BaseTable   string
	Measures    []Measure
	Dimensions  []string
	TimeDim     string
	Granularity Granularity
}
