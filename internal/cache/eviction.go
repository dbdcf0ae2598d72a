package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

// EvictionState is the manager's lifecycle state machine (spec.md §4.5),
// in the teacher's edge-map style (storagecore.canTransition) generalized
// to a flat in-memory state rather than a persisted row, since the cache
// manager's state is process-local and rebuilt by Load on every restart.
type EvictionState int

const (
	StateInitial EvictionState = iota
	StateLoadingFailed
	StateReady
	StateLoading
	StateEvictionStarted
	StateTruncationStarted
)

func (s EvictionState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateLoadingFailed:
		return "loading_failed"
	case StateReady:
		return "ready"
	case StateLoading:
		return "loading"
	case StateEvictionStarted:
		return "eviction_started"
	case StateTruncationStarted:
		return "truncation_started"
	default:
		return "unknown"
	}
}

// WeightCriterion names the per-row value an eviction scan sorts on.
type WeightCriterion int

const (
	WeightLRU WeightCriterion = iota
	WeightLFU
	WeightTTL
)

// ScanMode names how the eviction loop walks candidate rows.
type ScanMode int

const (
	ScanAllKeys ScanMode = iota
	ScanSampled
)

// sampleWindow is the sampled scan mode's fixed window width (spec.md
// §4.5 "a running sample window of 6 consecutive rows").
const sampleWindow = 6

// Policy selects one of the six LRU/LFU/TTL × AllKeys/Sampled
// combinations spec.md §4.5 names.
type Policy struct {
	Weight WeightCriterion
	Scan   ScanMode
}

// ParsePolicy parses config.CacheConfig.Policy's "<scan>_<weight>" shape
// (e.g. "sampled_lru", "all_keys_ttl") into a Policy, the cross product
// spec.md §4.5 names.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "all_keys_lru":
		return Policy{Weight: WeightLRU, Scan: ScanAllKeys}, nil
	case "all_keys_lfu":
		return Policy{Weight: WeightLFU, Scan: ScanAllKeys}, nil
	case "all_keys_ttl":
		return Policy{Weight: WeightTTL, Scan: ScanAllKeys}, nil
	case "sampled_lru":
		return Policy{Weight: WeightLRU, Scan: ScanSampled}, nil
	case "sampled_lfu":
		return Policy{Weight: WeightLFU, Scan: ScanSampled}, nil
	case "sampled_ttl":
		return Policy{Weight: WeightTTL, Scan: ScanSampled}, nil
	default:
		return Policy{}, fmt.Errorf("cache: unknown eviction policy %q", s)
	}
}

// Config holds the manager's configured bounds and batch sizes,
// generalized from the teacher's scheduler.Config (a plain struct of
// tunables passed in at construction, not loaded by this package itself).
type Config struct {
	MaxKeysSoft   int64
	MaxKeysHard   int64
	MaxSizeSoft   int64
	MaxSizeHard   int64
	// BelowThresholdPercent is the eviction overshoot percentage (spec.md
	// §4.5's "below_threshold"): eviction removes need + need*pct/100 so
	// the bound isn't immediately re-crossed by the next insert.
	BelowThresholdPercent int64
	EvictionBatchSize     int
	PersistBatchSize      int
	TTLBufferMaxSize      int
	NotifyChannelCapacity int
	Policy                Policy
}

// Manager is the cache eviction manager: it owns the TTL buffer, the
// lookup notifier, and the atomic (keys, size) totals, and drives the
// persist and eviction loops against the metastore's CacheItems bucket.
//
// Locking discipline (spec.md §5): eviction-state lock, then ttl-buffer
// lock, then metastore access — and never across a suspension point that
// could in turn need a higher-order lock. Concretely: state transitions
// take stateMu only for the instant they flip the enum; the scan and the
// metastore writes below run with no lock held over them at all, since
// TTLBuffer and metastore.Store already serialize their own internals.
type Manager struct {
	meta     *metastore.Store
	buf      *TTLBuffer
	notifier *Notifier
	cfg      Config
	log      *zap.Logger

	stateMu sync.RWMutex
	state   EvictionState

	totalKeys    int64
	totalRawSize int64

	// truncationGuard blocks the eviction loop for the duration of a
	// concurrent truncation (spec.md §4.5 "TruncationBlockGuard ...
	// blocks the eviction loop until released"). Unlike stateMu, this is
	// intentionally held across the whole truncation, by design — it is
	// a distinct, coarser barrier, not part of the per-operation lock
	// order above.
	truncationGuard sync.Mutex

	newRetry func() backoff.BackOff
}

// NewManager builds a cache eviction manager over meta, starting in
// StateInitial (spec.md §4.5 "Loading": the manager doesn't know its
// totals until Load runs).
func NewManager(meta *metastore.Store, cfg Config, log *zap.Logger) *Manager {
	buf := NewTTLBuffer(cfg.TTLBufferMaxSize)
	m := &Manager{
		meta:  meta,
		buf:   buf,
		cfg:   cfg,
		log:   log,
		state: StateInitial,
		newRetry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 1 * time.Second
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
	m.notifier = NewNotifier(buf, cfg.NotifyChannelCapacity, log)
	return m
}

// State reports the manager's current lifecycle state.
func (m *Manager) State() EvictionState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) setState(s EvictionState) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// transitionFrom atomically moves the state from `from` to `to`, failing
// (returning false) if the current state isn't `from` — used to make
// EvictionStarted/Loading exclusive with themselves across concurrent
// callers.
func (m *Manager) transitionFrom(from, to EvictionState) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != from {
		return false
	}
	m.state = to
	return true
}

// Notifier returns the manager's lookup event notifier, for wiring the
// pgwire query path's cache-hit notifications.
func (m *Manager) Notifier() *Notifier { return m.notifier }

// TotalKeys and TotalRawSize report the current atomic running totals.
func (m *Manager) TotalKeys() int64    { return atomic.LoadInt64(&m.totalKeys) }
func (m *Manager) TotalRawSize() int64 { return atomic.LoadInt64(&m.totalRawSize) }

// setTotals overwrites both running totals, used only by Load's one-time
// bootstrap scan (every other caller adjusts them incrementally via
// atomic.AddInt64).
func (m *Manager) setTotals(keys, size int64) {
	atomic.StoreInt64(&m.totalKeys, keys)
	atomic.StoreInt64(&m.totalRawSize, size)
}

// waitForTruncation blocks until no TruncationBlockGuard is held. It does
// not itself hold the guard afterward — it's a barrier, not a lease.
func (m *Manager) waitForTruncation() {
	m.truncationGuard.Lock()
	m.truncationGuard.Unlock()
}

// TruncationBlockGuard begins a truncation: it takes the manager's
// truncation barrier (blocking any in-flight or future RunEviction call
// until Release), transitions the state to TruncationStarted, and clears
// the TTL buffer (spec.md §4.5). The caller must invoke the returned
// release function exactly once when the truncation completes.
func (m *Manager) TruncationBlockGuard() (release func()) {
	m.truncationGuard.Lock()
	prev := m.State()
	m.setState(StateTruncationStarted)
	m.buf.Clear()
	return func() {
		m.setState(prev)
		m.truncationGuard.Unlock()
	}
}

// BeforeInsert implements spec.md §4.5's force-eviction bound: called
// before admitting a new row of rowSize bytes, it triggers RunEviction if
// the insert would breach either hard bound.
func (m *Manager) BeforeInsert(ctx context.Context, rowSize int64) error {
	keys := atomic.LoadInt64(&m.totalKeys)
	size := atomic.LoadInt64(&m.totalRawSize)
	if keys+1 > m.cfg.MaxKeysHard || size+rowSize > m.cfg.MaxSizeHard {
		return m.RunEviction(ctx)
	}
	return nil
}

// RowIDFor derives the stable metastore row id for a cache key, the same
// FNV-1a hash-to-id pattern the teacher's shard registry (via
// scheduler.WorkerSet.PickWorkerByIDs) uses to turn an arbitrary string
// into a deterministic integer.
func RowIDFor(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() &^ (1 << 63)) // keep positive: rowKeyFor formats as unsigned-width decimal
}

// Put inserts or overwrites a CacheItem, running the force-eviction bound
// (spec.md §4.5 "before_insert") first so a hard bound is never exceeded
// by the new row, then writing the row and bumping the atomic totals by
// exactly the delta a fresh insert or in-place overwrite contributes.
func (m *Manager) Put(ctx context.Context, item model.CacheItem) error {
	id := RowIDFor(item.Key)
	item.RawSize = int64(len(item.Value))

	if err := m.BeforeInsert(ctx, item.RawSize); err != nil {
		return err
	}

	var prevSize int64
	var existed bool
	op := func() error {
		prevSize, existed = 0, false
		return m.meta.WithWriter(func(kv metastore.KV) error {
			if data, err := kv.Get(metastore.BucketCacheItems, rowKeyFor(id)); err == nil {
				var prev model.CacheItem
				if uerr := unmarshalCacheItem(data, &prev); uerr == nil {
					prevSize, existed = prev.RawSize, true
				}
			} else if err != metastore.ErrKeyNotFound {
				return err
			}
			encoded, err := json.Marshal(item)
			if err != nil {
				return err
			}
			return kv.Put(metastore.BucketCacheItems, rowKeyFor(id), encoded)
		})
	}
	if err := backoff.Retry(op, m.newRetry()); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "put cache item", err)
	}

	if existed {
		atomic.AddInt64(&m.totalRawSize, item.RawSize-prevSize)
	} else {
		atomic.AddInt64(&m.totalKeys, 1)
		atomic.AddInt64(&m.totalRawSize, item.RawSize)
	}
	return nil
}

// Get reads the CacheItem stored under key, if any, and notifies the
// lookup channel on a hit so the TTL buffer's LRU/LFU bookkeeping picks
// it up (spec.md §4.5 "Notify path").
func (m *Manager) Get(key string) (model.CacheItem, bool, error) {
	id := RowIDFor(key)
	var item model.CacheItem
	if err := metastore.GetRow(m.meta, metastore.BucketCacheItems, id, &item); err != nil {
		if err == metastore.ErrKeyNotFound {
			return model.CacheItem{}, false, nil
		}
		return model.CacheItem{}, false, cubeerr.Wrap(cubeerr.KindTransient, "", "get cache item", err)
	}
	m.notifier.Notify(CacheLookupEvent{RowID: id, KeyHash: strconv.FormatInt(id, 10), RawSize: item.RawSize})
	return item, true, nil
}

func weightOf(item model.CacheItem, crit WeightCriterion) int64 {
	switch crit {
	case WeightLFU:
		return int64(item.LFU)
	case WeightTTL:
		if item.TTL == nil {
			// "None treated as the highest priority-to-delete."
			return math.MinInt64
		}
		return item.TTL.UnixNano()
	default: // WeightLRU
		return item.LRU.UnixNano()
	}
}

// RunEviction drives one pass of the eviction loop (spec.md §4.5). It is
// a no-op, returning nil, if the manager isn't Ready, if a truncation is
// in progress (it waits for the truncation to finish first), or if
// neither soft bound is currently exceeded.
func (m *Manager) RunEviction(ctx context.Context) error {
	m.waitForTruncation()

	if !m.transitionFrom(StateReady, StateEvictionStarted) {
		return nil
	}
	defer m.setState(StateReady)

	keys := atomic.LoadInt64(&m.totalKeys)
	size := atomic.LoadInt64(&m.totalRawSize)

	var dimension string
	var target int64
	switch {
	case keys > m.cfg.MaxKeysSoft:
		need := keys - m.cfg.MaxKeysSoft
		target = need + need*m.cfg.BelowThresholdPercent/100
		dimension = "keys"
	case size > m.cfg.MaxSizeSoft:
		need := size - m.cfg.MaxSizeSoft
		target = need + need*m.cfg.BelowThresholdPercent/100
		dimension = "size"
	default:
		return nil
	}

	rows, err := m.scanCacheItems()
	if err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "scan cache items for eviction", err)
	}

	victims := selectVictims(rows, m.cfg.Policy, dimension, target)
	return m.deleteBatches(ctx, victims)
}

// RunEvictionLoop runs RunEviction on interval until ctx is canceled,
// logging (not propagating) failures so one bad tick doesn't stop the
// loop, mirroring RunPersistLoop's shape.
func (m *Manager) RunEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.RunEviction(ctx); err != nil && m.log != nil {
				m.log.Warn("cache: eviction loop failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// cacheRow pairs a decoded CacheItem with its metastore row id.
type cacheRow struct {
	id   int64
	item model.CacheItem
}

// scanCacheItems reads every row currently in the CacheItems bucket. This
// is the "Long scans during eviction loading / all-keys eviction"
// suspension point named in spec.md §5; it takes no lock of its own
// beyond the metastore's internal snapshot-read semantics, consistent
// with the "never held across a suspension point" discipline.
func (m *Manager) scanCacheItems() ([]cacheRow, error) {
	keys, err := m.meta.KV().List(metastore.BucketCacheItems)
	if err != nil {
		return nil, err
	}
	rows := make([]cacheRow, 0, len(keys))
	for _, k := range keys {
		id, perr := strconv.ParseInt(k, 10, 64)
		if perr != nil {
			continue
		}
		var item model.CacheItem
		if err := metastore.GetRow(m.meta, metastore.BucketCacheItems, id, &item); err != nil {
			if err == metastore.ErrKeyNotFound {
				continue // deleted mid-scan; not an error
			}
			return nil, err
		}
		rows = append(rows, cacheRow{id: id, item: item})
	}
	return rows, nil
}

// selectVictims applies policy's weight criterion and scan mode to rows,
// returning row ids to delete, accumulating dimension ("keys" or "size")
// until target is reached or rows are exhausted.
func selectVictims(rows []cacheRow, policy Policy, dimension string, target int64) []int64 {
	weight := func(r cacheRow) int64 { return weightOf(r.item, policy.Weight) }
	amount := func(r cacheRow) int64 {
		if dimension == "size" {
			return r.item.RawSize
		}
		return 1
	}

	switch policy.Scan {
	case ScanSampled:
		return sampledSelect(rows, weight, amount, target)
	default:
		return allKeysSelect(rows, weight, amount, target)
	}
}

func allKeysSelect(rows []cacheRow, weight, amount func(cacheRow) int64, target int64) []int64 {
	sorted := append([]cacheRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return weight(sorted[i]) < weight(sorted[j]) })

	var acc int64
	var victims []int64
	for _, r := range sorted {
		if acc >= target {
			break
		}
		victims = append(victims, r.id)
		acc += amount(r)
	}
	return victims
}

// sampledSelect implements spec.md §4.5's sampled scan: a running window
// of sampleWindow consecutive rows; once full, the minimum-weight member
// is evicted and removed from the candidate pool, and the window resets
// over what remains. This repeats — cycling back through the shrinking
// pool rather than stopping after one pass over the original rows — until
// target is reached or every candidate has been evicted, since one pass
// of disjoint six-wide windows only ever evicts a sixth of the rows it
// touches and a target can call for evicting most of them.
func sampledSelect(rows []cacheRow, weight, amount func(cacheRow) int64, target int64) []int64 {
	remaining := append([]cacheRow(nil), rows...)
	var victims []int64
	var acc int64

	for len(remaining) > 0 && acc < target {
		width := sampleWindow
		if width > len(remaining) {
			width = len(remaining)
		}
		minIdx := 0
		for i := 1; i < width; i++ {
			if weight(remaining[i]) < weight(remaining[minIdx]) {
				minIdx = i
			}
		}
		victims = append(victims, remaining[minIdx].id)
		acc += amount(remaining[minIdx])
		remaining = append(remaining[:minIdx], remaining[minIdx+1:]...)
	}
	return victims
}

// deleteBatches deletes victims in batches of m.cfg.EvictionBatchSize,
// each batch under one metastore write transaction (WithWriter). A row
// that disappeared between selection and this delete is counted as
// skipped, not an error (spec.md §4.5). Atomic totals are decremented by
// the actual deleted count/size once each batch commits.
func (m *Manager) deleteBatches(ctx context.Context, victims []int64) error {
	batchSize := m.cfg.EvictionBatchSize
	if batchSize <= 0 {
		batchSize = len(victims)
	}
	for start := 0; start < len(victims); start += batchSize {
		end := start + batchSize
		if end > len(victims) {
			end = len(victims)
		}
		batch := victims[start:end]

		var deletedKeys, deletedSize int64
		op := func() error {
			deletedKeys, deletedSize = 0, 0
			return m.meta.WithWriter(func(kv metastore.KV) error {
				for _, id := range batch {
					data, err := kv.Get(metastore.BucketCacheItems, rowKeyFor(id))
					if err != nil {
						if err == metastore.ErrKeyNotFound {
							continue // skipped, per spec.md §4.5
						}
						return err
					}
					var item model.CacheItem
					if err := unmarshalCacheItem(data, &item); err != nil {
						return err
					}
					if err := kv.Delete(metastore.BucketCacheItems, rowKeyFor(id)); err != nil {
						return err
					}
					if err := kv.Delete(metastore.BucketCacheItemsByPath, rowKeyFor(id)); err != nil {
						return err
					}
					deletedKeys++
					deletedSize += item.RawSize
				}
				return nil
			})
		}
		if err := backoff.Retry(op, m.newRetry()); err != nil {
			return cubeerr.Wrap(cubeerr.KindTransient, "", "evict cache item batch", err)
		}

		m.buf.remove(batch)

		atomic.AddInt64(&m.totalKeys, -deletedKeys)
		atomic.AddInt64(&m.totalRawSize, -deletedSize)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// rowKeyFor mirrors metastore's unexported rowKey formatting (fixed-width
// decimal) so this package can address CacheItems rows through the raw
// KV inside a WithWriter closure, where metastore.GetRow/DeleteRow can't
// be used directly (their own Store-level helpers; the closure already
// holds the single writer slot).
func rowKeyFor(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func unmarshalCacheItem(data []byte, out *model.CacheItem) error {
	return json.Unmarshal(data, out)
}
