package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	meta := metastore.Open(metastore.NewMemoryKV())
	t.Cleanup(func() { _ = meta.Close() })
	return NewManager(meta, cfg, zap.NewNop())
}

func defaultTestConfig() Config {
	return Config{
		MaxKeysSoft:           1 << 30,
		MaxKeysHard:           1 << 30,
		MaxSizeSoft:           1 << 30,
		MaxSizeHard:           1 << 30,
		BelowThresholdPercent: 20,
		EvictionBatchSize:     10,
		PersistBatchSize:      10,
		TTLBufferMaxSize:      1000,
		NotifyChannelCapacity: 100,
		Policy:                Policy{Weight: WeightLRU, Scan: ScanAllKeys},
	}
}

func TestManagerPutAndGet(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	if err := m.Put(ctx, model.CacheItem{Key: "k1", Value: []byte("hello")}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	item, ok, err := m.Get("k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected k1 to be found")
	}
	if string(item.Value) != "hello" {
		t.Errorf("expected value %q, got %q", "hello", item.Value)
	}
	if m.TotalKeys() != 1 || m.TotalRawSize() != 5 {
		t.Errorf("expected totals (1, 5), got (%d, %d)", m.TotalKeys(), m.TotalRawSize())
	}
}

func TestManagerGetMissingKey(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	_, ok, err := m.Get("missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Errorf("expected missing key to report not found")
	}
}

func TestManagerPutOverwriteAdjustsSizeDelta(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	if err := m.Put(ctx, model.CacheItem{Key: "k1", Value: []byte("short")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Put(ctx, model.CacheItem{Key: "k1", Value: []byte("a much longer value")}); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	if m.TotalKeys() != 1 {
		t.Errorf("expected keys to stay at 1 on overwrite, got %d", m.TotalKeys())
	}
	if want := int64(len("a much longer value")); m.TotalRawSize() != want {
		t.Errorf("expected raw size %d after overwrite, got %d", want, m.TotalRawSize())
	}
}

func TestManagerRowIDForIsStable(t *testing.T) {
	a := RowIDFor("some-cache-key")
	b := RowIDFor("some-cache-key")
	if a != b {
		t.Errorf("expected RowIDFor to be deterministic, got %d and %d", a, b)
	}
	if a < 0 {
		t.Errorf("expected RowIDFor to stay non-negative, got %d", a)
	}
}

// TestRunEvictionSizeBound reproduces spec.md §8's "Cache eviction — size
// bound" scenario: max_size_soft=1000, below_threshold=20, policy
// SampledLru, 100 keys of 20 bytes each (total 2000). After run_eviction,
// stats_total_raw_size must be <= 800 and >= 0.
func TestRunEvictionSizeBound(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxSizeSoft = 1000
	cfg.MaxSizeHard = 1 << 30
	cfg.BelowThresholdPercent = 20
	cfg.Policy = Policy{Weight: WeightLRU, Scan: ScanSampled}

	m := newTestManager(t, cfg)
	ctx := context.Background()
	if err := m.transitionOK(); err != nil {
		t.Fatalf("load: %v", err)
	}

	value := make([]byte, 20)
	for i := 0; i < 100; i++ {
		key := "key-" + strconv.Itoa(i)
		if err := m.Put(ctx, model.CacheItem{Key: key, Value: value}); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	if got := m.TotalRawSize(); got != 2000 {
		t.Fatalf("setup: expected total raw size 2000 before eviction, got %d", got)
	}

	if err := m.RunEviction(ctx); err != nil {
		t.Fatalf("RunEviction: %v", err)
	}

	size := m.TotalRawSize()
	if size > 800 {
		t.Errorf("expected stats_total_raw_size <= 800 after eviction, got %d", size)
	}
	if size < 0 {
		t.Errorf("expected stats_total_raw_size >= 0 after eviction, got %d", size)
	}
}

func TestRunEvictionNoopUnderSoftBound(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxKeysSoft = 100
	cfg.MaxSizeSoft = 10000
	m := newTestManager(t, cfg)
	ctx := context.Background()
	if err := m.transitionOK(); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := m.Put(ctx, model.CacheItem{Key: "k1", Value: []byte("hello")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.RunEviction(ctx); err != nil {
		t.Fatalf("RunEviction: %v", err)
	}
	if m.TotalKeys() != 1 {
		t.Errorf("expected no-op eviction to leave totals untouched, got keys=%d", m.TotalKeys())
	}
}

func TestRunEvictionNoopWhenNotReady(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	// Manager starts in StateInitial, never transitioned to Ready.
	if err := m.RunEviction(context.Background()); err != nil {
		t.Fatalf("RunEviction: %v", err)
	}
	if m.State() != StateInitial {
		t.Errorf("expected state to remain initial, got %v", m.State())
	}
}

func TestTruncationBlockGuardBlocksEviction(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxKeysSoft = 0
	m := newTestManager(t, cfg)
	if err := m.transitionOK(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	if err := m.Put(ctx, model.CacheItem{Key: "k1", Value: []byte("v")}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	release := m.TruncationBlockGuard()
	if m.buf.Len() != 0 {
		t.Errorf("expected TTL buffer cleared by TruncationBlockGuard")
	}

	done := make(chan error, 1)
	go func() { done <- m.RunEviction(ctx) }()

	select {
	case <-done:
		t.Fatalf("RunEviction returned before truncation guard was released")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunEviction: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("RunEviction never returned after guard release")
	}
}

func TestLoadBootstrapsTotalsAndState(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	// Seed rows directly through the metastore, bypassing Put, to simulate
	// restart-time state that Load must discover from scratch.
	if err := metastore.PutRow(m.meta, metastore.BucketCacheItems, RowIDFor("a"), model.CacheItem{Key: "a", RawSize: 10}); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if err := metastore.PutRow(m.meta, metastore.BucketCacheItems, RowIDFor("b"), model.CacheItem{Key: "b", RawSize: 20}); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.State() != StateReady {
		t.Errorf("expected state ready after Load, got %v", m.State())
	}
	if m.TotalKeys() != 2 || m.TotalRawSize() != 30 {
		t.Errorf("expected totals (2, 30) after Load, got (%d, %d)", m.TotalKeys(), m.TotalRawSize())
	}
}

func TestLoadCollectsAlreadyExpiredRows(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	ctx := context.Background()

	past := time.Unix(0, 0)
	if err := metastore.PutRow(m.meta, metastore.BucketCacheItems, RowIDFor("expired"), model.CacheItem{Key: "expired", RawSize: 10, TTL: &past}); err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.TotalKeys() != 0 || m.TotalRawSize() != 0 {
		t.Errorf("expected expired row to be swept out, got (%d, %d)", m.TotalKeys(), m.TotalRawSize())
	}

	if _, err := m.meta.KV().Get(metastore.BucketCacheItems, rowKeyFor(RowIDFor("expired"))); err != metastore.ErrKeyNotFound {
		t.Errorf("expected expired row deleted from metastore, got err=%v", err)
	}
}

func TestLoadIsNoopWhenAlreadyReady(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	m.setTotals(5, 50)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if m.TotalKeys() != 5 || m.TotalRawSize() != 50 {
		t.Errorf("expected second Load to be a no-op, got (%d, %d)", m.TotalKeys(), m.TotalRawSize())
	}
}

func TestBeforeInsertTriggersForceEviction(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxKeysHard = 2
	cfg.MaxKeysSoft = 1
	cfg.BelowThresholdPercent = 0
	cfg.Policy = Policy{Weight: WeightLRU, Scan: ScanAllKeys}
	m := newTestManager(t, cfg)
	if err := m.transitionOK(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()

	if err := m.Put(ctx, model.CacheItem{Key: "a", Value: []byte("1")}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := m.Put(ctx, model.CacheItem{Key: "b", Value: []byte("2")}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	// Inserting a third key breaches MaxKeysHard (2), so BeforeInsert must
	// run eviction down to MaxKeysSoft (1) before this Put proceeds.
	if err := m.Put(ctx, model.CacheItem{Key: "c", Value: []byte("3")}); err != nil {
		t.Fatalf("put c: %v", err)
	}

	if got := m.TotalKeys(); got > cfg.MaxKeysHard {
		t.Errorf("expected keys to stay within hard bound %d, got %d", cfg.MaxKeysHard, got)
	}
}

func TestWeightOfNilTTLIsHighestPriority(t *testing.T) {
	withTTL := time.Now()
	noTTL := model.CacheItem{TTL: nil}
	hasTTL := model.CacheItem{TTL: &withTTL}

	if got := weightOf(noTTL, WeightTTL); got != -1<<63 {
		t.Errorf("expected nil TTL to weight as math.MinInt64, got %d", got)
	}
	if weightOf(hasTTL, WeightTTL) <= weightOf(noTTL, WeightTTL) {
		t.Errorf("expected a set TTL to outweigh a nil TTL")
	}
}

func TestSampledSelectReachesTargetAcrossMultiplePasses(t *testing.T) {
	rows := make([]cacheRow, 100)
	for i := range rows {
		rows[i] = cacheRow{id: int64(i), item: model.CacheItem{RawSize: 20, LRU: time.Unix(int64(i), 0)}}
	}
	weight := func(r cacheRow) int64 { return r.item.LRU.UnixNano() }
	amount := func(r cacheRow) int64 { return r.item.RawSize }

	victims := sampledSelect(rows, weight, amount, 1200)
	var acc int64
	for _, id := range victims {
		acc += 20
		_ = id
	}
	if acc < 1200 {
		t.Errorf("expected sampled scan to accumulate at least target 1200, got %d across %d victims", acc, len(victims))
	}
	if len(victims) > 100 {
		t.Errorf("expected no more victims than candidate rows, got %d", len(victims))
	}
}

func TestAllKeysSelectOrdersByWeightAscending(t *testing.T) {
	rows := []cacheRow{
		{id: 1, item: model.CacheItem{RawSize: 10, LRU: time.Unix(300, 0)}},
		{id: 2, item: model.CacheItem{RawSize: 10, LRU: time.Unix(100, 0)}},
		{id: 3, item: model.CacheItem{RawSize: 10, LRU: time.Unix(200, 0)}},
	}
	weight := func(r cacheRow) int64 { return r.item.LRU.UnixNano() }
	amount := func(r cacheRow) int64 { return r.item.RawSize }

	victims := allKeysSelect(rows, weight, amount, 15)
	if len(victims) != 2 {
		t.Fatalf("expected 2 victims to cover target 15 at 10 bytes each, got %d", len(victims))
	}
	if victims[0] != 2 || victims[1] != 3 {
		t.Errorf("expected victims in ascending LRU order [2, 3], got %v", victims)
	}
}

// transitionOK is a test helper moving the manager straight to Ready
// without requiring a populated metastore, mirroring what a real startup
// does by calling Load on an empty store.
func (m *Manager) transitionOK() error {
	return m.Load(context.Background())
}

func TestParsePolicyKnownValues(t *testing.T) {
	p, err := ParsePolicy("sampled_lru")
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	if p.Weight != WeightLRU || p.Scan != ScanSampled {
		t.Errorf("unexpected policy: %+v", p)
	}
}

func TestParsePolicyUnknown(t *testing.T) {
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Errorf("expected an error for an unknown policy string")
	}
}

func TestRunEvictionLoopStopsOnCancel(t *testing.T) {
	cfg := defaultTestConfig()
	m := newTestManager(t, cfg)
	if err := m.transitionOK(); err != nil {
		t.Fatalf("transitionOK: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunEvictionLoop(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunEvictionLoop did not return after cancellation")
	}
}
