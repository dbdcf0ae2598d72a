package cache

import (
	"context"
	"testing"
	"time"

	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

func TestRunPersistWritesBackLRUAndLFUOnly(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.PersistBatchSize = 10
	m := newTestManager(t, cfg)
	ctx := context.Background()

	ttl := time.Unix(9999999999, 0)
	if err := m.Put(ctx, model.CacheItem{Key: "k1", Value: []byte("v"), TTL: &ttl}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	id := RowIDFor("k1")

	touchTime := time.Unix(500, 0)
	restore := withFrozenClock(t, touchTime)
	defer restore()
	m.buf.Touch(id, "k1", 1)

	if err := m.RunPersist(ctx); err != nil {
		t.Fatalf("RunPersist: %v", err)
	}

	var got model.CacheItem
	if err := metastore.GetRow(m.meta, metastore.BucketCacheItems, id, &got); err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if !got.LRU.Equal(touchTime) {
		t.Errorf("expected LRU %v written back, got %v", touchTime, got.LRU)
	}
	if got.LFU != 1 {
		t.Errorf("expected LFU 1 written back, got %d", got.LFU)
	}
	if got.TTL == nil || !got.TTL.Equal(ttl) {
		t.Errorf("expected original TTL preserved, got %v", got.TTL)
	}

	var bySecondary model.CacheItem
	if err := metastore.GetRow(m.meta, metastore.BucketCacheItemsByPath, id, &bySecondary); err != nil {
		t.Fatalf("secondary index GetRow: %v", err)
	}
	if bySecondary.LFU != 1 {
		t.Errorf("expected secondary index updated too, got LFU %d", bySecondary.LFU)
	}
}

func TestRunPersistIsNoopOnEmptyBuffer(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	if err := m.RunPersist(context.Background()); err != nil {
		t.Fatalf("RunPersist: %v", err)
	}
}

func TestRunPersistSkipsRowDeletedSinceBuffered(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	// Buffer a touch for a row that was never actually put, simulating a
	// lookup notification racing a concurrent delete.
	m.buf.Touch(RowIDFor("ghost"), "ghost", 1)

	if err := m.RunPersist(context.Background()); err != nil {
		t.Fatalf("expected missing row to be skipped, not erred: %v", err)
	}
}

func TestRunPersistRespectsBatchSize(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.PersistBatchSize = 2
	m := newTestManager(t, cfg)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d"} {
		if err := m.Put(ctx, model.CacheItem{Key: k, Value: []byte("v")}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
		m.buf.Touch(RowIDFor(k), k, 1)
	}

	if got := m.buf.Len(); got != 4 {
		t.Fatalf("expected 4 buffered touches before persist, got %d", got)
	}

	if err := m.RunPersist(ctx); err != nil {
		t.Fatalf("RunPersist: %v", err)
	}
	if got := m.buf.Len(); got != 2 {
		t.Errorf("expected persist to drain only PersistBatchSize (2) entries, got buffer len %d", got)
	}
}

func TestRunPersistReturnsOnCanceledContext(t *testing.T) {
	m := newTestManager(t, defaultTestConfig())
	m.buf.Touch(RowIDFor("k"), "k", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.RunPersist(ctx); err == nil {
		t.Errorf("expected RunPersist to report the canceled context")
	}
}
