// Package metastore is the ground-truth metadata store: every Schema,
// Table, Index, Partition, Chunk, MultiPartition, CacheItem and Job row
// lives here, typed by bucket, with secondary indexes carrying inline
// extended values (spec.md §6.4). Mutations are serialized through a
// single writer; reads take a point-in-time snapshot and may run
// concurrently, matching spec.md §5's "single-writer queue, concurrent
// snapshot reads" rule.
package metastore

import (
	"errors"
	"sync"
)

// ErrKeyNotFound is returned when a key doesn't exist in a bucket.
//
// Adapted from the teacher's storage.ErrKeyNotFound sentinel: callers
// check for it the same way to distinguish a missing row from a storage
// failure.
var ErrKeyNotFound = errors.New("metastore: key not found")

// KV is the abstract backing engine for the metadata store, generalizing
// the teacher's key-value Store interface to bucket-scoped keys so one
// physical engine can back every row kind (Schemas, Tables, Indexes, ...)
// behind a single handle.
//
// Implementations must guarantee thread-safety for all operations and
// must not corrupt a bucket on a partial write (spec.md §5 "no reader
// ever sees both the before and after state of a swap").
type KV interface {
	// Get retrieves a value by (bucket, key). Returns ErrKeyNotFound if
	// absent.
	Get(bucket, key string) ([]byte, error)

	// Put stores a value under (bucket, key), creating the bucket if
	// necessary.
	Put(bucket, key string, value []byte) error

	// Delete removes (bucket, key). Idempotent: no error if absent.
	Delete(bucket, key string) error

	// List returns all keys currently in bucket. Never returns nil.
	List(bucket string) ([]string, error)

	// Stats returns the total key count and byte size across all
	// buckets, for monitoring. The cache's loading scan does not call it;
	// it computes its totals from the rows it reads.
	Stats() KVStats

	// Close releases any resources (file handles) held by the engine.
	Close() error
}

// KVStats mirrors the teacher's StoreStats, generalized across buckets.
type KVStats struct {
	Keys  int
	Bytes int
}

// MemoryKV implements KV with in-memory storage, directly adapted from
// the teacher's MemoryStore: a single RWMutex over a map, with all values
// copied on the way in and out to prevent external mutation through a
// retained slice. Used by tests; the binaries under cmd/ use BboltKV.
type MemoryKV struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryKV returns an empty in-memory KV, ready for immediate use.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{buckets: make(map[string]map[string][]byte)}
}

func (m *MemoryKV) Get(bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buckets[bucket]
	if !ok {
		return nil, ErrKeyNotFound
	}
	value, ok := b[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (m *MemoryKV) Put(bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		m.buckets[bucket] = b
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	b[key] = stored
	return nil
}

func (m *MemoryKV) Delete(bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[bucket]; ok {
		delete(b, key)
	}
	return nil
}

func (m *MemoryKV) List(bucket string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b := m.buckets[bucket]
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryKV) Stats() KVStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats KVStats
	for _, b := range m.buckets {
		stats.Keys += len(b)
		for _, v := range b {
			stats.Bytes += len(v)
		}
	}
	return stats
}

func (m *MemoryKV) Close() error { return nil }
