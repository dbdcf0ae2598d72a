// Package cache implements the cache eviction manager from spec.md §4.5:
// a bounded in-memory TTL/LRU/LFU side-buffer over the CacheItems rows
// held in the metastore, a background persist loop that writes buffered
// stats back to their secondary index, and an eviction loop that keeps
// (keys-count, raw-size) within configured soft/hard bounds.
package cache

import (
	"sync"
	"time"
)

// rowID identifies a CacheItem row by its metastore key hash, matching
// spec.md §4.5's ttl_buffer keyed by row_id rather than the raw cache key
// (the raw key/value bytes stay in the metastore row; the buffer only
// tracks the statistics an eviction decision needs).
type rowID = int64

// ttlEntry is one TTL buffer slot: spec.md's
// "{key_hash, raw_size, lru_timestamp, lfu_counter}".
type ttlEntry struct {
	KeyHash string
	RawSize int64
	LRU     time.Time
	LFU     uint8
}

// lfuEpoch is the window after which a stale LRU timestamp resets the LFU
// counter instead of incrementing it, per spec.md §4.5's notify-path rule.
const lfuEpoch = 2 * time.Minute

// nowFunc is time.Now, indirected so tests can freeze the clock, matching
// the teacher's scheduler package's nowFunc convention.
var nowFunc = time.Now

// TTLBuffer is the bounded map[rowID]entry side-buffer, generalized from
// the teacher's storage.MemoryStore (one sync.RWMutex guarding a plain
// map, values copied in/out so no caller can mutate buffer state through
// a retained reference).
type TTLBuffer struct {
	mu      sync.RWMutex
	entries map[rowID]ttlEntry
	maxSize int
}

// NewTTLBuffer creates an empty buffer bounded at maxSize entries
// (cachestore_cache_ttl_buffer_max_size).
func NewTTLBuffer(maxSize int) *TTLBuffer {
	return &TTLBuffer{
		entries: make(map[rowID]ttlEntry),
		maxSize: maxSize,
	}
}

// Touch records a cache-hit lookup for id: if the row is already
// buffered, its LRU timestamp is bumped to now and its LFU counter is
// incremented, unless the previous LRU is older than lfuEpoch, in which
// case the hit starts a new LFU epoch at 1. LFU saturates at
// math.MaxUint8. A row not yet buffered is inserted fresh, unless the
// buffer is already at maxSize, in which case the touch is dropped —
// the notify path is best-effort (spec.md §4.5, §5 "channel-full is a
// logged drop, not an error").
func (b *TTLBuffer) Touch(id rowID, keyHash string, rawSize int64) {
	now := nowFunc()
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		if b.maxSize > 0 && len(b.entries) >= b.maxSize {
			return
		}
		b.entries[id] = ttlEntry{KeyHash: keyHash, RawSize: rawSize, LRU: now, LFU: 1}
		return
	}

	if now.Sub(e.LRU) > lfuEpoch {
		e.LFU = 1
	} else if e.LFU < 255 {
		e.LFU++
	}
	e.LRU = now
	e.KeyHash = keyHash
	e.RawSize = rawSize
	b.entries[id] = e
}

// Len reports the number of buffered rows.
func (b *TTLBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Drain removes up to n entries from the buffer (or every entry if the
// buffer holds fewer than n) and returns them keyed by rowID, for the
// persist loop's "take up to persist_batch_size, or everything if
// smaller" rule. Iteration order over a Go map is unspecified, which is
// fine here: the persist loop has no ordering requirement over which
// rows it flushes first.
func (b *TTLBuffer) Drain(n int) map[rowID]ttlEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[rowID]ttlEntry, n)
	for id, e := range b.entries {
		if len(out) >= n {
			break
		}
		out[id] = e
		delete(b.entries, id)
	}
	return out
}

// Clear empties the buffer, used by TruncationBlockGuard (spec.md §4.5
// "a concurrent truncation ... clears the TTL buffer").
func (b *TTLBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[rowID]ttlEntry)
}

// snapshot returns a copy of every buffered entry, taken under the
// buffer's own read lock. Nothing in this package calls it: the eviction
// scans (AllKeys and Sampled) read cache items from the metadata store.
func (b *TTLBuffer) snapshot() map[rowID]ttlEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[rowID]ttlEntry, len(b.entries))
	for id, e := range b.entries {
		out[id] = e
	}
	return out
}

// remove deletes ids from the buffer (an evicted row is gone from the
// metastore, so any buffered stats for it are now garbage).
func (b *TTLBuffer) remove(ids []rowID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.entries, id)
	}
}
