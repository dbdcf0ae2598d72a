package metastore

import (
	"encoding/json"
	"fmt"
)

// Bucket names for each row kind, per spec.md §6.4's "rows typed by
// table-id" metadata layout.
const (
	BucketSchemas        = "Schemas"
	BucketTables         = "Tables"
	BucketIndexes        = "Indexes"
	BucketPartitions     = "Partitions"
	BucketMultiPartitions = "MultiPartitions"
	BucketChunks         = "Chunks"
	BucketWALs           = "WALs"
	BucketJobs           = "Jobs"
	BucketReplayHandles  = "ReplayHandles"
	BucketSnapshots      = "Snapshots"
	BucketCacheItems     = "CacheItems"
	BucketQueueItems     = "QueueItems"

	// BucketCacheItemsByPath is CacheItems' secondary index, carrying the
	// TTL-related extended values inline so the eviction scan never has
	// to re-read the primary row (spec.md §6.4).
	BucketCacheItemsByPath = "CacheItems.ByPath"
)

// Store is the typed metadata store: a KV engine plus a single-writer
// mutation queue. All mutations submitted through WithWriter run one at a
// time, in submission order; reads (Get/List) go straight to the
// underlying KV's own snapshot semantics and may run concurrently with
// both reads and the in-flight write, matching spec.md §5.
type Store struct {
	kv      KV
	writeCh chan writeJob
	done    chan struct{}
}

type writeJob struct {
	fn   func(KV) error
	resp chan error
}

// Open wraps an already-open KV engine with the single-writer queue and
// starts its writer goroutine.
func Open(kv KV) *Store {
	s := &Store{
		kv:      kv,
		writeCh: make(chan writeJob),
		done:    make(chan struct{}),
	}
	go s.runWriter()
	return s
}

func (s *Store) runWriter() {
	for {
		select {
		case job := <-s.writeCh:
			job.resp <- job.fn(s.kv)
		case <-s.done:
			return
		}
	}
}

// WithWriter submits fn to the single-writer queue and blocks until it has
// run, returning its error. Use this for any mutation so concurrent
// mutations never interleave (spec.md §5 "serialized queue on a single
// writer thread").
func (s *Store) WithWriter(fn func(KV) error) error {
	resp := make(chan error, 1)
	select {
	case s.writeCh <- writeJob{fn: fn, resp: resp}:
	case <-s.done:
		return fmt.Errorf("metastore: closed")
	}
	return <-resp
}

// Close stops the writer goroutine and closes the underlying KV.
func (s *Store) Close() error {
	close(s.done)
	return s.kv.Close()
}

// KV returns the underlying engine for read-only access (List/Get), which
// may run concurrently with writes per the snapshot-read contract.
func (s *Store) KV() KV { return s.kv }

// rowKey formats an int64 row ID as a fixed-width, lexicographically
// sortable string key.
func rowKey(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// PutRow JSON-encodes v and writes it under bucket/rowKey(id) through the
// single-writer queue.
func PutRow(s *Store, bucket string, id int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.WithWriter(func(kv KV) error {
		return kv.Put(bucket, rowKey(id), data)
	})
}

// GetRow reads and JSON-decodes the row at bucket/rowKey(id) into out.
func GetRow(s *Store, bucket string, id int64, out any) error {
	data, err := s.kv.Get(bucket, rowKey(id))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// DeleteRow removes the row at bucket/rowKey(id).
func DeleteRow(s *Store, bucket string, id int64) error {
	return s.WithWriter(func(kv KV) error {
		return kv.Delete(bucket, rowKey(id))
	})
}

// ListRows decodes every row in bucket into a fresh slice via decode,
// which should unmarshal the given bytes into a new element and append it.
func ListRows(s *Store, bucket string, decode func(data []byte) error) error {
	keys, err := s.kv.List(bucket)
	if err != nil {
		return err
	}
	for _, k := range keys {
		data, err := s.kv.Get(bucket, k)
		if err != nil {
			if err == ErrKeyNotFound {
				continue // deleted between List and Get; not an error
			}
			return err
		}
		if err := decode(data); err != nil {
			return err
		}
	}
	return nil
}
