package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

// RunPersist takes up to cfg.PersistBatchSize entries off the TTL buffer
// (or everything, if the buffer holds fewer) and writes them back to each
// CacheItem's extended LRU/LFU/TTL fields in the metastore, including its
// secondary index copy, under one write transaction (spec.md §4.5
// "Persist loop"). A row deleted since it was buffered is silently
// skipped — the eviction loop already owns removing it from the TTL
// buffer when that happens (deleteBatches), so this is expected, not an
// error.
func (m *Manager) RunPersist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := m.buf.Drain(m.cfg.PersistBatchSize)
	if len(batch) == 0 {
		return nil
	}

	op := func() error {
		return m.meta.WithWriter(func(kv metastore.KV) error {
			for id, e := range batch {
				data, err := kv.Get(metastore.BucketCacheItems, rowKeyFor(id))
				if err != nil {
					if err == metastore.ErrKeyNotFound {
						continue
					}
					return err
				}
				var item model.CacheItem
				if err := unmarshalCacheItem(data, &item); err != nil {
					return err
				}
				// Only the notify-path's own bookkeeping (LRU/LFU) is
				// written back here; TTL is set at insert time and isn't
				// part of the ttl_buffer entry (spec.md §4.5).
				item.LRU = e.LRU
				item.LFU = e.LFU

				encoded, err := json.Marshal(item)
				if err != nil {
					return err
				}
				if err := kv.Put(metastore.BucketCacheItems, rowKeyFor(id), encoded); err != nil {
					return err
				}
				if err := kv.Put(metastore.BucketCacheItemsByPath, rowKeyFor(id), encoded); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := backoff.Retry(op, m.newRetry()); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "persist ttl buffer", err)
	}
	return nil
}

// RunPersistLoop runs RunPersist on interval until ctx is canceled,
// logging (not propagating) failures so one bad tick doesn't stop the
// loop, matching the teacher's scheduler.Scheduler ticker-driven run
// loop shape.
func (m *Manager) RunPersistLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.RunPersist(ctx); err != nil && m.log != nil {
				m.log.Warn("cache: persist loop failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
