package metastore

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

// BboltKV implements KV over an embedded bbolt log file, the durable
// backing engine spec.md §6.4 calls for ("an embedded key-value store
// holds rows typed by table-id"). bbolt's own mmap'd B+tree gives us the
// "single writer, concurrent snapshot readers" property for free: every
// Get/List below runs inside a read-only transaction, and Put/Delete
// inside a (serialized, by bbolt itself) read-write transaction.
type BboltKV struct {
	db *bolt.DB
}

// OpenBboltKV opens (creating if necessary) a bbolt database at path.
func OpenBboltKV(path string) (*BboltKV, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	return &BboltKV{db: db}, nil
}

func (b *BboltKV) Get(bucket, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return ErrKeyNotFound
		}
		v := bk.Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BboltKV) Put(bucket, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return bk.Put([]byte(key), value)
	})
}

func (b *BboltKV) Delete(bucket, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return nil
		}
		return bk.Delete([]byte(key))
	})
}

func (b *BboltKV) List(bucket string) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if keys == nil {
		keys = []string{}
	}
	return keys, err
}

func (b *BboltKV) Stats() KVStats {
	var stats KVStats
	_ = b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bk *bolt.Bucket) error {
			return bk.ForEach(func(_, v []byte) error {
				stats.Keys++
				stats.Bytes += len(v)
				return nil
			})
		})
	})
	return stats
}

func (b *BboltKV) Close() error { return b.db.Close() }
