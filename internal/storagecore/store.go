// Package storagecore owns the partition/chunk lifecycle: the write path
// (remap, sort, partition, aggregate roll-up), compaction, multi-partition
// split and repartition, and the partition state machine, all under the
// invariants in spec.md §3.
package storagecore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/colfile"
	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

// FileStore is the backing remote file store for uploaded partition and
// chunk files, kept as an interface (rather than a concrete S3/GCS
// client) per spec.md §1's "treated as an opaque columnar file store."
// MemoryFileStore below is the in-process implementation used by tests
// and single-node deployments; it is adapted from the teacher's
// storage.Store contract (copy-in, copy-out, thread-safe).
type FileStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

// MemoryFileStore implements FileStore with an in-memory map guarded by a
// single RWMutex, directly in the shape of the teacher's MemoryStore.
type MemoryFileStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{files: make(map[string][]byte)}
}

func (m *MemoryFileStore) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[name] = stored
	return nil
}

func (m *MemoryFileStore) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("storagecore: file %q not found", name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryFileStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

// DirFileStore implements FileStore over a local directory, the single-node
// on-disk backend `cubestored serve` uses in place of a real S3/GCS client
// (still "opaque columnar file store" per spec.md §1 — only the bytes
// differ, not the contract).
type DirFileStore struct {
	dir string
}

// NewDirFileStore returns a FileStore rooted at dir, creating it if needed.
func NewDirFileStore(dir string) (*DirFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storagecore: create file store dir %s: %w", dir, err)
	}
	return &DirFileStore{dir: dir}, nil
}

func (d *DirFileStore) path(name string) (string, error) {
	clean := filepath.Clean(name)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("storagecore: invalid file name %q", name)
	}
	return filepath.Join(d.dir, clean), nil
}

func (d *DirFileStore) Put(_ context.Context, name string, data []byte) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("storagecore: mkdir for %s: %w", name, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("storagecore: write %s: %w", name, err)
	}
	return nil
}

func (d *DirFileStore) Get(_ context.Context, name string) ([]byte, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("storagecore: read %s: %w", name, err)
	}
	return data, nil
}

func (d *DirFileStore) Delete(_ context.Context, name string) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storagecore: delete %s: %w", name, err)
	}
	return nil
}

// InMemoryChunk is a chunk whose rows live only on the owning process
// (Chunk.InMemory == true), never uploaded to the file store. Queries
// read it directly; the scheduler may later promote it to an uploaded
// chunk via compaction.
type InMemoryChunk struct {
	Rows  []model.Row
	Owner string
}

// Store is the partition/chunk store for one cubestore process: it owns
// the metadata rows (via metastore.Store), the remote file store, and the
// in-memory chunk table (spec.md §5 "RwLock<map<chunk_id, RecordBatch>>").
type Store struct {
	Meta     *metastore.Store
	Files    FileStore
	log      *zap.Logger
	nextPart int64 // atomic: monotonic partition IDs, ordered and compared

	memMu  sync.RWMutex
	memory map[int64]*InMemoryChunk // chunk ID -> in-memory rows
}

// New builds a partition/chunk store over an already-open metastore and
// file store.
func New(meta *metastore.Store, files FileStore, log *zap.Logger) *Store {
	return &Store{
		Meta:   meta,
		Files:  files,
		log:    log,
		memory: make(map[int64]*InMemoryChunk),
	}
}

func (s *Store) newPartitionID() int64 {
	return atomic.AddInt64(&s.nextPart, 1)
}

func newChunkID() int64 {
	// Chunk IDs use a UUID-derived int64 rather than a monotonic counter
	// (spec.md supplement: uuid for Job/Chunk/QueueItem IDs, unlike the
	// ordered, compared Partition ID).
	id := uuid.New()
	var n int64
	for _, b := range id[:8] {
		n = (n << 8) | int64(b)
	}
	if n < 0 {
		n = -n
	}
	return n
}

// LoadIndex fetches an Index row, failing with a KindUser error if absent
// (an unknown index is a client-visible condition, not an internal one).
func (s *Store) LoadIndex(indexID int64) (*model.Index, error) {
	var ix model.Index
	if err := metastore.GetRow(s.Meta, metastore.BucketIndexes, indexID, &ix); err != nil {
		if err == metastore.ErrKeyNotFound {
			return nil, cubeerr.New(cubeerr.KindUser, cubeerr.CodeUndefinedTable, fmt.Sprintf("index %d not found", indexID))
		}
		return nil, cubeerr.Wrap(cubeerr.KindTransient, "", "read index", err)
	}
	return &ix, nil
}

// LoadTable fetches a Table row.
func (s *Store) LoadTable(tableID int64) (*model.Table, error) {
	var t model.Table
	if err := metastore.GetRow(s.Meta, metastore.BucketTables, tableID, &t); err != nil {
		if err == metastore.ErrKeyNotFound {
			return nil, cubeerr.New(cubeerr.KindUser, cubeerr.CodeUndefinedTable, fmt.Sprintf("table %d not found", tableID))
		}
		return nil, cubeerr.Wrap(cubeerr.KindTransient, "", "read table", err)
	}
	return &t, nil
}

// ActivePartitions returns every active partition of indexID, sorted
// ascending by min key (nil/open-min sorts first). This is the read-side
// "copy-returning snapshot" pattern adapted from the teacher's
// ShardRegistry: callers get an independent slice, never a live view.
func (s *Store) ActivePartitions(indexID int64) ([]*model.Partition, error) {
	ix, err := s.LoadIndex(indexID)
	if err != nil {
		return nil, err
	}
	var parts []*model.Partition
	err = metastore.ListRows(s.Meta, metastore.BucketPartitions, func(data []byte) error {
		var p model.Partition
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.IndexID == indexID && p.State == model.PartitionActive {
			parts = append(parts, &p)
		}
		return nil
	})
	if err != nil {
		return nil, cubeerr.Wrap(cubeerr.KindTransient, "", "list partitions", err)
	}
	sortPartitionsByMin(parts, ix.SortKey())
	return parts, nil
}

// ChunksOf returns every active chunk of partitionID, ascending by ID.
// Chunk IDs are UUID-derived (see newChunkID), so this order is neither
// creation order nor row-count order.
func (s *Store) ChunksOf(partitionID int64) ([]*model.Chunk, error) {
	var chunks []*model.Chunk
	err := metastore.ListRows(s.Meta, metastore.BucketChunks, func(data []byte) error {
		var c model.Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		if c.PartitionID == partitionID && c.Active {
			chunks = append(chunks, &c)
		}
		return nil
	})
	if err != nil {
		return nil, cubeerr.Wrap(cubeerr.KindTransient, "", "list chunks", err)
	}
	sortChunksByID(chunks)
	return chunks, nil
}

// PartitionsByMultiPartition returns every partition belonging to
// multiPartitionID, regardless of state, for callers (the split job
// handler) that need the full membership rather than only active rows.
func (s *Store) PartitionsByMultiPartition(multiPartitionID int64) ([]*model.Partition, error) {
	var parts []*model.Partition
	err := metastore.ListRows(s.Meta, metastore.BucketPartitions, func(data []byte) error {
		var p model.Partition
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.MultiPartitionID != nil && *p.MultiPartitionID == multiPartitionID {
			parts = append(parts, &p)
		}
		return nil
	})
	if err != nil {
		return nil, cubeerr.Wrap(cubeerr.KindTransient, "", "list multi-partition members", err)
	}
	return parts, nil
}

// PartitionRows returns a partition's full current row set: its main-table
// rows plus every active chunk's rows, main rows first, then each chunk's
// rows in ChunksOf order. It exists for callers outside this package (the
// split/repartition job handlers) that need the same row sources Compact
// reads internally via chunkFile/partitionMainFile.
func (s *Store) PartitionRows(ctx context.Context, partitionID int64) ([]model.Row, error) {
	var parts []*model.Partition
	err := metastore.ListRows(s.Meta, metastore.BucketPartitions, func(data []byte) error {
		var p model.Partition
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.ID == partitionID {
			parts = append(parts, &p)
		}
		return nil
	})
	if err != nil {
		return nil, cubeerr.Wrap(cubeerr.KindTransient, "", "load partition", err)
	}
	if len(parts) == 0 {
		return nil, cubeerr.New(cubeerr.KindUser, cubeerr.CodeUndefinedTable, fmt.Sprintf("partition %d not found", partitionID))
	}
	p := parts[0]

	mainFile, err := s.partitionMainFile(ctx, p)
	if err != nil {
		return nil, err
	}
	rows := append([]model.Row{}, mainFile.Rows()...)

	chunks, err := s.ChunksOf(partitionID)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		cf, err := s.chunkFile(ctx, c)
		if err != nil {
			return nil, err
		}
		rows = append(rows, cf.Rows()...)
	}
	return rows, nil
}

// chunkFile loads a chunk's rows, whether in-memory or uploaded.
func (s *Store) chunkFile(ctx context.Context, c *model.Chunk) (*colfile.File, error) {
	if c.InMemory {
		s.memMu.RLock()
		mem, ok := s.memory[c.ID]
		s.memMu.RUnlock()
		if !ok {
			return nil, cubeerr.New(cubeerr.KindInternal, "", fmt.Sprintf("in-memory chunk %d missing from owner map", c.ID))
		}
		return colfile.NewFile(nil, mem.Rows), nil
	}
	data, err := s.Files.Get(ctx, colfile.FileName("chunk", c.ID, ""))
	if err != nil {
		return nil, cubeerr.Wrap(cubeerr.KindTransient, "", "download chunk file", err)
	}
	return colfile.Decode(data)
}

// uploadPartitionRows encodes rows as a colfile under columns' schema,
// uploads it as partitionID's main file, and records the resulting file
// size on partition.
func (s *Store) uploadPartitionRows(ctx context.Context, partition *model.Partition, columns []string, rows []model.Row) error {
	f := colfile.NewFile(columns, rows)
	data, err := f.Encode()
	if err != nil {
		return cubeerr.Wrap(cubeerr.KindInternal, "", "encode partition file", err)
	}
	if err := s.Files.Put(ctx, colfile.FileName("partition", partition.ID, ""), data); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "upload partition file", err)
	}
	partition.FileSize = int64(len(data))
	return nil
}

// partitionMainFile loads a partition's main-table rows, or an empty file
// if the partition has never been written (a freshly created child).
func (s *Store) partitionMainFile(ctx context.Context, p *model.Partition) (*colfile.File, error) {
	if p.MainRowCount == 0 {
		return colfile.NewFile(nil, nil), nil
	}
	data, err := s.Files.Get(ctx, colfile.FileName("partition", p.ID, ""))
	if err != nil {
		return nil, cubeerr.Wrap(cubeerr.KindTransient, "", "download partition file", err)
	}
	return colfile.Decode(data)
}
