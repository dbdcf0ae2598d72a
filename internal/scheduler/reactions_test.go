package scheduler

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/storagecore"
)

type fakeDispatcher struct {
	jobs []Job
}

func (f *fakeDispatcher) Dispatch(j Job) error {
	f.jobs = append(f.jobs, j)
	return nil
}

func newTestReactor(t *testing.T, dispatch Dispatcher) (*Reactor, *storagecore.Store) {
	t.Helper()
	meta := metastore.Open(metastore.NewMemoryKV())
	t.Cleanup(func() { _ = meta.Close() })
	store := storagecore.New(meta, storagecore.NewMemoryFileStore(), zap.NewNop())
	workers := NewWorkerSet([]string{"w1", "w2"})
	gc := NewGCQueue()
	cfg := Config{SplitThreshold: 100, ChunkCountMax: 2, ChunkRowThreshold: 1000}
	return NewReactor(store, workers, dispatch, gc, cfg), store
}

func TestReactorMultiPartitionSplitDispatch(t *testing.T) {
	fd := &fakeDispatcher{}
	reactor, _ := newTestReactor(t, fd)

	if err := reactor.React(Event{Kind: EntityMultiPartition, Op: OpUpdate, ID: 7, Active: true, RowCount: 500}); err != nil {
		t.Fatalf("react: %v", err)
	}
	if len(fd.jobs) != 1 || fd.jobs[0].Kind != JobSplitMultiPartition || fd.jobs[0].TargetID != 7 {
		t.Fatalf("expected a split job for id 7, got %+v", fd.jobs)
	}
}

func TestReactorMultiPartitionBelowThresholdNoop(t *testing.T) {
	fd := &fakeDispatcher{}
	reactor, _ := newTestReactor(t, fd)

	if err := reactor.React(Event{Kind: EntityMultiPartition, Op: OpUpdate, ID: 7, Active: true, RowCount: 10}); err != nil {
		t.Fatalf("react: %v", err)
	}
	if len(fd.jobs) != 0 {
		t.Fatalf("expected no job below split threshold, got %+v", fd.jobs)
	}
}

func TestReactorChunkDeactivatedEnqueuesGC(t *testing.T) {
	fd := &fakeDispatcher{}
	reactor, _ := newTestReactor(t, fd)

	if err := reactor.React(Event{Kind: EntityChunk, Op: OpUpdate, ID: 42, Deactivated: true}); err != nil {
		t.Fatalf("react: %v", err)
	}
	if reactor.gc.Len() != 1 {
		t.Fatalf("expected 1 pending GC task, got %d", reactor.gc.Len())
	}
}

// TestGCTaskDeadlineHonorsSnapshotInterval reproduces spec.md §8's "GC
// deadline" scenario: a chunk deactivated at T with a snapshot interval
// whose doubled value exceeds not_used_timeout gets a deadline of
// T+2*snapshot_interval, and popping the queue at T+snapshot_interval (still
// short of the deadline) leaves the task queued.
func TestGCTaskDeadlineHonorsSnapshotInterval(t *testing.T) {
	fd := &fakeDispatcher{}
	meta := metastore.Open(metastore.NewMemoryKV())
	t.Cleanup(func() { _ = meta.Close() })
	store := storagecore.New(meta, storagecore.NewMemoryFileStore(), zap.NewNop())
	gc := NewGCQueue()
	snapshotInterval := 10 * time.Minute
	cfg := Config{NotUsedTimeout: time.Minute, MetaStoreSnapshotInterval: snapshotInterval}
	reactor := NewReactor(store, NewWorkerSet([]string{"w1"}), fd, gc, cfg)

	start := time.Now()
	now := start
	orig := nowFunc
	nowFunc = func() time.Time { return now }
	t.Cleanup(func() { nowFunc = orig })

	if err := reactor.React(Event{Kind: EntityChunk, Op: OpUpdate, ID: 1, Deactivated: true}); err != nil {
		t.Fatalf("react: %v", err)
	}

	if _, ok := gc.popDue(start.Add(snapshotInterval)); ok {
		t.Fatal("expected task not due yet at T+snapshot_interval")
	}

	task, ok := gc.popDue(start.Add(2*snapshotInterval + time.Second))
	if !ok {
		t.Fatal("expected task due at T+2*snapshot_interval")
	}
	wantDeadline := start.Add(2 * snapshotInterval)
	if !task.Deadline.Equal(wantDeadline) {
		t.Fatalf("expected deadline %v, got %v", wantDeadline, task.Deadline)
	}
}
