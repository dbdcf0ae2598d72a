package scheduler

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/storagecore"
)

// nowFunc is time.Now, indirected so tests can freeze the clock.
var nowFunc = time.Now

// TaskKind names a GC task type (spec.md §4.4).
type TaskKind int

const (
	TaskRemoveRemoteFile TaskKind = iota
	TaskDeleteChunk
	TaskDeleteMiddleManPartition
	TaskDeletePartition
)

// GCTask is one deferred-deletion task, popped only once its Deadline has
// passed (spec.md §4.4 invariant: "the deadline ... is ≥ the last time a
// running query could have started using the file").
type GCTask struct {
	Kind     TaskKind
	TargetID int64
	Deadline time.Time
}

func (t GCTask) dedupeKey() string {
	return fmt.Sprintf("%d:%d", t.Kind, t.TargetID)
}

// gcHeap is a min-heap of GCTask ordered by Deadline.
type gcHeap []GCTask

func (h gcHeap) Len() int            { return len(h) }
func (h gcHeap) Less(i, j int) bool  { return h[i].Deadline.Before(h[j].Deadline) }
func (h gcHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *gcHeap) Push(x any)         { *h = append(*h, x.(GCTask)) }
func (h *gcHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// GCQueue is the data GC loop's data structure: a min-heap ordered by
// deadline plus a dedup set, so the same task is never queued twice while
// it is still pending (spec.md §4.4).
type GCQueue struct {
	mu      sync.Mutex
	heap    gcHeap
	pending map[string]struct{}
}

// NewGCQueue creates an empty GC queue.
func NewGCQueue() *GCQueue {
	return &GCQueue{pending: make(map[string]struct{})}
}

// Enqueue adds task if an equivalent task (same Kind and TargetID) isn't
// already pending.
func (q *GCQueue) Enqueue(task GCTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := task.dedupeKey()
	if _, exists := q.pending[key]; exists {
		return
	}
	q.pending[key] = struct{}{}
	heap.Push(&q.heap, task)
}

// popDue pops and returns the earliest task if its deadline has passed,
// or ok=false if the queue is empty or the earliest task isn't due yet.
func (q *GCQueue) popDue(now time.Time) (task GCTask, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 || q.heap[0].Deadline.After(now) {
		return GCTask{}, false
	}
	task = heap.Pop(&q.heap).(GCTask)
	delete(q.pending, task.dedupeKey())
	return task, true
}

// Len reports the number of pending tasks, due or not.
func (q *GCQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Executor re-checks a task's preconditions at pop time and performs the
// deletion, skipping tasks whose state has regressed (spec.md §4.4: "On
// pop, each task re-checks the metadata store ... and skips if the state
// has regressed").
type Executor struct {
	store *storagecore.Store
	log   *zap.Logger
}

// NewExecutor builds a GC task executor over the given store.
func NewExecutor(store *storagecore.Store, log *zap.Logger) *Executor {
	return &Executor{store: store, log: log}
}

// Run drains q, executing every due task and requeueing nothing: the GC
// grace interval (invariant §3.7) is honored entirely by popDue's deadline
// check, so a task popped before its deadline is simply left for the next
// tick rather than reinserted (reinsertion into a min-heap it's already
// the head of would be a no-op, but making that explicit here keeps the
// contract obvious to a reader).
func (e *Executor) Run(q *GCQueue) {
	now := nowFunc()
	for {
		task, ok := q.popDue(now)
		if !ok {
			return
		}
		if err := e.execute(task); err != nil && e.log != nil {
			e.log.Warn("gc task execution failed, will re-check on next reconcile sweep",
				zap.Int("kind", int(task.Kind)), zap.Int64("target_id", task.TargetID), zap.Error(err))
		}
	}
}

func (e *Executor) execute(task GCTask) error {
	switch task.Kind {
	case TaskDeleteChunk:
		return e.store.DeleteChunkIfStillDeactivated(task.TargetID)
	case TaskRemoveRemoteFile, TaskDeletePartition, TaskDeleteMiddleManPartition:
		return e.store.DeletePartitionFileIfDeactivated(task.TargetID)
	}
	return nil
}
