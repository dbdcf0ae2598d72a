package scheduler

import (
	"testing"
	"time"
)

func TestGCQueueDedupe(t *testing.T) {
	q := NewGCQueue()
	deadline := time.Now().Add(time.Minute)
	q.Enqueue(GCTask{Kind: TaskDeleteChunk, TargetID: 1, Deadline: deadline})
	q.Enqueue(GCTask{Kind: TaskDeleteChunk, TargetID: 1, Deadline: deadline.Add(time.Hour)})
	if q.Len() != 1 {
		t.Fatalf("expected duplicate enqueue to be ignored, got len %d", q.Len())
	}
}

func TestGCQueuePopRespectsDeadline(t *testing.T) {
	q := NewGCQueue()
	now := time.Now()
	q.Enqueue(GCTask{Kind: TaskDeleteChunk, TargetID: 1, Deadline: now.Add(time.Hour)})

	if _, ok := q.popDue(now); ok {
		t.Fatal("expected task not yet due to stay queued")
	}
	if _, ok := q.popDue(now.Add(2 * time.Hour)); !ok {
		t.Fatal("expected task past its deadline to pop")
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after pop, got len %d", q.Len())
	}
}

func TestGCQueuePopOrdersByDeadline(t *testing.T) {
	q := NewGCQueue()
	now := time.Now()
	q.Enqueue(GCTask{Kind: TaskDeleteChunk, TargetID: 2, Deadline: now.Add(2 * time.Minute)})
	q.Enqueue(GCTask{Kind: TaskDeleteChunk, TargetID: 1, Deadline: now.Add(1 * time.Minute)})

	task, ok := q.popDue(now.Add(time.Hour))
	if !ok {
		t.Fatal("expected a due task")
	}
	if task.TargetID != 1 {
		t.Fatalf("expected earliest-deadline task (id 1) to pop first, got %d", task.TargetID)
	}
}
