package scheduler

import (
	"fmt"
	"hash/fnv"
)

// WorkerSet is the stable pool PickWorkerByIDs hashes into, kept in the
// order the names were given to NewWorkerSet.
// Generalized from the teacher's ShardRegistry key→shard FNV-1a hash: here
// the "shard" is a worker name rather than a numeric shard ID, so retries
// for the same job land on the same worker as long as that worker is still
// a member.
type WorkerSet struct {
	names []string
}

// NewWorkerSet builds a WorkerSet from the given worker names.
func NewWorkerSet(names []string) *WorkerSet {
	cp := append([]string(nil), names...)
	return &WorkerSet{names: cp}
}

// Names returns the worker pool, in the stable order used for hashing.
func (w *WorkerSet) Names() []string { return w.names }

// PickWorkerByIDs deterministically assigns a job identified by ids to one
// worker in the set: FNV-1a over the ids' concatenation, modulo the worker
// count (spec.md §4.3 "pick_worker_by_ids(config, [id])" — a stable
// hash-to-worker assignment so retries land on the same node whenever that
// node is still alive).
func (w *WorkerSet) PickWorkerByIDs(ids ...int64) (string, error) {
	if len(w.names) == 0 {
		return "", fmt.Errorf("scheduler: no workers registered")
	}
	h := fnv.New32a()
	for _, id := range ids {
		fmt.Fprintf(h, "%d:", id)
	}
	return w.names[int(h.Sum32())%len(w.names)], nil
}
