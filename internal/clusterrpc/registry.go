package clusterrpc

import "sync"

// Registry holds the current set of known workers, keyed by name. It is the
// clusterrpc-side counterpart of scheduler.WorkerSet: the scheduler picks a
// worker *name* by hashing job IDs, and the registry resolves that name to
// an address for the actual RPC.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]WorkerInfo
}

// NewRegistry builds a registry seeded with the given workers.
func NewRegistry(workers []WorkerInfo) *Registry {
	r := &Registry{workers: make(map[string]WorkerInfo, len(workers))}
	for _, w := range workers {
		r.workers[w.Name] = w
	}
	return r
}

// Lookup returns the worker registered under name.
func (r *Registry) Lookup(name string) (WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Upsert adds or replaces a worker's entry.
func (r *Registry) Upsert(w WorkerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.Name] = w
}

// Remove drops a worker from the registry, e.g. after repeated health-check
// failures or an explicit decommission.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, name)
}

// All returns a snapshot of every registered worker.
func (r *Registry) All() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// Names returns the registered worker names, suitable for
// scheduler.NewWorkerSet.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.workers))
	for name := range r.workers {
		out = append(out, name)
	}
	return out
}
