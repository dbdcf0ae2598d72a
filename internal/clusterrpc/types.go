// Package clusterrpc carries jobs from the scheduler to named cube workers
// and broadcasts cluster-membership and config events to all of them.
package clusterrpc

import (
	"encoding/json"
	"time"
)

// WorkerInfo identifies one cubeworker process reachable over HTTP.
type WorkerInfo struct {
	// Name is the stable worker identifier used by the scheduler's
	// hash-based dispatch (scheduler.WorkerSet); it must match the name
	// passed to NewWorkerSet.
	Name string `json:"name"`

	// Addr is "host:port" for the worker's RPC listener.
	Addr string `json:"addr"`

	// Status is set by the last health check: "healthy" or "unhealthy". It
	// is empty before the first check completes.
	Status string `json:"status,omitempty"`

	// LastHealthCheck records when Status was last refreshed.
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`
}

// JobRequest is the wire form of a scheduler job sent to a worker.
type JobRequest struct {
	Kind     string `json:"kind"`
	TargetID int64  `json:"target_id"`
}

// JobResponse is a worker's reply to a dispatched job.
type JobResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// BroadcastRequest is a message pushed to every worker, independent of the
// per-worker job queue: cluster membership changes, config reloads.
type BroadcastRequest struct {
	// Path names the kind of broadcast so a worker can route it, e.g.
	// "/cluster/workers", "/config/reload".
	Path string `json:"path"`

	// Payload is deferred-parsed JSON; its shape is defined by Path.
	Payload json.RawMessage `json:"payload"`
}
