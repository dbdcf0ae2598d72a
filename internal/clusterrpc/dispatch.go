package clusterrpc

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/scheduler"
)

// Client dispatches scheduler jobs to named workers over HTTP and implements
// scheduler.Dispatcher. A transient RPC failure is retried with backoff
// inside Dispatch; once the backoff policy is exhausted the error is
// returned to the caller (the scheduler's reconcile loop picks the job back
// up on its next sweep rather than this retrying forever).
type Client struct {
	registry *Registry
	log      *zap.Logger
	newRetry func() backoff.BackOff
}

// NewClient builds a dispatch client over the given worker registry.
func NewClient(registry *Registry, log *zap.Logger) *Client {
	return &Client{
		registry: registry,
		log:      log,
		newRetry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

// Dispatch sends job to its assigned worker. It satisfies scheduler.Dispatcher.
func (c *Client) Dispatch(job scheduler.Job) error {
	worker, ok := c.registry.Lookup(job.Worker)
	if !ok {
		return cubeerr.New(cubeerr.KindTransient, "", fmt.Sprintf("dispatch: unknown worker %q", job.Worker))
	}

	url := fmt.Sprintf("http://%s/jobs", worker.Addr)
	req := JobRequest{Kind: string(job.Kind), TargetID: job.TargetID}

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var resp JobResponse
		if err := postJSON(ctx, url, req, &resp); err != nil {
			return err
		}
		if !resp.Accepted {
			return backoff.Permanent(cubeerr.New(cubeerr.KindUser, "", fmt.Sprintf("worker %s rejected job: %s", job.Worker, resp.Error)))
		}
		return nil
	}

	if err := backoff.Retry(op, c.newRetry()); err != nil {
		if c.log != nil {
			c.log.Warn("job dispatch failed", zap.String("worker", job.Worker), zap.String("kind", string(job.Kind)), zap.Int64("target_id", job.TargetID), zap.Error(err))
		}
		return cubeerr.Wrap(cubeerr.KindTransient, "", "dispatch job", err)
	}
	return nil
}

// Broadcast pushes req to every registered worker. Failures are logged and
// do not stop the remaining sends, matching the fan-out semantics of a
// cluster-wide membership or config update.
func (c *Client) Broadcast(ctx context.Context, req BroadcastRequest) {
	for _, w := range c.registry.All() {
		url := fmt.Sprintf("http://%s/broadcast%s", w.Addr, req.Path)
		if err := postJSON(ctx, url, req, nil); err != nil && c.log != nil {
			c.log.Warn("broadcast failed", zap.String("worker", w.Name), zap.String("path", req.Path), zap.Error(err))
		}
	}
}
