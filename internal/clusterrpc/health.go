package clusterrpc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor periodically polls every registered worker's /health
// endpoint and keeps the registry's Status/LastHealthCheck fields current.
// A worker that fails maxFailures consecutive checks triggers onUnhealthy,
// typically used to stop routing new jobs to it.
type HealthMonitor struct {
	registry    *Registry
	log         *zap.Logger
	onUnhealthy func(name string)
	interval    time.Duration
	maxFailures int

	mu     sync.Mutex
	fails  map[string]int
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor builds a monitor that checks every worker in registry
// once per interval.
func NewHealthMonitor(registry *Registry, interval time.Duration, log *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		registry:    registry,
		log:         log,
		interval:    interval,
		maxFailures: 3,
		fails:       make(map[string]int),
	}
}

// SetOnUnhealthy sets the callback invoked the first time a worker crosses
// maxFailures consecutive failed checks.
func (h *HealthMonitor) SetOnUnhealthy(callback func(name string)) {
	h.onUnhealthy = callback
}

// Run blocks, checking all workers immediately and then every interval,
// until ctx is canceled.
func (h *HealthMonitor) Run(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.checkAll(ctx)
	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels Run's loop and waits for it to return.
func (h *HealthMonitor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(ctx context.Context) {
	for _, w := range h.registry.All() {
		h.checkOne(ctx, w)
	}
}

func (h *HealthMonitor) checkOne(ctx context.Context, w WorkerInfo) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := getJSON(checkCtx, "http://"+w.Addr+"/health", &struct{}{})
	w.LastHealthCheck = time.Now()

	h.mu.Lock()
	if err != nil {
		h.fails[w.Name]++
		crossed := h.fails[w.Name] == h.maxFailures
		h.mu.Unlock()

		w.Status = "unhealthy"
		h.registry.Upsert(w)
		if h.log != nil {
			h.log.Warn("worker health check failed", zap.String("worker", w.Name), zap.Error(err))
		}
		if crossed && h.onUnhealthy != nil {
			h.onUnhealthy(w.Name)
		}
		return
	}
	h.fails[w.Name] = 0
	h.mu.Unlock()

	w.Status = "healthy"
	h.registry.Upsert(w)
}
