package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler wires the event bus, reactor, GC queue and reconcile loop into
// the three long-lived loops spec.md §4.3 describes, every one of which
// observes a shared cancellation context and drains in bounded time on
// cancel (spec.md §4.3 "Cancellation").
type Scheduler struct {
	bus         *Bus
	reactor     *Reactor
	gc          *GCQueue
	gcExecutor  *Executor
	reconciler  *Reconciler
	gcInterval  time.Duration
	reconcileInterval time.Duration
	log         *zap.Logger
}

// New builds a Scheduler over an already-constructed bus, reactor,
// GC queue/executor and reconciler.
func New(bus *Bus, reactor *Reactor, gc *GCQueue, gcExecutor *Executor, reconciler *Reconciler, gcInterval, reconcileInterval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		bus:               bus,
		reactor:           reactor,
		gc:                gc,
		gcExecutor:        gcExecutor,
		reconciler:        reconciler,
		gcInterval:        gcInterval,
		reconcileInterval: reconcileInterval,
		log:               log,
	}
}

// Run starts the event-reaction loop, the GC loop and the reconcile loop,
// blocking until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	events, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	gcTicker := time.NewTicker(s.gcInterval)
	defer gcTicker.Stop()
	reconcileTicker := time.NewTicker(s.reconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := s.reactor.React(ev); err != nil && s.log != nil {
				s.log.Warn("scheduler: reaction failed", zap.Error(err))
			}
		case <-gcTicker.C:
			s.gcExecutor.Run(s.gc)
		case <-reconcileTicker.C:
			if err := s.reconciler.Run(ctx); err != nil && s.log != nil {
				s.log.Warn("scheduler: reconcile pass failed", zap.Error(err))
			}
		}
	}
}
