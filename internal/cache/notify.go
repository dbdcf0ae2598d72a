package cache

import (
	"context"

	"go.uber.org/zap"
)

// CacheLookupEvent is emitted on every cache-hit lookup and coalesced into
// the TTL buffer by a single receiver goroutine (spec.md §4.5 "Notify
// path").
type CacheLookupEvent struct {
	RowID   rowID
	KeyHash string
	RawSize int64
}

// Notifier owns the bounded MPSC lookup channel: any number of request
// goroutines send into it, exactly one goroutine (started by Run) drains
// it. Send is non-blocking (spec.md §5 "ttl_lookup_tx.try_send is
// non-blocking — drop on full"); a full channel means the lookup simply
// isn't reflected in this eviction cycle's statistics, which §4.5 marks
// explicitly as best-effort, not a correctness requirement.
//
// Open question (spec.md §4.5, Open Questions #1): whether this path
// needs exactly-once delivery. Decision recorded in DESIGN.md — it stays
// best-effort, matching the teacher's Broadcast fire-and-forget pattern
// (clusterrpc.Client.Broadcast) rather than adding a slower synchronous
// or retried send that would make every cache read pay for an eviction
// bookkeeping guarantee it doesn't need.
type Notifier struct {
	events chan CacheLookupEvent
	buf    *TTLBuffer
	log    *zap.Logger
}

// NewNotifier builds a Notifier delivering into buf, with the channel
// bounded at capacity.
func NewNotifier(buf *TTLBuffer, capacity int, log *zap.Logger) *Notifier {
	return &Notifier{
		events: make(chan CacheLookupEvent, capacity),
		buf:    buf,
		log:    log,
	}
}

// Notify attempts to enqueue ev without blocking. A full channel is
// logged at debug level and dropped.
func (n *Notifier) Notify(ev CacheLookupEvent) {
	select {
	case n.events <- ev:
	default:
		if n.log != nil {
			n.log.Debug("cache: lookup notify channel full, dropping", zap.Int64("row_id", ev.RowID))
		}
	}
}

// Run drains the lookup channel until ctx is canceled, coalescing each
// event into the TTL buffer via TTLBuffer.Touch. Intended to run as the
// single dedicated receiver goroutine named in spec.md §4.5.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case ev := <-n.events:
			n.buf.Touch(ev.RowID, ev.KeyHash, ev.RawSize)
		case <-ctx.Done():
			return
		}
	}
}
