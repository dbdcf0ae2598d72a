package cache

import (
	"context"

	"github.com/cubedb/cubestore/internal/cubeerr"
)

// Load performs the manager's one-time bootstrap scan (spec.md §4.5
// "Loading"): Initial (or a previously failed attempt, LoadingFailed) ->
// Loading -> Ready, populating the atomic totals from every row
// currently in the CacheItems bucket and opportunistically collecting
// rows whose TTL has already passed for immediate deletion.
//
// Load is a no-op returning nil if the manager is already past Loading
// (Ready, EvictionStarted, TruncationStarted) or if another caller's
// Load is already in flight — callers don't need to coordinate who
// calls it first.
func (m *Manager) Load(ctx context.Context) error {
	if !m.transitionFrom(StateInitial, StateLoading) && !m.transitionFrom(StateLoadingFailed, StateLoading) {
		return nil
	}

	rows, err := m.scanCacheItems()
	if err != nil {
		m.setState(StateLoadingFailed)
		return cubeerr.Wrap(cubeerr.KindTransient, "", "load cache item index", err)
	}

	now := nowFunc()
	var keys, size int64
	var expired []int64
	for _, r := range rows {
		keys++
		size += r.item.RawSize
		if r.item.TTL != nil && r.item.TTL.Before(now) {
			expired = append(expired, r.id)
		}
	}

	m.setTotals(keys, size)
	m.setState(StateReady)

	if len(expired) == 0 {
		return nil
	}
	// Totals above already counted the expired rows; deleteBatches
	// decrements them back out as it actually removes each one, so the
	// net result is the correct post-cleanup total.
	return m.deleteBatches(ctx, expired)
}
