package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ricorrenti/internal/cache"
	"ricorrenti/internal/core"
	"ricorrenti/internal/ports"
)

const (
	DefaultHorizonDays = 3
	upcomingCacheSize  = 64
)

// UpcomingQuery builds the read-only upcoming view. Results are cached per
// (day, horizon) until the TTL expires or Invalidate is called.
type UpcomingQuery struct {
	schedules ports.ScheduleReader
	cache     *cache.LRUCache[core.UpcomingView]
}

// NewUpcomingQuery returns an uncached query when ttl is zero.
func NewUpcomingQuery(schedules ports.ScheduleReader, ttl time.Duration) *UpcomingQuery {
	q := &UpcomingQuery{schedules: schedules}
	if ttl > 0 {
		q.cache = cache.NewLRUCache[core.UpcomingView](upcomingCacheSize, ttl)
	}
	return q
}

// Cache exposes the result cache for periodic cleanup; nil when uncached.
func (q *UpcomingQuery) Cache() cache.Cleaner {
	if q.cache == nil {
		return nil
	}
	return q.cache
}

// GetUpcoming lists active schedules due within horizonDays of now, and
// separately the active schedules blocked by insufficient funds. A blocked
// schedule only appears in the second list.
func (q *UpcomingQuery) GetUpcoming(ctx context.Context, horizonDays int, now core.Date) (core.UpcomingView, error) {
	if horizonDays < 0 {
		return core.UpcomingView{}, fmt.Errorf("%w: %d days", core.ErrInvalidHorizon, horizonDays)
	}

	key := fmt.Sprintf("%s:%d", now, horizonDays)
	var generation uint64
	if q.cache != nil {
		if v, ok := q.cache.Get(key); ok {
			return v, nil
		}
		generation = q.cache.Generation()
	}

	notBlocked, blocked := false, true
	upcoming, err := q.schedules.List(ctx, core.ScheduleFilter{
		Status:            core.StatusActive,
		NextFrom:          now,
		NextTo:            now.AddDays(horizonDays),
		InsufficientFunds: &notBlocked,
	})
	if err != nil {
		return core.UpcomingView{}, fmt.Errorf("list upcoming schedules: %w", err)
	}
	insufficient, err := q.schedules.List(ctx, core.ScheduleFilter{
		Status:            core.StatusActive,
		InsufficientFunds: &blocked,
	})
	if err != nil {
		return core.UpcomingView{}, fmt.Errorf("list blocked schedules: %w", err)
	}

	v := core.UpcomingView{
		UpcomingTransactions:          nonNil(upcoming),
		InsufficientFundsTransactions: nonNil(insufficient),
	}
	if q.cache != nil {
		// A write that invalidated the cache while we were listing makes
		// this view stale; serve it but do not keep it.
		q.cache.SetIf(generation, key, v)
	}

	slog.DebugContext(ctx, "Upcoming view computed",
		"horizon_days", horizonDays,
		"upcoming", len(v.UpcomingTransactions),
		"insufficient_funds", len(v.InsufficientFundsTransactions))
	return v, nil
}

// CacheStats reports the view cache counters; zero when uncached.
func (q *UpcomingQuery) CacheStats() cache.Stats {
	if q.cache == nil {
		return cache.Stats{}
	}
	return q.cache.Stats()
}

// Invalidate drops cached views. Register it with the writers' OnChange.
func (q *UpcomingQuery) Invalidate() {
	if q.cache != nil {
		q.cache.Clear()
	}
}

func nonNil(items []core.ScheduledTransaction) []core.ScheduledTransaction {
	if items == nil {
		return []core.ScheduledTransaction{}
	}
	return items
}
