package services

import (
	"context"
	"time"

	"market-research-tracker/internal/logging"
)

// LimiterStore is the persistence surface the rate limiter needs.
type LimiterStore interface {
	CountReportsSince(ctx context.Context, since time.Time) (int, error)
	RecordReportGeneration(ctx context.Context) error
}

// RateLimiter enforces a global sliding-window cap on report generation.
// The window is the trailing hour; the check is read-then-decide, so
// concurrent admissions can briefly overshoot the ceiling. That matches the
// intended behavior for a demo-scale deployment.
type RateLimiter struct {
	store   LimiterStore
	ceiling int
	window  time.Duration
	now     func() time.Time
}

func NewRateLimiter(store LimiterStore, ceiling int) *RateLimiter {
	return &RateLimiter{
		store:   store,
		ceiling: ceiling,
		window:  time.Hour,
		now:     time.Now,
	}
}

// Allow reports whether another report may be generated right now, along with
// the current count inside the window.
func (r *RateLimiter) Allow(ctx context.Context) (bool, int, error) {
	since := r.now().Add(-r.window)
	count, err := r.store.CountReportsSince(ctx, since)
	if err != nil {
		return false, 0, err
	}
	return count < r.ceiling, count, nil
}

// Record persists an admission at decision time so the window reflects
// requests that were let through, not only those that finished.
func (r *RateLimiter) Record(ctx context.Context) {
	if err := r.store.RecordReportGeneration(ctx); err != nil {
		log := logging.WithComponent("ratelimit")
		log.Warn().Err(err).Msg("failed to record report generation")
	}
}

// Status returns the window usage for the status endpoint.
func (r *RateLimiter) Status(ctx context.Context) (used, remaining int, err error) {
	since := r.now().Add(-r.window)
	count, err := r.store.CountReportsSince(ctx, since)
	if err != nil {
		return 0, 0, err
	}
	remaining = r.ceiling - count
	if remaining < 0 {
		remaining = 0
	}
	return count, remaining, nil
}
