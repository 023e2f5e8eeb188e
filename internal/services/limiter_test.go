package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLimiterStore struct {
	count    int
	countErr error
	recorded int
	lastArg  time.Time
}

func (f *fakeLimiterStore) CountReportsSince(_ context.Context, since time.Time) (int, error) {
	f.lastArg = since
	return f.count, f.countErr
}

func (f *fakeLimiterStore) RecordReportGeneration(_ context.Context) error {
	f.recorded++
	return nil
}

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	newLimiter := func(st *fakeLimiterStore, ceiling int) *RateLimiter {
		l := NewRateLimiter(st, ceiling)
		l.now = func() time.Time { return now }
		return l
	}

	t.Run("Should admit below the ceiling", func(t *testing.T) {
		st := &fakeLimiterStore{count: 3}
		allowed, count, err := newLimiter(st, 4).Allow(ctx)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 3, count)
	})

	t.Run("Should refuse at the ceiling", func(t *testing.T) {
		st := &fakeLimiterStore{count: 4}
		allowed, _, err := newLimiter(st, 4).Allow(ctx)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("Should count a trailing one hour window", func(t *testing.T) {
		st := &fakeLimiterStore{}
		_, _, err := newLimiter(st, 100).Allow(ctx)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-time.Hour), st.lastArg)
	})

	t.Run("Should propagate store failures", func(t *testing.T) {
		st := &fakeLimiterStore{countErr: assert.AnError}
		allowed, _, err := newLimiter(st, 100).Allow(ctx)
		assert.Error(t, err)
		assert.False(t, allowed)
	})
}

func TestRateLimiter_Status(t *testing.T) {
	t.Run("Should report usage and remaining", func(t *testing.T) {
		st := &fakeLimiterStore{count: 30}
		used, remaining, err := NewRateLimiter(st, 100).Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 30, used)
		assert.Equal(t, 70, remaining)
	})

	t.Run("Should floor remaining at zero after an overshoot", func(t *testing.T) {
		st := &fakeLimiterStore{count: 103}
		_, remaining, err := NewRateLimiter(st, 100).Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)
	})
}
