package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-research-tracker/internal/models"
	"market-research-tracker/internal/parallel"
)

// scriptedStreamer replays one scripted outcome per connection attempt
type scriptedStreamer struct {
	script []streamAttempt
	calls  int
}

type streamAttempt struct {
	events []parallel.TaskEvent
	err    error
}

func (s *scriptedStreamer) StreamEvents(_ context.Context, _ string, fn func(parallel.TaskEvent) bool) error {
	attempt := s.script[len(s.script)-1]
	if s.calls < len(s.script) {
		attempt = s.script[s.calls]
	}
	s.calls++
	for _, ev := range attempt.events {
		if !fn(ev) {
			return nil
		}
	}
	return attempt.err
}

func statusEvent(status string) parallel.TaskEvent {
	return parallel.TaskEvent{
		Type:     parallel.EventTypeStatus,
		Category: "status",
		Status:   status,
	}
}

func newTestMonitor(st *fakeTrackerStore, results *fakeResults, streamer EventStreamer, maxReconnects int) (*Monitor, *[]time.Duration) {
	tracker := newTestTracker(st, results, nil)
	tracker.Register("run-m", models.TaskMetadata{Industry: "Fintech"}, "")

	m := NewMonitor(tracker, streamer, maxReconnects)
	var sleeps []time.Duration
	m.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return m, &sleeps
}

func TestMonitor_MonitorTask(t *testing.T) {
	ctx := context.Background()
	okResult := &parallel.TaskResult{Output: parallel.TaskOutput{Content: "body"}}

	t.Run("Should finalize when the stream reports completion", func(t *testing.T) {
		st := newFakeTrackerStore()
		streamer := &scriptedStreamer{script: []streamAttempt{
			{events: []parallel.TaskEvent{
				{Type: parallel.EventTypeProgress, Category: "progress"},
				statusEvent("completed"),
			}},
		}}
		m, sleeps := newTestMonitor(st, &fakeResults{result: okResult}, streamer, 10)

		err := m.MonitorTask(ctx, "run-m", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, st.completeCount())
		assert.Empty(t, *sleeps)
	})

	t.Run("Should back off exponentially between reconnects", func(t *testing.T) {
		st := newFakeTrackerStore()
		streamer := &scriptedStreamer{script: []streamAttempt{
			{err: &staticError{"stream connection failed: EOF"}},
		}}
		m, sleeps := newTestMonitor(st, &fakeResults{result: okResult}, streamer, 3)

		err := m.MonitorTask(ctx, "run-m", nil)
		require.NoError(t, err)

		assert.Equal(t, 4, streamer.calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *sleeps)
		// The fallback result check landed the report anyway.
		assert.Equal(t, 1, st.completeCount())
	})

	t.Run("Should reconnect when the stream ends without a terminal status", func(t *testing.T) {
		st := newFakeTrackerStore()
		streamer := &scriptedStreamer{script: []streamAttempt{
			{events: []parallel.TaskEvent{{Type: parallel.EventTypeProgress, Category: "progress"}}},
			{events: []parallel.TaskEvent{statusEvent("completed")}},
		}}
		m, sleeps := newTestMonitor(st, &fakeResults{result: okResult}, streamer, 10)

		err := m.MonitorTask(ctx, "run-m", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, streamer.calls)
		assert.Equal(t, []time.Duration{2 * time.Second}, *sleeps)
	})

	t.Run("Should stop immediately on a non-recoverable stream failure", func(t *testing.T) {
		st := newFakeTrackerStore()
		streamer := &scriptedStreamer{script: []streamAttempt{
			{err: &staticError{"stream connection failed: 401 Unauthorized"}},
		}}
		m, sleeps := newTestMonitor(st, &fakeResults{result: okResult}, streamer, 10)

		err := m.MonitorTask(ctx, "run-m", nil)
		require.Error(t, err)
		assert.Equal(t, 1, streamer.calls)
		assert.Empty(t, *sleeps)
		assert.Contains(t, st.failed["run-m"], "401")
	})

	t.Run("Should mark the row failed when the task ends unsuccessfully", func(t *testing.T) {
		st := newFakeTrackerStore()
		streamer := &scriptedStreamer{script: []streamAttempt{
			{events: []parallel.TaskEvent{statusEvent("failed")}},
		}}
		m, _ := newTestMonitor(st, &fakeResults{result: okResult}, streamer, 10)

		err := m.MonitorTask(ctx, "run-m", nil)
		require.NoError(t, err)
		assert.Equal(t, "task failed", st.failed["run-m"])
		assert.Equal(t, 0, st.completeCount())
	})

	t.Run("Should relay events to the callback", func(t *testing.T) {
		st := newFakeTrackerStore()
		streamer := &scriptedStreamer{script: []streamAttempt{
			{events: []parallel.TaskEvent{
				{Type: parallel.EventTypeLog, Category: "log", Message: "searching"},
				statusEvent("completed"),
			}},
		}}
		m, _ := newTestMonitor(st, &fakeResults{result: okResult}, streamer, 10)

		var seen []string
		err := m.MonitorTask(ctx, "run-m", func(ev parallel.TaskEvent) {
			seen = append(seen, ev.Category)
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"log", "status"}, seen)
	})
}

func TestMonitor_reconnectDelay(t *testing.T) {
	m := NewMonitor(nil, nil, 10)

	assert.Equal(t, 2*time.Second, m.reconnectDelay(1))
	assert.Equal(t, 4*time.Second, m.reconnectDelay(2))
	assert.Equal(t, 8*time.Second, m.reconnectDelay(3))
	assert.Equal(t, 16*time.Second, m.reconnectDelay(4))
	// Capped from here on.
	assert.Equal(t, 30*time.Second, m.reconnectDelay(5))
	assert.Equal(t, 30*time.Second, m.reconnectDelay(9))
}
