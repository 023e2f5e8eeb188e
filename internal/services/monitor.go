package services

import (
	"context"
	"fmt"
	"time"

	"market-research-tracker/internal/logging"
	"market-research-tracker/internal/parallel"
)

// EventStreamer is the SSE stream surface of the task API client
type EventStreamer interface {
	StreamEvents(ctx context.Context, taskRunID string, fn func(parallel.TaskEvent) bool) error
}

// Monitor is the resilient stream-driven completion path: it follows a
// task's event stream, reconnecting with exponential backoff on transient
// failures, and finalizes (or fails) the task when it turns terminal. After
// the reconnect budget is spent it falls back to one blocking result check
// so a task that actually finished during the outage is still landed.
type Monitor struct {
	tracker  *TaskService
	streamer EventStreamer

	maxReconnects int
	backoffUnit   time.Duration
	sleep         func(time.Duration)
}

// NewMonitor creates a monitor with the given reconnect budget
func NewMonitor(tracker *TaskService, streamer EventStreamer, maxReconnects int) *Monitor {
	return &Monitor{
		tracker:       tracker,
		streamer:      streamer,
		maxReconnects: maxReconnects,
		backoffUnit:   time.Second,
		sleep:         time.Sleep,
	}
}

// reconnectDelay is the wait before reconnect attempt n (1-based),
// capped at 30 units.
func (m *Monitor) reconnectDelay(attempt int) time.Duration {
	units := 1 << attempt
	if attempt >= 5 || units > 30 {
		units = 30
	}
	return time.Duration(units) * m.backoffUnit
}

// MonitorTask follows the task until it is terminal or the reconnect budget
// is exhausted. onEvent, when non-nil, receives every normalized event and
// may be used to relay them to a client.
func (m *Monitor) MonitorTask(ctx context.Context, taskRunID string, onEvent func(parallel.TaskEvent)) error {
	log := logging.WithTaskRunID(taskRunID)

	for reconnects := 0; ; reconnects++ {
		var terminalStatus string

		streamErr := m.streamer.StreamEvents(ctx, taskRunID, func(ev parallel.TaskEvent) bool {
			if onEvent != nil {
				onEvent(ev)
			}
			if ev.Type == parallel.EventTypeStatus && parallel.IsTerminalStatus(ev.Status) {
				terminalStatus = ev.Status
				return false
			}
			return true
		})

		if terminalStatus != "" {
			return m.handleTerminal(ctx, taskRunID, terminalStatus)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A clean stream end without a terminal status is treated like a
		// disconnect: the task is still running somewhere.
		msg := "stream ended without terminal status"
		if streamErr != nil {
			msg = streamErr.Error()
			if !IsRecoverableError(msg) {
				log.Warn().Err(streamErr).Msg("non-recoverable stream failure")
				if err := m.tracker.store.MarkFailed(ctx, taskRunID, msg); err != nil {
					log.Error().Err(err).Msg("failed to mark task failed")
				}
				return streamErr
			}
		}

		if reconnects >= m.maxReconnects {
			log.Warn().Int("reconnects", reconnects).Msg("reconnect budget exhausted, falling back to result check")
			break
		}

		delay := m.reconnectDelay(reconnects + 1)
		log.Info().Str("reason", msg).Dur("delay", delay).Int("attempt", reconnects+1).Msg("stream lost, reconnecting")
		m.sleep(delay)
	}

	return m.finalCheck(ctx, taskRunID)
}

func (m *Monitor) handleTerminal(ctx context.Context, taskRunID, status string) error {
	log := logging.WithTaskRunID(taskRunID)

	if status == "completed" {
		if _, err := m.tracker.Finalize(ctx, taskRunID); err != nil {
			return fmt.Errorf("monitor finalize: %w", err)
		}
		return nil
	}

	msg := fmt.Sprintf("task %s", status)
	log.Warn().Str("status", status).Msg("task ended unsuccessfully")
	if err := m.tracker.store.MarkFailed(ctx, taskRunID, msg); err != nil {
		log.Error().Err(err).Msg("failed to mark task failed")
	}
	return nil
}

// finalCheck is the last-resort completion probe after the reconnect budget
// is gone. Finalize blocks on the result endpoint; if the task had in fact
// completed, the report still lands.
func (m *Monitor) finalCheck(ctx context.Context, taskRunID string) error {
	log := logging.WithTaskRunID(taskRunID)

	if _, err := m.tracker.Finalize(ctx, taskRunID); err != nil {
		if !IsRecoverableError(err.Error()) {
			if mErr := m.tracker.store.MarkFailed(ctx, taskRunID, err.Error()); mErr != nil {
				log.Error().Err(mErr).Msg("failed to mark task failed")
			}
		}
		return fmt.Errorf("final result check: %w", err)
	}
	log.Info().Msg("task landed via final result check")
	return nil
}
