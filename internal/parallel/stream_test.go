package parallel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", srv.URL)
}

func writeSSE(w http.ResponseWriter, eventType, data string) {
	if eventType != "" {
		fmt.Fprintf(w, "event: %s\n", eventType)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestClient_StreamEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("Should deliver normalized events in order", func(t *testing.T) {
		client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
			assert.Equal(t, betaHeader, r.Header.Get("parallel-beta"))

			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "", `{"type":"task_run.progress_msg.search","message":"searching sources"}`)
			writeSSE(w, "", `{"type":"task_run.state","run":{"status":"completed"}}`)
		})

		var events []TaskEvent
		err := client.StreamEvents(ctx, "run-1", func(ev TaskEvent) bool {
			events = append(events, ev)
			return true
		})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, EventTypeLog, events[0].Type)
		assert.Equal(t, "completed", events[1].Status)
	})

	t.Run("Should stop cleanly when the callback returns false", func(t *testing.T) {
		client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			for i := 0; i < 50; i++ {
				writeSSE(w, "", `{"type":"task_run.progress_stats"}`)
			}
		})

		count := 0
		err := client.StreamEvents(ctx, "run-2", func(ev TaskEvent) bool {
			count++
			return count < 3
		})
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("Should use the SSE event line when data has no type", func(t *testing.T) {
		client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "task_run.state", `{"run":{"status":"failed"}}`)
		})

		var got TaskEvent
		err := client.StreamEvents(ctx, "run-3", func(ev TaskEvent) bool {
			got = ev
			return true
		})
		require.NoError(t, err)
		assert.Equal(t, EventTypeStatus, got.Type)
		assert.Equal(t, "failed", got.Status)
	})

	t.Run("Should reset the event type at blank lines", func(t *testing.T) {
		client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			// The blank line after the first event ends it; the second
			// data-only event must not inherit task_run.state.
			writeSSE(w, "task_run.state", `{"run":{"status":"running"}}`)
			writeSSE(w, "", `{"message":"untyped"}`)
		})

		var events []TaskEvent
		err := client.StreamEvents(ctx, "run-4", func(ev TaskEvent) bool {
			events = append(events, ev)
			return true
		})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, EventTypeStatus, events[0].Type)
		assert.Equal(t, EventTypeUnknown, events[1].Type)
	})

	t.Run("Should skip malformed payloads and continue", func(t *testing.T) {
		client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "", `{not json`)
			writeSSE(w, "", `{"type":"task_run.state","run":{"status":"completed"}}`)
		})

		var events []TaskEvent
		err := client.StreamEvents(ctx, "run-5", func(ev TaskEvent) bool {
			events = append(events, ev)
			return true
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "completed", events[0].Status)
	})

	t.Run("Should report HTTP errors as connection failures", func(t *testing.T) {
		client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no such run", http.StatusNotFound)
		})

		err := client.StreamEvents(ctx, "run-6", func(TaskEvent) bool { return true })
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrStreamConnection))
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("Should time out when the stream goes silent", func(t *testing.T) {
		client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "", `{"type":"task_run.progress_stats"}`)
			<-r.Context().Done()
		})
		client.SetStreamTimeouts(time.Second, 50*time.Millisecond)

		err := client.StreamEvents(ctx, "run-7", func(TaskEvent) bool { return true })
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrStreamConnection))
		assert.Contains(t, err.Error(), "read timeout")
	})

	t.Run("Should honor context cancellation", func(t *testing.T) {
		client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "", `{"type":"task_run.progress_stats"}`)
			<-r.Context().Done()
		})

		cancelCtx, cancel := context.WithCancel(ctx)
		err := client.StreamEvents(cancelCtx, "run-8", func(TaskEvent) bool {
			cancel()
			return true
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
