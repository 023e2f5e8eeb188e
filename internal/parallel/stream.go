package parallel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"market-research-tracker/internal/logging"
)

// ErrStreamConnection marks a network-level stream failure, as opposed to an
// application-level error reported inside the stream. Callers match it with
// errors.Is to apply the reconnect policy.
var ErrStreamConnection = errors.New("stream connection failed")

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 5 * time.Minute
)

// SetStreamTimeouts overrides the stream connect timeout and the idle-read
// timeout. The read timeout is long on purpose: task processing has natural
// silent gaps between events.
func (c *Client) SetStreamTimeouts(connect, read time.Duration) {
	c.connectTimeout = connect
	c.readTimeout = read
}

func (c *Client) streamTimeouts() (time.Duration, time.Duration) {
	connect, read := c.connectTimeout, c.readTimeout
	if connect == 0 {
		connect = defaultConnectTimeout
	}
	if read == 0 {
		read = defaultReadTimeout
	}
	return connect, read
}

// StreamEvents consumes the SSE event stream for a task run, invoking fn for
// each normalized event. Returning false from fn ends the stream cleanly.
// Network failures (including idle-read timeouts) are reported wrapped in
// ErrStreamConnection; malformed event payloads are logged and skipped.
func (c *Client) StreamEvents(ctx context.Context, taskRunID string, fn func(TaskEvent) bool) error {
	logger := logging.WithComponent("parallel-stream")
	connectTimeout, readTimeout := c.streamTimeouts()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/tasks/runs/%s/events", c.baseURL, taskRunID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("parallel-beta", betaHeader)

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
			ResponseHeaderTimeout: connectTimeout,
		},
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStreamConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrStreamConnection, resp.Status, strings.TrimSpace(string(body)))
	}

	// Watchdog: cancel the request when no line arrives within readTimeout.
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(readTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	currentEventType := ""
	for scanner.Scan() {
		watchdog.Reset(readTimeout)
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event:"):
			currentEventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(line[len("data:"):])
			if data == "" {
				continue
			}
			var raw rawEvent
			if err := json.Unmarshal([]byte(data), &raw); err != nil {
				logger.Warn().Str("task_run_id", taskRunID).Err(err).Msg("skipping malformed stream event")
				continue
			}
			if !fn(normalizeEvent(currentEventType, raw)) {
				return nil
			}
		case line == "":
			// Blank line ends the event; the type does not carry over.
			currentEventType = ""
		}
	}

	if err := scanner.Err(); err != nil {
		if timedOut.Load() {
			return fmt.Errorf("%w: read timeout after %s", ErrStreamConnection, readTimeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrStreamConnection, err)
	}
	return nil
}
