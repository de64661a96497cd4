// ABOUTME: Transport abstraction for the progress feed plus the production SSE dialer
// ABOUTME: Tests inject scripted transports; the real one parses text/event-stream

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/switchboard/internal/command"
)

// EventSource is one open progress feed. Next blocks until an event arrives
// or the feed ends; a feed closed by the server returns io.EOF.
type EventSource interface {
	Next() (*command.ProgressEvent, error)
	Close() error
}

// Transport dials the progress feed of one session.
type Transport interface {
	Dial(ctx context.Context, sessionID string) (EventSource, error)
}

// SSETransport subscribes over HTTP server-sent events.
type SSETransport struct {
	BaseURL string
	Client  *http.Client // nil means http.DefaultClient
}

// Dial opens the session's event stream. Non-200 responses are surfaced as
// errors with the server's message when one is present.
func (t *SSETransport) Dial(ctx context.Context, sessionID string) (EventSource, error) {
	url := fmt.Sprintf("%s/api/sessions/%s/events", strings.TrimRight(t.BaseURL, "/"), sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	httpClient := t.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dialing event feed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			var errResp map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
				if msg, ok := errResp["error"]; ok {
					return nil, fmt.Errorf("server rejected subscription: %s", msg)
				}
			}
		}
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	return &sseSource{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// sseSource decodes text/event-stream frames into progress events.
type sseSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *sseSource) Next() (*command.ProgressEvent, error) {
	var dataLines []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) == 0 {
				continue
			}
			var ev command.ProgressEvent
			if err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &ev); err != nil {
				return nil, fmt.Errorf("parsing event data: %w", err)
			}
			return &ev, nil
		}

		// Comment lines are heartbeats; drop them.
		if strings.HasPrefix(line, ":") {
			continue
		}

		// The event name repeats the type field in the data, so only the
		// data lines matter here.
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
		}
	}

	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *sseSource) Close() error {
	return s.body.Close()
}
