// ABOUTME: Tests for the SSE transport against a stub HTTP server
// ABOUTME: Covers frame parsing, heartbeat skipping, rejection, and end of stream

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/command"
)

func TestSSETransport_DialAndNext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/sess-1/events" {
			http.NotFound(w, r)
			return
		}
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("expected Accept text/event-stream, got %s", accept)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "event: step_start\n")
		fmt.Fprint(w, `data: {"session_id":"sess-1","command_id":"cmd-1","type":"step_start","step_index":0,"total_steps":3,"at":"2026-01-02T15:04:05Z"}`+"\n\n")
		fmt.Fprint(w, "event: thinking\n")
		fmt.Fprint(w, `data: {"session_id":"sess-1","command_id":"cmd-1","type":"thinking","step_index":0,"payload":{"text":"hm"},"at":"2026-01-02T15:04:06Z"}`+"\n\n")
	}))
	defer srv.Close()

	// Trailing slash on the base URL must not break the path.
	tr := &SSETransport{BaseURL: srv.URL + "/"}

	src, err := tr.Dial(context.Background(), "sess-1")
	require.NoError(t, err)
	defer src.Close()

	ev, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, command.EventStepStart, ev.Type)
	require.Equal(t, "cmd-1", ev.CommandID)
	require.Equal(t, 0, ev.StepIndex)
	require.Equal(t, 3, ev.TotalSteps)

	ev, err = src.Next()
	require.NoError(t, err)
	require.Equal(t, command.EventThinking, ev.Type)
	require.Equal(t, "hm", ev.Payload["text"])

	// The handler returned, so the feed is over.
	_, err = src.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestSSETransport_DialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "session not found"}`)
	}))
	defer srv.Close()

	tr := &SSETransport{BaseURL: srv.URL}

	_, err := tr.Dial(context.Background(), "sess-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "session not found")
}

func TestSSETransport_DialStatusOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := &SSETransport{BaseURL: srv.URL}

	_, err := tr.Dial(context.Background(), "sess-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 502")
}

func TestSSETransport_DialUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	tr := &SSETransport{BaseURL: srv.URL}

	src, err := tr.Dial(context.Background(), "sess-1")
	require.Error(t, err)
	require.Nil(t, src)
}
