// Package gateway orchestrates the switchboard server components.
//
// # Overview
//
// The gateway package is the central coordinator of the switchboard server.
// It owns and manages all major components: the execution engine, session
// registry, progress bus, stream table, transcript store, and the HTTP
// server that exposes them.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config     *config.Config
//	    engine     engine.Engine
//	    bus        *progress.Bus
//	    streams    *stream.Table
//	    registry   *session.Registry
//	    store      *store.SQLiteStore
//	    metrics    *metrics.Metrics
//	    httpServer *http.Server
//	    // ... and more
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go, events.go, and history.go:
//
//   - POST /api/chat - Enqueue a command (optionally NDJSON streaming response)
//   - DELETE /api/sessions/{id}/queue/{cmd} - Cancel a queued or running command
//   - GET /api/sessions/{id}/queue - Queue status snapshot (poll-friendly)
//   - GET /api/sessions/{id}/events - Progress feed (SSE)
//   - GET /api/sessions/{id}/history - Terminal command transcripts (json|html)
//   - GET /api/sessions - List live sessions
//   - GET /api/workspaces/{id}/sessions - List live sessions in a workspace
//   - DELETE /api/sessions/{id} - Remove a session
//   - GET /healthz - Liveness check
//   - GET /readyz - Readiness check
//   - GET /metrics - Prometheus metrics (when enabled)
//
// # Chat Streaming
//
// With "stream": true, POST /api/chat answers with line-delimited JSON:
//
//	{"type":"start","command_id":"...","session_id":"...","queue_position":0}
//	{"type":"chunk","sequence":1,"text":"Echo: "}
//	{"type":"chunk","sequence":2,"text":"**hi**"}
//	{"type":"complete","text":"Echo: **hi**...","session_id":"..."}
//
// A failed command ends with {"type":"error","message":"..."} instead; a
// cancelled command ends the stream with no terminal line at all.
//
// # Progress Feed
//
// Step-level events are pushed as Server-Sent Events:
//
//	event: step_start
//	data: {"session_id":"...","command_id":"...","type":"step_start","step_index":0,...}
//
//	event: tool_execution
//	data: {...}
//
// Event types: step_start, thinking, tool_execution, token_usage,
// step_complete, error, command_cancelled. Events are not replayed: a
// subscriber attaching mid-command sees only what is emitted afterwards.
// Comment heartbeats (": heartbeat") flow every 15 seconds.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// Run stops accepting connections, tears down every session (cancelling
// in-flight commands), and closes the store, bounded by the configured
// shutdown timeout.
//
// # Key Files
//
//   - gateway.go: Gateway struct, wiring, Run/Shutdown, health endpoints
//   - api.go: chat enqueue, cancel, queue status, session management
//   - events.go: SSE progress feed
//   - history.go: transcript reads and markdown rendering
package gateway
