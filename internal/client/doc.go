// Package client consumes a session's progress feed on behalf of a terminal
// or UI frontend.
//
// # Overview
//
// A Subscriber dials the server's per-session SSE endpoint, folds the
// incoming progress events into ordered Task aggregates (one per step), and
// reconnects across transient drops. Reconnection uses a linear backoff:
// attempt n waits n*BaseDelay, and after MaxAttempts consecutive failures
// the subscriber stops for good. A successful reconnect resets the counter.
//
// # Connection states
//
// The connection lifecycle is an explicit state machine:
//
//	Disconnected → Connecting → Connected → Reconnecting → (Connecting | Failed)
//
// StateFailed is terminal. Run returns ErrReconnectExhausted when it is
// reached; the caller decides whether to show a disconnect indicator or
// build a fresh subscriber.
//
// Because the feed has no replay, a subscriber that reconnects mid-command
// misses the events published while it was away. Task folding tolerates
// this: enrichment events for a step whose step_start was missed are
// dropped rather than misfiled.
//
// # Usage
//
//	transport := &client.SSETransport{BaseURL: "http://localhost:8080"}
//	sub := client.New(transport, sessionID, client.Options{
//		OnEvent: func(ev *command.ProgressEvent) { render(ev) },
//	})
//	if err := sub.Run(ctx); errors.Is(err, client.ErrReconnectExhausted) {
//		fmt.Println("disconnected")
//	}
//
// Transport is an interface so tests can script connection drops without
// sockets; SSETransport is the production implementation.
package client
