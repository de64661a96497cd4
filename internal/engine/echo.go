// ABOUTME: Built-in echo engine — deterministic three-step run that streams the reply back
// ABOUTME: Stands in for a real agent; exercises every event type the contract defines

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/switchboard/internal/command"
)

const echoTotalSteps = 3

// Echo is the default engine: it thinks, runs one trivial tool, then streams
// a markdown echo of the message. Deterministic output makes it usable in
// demos and smoke tests alike.
type Echo struct {
	// ChunkDelay paces chunk emission; zero means as fast as possible.
	ChunkDelay time.Duration

	logger *slog.Logger
}

// NewEcho creates an echo engine. Pass nil logger for default.
func NewEcho(chunkDelay time.Duration, logger *slog.Logger) *Echo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Echo{
		ChunkDelay: chunkDelay,
		logger:     logger.With("component", "echo-engine"),
	}
}

// Execute runs the fixed three-step plan. Cancellation is observed between
// steps: the run acknowledges with command_cancelled and stops.
func (e *Echo) Execute(ctx context.Context, run Run) (<-chan Emission, error) {
	out := make(chan Emission, 16)

	go func() {
		defer close(out)

		reply := echoReply(run.Message)

		// Step 0: read the message.
		if cancelled(ctx) {
			e.acknowledgeCancel(out, run, 0)
			return
		}
		emitStepStart(out, run, 0)
		emitProgress(out, run, command.EventThinking, 0, map[string]any{
			"text": "Reading the message and deciding how to respond.",
		})
		emitProgress(out, run, command.EventTokenUsage, 0, map[string]any{
			"input_tokens": len(strings.Fields(run.Message)),
		})
		emitProgress(out, run, command.EventStepComplete, 0, nil)

		// Step 1: the one tool this engine has.
		if cancelled(ctx) {
			e.acknowledgeCancel(out, run, 1)
			return
		}
		emitStepStart(out, run, 1)
		emitProgress(out, run, command.EventToolExecution, 1, map[string]any{
			"tool":  "echo",
			"input": run.Message,
		})
		emitProgress(out, run, command.EventStepComplete, 1, nil)

		// Step 2: stream the reply.
		if cancelled(ctx) {
			e.acknowledgeCancel(out, run, 2)
			return
		}
		emitStepStart(out, run, 2)
		for _, word := range splitKeepingSpace(reply) {
			out <- Text(word)
			if e.ChunkDelay > 0 {
				time.Sleep(e.ChunkDelay)
			}
		}
		emitProgress(out, run, command.EventTokenUsage, 2, map[string]any{
			"output_tokens": len(strings.Fields(reply)),
		})
		emitProgress(out, run, command.EventStepComplete, 2, nil)

		out <- Complete(reply)
	}()

	return out, nil
}

func (e *Echo) acknowledgeCancel(out chan<- Emission, run Run, step int) {
	e.logger.Debug("run cancelled", "command_id", run.CommandID, "step", step)
	emitProgress(out, run, command.EventCommandCancelled, step, nil)
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func emitStepStart(out chan<- Emission, run Run, step int) {
	ev := command.NewProgressEvent(run.SessionID, run.CommandID, command.EventStepStart, step)
	ev.TotalSteps = echoTotalSteps
	out <- Progress(ev)
}

func emitProgress(out chan<- Emission, run Run, typ command.EventType, step int, payload map[string]any) {
	ev := command.NewProgressEvent(run.SessionID, run.CommandID, typ, step)
	ev.TotalSteps = echoTotalSteps
	ev.Payload = payload
	out <- Progress(ev)
}

func echoReply(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "I received an empty message."
	}
	return fmt.Sprintf("Echo: **%s**\n\nThat is everything you sent me.", trimmed)
}

// splitKeepingSpace breaks text into word-sized chunks whose concatenation
// round-trips to the original.
func splitKeepingSpace(text string) []string {
	words := strings.Split(text, " ")
	chunks := make([]string, 0, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			chunks = append(chunks, w+" ")
		} else {
			chunks = append(chunks, w)
		}
	}
	return chunks
}
