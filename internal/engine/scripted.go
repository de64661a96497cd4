// ABOUTME: Scripted engine for tests — plays back a fixed step script per run
// ABOUTME: Can hang, die silently, or fail on command to exercise worker guard rails

package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/2389/switchboard/internal/command"
)

// ScriptStep describes one reasoning step of a scripted run.
type ScriptStep struct {
	Thinking string        // non-empty: emit a thinking event
	Tool     string        // non-empty: emit a tool_execution event
	Tokens   int           // >0: emit a token_usage event
	Chunks   []string      // text fragments emitted while the step is open
	Delay    time.Duration // in-step work; cancellation is not observed until the next boundary
	Hang     bool          // emit step_start, then go silent until ctx is cancelled
}

// Script is a full scripted run.
type Script struct {
	Steps       []ScriptStep
	FinalText   string // terminal complete text; empty means concatenated chunks
	FailWith    string // non-empty: terminal error instead of complete
	DieSilently bool   // close the emission channel mid-run with no terminal
	ExecuteErr  error  // returned synchronously from Execute
	PanicWith   string // non-empty: Execute panics on the caller's goroutine
}

// Scripted plays the same script for every run and records the runs it saw.
type Scripted struct {
	Script Script

	mu   sync.Mutex
	runs []Run
}

// NewScripted creates a scripted engine.
func NewScripted(script Script) *Scripted {
	return &Scripted{Script: script}
}

// RunsSeen returns a copy of every run handed to Execute.
func (s *Scripted) RunsSeen() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Run(nil), s.runs...)
}

// Execute plays the script.
func (s *Scripted) Execute(ctx context.Context, run Run) (<-chan Emission, error) {
	if s.Script.PanicWith != "" {
		panic(s.Script.PanicWith)
	}
	if s.Script.ExecuteErr != nil {
		return nil, s.Script.ExecuteErr
	}

	s.mu.Lock()
	s.runs = append(s.runs, run)
	s.mu.Unlock()

	out := make(chan Emission, 16)
	go s.play(ctx, run, out)
	return out, nil
}

func (s *Scripted) play(ctx context.Context, run Run, out chan<- Emission) {
	defer close(out)

	total := len(s.Script.Steps)
	var text strings.Builder

	for i, step := range s.Script.Steps {
		select {
		case <-ctx.Done():
			out <- Progress(s.event(run, command.EventCommandCancelled, i, total, nil))
			return
		default:
		}

		out <- Progress(s.event(run, command.EventStepStart, i, total, nil))

		if step.Hang {
			<-ctx.Done()
			out <- Progress(s.event(run, command.EventCommandCancelled, i, total, nil))
			return
		}

		if step.Thinking != "" {
			out <- Progress(s.event(run, command.EventThinking, i, total, map[string]any{"text": step.Thinking}))
		}
		if step.Tool != "" {
			out <- Progress(s.event(run, command.EventToolExecution, i, total, map[string]any{"tool": step.Tool}))
		}
		for _, chunk := range step.Chunks {
			out <- Text(chunk)
			text.WriteString(chunk)
		}
		if step.Tokens > 0 {
			out <- Progress(s.event(run, command.EventTokenUsage, i, total, map[string]any{"output_tokens": step.Tokens}))
		}
		if step.Delay > 0 {
			time.Sleep(step.Delay)
		}

		out <- Progress(s.event(run, command.EventStepComplete, i, total, nil))
	}

	if s.Script.DieSilently {
		return
	}

	// The terminal is a step boundary too: a cancel that landed during the
	// last step's work is acknowledged instead of overridden by a completion.
	select {
	case <-ctx.Done():
		out <- Progress(s.event(run, command.EventCommandCancelled, total, total, nil))
		return
	default:
	}

	if s.Script.FailWith != "" {
		out <- Failed(s.Script.FailWith)
		return
	}

	final := s.Script.FinalText
	if final == "" {
		final = text.String()
	}
	out <- Complete(final)
}

func (s *Scripted) event(run Run, typ command.EventType, step, total int, payload map[string]any) *command.ProgressEvent {
	ev := command.NewProgressEvent(run.SessionID, run.CommandID, typ, step)
	ev.TotalSteps = total
	ev.Payload = payload
	return ev
}
