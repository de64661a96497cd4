// ABOUTME: Execution engine contract: turn one command into progress events and text
// ABOUTME: Engines observe cancellation at step boundaries and acknowledge with command_cancelled

package engine

import (
	"context"

	"github.com/2389/switchboard/internal/command"
)

// Run carries one command into an engine execution.
type Run struct {
	SessionID     string
	WorkspaceID   string
	CommandID     string
	Message       string
	AttachmentRef string
	MaxSteps      int
}

// EmissionKind distinguishes what an engine produced.
type EmissionKind int

const (
	KindProgress EmissionKind = iota
	KindText
	KindComplete
	KindFailed
)

// Emission is one item on an engine's output channel. The engine emits, per
// reasoning step, a step_start progress event, zero or more
// thinking/tool_execution/token_usage events, then step_complete; text
// fragments may appear at any point while a step is open. Exactly one
// KindComplete or KindFailed ends a normal run. A cancelled run ends with a
// command_cancelled progress event and no terminal emission.
type Emission struct {
	Kind         EmissionKind
	Event        *command.ProgressEvent // KindProgress
	Text         string                 // KindText
	FinalText    string                 // KindComplete
	ErrorMessage string                 // KindFailed
}

// Progress wraps a progress event emission.
func Progress(ev *command.ProgressEvent) Emission {
	return Emission{Kind: KindProgress, Event: ev}
}

// Text wraps a generated text fragment.
func Text(text string) Emission {
	return Emission{Kind: KindText, Text: text}
}

// Complete wraps the successful terminal with the full assembled text.
func Complete(finalText string) Emission {
	return Emission{Kind: KindComplete, FinalText: finalText}
}

// Failed wraps the error terminal.
func Failed(message string) Emission {
	return Emission{Kind: KindFailed, ErrorMessage: message}
}

// Engine is the execution contract. Execute returns immediately with a
// channel the engine closes when the run is over. The engine must check ctx
// at step boundaries only: cancellation mid-step is observed at the next
// boundary, where the engine emits command_cancelled and closes the channel
// rather than terminating silently.
type Engine interface {
	Execute(ctx context.Context, run Run) (<-chan Emission, error)
}
