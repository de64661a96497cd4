// ABOUTME: Progress event and stream chunk shapes emitted during command execution
// ABOUTME: Events fan out on the session bus; chunks flow on the per-command stream

package command

import "time"

// EventType identifies a progress event on the wire.
type EventType string

const (
	EventStepStart        EventType = "step_start"
	EventThinking         EventType = "thinking"
	EventToolExecution    EventType = "tool_execution"
	EventTokenUsage       EventType = "token_usage"
	EventStepComplete     EventType = "step_complete"
	EventError            EventType = "error"
	EventCommandCancelled EventType = "command_cancelled"
)

// ProgressEvent is a step-level notification emitted while a Command runs.
// Ordering is guaranteed per session for one subscriber, never across
// sessions, and never against the command's stream chunks.
type ProgressEvent struct {
	SessionID  string         `json:"session_id"`
	CommandID  string         `json:"command_id"`
	Type       EventType      `json:"type"`
	StepIndex  int            `json:"step_index"`
	TotalSteps int            `json:"total_steps,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	At         time.Time      `json:"at"`
}

// NewProgressEvent stamps an event with the current time.
func NewProgressEvent(sessionID, commandID string, typ EventType, stepIndex int) *ProgressEvent {
	return &ProgressEvent{
		SessionID: sessionID,
		CommandID: commandID,
		Type:      typ,
		StepIndex: stepIndex,
		At:        time.Now(),
	}
}

// StreamChunk is an ordered fragment of generated text for one Command.
// Sequence is assigned by the stream's single writer and is strictly
// increasing per command, starting at 1.
type StreamChunk struct {
	CommandID string `json:"command_id"`
	Sequence  uint64 `json:"sequence"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final,omitempty"`
}
