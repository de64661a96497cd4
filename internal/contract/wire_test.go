// ABOUTME: Contract tests for the JSON wire surface to detect breaking API changes.
// ABOUTME: Validates field names on the shapes that SSE, NDJSON, and history responses carry.

package contract

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/command"
	"github.com/2389/switchboard/internal/store"
)

// expectedWire defines the contract for our JSON wire surface. These shapes
// cross process boundaries (SSE data frames, NDJSON stream lines, history
// responses); renaming a field breaks every deployed client.
var expectedWire = map[string][]string{
	"ProgressEvent": {
		"session_id", "command_id", "type", "step_index",
		"total_steps", "payload", "at",
	},
	"StreamChunk": {
		"command_id", "sequence", "text", "is_final",
	},
	"Transcript": {
		"command_id", "session_id", "workspace_id", "seq",
		"message", "attachment_ref", "status", "result",
		"failure_reason", "steps", "created_at", "started_at",
		"finished_at",
	},
}

// expectedEventTypes are the progress event names used as SSE event fields.
// Subscribers dispatch on these strings.
var expectedEventTypes = map[string]command.EventType{
	"step_start":        command.EventStepStart,
	"thinking":          command.EventThinking,
	"tool_execution":    command.EventToolExecution,
	"token_usage":       command.EventTokenUsage,
	"step_complete":     command.EventStepComplete,
	"error":             command.EventError,
	"command_cancelled": command.EventCommandCancelled,
}

// wireKeys marshals a sample value and returns the set of JSON keys it
// produced. Samples must populate every omitempty field or the key set
// comes back short.
func wireKeys(t *testing.T, sample any) map[string]bool {
	t.Helper()

	data, err := json.Marshal(sample)
	require.NoError(t, err, "failed to marshal sample")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded), "failed to decode sample")

	keys := make(map[string]bool, len(decoded))
	for k := range decoded {
		keys[k] = true
	}
	return keys
}

// TestWireSurface verifies that all expected JSON fields exist on the wire
// shapes. This acts as a contract test to prevent accidental breaking
// changes to the API surface.
func TestWireSurface(t *testing.T) {
	now := time.Now().UTC()

	samples := map[string]any{
		"ProgressEvent": &command.ProgressEvent{
			SessionID:  "s",
			CommandID:  "c",
			Type:       command.EventStepStart,
			StepIndex:  0,
			TotalSteps: 3,
			Payload:    map[string]any{"text": "x"},
			At:         now,
		},
		"StreamChunk": &command.StreamChunk{
			CommandID: "c",
			Sequence:  1,
			Text:      "x",
			IsFinal:   true,
		},
		"Transcript": &store.Transcript{
			CommandID:     "c",
			SessionID:     "s",
			WorkspaceID:   "w",
			Seq:           1,
			Message:       "hi",
			AttachmentRef: "ref",
			Status:        "completed",
			Result:        "ok",
			FailureReason: "none",
			Steps:         3,
			CreatedAt:     now,
			StartedAt:     &now,
			FinishedAt:    &now,
		},
	}

	for shape, expectedFields := range expectedWire {
		t.Run(shape, func(t *testing.T) {
			sample, exists := samples[shape]
			require.True(t, exists, "shape %s needs a sample", shape)

			actualFields := wireKeys(t, sample)

			// Verify each expected field exists
			for _, field := range expectedFields {
				assert.True(t, actualFields[field],
					"field %s.%s should exist on the wire", shape, field)
			}

			// Report any extra fields not in contract (informational, not failure)
			for field := range actualFields {
				found := slices.Contains(expectedFields, field)
				if !found {
					t.Logf("INFO: extra field %s.%s not in contract (consider adding)", shape, field)
				}
			}
		})
	}
}

// TestEventTypeNames verifies the progress event names on the wire. These
// become SSE event fields, so a rename silently drops events in clients.
func TestEventTypeNames(t *testing.T) {
	for wire, typ := range expectedEventTypes {
		assert.Equal(t, wire, string(typ), "event type %s should keep its wire name", wire)
	}

	// The set itself is part of the contract: new types need new handling in
	// every subscriber before they ship.
	assert.Len(t, expectedEventTypes, 7, "event type set changed; update subscribers and this contract")
}
