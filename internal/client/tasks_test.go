// ABOUTME: Tests for folding progress events into ordered task aggregates
// ABOUTME: Covers enrichment, error terminality, orphan drops, and command turnover

package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/command"
)

func progressEvent(commandID string, typ command.EventType, step int, payload map[string]any) *command.ProgressEvent {
	ev := command.NewProgressEvent("sess-1", commandID, typ, step)
	ev.TotalSteps = 3
	ev.Payload = payload
	return ev
}

func TestBoard_FoldsSteps(t *testing.T) {
	b := newBoard()

	for _, ev := range []*command.ProgressEvent{
		progressEvent("cmd-1", command.EventStepStart, 0, nil),
		progressEvent("cmd-1", command.EventThinking, 0, map[string]any{"text": "reading the request"}),
		progressEvent("cmd-1", command.EventTokenUsage, 0, map[string]any{"input_tokens": float64(12)}),
		progressEvent("cmd-1", command.EventStepComplete, 0, nil),
		progressEvent("cmd-1", command.EventStepStart, 1, nil),
		progressEvent("cmd-1", command.EventToolExecution, 1, map[string]any{"tool": "echo"}),
		progressEvent("cmd-1", command.EventTokenUsage, 1, map[string]any{"output_tokens": float64(4)}),
		progressEvent("cmd-1", command.EventTokenUsage, 1, map[string]any{"output_tokens": float64(3)}),
		progressEvent("cmd-1", command.EventStepComplete, 1, nil),
		progressEvent("cmd-1", command.EventStepStart, 2, nil),
	} {
		b.apply(ev)
	}

	tasks := b.snapshot()
	require.Len(t, tasks, 3)

	require.Equal(t, 0, tasks[0].StepIndex)
	require.Equal(t, TaskDone, tasks[0].Status)
	require.Equal(t, "reading the request", tasks[0].Thought)
	require.Equal(t, 12, tasks[0].InputTokens)
	require.Equal(t, 3, tasks[0].TotalSteps)

	require.Equal(t, TaskDone, tasks[1].Status)
	require.Equal(t, "echo", tasks[1].Tool)
	// Usage events within one step accumulate.
	require.Equal(t, 7, tasks[1].OutputTokens)

	require.Equal(t, TaskRunning, tasks[2].Status)
}

func TestBoard_ErrorIsTerminal(t *testing.T) {
	b := newBoard()

	b.apply(progressEvent("cmd-1", command.EventStepStart, 0, nil))
	b.apply(progressEvent("cmd-1", command.EventError, 0, map[string]any{"message": "engine crashed"}))

	// Nothing after the error may mutate the step.
	b.apply(progressEvent("cmd-1", command.EventThinking, 0, map[string]any{"text": "too late"}))
	b.apply(progressEvent("cmd-1", command.EventStepComplete, 0, nil))

	tasks := b.snapshot()
	require.Len(t, tasks, 1)
	require.Equal(t, TaskErrored, tasks[0].Status)
	require.Equal(t, "engine crashed", tasks[0].Error)
	require.Empty(t, tasks[0].Thought)

	// A later step still opens normally.
	b.apply(progressEvent("cmd-1", command.EventStepStart, 1, nil))
	tasks = b.snapshot()
	require.Len(t, tasks, 2)
	require.Equal(t, TaskRunning, tasks[1].Status)
}

func TestBoard_ErrorWithoutOpenStep(t *testing.T) {
	b := newBoard()

	b.apply(progressEvent("cmd-1", command.EventStepStart, 0, nil))
	b.apply(progressEvent("cmd-1", command.EventStepComplete, 0, nil))
	// Error arrives for the already-closed step; it is marked errored since
	// the failure belongs to it.
	b.apply(progressEvent("cmd-1", command.EventError, 0, map[string]any{"message": "stalled"}))

	tasks := b.snapshot()
	require.Len(t, tasks, 1)
	require.Equal(t, TaskErrored, tasks[0].Status)
	require.Equal(t, "stalled", tasks[0].Error)
}

func TestBoard_DropsOrphanEnrichment(t *testing.T) {
	b := newBoard()

	// A subscriber that attached mid-step sees enrichments for a step whose
	// start it missed. They are dropped, not misfiled.
	b.apply(progressEvent("cmd-1", command.EventThinking, 0, map[string]any{"text": "orphan"}))
	b.apply(progressEvent("cmd-1", command.EventStepComplete, 0, nil))

	require.Empty(t, b.snapshot())

	b.apply(progressEvent("cmd-1", command.EventStepStart, 1, nil))
	require.Len(t, b.snapshot(), 1)
}

func TestBoard_DuplicateStepStart(t *testing.T) {
	b := newBoard()

	b.apply(progressEvent("cmd-1", command.EventStepStart, 0, nil))
	b.apply(progressEvent("cmd-1", command.EventThinking, 0, map[string]any{"text": "kept"}))
	b.apply(progressEvent("cmd-1", command.EventStepStart, 0, nil))

	tasks := b.snapshot()
	require.Len(t, tasks, 1)
	require.Equal(t, "kept", tasks[0].Thought)
}

func TestBoard_NewCommandResets(t *testing.T) {
	b := newBoard()

	b.apply(progressEvent("cmd-1", command.EventStepStart, 0, nil))
	b.apply(progressEvent("cmd-1", command.EventStepComplete, 0, nil))
	b.apply(progressEvent("cmd-2", command.EventStepStart, 0, nil))

	tasks := b.snapshot()
	require.Len(t, tasks, 1)
	require.Equal(t, TaskRunning, tasks[0].Status)
}

func TestBoard_IntPayloads(t *testing.T) {
	b := newBoard()

	// Events built in process carry int token counts, not float64.
	b.apply(progressEvent("cmd-1", command.EventStepStart, 0, nil))
	b.apply(progressEvent("cmd-1", command.EventTokenUsage, 0, map[string]any{"input_tokens": 9}))

	tasks := b.snapshot()
	require.Equal(t, 9, tasks[0].InputTokens)
}
