// ABOUTME: Tests for the echo and scripted engines against the execution contract
// ABOUTME: Verifies step event ordering, terminal exactly-once, and cancel acknowledgment

package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/command"
)

func drain(t *testing.T, ch <-chan Emission) []Emission {
	t.Helper()
	var emissions []Emission
	for {
		select {
		case em, ok := <-ch:
			if !ok {
				return emissions
			}
			emissions = append(emissions, em)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining engine emissions")
		}
	}
}

func testRun() Run {
	return Run{
		SessionID:   "sess-1",
		WorkspaceID: "default",
		CommandID:   "cmd-1",
		Message:     "hello there",
		MaxSteps:    30,
	}
}

func TestEcho_EmitsContractOrderedSteps(t *testing.T) {
	e := NewEcho(0, nil)

	ch, err := e.Execute(t.Context(), testRun())
	require.NoError(t, err)
	emissions := drain(t, ch)

	var open bool
	var terminals int
	var text strings.Builder
	var finalText string
	for _, em := range emissions {
		switch em.Kind {
		case KindProgress:
			switch em.Event.Type {
			case command.EventStepStart:
				assert.False(t, open, "step_start while a step is already open")
				open = true
			case command.EventStepComplete:
				assert.True(t, open, "step_complete without step_start")
				open = false
			case command.EventThinking, command.EventToolExecution, command.EventTokenUsage:
				assert.True(t, open, "%s outside an open step", em.Event.Type)
			}
		case KindText:
			text.WriteString(em.Text)
		case KindComplete:
			terminals++
			finalText = em.FinalText
		case KindFailed:
			terminals++
		}
	}

	assert.False(t, open, "run ended with an open step")
	assert.Equal(t, 1, terminals, "exactly one terminal emission")
	assert.Equal(t, finalText, text.String(), "streamed text must assemble to the final text")
	assert.Contains(t, finalText, "hello there")
}

func TestEcho_CancelledBeforeStartAcknowledges(t *testing.T) {
	e := NewEcho(0, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	ch, err := e.Execute(ctx, testRun())
	require.NoError(t, err)
	emissions := drain(t, ch)

	require.NotEmpty(t, emissions)
	last := emissions[len(emissions)-1]
	require.Equal(t, KindProgress, last.Kind)
	assert.Equal(t, command.EventCommandCancelled, last.Event.Type)

	for _, em := range emissions {
		assert.NotEqual(t, KindComplete, em.Kind, "cancelled run must not complete")
		assert.NotEqual(t, KindFailed, em.Kind, "cancel acknowledgment is not an error terminal")
	}
}

func TestScripted_PlaysStepsInOrder(t *testing.T) {
	s := NewScripted(Script{
		Steps: []ScriptStep{
			{Thinking: "pondering", Chunks: []string{"a", "b"}},
			{Tool: "search", Tokens: 12, Chunks: []string{"c"}},
		},
	})

	ch, err := s.Execute(t.Context(), testRun())
	require.NoError(t, err)
	emissions := drain(t, ch)

	var types []command.EventType
	var text strings.Builder
	var final string
	for _, em := range emissions {
		switch em.Kind {
		case KindProgress:
			types = append(types, em.Event.Type)
		case KindText:
			text.WriteString(em.Text)
		case KindComplete:
			final = em.FinalText
		}
	}

	assert.Equal(t, []command.EventType{
		command.EventStepStart,
		command.EventThinking,
		command.EventStepComplete,
		command.EventStepStart,
		command.EventToolExecution,
		command.EventTokenUsage,
		command.EventStepComplete,
	}, types)
	assert.Equal(t, "abc", text.String())
	assert.Equal(t, "abc", final, "empty FinalText falls back to concatenated chunks")

	runs := s.RunsSeen()
	require.Len(t, runs, 1)
	assert.Equal(t, "cmd-1", runs[0].CommandID)
}

func TestScripted_FailWithEmitsErrorTerminal(t *testing.T) {
	s := NewScripted(Script{
		Steps:    []ScriptStep{{Thinking: "about to break"}},
		FailWith: "tool backend unreachable",
	})

	ch, err := s.Execute(t.Context(), testRun())
	require.NoError(t, err)
	emissions := drain(t, ch)

	last := emissions[len(emissions)-1]
	require.Equal(t, KindFailed, last.Kind)
	assert.Equal(t, "tool backend unreachable", last.ErrorMessage)
}

func TestScripted_CancelAtBoundaryAcknowledges(t *testing.T) {
	s := NewScripted(Script{
		Steps: []ScriptStep{
			{Delay: 50 * time.Millisecond},
			{Thinking: "never reached"},
		},
	})

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := s.Execute(ctx, testRun())
	require.NoError(t, err)

	// First emission is step_start for step 0; cancel while the step works.
	select {
	case em := <-ch:
		require.Equal(t, command.EventStepStart, em.Event.Type)
	case <-time.After(time.Second):
		t.Fatal("no step_start")
	}
	cancel()

	emissions := drain(t, ch)
	last := emissions[len(emissions)-1]
	require.Equal(t, KindProgress, last.Kind)
	assert.Equal(t, command.EventCommandCancelled, last.Event.Type)
	// Step 0 still ran to its boundary before the cancel was observed.
	assert.Equal(t, command.EventStepComplete, emissions[0].Event.Type)
}

func TestScripted_DieSilentlyClosesWithoutTerminal(t *testing.T) {
	s := NewScripted(Script{
		Steps:       []ScriptStep{{Chunks: []string{"partial"}}},
		DieSilently: true,
	})

	ch, err := s.Execute(t.Context(), testRun())
	require.NoError(t, err)
	emissions := drain(t, ch)

	for _, em := range emissions {
		assert.NotEqual(t, KindComplete, em.Kind)
		assert.NotEqual(t, KindFailed, em.Kind)
		if em.Kind == KindProgress {
			assert.NotEqual(t, command.EventCommandCancelled, em.Event.Type)
		}
	}
}

func TestScripted_ExecuteErrReturnsSynchronously(t *testing.T) {
	s := NewScripted(Script{ExecuteErr: context.DeadlineExceeded})

	ch, err := s.Execute(t.Context(), testRun())
	require.Error(t, err)
	assert.Nil(t, ch)
	assert.Empty(t, s.RunsSeen())
}

func TestEcho_EmptyMessageStillCompletes(t *testing.T) {
	e := NewEcho(0, nil)

	run := testRun()
	run.Message = "   "
	ch, err := e.Execute(t.Context(), run)
	require.NoError(t, err)
	emissions := drain(t, ch)

	last := emissions[len(emissions)-1]
	require.Equal(t, KindComplete, last.Kind)
	assert.NotEmpty(t, last.FinalText)
}
