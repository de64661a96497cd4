// ABOUTME: Tests for Command status lifecycle and compare-and-swap transitions
// ABOUTME: Covers the cancel-versus-completion race the CAS exists to resolve

package command

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_WireNames(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "processing", StatusProcessing.String())
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestCommand_StartsPending(t *testing.T) {
	cmd := New("sess-1", 1, "hello", "")
	require.NotEmpty(t, cmd.ID)
	assert.Equal(t, StatusPending, cmd.Status())
	assert.False(t, cmd.CancelRequested())
}

func TestCommand_CompareAndSwapStatus(t *testing.T) {
	cmd := New("sess-1", 1, "hello", "")

	require.True(t, cmd.CompareAndSwapStatus(StatusPending, StatusProcessing))
	assert.Equal(t, StatusProcessing, cmd.Status())

	// A second swap from pending must fail: the command already moved on.
	assert.False(t, cmd.CompareAndSwapStatus(StatusPending, StatusCancelled))
	assert.Equal(t, StatusProcessing, cmd.Status())
}

func TestCommand_CancelLosesRaceAfterCompletion(t *testing.T) {
	cmd := New("sess-1", 1, "hello", "")
	require.True(t, cmd.CompareAndSwapStatus(StatusPending, StatusProcessing))
	require.True(t, cmd.CompareAndSwapStatus(StatusProcessing, StatusCompleted))

	// Cancellation only succeeds from processing.
	assert.False(t, cmd.CompareAndSwapStatus(StatusProcessing, StatusCancelled))
	assert.Equal(t, StatusCompleted, cmd.Status())
}

func TestCommand_ConcurrentSwapsHaveOneWinner(t *testing.T) {
	cmd := New("sess-1", 1, "hello", "")
	require.True(t, cmd.CompareAndSwapStatus(StatusPending, StatusProcessing))

	var wg sync.WaitGroup
	wins := make(chan Status, 2)
	wg.Go(func() {
		if cmd.CompareAndSwapStatus(StatusProcessing, StatusCompleted) {
			wins <- StatusCompleted
		}
	})
	wg.Go(func() {
		if cmd.CompareAndSwapStatus(StatusProcessing, StatusCancelled) {
			wins <- StatusCancelled
		}
	})
	wg.Wait()
	close(wins)

	var winners []Status
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], cmd.Status())
}

func TestCommand_ViewSnapshotsTimestamps(t *testing.T) {
	cmd := New("sess-1", 7, "hello", "file://report.pdf")

	v := cmd.View()
	assert.Nil(t, v.StartedAt)
	assert.Nil(t, v.FinishedAt)
	assert.Equal(t, uint64(7), v.Seq)
	assert.Equal(t, "file://report.pdf", v.AttachmentRef)

	cmd.StartedAt = time.Now()
	cmd.FinishedAt = cmd.StartedAt.Add(time.Second)
	cmd.Result = "done"

	v = cmd.View()
	require.NotNil(t, v.StartedAt)
	require.NotNil(t, v.FinishedAt)
	assert.Equal(t, "done", v.Result)
	assert.True(t, v.FinishedAt.After(*v.StartedAt))
}
