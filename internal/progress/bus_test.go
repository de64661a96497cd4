// ABOUTME: Tests for the per-session progress event bus
// ABOUTME: Covers fan-out, isolation, the no-replay property, slow consumers, teardown

package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/command"
)

func makeEvent(sessionID, commandID string, typ command.EventType, step int) *command.ProgressEvent {
	return command.NewProgressEvent(sessionID, commandID, typ, step)
}

func TestBus_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "sess-1")

	b.Publish(makeEvent("sess-1", "cmd-1", command.EventStepStart, 0))

	select {
	case received := <-ch:
		assert.Equal(t, command.EventStepStart, received.Type)
		assert.Equal(t, "cmd-1", received.CommandID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx := t.Context()

	ch1, _ := b.Subscribe(ctx, "sess-1")
	ch2, _ := b.Subscribe(ctx, "sess-1")
	ch3, _ := b.Subscribe(ctx, "sess-1")

	b.Publish(makeEvent("sess-1", "cmd-1", command.EventThinking, 0))

	for i, ch := range []<-chan *command.ProgressEvent{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, command.EventThinking, received.Type, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBus_SessionsAreIsolated(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx := t.Context()

	ch1, _ := b.Subscribe(ctx, "sess-1")
	ch2, _ := b.Subscribe(ctx, "sess-2")

	b.Publish(makeEvent("sess-1", "cmd-1", command.EventStepStart, 0))

	select {
	case received := <-ch1:
		assert.Equal(t, "sess-1", received.SessionID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for sess-1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for sess-2 should not receive events for sess-1")
	case <-time.After(100 * time.Millisecond):
		// Expected: no event
	}
}

func TestBus_LateSubscriberNeverSeesEarlierEvents(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	// step_start goes out before anyone listens.
	b.Publish(makeEvent("sess-1", "cmd-1", command.EventStepStart, 0))

	ch, _ := b.Subscribe(t.Context(), "sess-1")

	b.Publish(makeEvent("sess-1", "cmd-1", command.EventStepComplete, 0))

	select {
	case received := <-ch:
		assert.Equal(t, command.EventStepComplete, received.Type,
			"first event seen must be the one published after attach")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for step_complete")
	}

	select {
	case extra := <-ch:
		t.Fatalf("received replayed event %s", extra.Type)
	case <-time.After(100 * time.Millisecond):
		// Expected: the missed step_start is gone for good
	}
}

func TestBus_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx := t.Context()

	// Subscribe but never read (slow consumer).
	_, _ = b.Subscribe(ctx, "sess-1")
	ch2, _ := b.Subscribe(ctx, "sess-1")

	for i := range 100 {
		b.Publish(makeEvent("sess-1", "cmd-1", command.EventThinking, i))
	}

	receivedCount := 0
	for {
		select {
		case <-ch2:
			receivedCount++
		case <-time.After(200 * time.Millisecond):
			goto done
		}
	}
done:
	assert.Greater(t, receivedCount, 0, "fast consumer should receive at least some events")
}

func TestBus_OrderPreservedWithinSession(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "sess-1")

	types := []command.EventType{
		command.EventStepStart,
		command.EventThinking,
		command.EventToolExecution,
		command.EventStepComplete,
	}
	for _, typ := range types {
		b.Publish(makeEvent("sess-1", "cmd-1", typ, 0))
	}

	for _, want := range types {
		select {
		case received := <-ch:
			assert.Equal(t, want, received.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestBus_ContextCancellationCleansUp(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "sess-1")

	require.Equal(t, 1, b.SubscriberCount("sess-1"))

	cancel()

	require.Eventually(t, func() bool {
		return b.SubscriberCount("sess-1") == 0
	}, time.Second, 10*time.Millisecond, "subscription should be removed after context cancel")

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestBus_ManualUnsubscribe(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "sess-1")

	b.Unsubscribe("sess-1", subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing afterwards must not panic.
	b.Publish(makeEvent("sess-1", "cmd-1", command.EventThinking, 0))
}

func TestBus_CloseSessionClosesOnlyThatSession(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx := t.Context()

	ch1, _ := b.Subscribe(ctx, "sess-1")
	ch2, _ := b.Subscribe(ctx, "sess-2")

	b.CloseSession("sess-1")

	select {
	case _, ok := <-ch1:
		assert.False(t, ok, "sess-1 channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("sess-1 channel not closed")
	}

	b.Publish(makeEvent("sess-2", "cmd-2", command.EventThinking, 0))
	select {
	case received := <-ch2:
		assert.Equal(t, "sess-2", received.SessionID)
	case <-time.After(time.Second):
		t.Fatal("sess-2 subscriber should be unaffected")
	}
}

func TestBus_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBus(nil)

	ch1, _ := b.Subscribe(t.Context(), "sess-1")
	ch2, _ := b.Subscribe(t.Context(), "sess-2")

	b.Close()

	for i, ch := range []<-chan *command.ProgressEvent{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			ch, _ := b.Subscribe(ctx, "sess-hot")
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for i := range 10 {
				b.Publish(makeEvent("sess-hot", "cmd-hot", command.EventThinking, i))
			}
		})
	}

	wg.Wait()
	// No deadlock, no panic: pass.
}

func TestBus_PublishToSessionWithNoSubscribers(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	// Should not panic or block.
	b.Publish(makeEvent("nobody-listening", "cmd-1", command.EventStepStart, 0))
}
