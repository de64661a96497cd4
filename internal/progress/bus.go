// ABOUTME: In-memory per-session fan-out bus for command progress events
// ABOUTME: Live feed only: events are never buffered or replayed for late subscribers

package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/command"
)

// subscriberBufferSize is the channel buffer for each subscriber. A
// subscriber that falls further behind than this starts losing events.
const subscriberBufferSize = 64

// Bus fans progress events out to the current subscribers of a session.
// A subscriber attaching mid-command sees only events published after it
// attached. Ordering holds within one session, never across sessions.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *command.ProgressEvent // sessionID -> subID -> ch
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]map[string]chan *command.ProgressEvent),
		logger:      logger.With("component", "progress-bus"),
	}
}

// Subscribe registers a listener for one session's events. It returns the
// feed channel and a subscription ID for explicit removal. The subscription
// is cleaned up automatically when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan *command.ProgressEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *command.ProgressEvent, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]chan *command.ProgressEvent)
	}
	b.subscribers[sessionID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session_id", sessionID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish fans an event out to the session's current subscribers.
// Non-blocking: the event is dropped for subscribers whose channels are
// full. Sends happen under the read lock so a concurrent Unsubscribe cannot
// close a channel mid-send.
func (b *Bus) Publish(event *command.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.subscribers[event.SessionID]
	if !ok || len(subs) == 0 {
		return
	}

	for subID, ch := range subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"session_id", event.SessionID,
				"sub_id", subID,
				"event_type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("subscriber removed", "session_id", sessionID, "sub_id", subID)
}

// CloseSession closes every subscriber of one session. Used when a session
// is removed or expires.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	for subID, ch := range subs {
		close(ch)
		delete(subs, subID)
	}
	delete(b.subscribers, sessionID)

	b.logger.Debug("session subscribers closed", "session_id", sessionID)
}

// SubscriberCount returns the number of live subscriptions for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("bus closed")
}
