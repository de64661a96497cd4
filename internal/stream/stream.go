// ABOUTME: Per-command ordered text streaming with single-writer sequence assignment
// ABOUTME: Terminal markers are complete or error; cancellation closes with no marker

package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/command"
)

const (
	// followerBufferSize is the channel buffer for each follower. Chunks are
	// dropped for followers that fall further behind; the terminal event
	// still carries the full final text.
	followerBufferSize = 64

	// terminalSendTimeout bounds how long a terminal event waits for a slow
	// follower before being dropped.
	terminalSendTimeout = time.Second
)

// EventKind distinguishes what a follower received.
type EventKind int

const (
	KindChunk EventKind = iota
	KindComplete
	KindError
)

// String returns the wire name for the event kind.
func (k EventKind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item on a followed stream: a text chunk or a terminal marker.
// A stream that closes without any terminal marker was aborted; the consumer
// can tell "cancelled" from "error" only by having issued the cancel itself.
type Event struct {
	Kind      EventKind
	Chunk     *command.StreamChunk // set for KindChunk
	FinalText string               // set for KindComplete
	SessionID string               // set for KindComplete
	Message   string               // set for KindError
}

// Stream delivers one command's generated text in production order. The
// queue worker is the only writer; any number of followers may attach.
type Stream struct {
	commandID string
	sessionID string

	mu        sync.Mutex
	seq       uint64
	followers map[string]chan Event
	closed    bool

	logger *slog.Logger
}

func newStream(sessionID, commandID string, logger *slog.Logger) *Stream {
	return &Stream{
		commandID: commandID,
		sessionID: sessionID,
		followers: make(map[string]chan Event),
		logger:    logger,
	}
}

// CommandID returns the command this stream belongs to.
func (s *Stream) CommandID() string { return s.commandID }

// Follow attaches a consumer. A follower attaching mid-stream sees only
// chunks produced after it attached. The subscription is removed when ctx is
// cancelled; the channel closes when the stream terminates.
func (s *Stream) Follow(ctx context.Context) (<-chan Event, string) {
	id := uuid.New().String()
	ch := make(chan Event, followerBufferSize)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, id
	}
	s.followers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Unfollow(id)
	}()

	return ch, id
}

// Unfollow detaches a consumer and closes its channel.
func (s *Stream) Unfollow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.followers[id]
	if !ok {
		return
	}
	delete(s.followers, id)
	close(ch)
}

// Push fans a text chunk out to followers and returns its sequence number.
// Chunks for slow followers are dropped, never blocking the writer.
func (s *Stream) Push(text string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Warn("chunk pushed after stream closed", "command_id", s.commandID)
		return s.seq
	}

	s.seq++
	chunk := &command.StreamChunk{
		CommandID: s.commandID,
		Sequence:  s.seq,
		Text:      text,
	}
	ev := Event{Kind: KindChunk, Chunk: chunk}
	for id, ch := range s.followers {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("dropped chunk for slow follower",
				"command_id", s.commandID, "follower_id", id, "sequence", s.seq)
		}
	}
	return s.seq
}

// Complete terminates the stream successfully. The final text is the full
// assembled output, so a follower that lost chunks still ends up whole.
func (s *Stream) Complete(finalText string) {
	s.terminate(Event{Kind: KindComplete, FinalText: finalText, SessionID: s.sessionID})
}

// Fail terminates the stream with an error message.
func (s *Stream) Fail(message string) {
	s.terminate(Event{Kind: KindError, Message: message})
}

// Abort closes the stream with no terminal marker. Used when the command is
// cancelled mid-flight.
func (s *Stream) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Stream) terminate(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for id, ch := range s.followers {
		if !sendWithTimeout(ch, ev, terminalSendTimeout) {
			s.logger.Warn("dropped terminal event for stuck follower",
				"command_id", s.commandID, "follower_id", id, "kind", ev.Kind)
		}
	}
	s.closeLocked()
}

func (s *Stream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.followers {
		delete(s.followers, id)
		close(ch)
	}
}

// sendWithTimeout tries a non-blocking send first, then waits up to the
// timeout before giving up.
func sendWithTimeout(ch chan Event, ev Event, timeout time.Duration) bool {
	select {
	case ch <- ev:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- ev:
		return true
	case <-timer.C:
		return false
	}
}
