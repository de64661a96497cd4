// ABOUTME: Table of live streams keyed by command id, one table per session
// ABOUTME: Entries exist from enqueue until the worker drops them after the terminal

package stream

import (
	"log/slog"
	"sync"
)

// Table tracks the live streams of one session.
type Table struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	logger  *slog.Logger
}

// NewTable creates an empty stream table. Pass nil logger for default.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		streams: make(map[string]*Stream),
		logger:  logger.With("component", "stream"),
	}
}

// Open creates the stream for a command. Opening an already-open command
// returns the existing stream.
func (t *Table) Open(sessionID, commandID string) *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.streams[commandID]; ok {
		return s
	}
	s := newStream(sessionID, commandID, t.logger)
	t.streams[commandID] = s
	return s
}

// Get returns the live stream for a command, if any.
func (t *Table) Get(commandID string) (*Stream, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.streams[commandID]
	return s, ok
}

// Drop removes a terminated stream from the table.
func (t *Table) Drop(commandID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, commandID)
}

// Close aborts every live stream. Used on session teardown.
func (t *Table) Close() {
	t.mu.Lock()
	streams := make([]*Stream, 0, len(t.streams))
	for id, s := range t.streams {
		streams = append(streams, s)
		delete(t.streams, id)
	}
	t.mu.Unlock()

	for _, s := range streams {
		s.Abort()
	}
}
