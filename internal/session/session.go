// ABOUTME: Per-conversation session state: identity, activity tracking, owned queue.
// ABOUTME: Sessions are in-memory only; a restart forgets every non-terminal command.

package session

import (
	"sync"
	"time"

	"github.com/2389/switchboard/internal/queue"
)

// Session is one conversation's live state. Each session owns a command
// queue with a single worker; progress events and output streams live in
// process-wide tables shared across sessions, keyed by session or command ID.
type Session struct {
	ID          string
	WorkspaceID string
	CreatedAt   time.Time

	queue *queue.Queue

	mu         sync.Mutex
	lastActive time.Time
}

// Queue returns the session's command queue.
func (s *Session) Queue() *queue.Queue { return s.queue }

// Touch marks the session as active now, pushing idle expiry out.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive reports when the session last saw traffic.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// View is the JSON shape of a session in API responses.
type View struct {
	ID                  string    `json:"id"`
	WorkspaceID         string    `json:"workspace_id"`
	CreatedAt           time.Time `json:"created_at"`
	LastActiveAt        time.Time `json:"last_active_at"`
	PendingCommands     int       `json:"pending_commands"`
	ProcessingCommandID string    `json:"processing_command_id,omitempty"`
}

// View snapshots the session for API responses.
func (s *Session) View() View {
	snap := s.queue.Status()
	v := View{
		ID:              s.ID,
		WorkspaceID:     s.WorkspaceID,
		CreatedAt:       s.CreatedAt,
		LastActiveAt:    s.LastActive(),
		PendingCommands: snap.TotalPending,
	}
	if snap.Processing != nil {
		v.ProcessingCommandID = snap.Processing.ID
	}
	return v
}
