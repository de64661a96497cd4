// ABOUTME: Registry of live sessions: lookup-or-create, activity touch, idle expiry.
// ABOUTME: A background sweeper tears down sessions that stay idle past the timeout.

package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/engine"
	"github.com/2389/switchboard/internal/metrics"
	"github.com/2389/switchboard/internal/progress"
	"github.com/2389/switchboard/internal/queue"
	"github.com/2389/switchboard/internal/stream"
)

// ErrSessionNotFound indicates the specified session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidSessionID is returned when a caller-chosen session ID is not a UUID.
var ErrInvalidSessionID = errors.New("session id must be a UUID")

// ErrRegistryClosed is returned when the registry is shutting down.
var ErrRegistryClosed = errors.New("session registry closed")

const (
	defaultIdleTimeout   = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Options tune the registry and the queues of the sessions it creates.
type Options struct {
	Limits        queue.Limits
	IdleTimeout   time.Duration // zero for the 30m default
	SweepInterval time.Duration // zero for the 1m default
	Recorder      queue.TranscriptRecorder
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Registry coordinates all live sessions. It hands every new session a
// queue wired to the shared progress bus and stream table, and expires
// sessions that go quiet.
type Registry struct {
	engine   engine.Engine
	bus      *progress.Bus
	streams  *stream.Table
	limits   queue.Limits
	recorder queue.TranscriptRecorder
	metrics  *metrics.Metrics
	base     *slog.Logger
	logger   *slog.Logger

	idleTimeout   time.Duration
	sweepInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	done chan struct{}
}

// NewRegistry creates the registry and starts its idle sweeper.
func NewRegistry(eng engine.Engine, bus *progress.Bus, streams *stream.Table, opts Options) *Registry {
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	r := &Registry{
		engine:        eng,
		bus:           bus,
		streams:       streams,
		limits:        opts.Limits,
		recorder:      opts.Recorder,
		metrics:       opts.Metrics,
		base:          base,
		logger:        base.With("component", "session-registry"),
		idleTimeout:   idle,
		sweepInterval: interval,
		sessions:      make(map[string]*Session),
		done:          make(chan struct{}),
	}
	go r.sweep()
	return r
}

// GetOrCreate returns the session with the given ID, creating it if needed.
// An empty sessionID asks for a fresh session with a generated UUID; a
// non-empty one must itself be a UUID and is adopted as-is, so clients can
// resume a conversation they named. The boolean reports whether the call
// created the session.
func (r *Registry) GetOrCreate(sessionID, workspaceID string) (*Session, bool, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if uuid.Validate(sessionID) != nil {
		return nil, false, ErrInvalidSessionID
	}
	if workspaceID == "" {
		workspaceID = "default"
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, ErrRegistryClosed
	}
	if s, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		s.Touch()
		return s, false, nil
	}

	now := time.Now()
	s := &Session{
		ID:          sessionID,
		WorkspaceID: workspaceID,
		CreatedAt:   now,
		lastActive:  now,
	}
	s.queue = queue.New(sessionID, workspaceID, r.engine, r.bus, r.streams, queue.Options{
		Limits:   r.limits,
		Recorder: r.recorder,
		Metrics:  r.metrics,
		Logger:   r.base,
	})
	r.sessions[sessionID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SessionOpened()
	r.logger.Info("session created",
		"session_id", sessionID,
		"workspace_id", workspaceID,
		"total_sessions", total,
	)
	return s, true, nil
}

// Get retrieves a session by ID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Touch marks a session active. Returns ErrSessionNotFound for unknown IDs.
func (r *Registry) Touch(sessionID string) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.Touch()
	return nil
}

// List returns views of every live session, oldest first.
func (r *Registry) List() []View {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	views := make([]View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

// ListByWorkspace returns views of the live sessions in one workspace,
// oldest first.
func (r *Registry) ListByWorkspace(workspaceID string) []View {
	all := r.List()
	views := make([]View, 0, len(all))
	for _, v := range all {
		if v.WorkspaceID == workspaceID {
			views = append(views, v)
		}
	}
	return views
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Remove tears down a session: its queue drops pending work, the active
// command is cancelled, and progress subscribers are disconnected.
func (r *Registry) Remove(sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	r.teardown(s, "removed by client")
	return nil
}

// ExpireIdle tears down every session that has been idle longer than the
// timeout, cancelling any pending or in-flight commands it still holds.
// Returns how many sessions were expired. The sweeper calls this on a
// ticker; it is exported so operators can force a pass.
func (r *Registry) ExpireIdle(now time.Time) int {
	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if now.Sub(s.LastActive()) < r.idleTimeout {
			continue
		}
		delete(r.sessions, id)
		expired = append(expired, s)
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.teardown(s, "idle timeout")
	}
	return len(expired)
}

// Close tears down every session and stops the sweeper.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	close(r.done)
	for _, s := range sessions {
		r.teardown(s, "registry shutdown")
	}
}

// teardown closes a session's queue first so cancellation events still
// reach subscribers, then disconnects them.
func (r *Registry) teardown(s *Session, reason string) {
	s.queue.Close()
	r.bus.CloseSession(s.ID)
	r.metrics.SessionClosed()
	r.logger.Info("session closed",
		"session_id", s.ID,
		"workspace_id", s.WorkspaceID,
		"reason", reason,
	)
}

// sweep runs in a background goroutine, periodically expiring idle sessions.
func (r *Registry) sweep() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.ExpireIdle(time.Now()); n > 0 {
				r.logger.Debug("idle sweep", "expired", n)
			}
		case <-r.done:
			return
		}
	}
}
