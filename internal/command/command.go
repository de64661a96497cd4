// ABOUTME: Core Command type and status lifecycle shared by all switchboard components
// ABOUTME: Status transitions are guarded by an atomic compare-and-swap, not a broad lock

package command

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Command.
type Status int32

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the wire name for the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MarshalJSON encodes the status as its wire name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Command is one user-submitted request awaiting or undergoing execution.
// The status field is read and swapped atomically; every other mutable field
// is written only by the owning queue worker under the queue's lock.
type Command struct {
	ID            string
	SessionID     string
	Seq           uint64 // monotonic per session
	Message       string
	AttachmentRef string
	CreatedAt     time.Time

	status          atomic.Int32
	cancelRequested atomic.Bool

	StartedAt     time.Time
	FinishedAt    time.Time
	Result        string
	FailureReason string
	Steps         int
}

// New creates a pending Command with a fresh id.
func New(sessionID string, seq uint64, message, attachmentRef string) *Command {
	return &Command{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		Seq:           seq,
		Message:       message,
		AttachmentRef: attachmentRef,
		CreatedAt:     time.Now(),
	}
}

// Status returns the current lifecycle state.
func (c *Command) Status() Status {
	return Status(c.status.Load())
}

// CompareAndSwapStatus atomically transitions from one status to another.
// It returns false when the command is no longer in the expected state,
// which is how a cancel racing a natural completion loses.
func (c *Command) CompareAndSwapStatus(from, to Status) bool {
	return c.status.CompareAndSwap(int32(from), int32(to))
}

// RequestCancel marks the command for cooperative cancellation. The flag is
// advisory; the executing engine observes it only at step boundaries.
func (c *Command) RequestCancel() {
	c.cancelRequested.Store(true)
}

// CancelRequested reports whether a cancel has been asked for.
func (c *Command) CancelRequested() bool {
	return c.cancelRequested.Load()
}

// View is the wire representation of a Command at a point in time.
type View struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	Seq           uint64     `json:"seq"`
	Message       string     `json:"message"`
	AttachmentRef string     `json:"attachment_ref,omitempty"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Result        string     `json:"result,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Steps         int        `json:"steps,omitempty"`
}

// View snapshots the command for API responses. The caller must hold the
// owning queue's lock if the command may still be mutated by its worker.
func (c *Command) View() View {
	v := View{
		ID:            c.ID,
		SessionID:     c.SessionID,
		Seq:           c.Seq,
		Message:       c.Message,
		AttachmentRef: c.AttachmentRef,
		Status:        c.Status(),
		CreatedAt:     c.CreatedAt,
		Result:        c.Result,
		FailureReason: c.FailureReason,
		Steps:         c.Steps,
	}
	if !c.StartedAt.IsZero() {
		t := c.StartedAt
		v.StartedAt = &t
	}
	if !c.FinishedAt.IsZero() {
		t := c.FinishedAt
		v.FinishedAt = &t
	}
	return v
}
