// ABOUTME: Per-session FIFO command queue enforcing at-most-one active execution
// ABOUTME: External callers only enqueue or request-cancel; one worker owns everything else

package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/switchboard/internal/command"
	"github.com/2389/switchboard/internal/engine"
	"github.com/2389/switchboard/internal/metrics"
	"github.com/2389/switchboard/internal/progress"
	"github.com/2389/switchboard/internal/stream"
)

// ErrQueueFull is returned when the pending list is at capacity.
var ErrQueueFull = errors.New("queue is at capacity")

// ErrUnknownCommand is returned when a command id is not known to the queue.
var ErrUnknownCommand = errors.New("unknown command")

// ErrAlreadyTerminal is returned when a cancel arrives after the command
// reached a terminal status. It is a conflict, not a success.
var ErrAlreadyTerminal = errors.New("command already reached a terminal status")

// ErrClosed is returned when enqueueing on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Limits bound a queue's appetite for work.
type Limits struct {
	Capacity       int           // max pending commands, 0 = unlimited
	MaxSteps       int           // step ceiling enforced on the engine
	StuckThreshold int           // consecutive no-progress steps before forced termination
	StallTimeout   time.Duration // no-emission window before force-fail
}

func (l Limits) withDefaults() Limits {
	if l.MaxSteps <= 0 {
		l.MaxSteps = 30
	}
	if l.StuckThreshold <= 0 {
		l.StuckThreshold = 3
	}
	if l.StallTimeout <= 0 {
		l.StallTimeout = 60 * time.Second
	}
	return l
}

// TranscriptRecorder keeps a history of commands that reached a terminal
// status. Implementations must be safe for concurrent use.
type TranscriptRecorder interface {
	RecordCommand(ctx context.Context, workspaceID string, v command.View) error
}

// Snapshot is a point-in-time read of the queue.
type Snapshot struct {
	Processing   *command.View  `json:"processing"`
	Queue        []command.View `json:"queue"`
	TotalPending int            `json:"total_pending"`
}

// CancelOutcome says what a successful cancel actually did.
type CancelOutcome int

const (
	// CancelledPending: the command was removed before it ever executed.
	CancelledPending CancelOutcome = iota
	// CancelRequested: the command is processing; the engine will
	// acknowledge at its next step boundary.
	CancelRequested
)

// Queue schedules one session's commands strictly FIFO through a single
// worker. Cancellation of the active command is advisory: the worker waits
// for the engine's command_cancelled acknowledgment before transitioning the
// status, and a cancel racing a natural completion loses the status CAS.
type Queue struct {
	sessionID   string
	workspaceID string
	limits      Limits
	engine      engine.Engine
	bus         *progress.Bus
	streams     *stream.Table
	recorder    TranscriptRecorder
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu        sync.Mutex
	seq       uint64
	pending   []*command.Command
	active    *command.Command
	commands  map[string]*command.Command
	cancelRun context.CancelFunc
	closed    bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// Options carries the optional collaborators of a queue.
type Options struct {
	Limits   Limits
	Recorder TranscriptRecorder // may be nil
	Metrics  *metrics.Metrics   // may be nil
	Logger   *slog.Logger       // nil for default
}

// New creates the queue and starts its worker.
func New(sessionID, workspaceID string, eng engine.Engine, bus *progress.Bus, streams *stream.Table, opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		sessionID:   sessionID,
		workspaceID: workspaceID,
		limits:      opts.Limits.withDefaults(),
		engine:      eng,
		bus:         bus,
		streams:     streams,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "queue", "session_id", sessionID),
		commands:    make(map[string]*command.Command),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	q.wg.Go(q.work)
	return q
}

// Enqueue appends a command to the pending list and returns it with its
// position: 0 means it will start immediately, N>0 means N commands are
// ahead of it (including the active one).
func (q *Queue) Enqueue(message, attachmentRef string) (*command.Command, int, error) {
	return q.enqueue(message, attachmentRef, nil)
}

// EnqueueFollowed enqueues like Enqueue but attaches a stream follower
// before the worker can pick the command up, so the caller observes every
// chunk and the terminal. The follower detaches when ctx is cancelled; the
// channel closes when the stream terminates.
func (q *Queue) EnqueueFollowed(ctx context.Context, message, attachmentRef string) (*command.Command, int, <-chan stream.Event, error) {
	var events <-chan stream.Event
	cmd, position, err := q.enqueue(message, attachmentRef, func(s *stream.Stream) {
		events, _ = s.Follow(ctx)
	})
	return cmd, position, events, err
}

func (q *Queue) enqueue(message, attachmentRef string, follow func(*stream.Stream)) (*command.Command, int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, 0, ErrClosed
	}
	if q.limits.Capacity > 0 && len(q.pending) >= q.limits.Capacity {
		q.mu.Unlock()
		return nil, 0, ErrQueueFull
	}

	q.seq++
	cmd := command.New(q.sessionID, q.seq, message, attachmentRef)
	q.commands[cmd.ID] = cmd

	position := len(q.pending)
	if q.active != nil {
		position++
	}
	q.pending = append(q.pending, cmd)

	// The stream must exist before the enqueuer can follow it, and before
	// a pending-cancel could try to abort it. A follower attaches here,
	// still under the lock, so the worker cannot outrun it.
	s := q.streams.Open(q.sessionID, cmd.ID)
	if follow != nil {
		follow(s)
	}
	q.mu.Unlock()

	q.metrics.CommandEnqueued()
	q.logger.Debug("command enqueued", "command_id", cmd.ID, "seq", cmd.Seq, "position", position)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return cmd, position, nil
}

// Cancel requests cancellation of a command. Pending commands are removed
// immediately and never execute. For the processing command the cancel flag
// is set and the run's context cancelled; the status flips to cancelled only
// once the engine acknowledges. Terminal commands return ErrAlreadyTerminal.
func (q *Queue) Cancel(commandID string) (CancelOutcome, command.View, error) {
	q.mu.Lock()
	cmd, ok := q.commands[commandID]
	if !ok {
		q.mu.Unlock()
		return 0, command.View{}, ErrUnknownCommand
	}

	if cmd.CompareAndSwapStatus(command.StatusPending, command.StatusCancelled) {
		q.removePendingLocked(commandID)
		cmd.FinishedAt = time.Now()
		view := cmd.View()
		if s, found := q.streams.Get(commandID); found {
			s.Abort()
			q.streams.Drop(commandID)
		}
		q.mu.Unlock()

		ev := command.NewProgressEvent(q.sessionID, commandID, command.EventCommandCancelled, 0)
		ev.Payload = map[string]any{"reason": "cancelled while pending"}
		q.publish(ev)
		q.metrics.CommandDropped()
		q.metrics.CommandFinished(command.StatusCancelled.String())
		go q.record(cmd)
		q.logger.Info("pending command cancelled", "command_id", commandID)
		return CancelledPending, view, nil
	}

	if cmd.Status() == command.StatusProcessing {
		cmd.RequestCancel()
		if q.active != nil && q.active.ID == commandID && q.cancelRun != nil {
			q.cancelRun()
		}
		view := cmd.View()
		q.mu.Unlock()
		q.logger.Info("cancel requested for processing command", "command_id", commandID)
		return CancelRequested, view, nil
	}

	view := cmd.View()
	q.mu.Unlock()
	q.metrics.CancelConflict()
	return 0, view, ErrAlreadyTerminal
}

// Status is a pure read of the queue state. Returned views are copies.
func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		Queue:        make([]command.View, 0, len(q.pending)),
		TotalPending: len(q.pending),
	}
	if q.active != nil {
		v := q.active.View()
		snap.Processing = &v
	}
	for _, cmd := range q.pending {
		snap.Queue = append(snap.Queue, cmd.View())
	}
	return snap
}

// ActiveCommandID returns the id of the processing command, if any.
func (q *Queue) ActiveCommandID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return ""
	}
	return q.active.ID
}

// Get returns a snapshot of one command.
func (q *Queue) Get(commandID string) (command.View, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd, ok := q.commands[commandID]
	if !ok {
		return command.View{}, ErrUnknownCommand
	}
	return cmd.View(), nil
}

// Close discards pending commands, cancels the active run, and waits for the
// worker to drain. Discarded commands are marked cancelled with an event.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	discarded := q.pending
	q.pending = nil
	if q.cancelRun != nil {
		q.cancelRun()
	}
	close(q.done)
	q.mu.Unlock()

	for _, cmd := range discarded {
		if !cmd.CompareAndSwapStatus(command.StatusPending, command.StatusCancelled) {
			continue
		}
		q.mu.Lock()
		cmd.FinishedAt = time.Now()
		q.mu.Unlock()

		// Same abrupt close a pending-cancel gets: followers see the channel
		// close with no terminal, and the table entry goes away.
		if s, found := q.streams.Get(cmd.ID); found {
			s.Abort()
			q.streams.Drop(cmd.ID)
		}

		ev := command.NewProgressEvent(q.sessionID, cmd.ID, command.EventCommandCancelled, 0)
		ev.Payload = map[string]any{"reason": "session closed"}
		q.publish(ev)
		q.metrics.CommandDropped()
		q.metrics.CommandFinished(command.StatusCancelled.String())
		q.record(cmd)
	}

	q.wg.Wait()
	q.logger.Debug("queue closed")
}

// removePendingLocked drops a command from the pending slice. Caller holds mu.
func (q *Queue) removePendingLocked(commandID string) {
	for i, cmd := range q.pending {
		if cmd.ID == commandID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) publish(ev *command.ProgressEvent) {
	q.bus.Publish(ev)
	q.metrics.ProgressEventPublished(string(ev.Type))
}

// record persists a terminal command, best-effort with its own deadline.
func (q *Queue) record(cmd *command.Command) {
	if q.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q.mu.Lock()
	view := cmd.View()
	q.mu.Unlock()

	if err := q.recorder.RecordCommand(ctx, q.workspaceID, view); err != nil {
		q.logger.Error("failed to record transcript", "command_id", cmd.ID, "error", err)
	}
}
