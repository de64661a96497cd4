// ABOUTME: Subscriber consumes a session's progress feed with bounded reconnection
// ABOUTME: Linear backoff (attempt times base delay); exhausting the budget is terminal

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/switchboard/internal/command"
)

// ErrReconnectExhausted is returned by Run once the attempt budget is spent.
// The subscriber will not retry on its own after this; surfacing it to the
// user is the caller's job.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

const (
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxAttempts = 5
)

// Options configures a Subscriber. Zero values get defaults.
type Options struct {
	// BaseDelay scales the backoff: attempt n waits n*BaseDelay.
	BaseDelay time.Duration
	// MaxAttempts bounds consecutive reconnections before giving up.
	MaxAttempts int
	// OnEvent is invoked for every progress event, after task folding.
	OnEvent func(*command.ProgressEvent)
	// OnStateChange is invoked whenever the connection state moves.
	OnStateChange func(State)
	Logger        *slog.Logger
}

// Subscriber follows one session's progress feed, folding events into tasks
// and reconnecting across transient drops. A successful reconnect resets the
// attempt counter; MaxAttempts consecutive failures end in StateFailed.
type Subscriber struct {
	transport     Transport
	sessionID     string
	baseDelay     time.Duration
	maxAttempts   int
	onEvent       func(*command.ProgressEvent)
	onStateChange func(State)
	logger        *slog.Logger

	// wait sleeps between reconnections; swapped out in tests.
	wait func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state State
	board *board
}

// New creates a subscriber for the session's progress feed.
func New(transport Transport, sessionID string, opts Options) *Subscriber {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Subscriber{
		transport:     transport,
		sessionID:     sessionID,
		baseDelay:     opts.BaseDelay,
		maxAttempts:   opts.MaxAttempts,
		onEvent:       opts.OnEvent,
		onStateChange: opts.OnStateChange,
		logger:        logger.With("component", "subscriber", "session_id", sessionID),
		state:         StateDisconnected,
		board:         newBoard(),
	}
	s.wait = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	return s
}

// State reports the current connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tasks returns the folded task list of the command currently executing, in
// step order.
func (s *Subscriber) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.snapshot()
}

// Run connects and consumes the feed until the context is canceled or the
// reconnect budget is exhausted. It returns ctx.Err() on cancellation and
// ErrReconnectExhausted once StateFailed is reached.
func (s *Subscriber) Run(ctx context.Context) error {
	s.transition(inputConnect)

	attempt := 0
	for {
		src, err := s.transport.Dial(ctx, s.sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if retryErr := s.backOff(ctx, &attempt, err); retryErr != nil {
				return retryErr
			}
			continue
		}

		s.transition(inputEstablished)
		attempt = 0
		s.logger.Debug("subscribed to progress feed")

		err = s.consume(src)
		_ = src.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if retryErr := s.backOff(ctx, &attempt, err); retryErr != nil {
			return retryErr
		}
	}
}

// consume folds events off the feed until it breaks.
func (s *Subscriber) consume(src EventSource) error {
	for {
		ev, err := src.Next()
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.board.apply(ev)
		s.mu.Unlock()

		if s.onEvent != nil {
			s.onEvent(ev)
		}
	}
}

// backOff registers a drop, sleeps the linear delay, and arms the retry.
// Attempt n waits n*baseDelay, so consecutive failures wait longer each time.
func (s *Subscriber) backOff(ctx context.Context, attempt *int, cause error) error {
	s.transition(inputDropped)

	*attempt++
	if *attempt > s.maxAttempts {
		s.transition(inputExhausted)
		s.logger.Warn("giving up on progress feed",
			"attempts", s.maxAttempts, "error", cause)
		return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, s.maxAttempts, cause)
	}

	delay := time.Duration(*attempt) * s.baseDelay
	s.logger.Debug("reconnecting to progress feed",
		"attempt", *attempt, "max_attempts", s.maxAttempts, "delay", delay, "error", cause)

	if err := s.wait(ctx, delay); err != nil {
		return err
	}
	s.transition(inputRetry)
	return nil
}

// transition applies one input to the state machine and notifies the caller
// when the state actually moved.
func (s *Subscriber) transition(in input) {
	s.mu.Lock()
	prev := s.state
	s.state = next(prev, in)
	cur := s.state
	s.mu.Unlock()

	if cur != prev && s.onStateChange != nil {
		s.onStateChange(cur)
	}
}
