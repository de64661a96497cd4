// ABOUTME: The queue worker: runs commands serially, demuxes engine emissions,
// ABOUTME: and enforces the stall timeout, step ceiling, and stuck-state guard

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/switchboard/internal/command"
	"github.com/2389/switchboard/internal/engine"
	"github.com/2389/switchboard/internal/stream"
)

// work is the queue's single worker loop. Engine failures never escape a
// run; the worker always advances to the next pending command.
func (q *Queue) work() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			cmd, runCtx, cancel := q.takeNext()
			if cmd == nil {
				break
			}
			q.run(runCtx, cancel, cmd)
		}
	}
}

// takeNext pops the next pending command and marks it processing. The run
// context is created under the same lock that publishes the active pointer,
// so a concurrent Cancel always finds a live cancel func.
func (q *Queue) takeNext() (*command.Command, context.Context, context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		cmd := q.pending[0]
		q.pending = q.pending[1:]
		if !cmd.CompareAndSwapStatus(command.StatusPending, command.StatusProcessing) {
			// Lost to a pending-cancel.
			continue
		}
		runCtx, cancel := context.WithCancel(context.Background())
		cmd.StartedAt = time.Now()
		q.active = cmd
		q.cancelRun = cancel
		return cmd, runCtx, cancel
	}
	return nil, nil, nil
}

// runOutcome captures why a run ended.
type runOutcome struct {
	terminal     *engine.Emission // complete or failed emission, if any
	cancelledAck bool             // engine acknowledged cancellation
	guardReason  string           // step ceiling or stuck guard tripped
	stalled      bool             // stall watchdog fired
	executeErr   error            // engine refused the run synchronously
	panicked     string           // panic recovered on the worker path
	steps        int
}

func (q *Queue) run(runCtx context.Context, cancel context.CancelFunc, cmd *command.Command) {
	defer cancel()

	q.metrics.CommandStarted()
	s := q.streams.Open(q.sessionID, cmd.ID)
	q.logger.Info("command started", "command_id", cmd.ID, "seq", cmd.Seq)

	outcome := q.drive(runCtx, cancel, cmd, s)
	q.finish(cmd, s, outcome)
}

// drive demuxes the engine's emission channel: progress events go to the
// bus, text goes to the command's stream. It owns the three guard rails.
// A panic anywhere on this path fails the command instead of killing the
// worker and every session behind it.
func (q *Queue) drive(runCtx context.Context, cancel context.CancelFunc, cmd *command.Command, s *stream.Stream) (out runOutcome) {
	var emissions <-chan engine.Emission
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("engine panic recovered", "command_id", cmd.ID, "panic", r)
			out.panicked = fmt.Sprintf("engine panicked: %v", r)
			cancel()
			if emissions != nil {
				go drainEmissions(emissions)
			}
		}
	}()

	emissions, err := q.engine.Execute(runCtx, engine.Run{
		SessionID:     q.sessionID,
		WorkspaceID:   q.workspaceID,
		CommandID:     cmd.ID,
		Message:       cmd.Message,
		AttachmentRef: cmd.AttachmentRef,
		MaxSteps:      q.limits.MaxSteps,
	})
	if err != nil {
		out.executeErr = err
		return out
	}

	stall := time.NewTimer(q.limits.StallTimeout)
	defer stall.Stop()

	stepHadProgress := false
	noProgress := 0

	for {
		select {
		case em, ok := <-emissions:
			if !ok {
				return out
			}
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(q.limits.StallTimeout)

			switch em.Kind {
			case engine.KindProgress:
				ev := em.Event
				switch ev.Type {
				case command.EventStepStart:
					out.steps++
					stepHadProgress = false
					if out.steps > q.limits.MaxSteps && out.guardReason == "" {
						out.guardReason = fmt.Sprintf("step ceiling reached (%d steps)", q.limits.MaxSteps)
						cancel()
					}
				case command.EventToolExecution:
					stepHadProgress = true
				case command.EventStepComplete:
					if stepHadProgress {
						noProgress = 0
					} else {
						noProgress++
					}
					if noProgress >= q.limits.StuckThreshold && out.guardReason == "" {
						out.guardReason = fmt.Sprintf("no progress across %d consecutive steps", noProgress)
						cancel()
					}
				case command.EventCommandCancelled:
					out.cancelledAck = true
				}
				q.publish(ev)

			case engine.KindText:
				stepHadProgress = true
				s.Push(em.Text)
				q.metrics.StreamChunkPushed()

			case engine.KindComplete, engine.KindFailed:
				terminal := em
				out.terminal = &terminal
			}

		case <-stall.C:
			out.stalled = true
			cancel()
			// The engine may still be emitting; unblock it so its
			// goroutine can exit, but stop listening.
			go drainEmissions(emissions)
			return out
		}
	}
}

// finish applies the terminal status and fans the outcome out to the
// stream, the bus, the recorder, and the metrics.
func (q *Queue) finish(cmd *command.Command, s *stream.Stream, out runOutcome) {
	var (
		status       command.Status
		failure      string
		result       string
		publishError string
	)

	switch {
	case out.panicked != "":
		status = command.StatusFailed
		failure = out.panicked
		publishError = failure
	case out.executeErr != nil:
		status = command.StatusFailed
		failure = fmt.Sprintf("engine refused the command: %v", out.executeErr)
		publishError = failure
	case out.stalled:
		status = command.StatusFailed
		failure = fmt.Sprintf("stalled: no progress for %s", q.limits.StallTimeout)
		publishError = failure
		q.metrics.StallForced()
	case out.guardReason != "":
		status = command.StatusFailed
		failure = out.guardReason
		publishError = failure
	case out.terminal != nil && out.terminal.Kind == engine.KindComplete:
		status = command.StatusCompleted
		result = out.terminal.FinalText
	case out.terminal != nil && out.terminal.Kind == engine.KindFailed:
		status = command.StatusFailed
		failure = out.terminal.ErrorMessage
		publishError = failure
	case out.cancelledAck || cmd.CancelRequested():
		status = command.StatusCancelled
	default:
		status = command.StatusFailed
		failure = "engine closed the stream without a terminal"
		publishError = failure
	}

	if !cmd.CompareAndSwapStatus(command.StatusProcessing, status) {
		q.logger.Warn("terminal transition lost a status race",
			"command_id", cmd.ID, "wanted", status.String(), "have", cmd.Status().String())
	}

	q.mu.Lock()
	cmd.FinishedAt = time.Now()
	cmd.Result = result
	cmd.FailureReason = failure
	cmd.Steps = out.steps
	q.active = nil
	q.cancelRun = nil
	q.mu.Unlock()

	if publishError != "" {
		ev := command.NewProgressEvent(q.sessionID, cmd.ID, command.EventError, max(out.steps-1, 0))
		ev.Payload = map[string]any{"message": publishError}
		q.publish(ev)
	}

	switch status {
	case command.StatusCompleted:
		s.Complete(result)
	case command.StatusCancelled:
		// Abrupt close, no terminal marker: the consumer tells "cancelled"
		// from "error" by having issued the cancel itself.
		s.Abort()
	default:
		s.Fail(failure)
	}
	q.streams.Drop(cmd.ID)

	q.metrics.CommandFinished(status.String())
	q.record(cmd)
	q.logger.Info("command finished",
		"command_id", cmd.ID, "status", status.String(), "steps", out.steps)
}

// drainEmissions unblocks an abandoned engine goroutine.
func drainEmissions(ch <-chan engine.Emission) {
	for range ch {
	}
}
