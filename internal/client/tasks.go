// ABOUTME: Task aggregates fold per-step progress events into UI-facing records
// ABOUTME: One Task per step; an errored Task is terminal and ignores later events

package client

import "github.com/2389/switchboard/internal/command"

// TaskStatus is the lifecycle state of one step's aggregate.
type TaskStatus string

const (
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskErrored TaskStatus = "errored"
)

// Task is the client-side view of one step, built by folding the step's
// progress events as they arrive.
type Task struct {
	StepIndex    int
	TotalSteps   int
	Status       TaskStatus
	Thought      string // latest thinking text
	Tool         string // latest tool name
	InputTokens  int
	OutputTokens int
	Error        string
}

// board folds a session's progress events into an ordered task list for the
// command currently executing. Events from a new command reset the board;
// the previous command's tasks are display state, not history.
type board struct {
	commandID string
	order     []*Task
	byStep    map[int]*Task
	open      *Task
}

func newBoard() *board {
	return &board{byStep: make(map[int]*Task)}
}

// apply folds one event. Enrichment events for a step that was never opened
// are dropped; that happens when a subscriber attaches mid-step, since the
// feed has no replay.
func (b *board) apply(ev *command.ProgressEvent) {
	if ev.CommandID != b.commandID {
		b.commandID = ev.CommandID
		b.order = nil
		b.byStep = make(map[int]*Task)
		b.open = nil
	}

	switch ev.Type {
	case command.EventStepStart:
		if t, ok := b.byStep[ev.StepIndex]; ok {
			if t.Status != TaskErrored {
				b.open = t
			}
			return
		}
		t := &Task{StepIndex: ev.StepIndex, TotalSteps: ev.TotalSteps, Status: TaskRunning}
		b.order = append(b.order, t)
		b.byStep[ev.StepIndex] = t
		b.open = t

	case command.EventThinking:
		if t := b.running(ev.StepIndex); t != nil {
			t.Thought = payloadString(ev.Payload, "text")
		}

	case command.EventToolExecution:
		if t := b.running(ev.StepIndex); t != nil {
			t.Tool = payloadString(ev.Payload, "tool")
		}

	case command.EventTokenUsage:
		if t := b.running(ev.StepIndex); t != nil {
			t.InputTokens += payloadInt(ev.Payload, "input_tokens")
			t.OutputTokens += payloadInt(ev.Payload, "output_tokens")
		}

	case command.EventStepComplete:
		if t := b.running(ev.StepIndex); t != nil {
			t.Status = TaskDone
			if b.open == t {
				b.open = nil
			}
		}

	case command.EventError:
		t, ok := b.byStep[ev.StepIndex]
		if !ok {
			t = b.open
		}
		if t == nil || t.Status == TaskErrored {
			return
		}
		t.Status = TaskErrored
		t.Error = payloadString(ev.Payload, "message")
		if b.open == t {
			b.open = nil
		}
	}
}

// running returns the task at the step if it is still mutable.
func (b *board) running(stepIndex int) *Task {
	t, ok := b.byStep[stepIndex]
	if !ok || t.Status != TaskRunning {
		return nil
	}
	return t
}

// snapshot copies the tasks in arrival order.
func (b *board) snapshot() []Task {
	out := make([]Task, 0, len(b.order))
	for _, t := range b.order {
		out = append(out, *t)
	}
	return out
}

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

// payloadInt reads a numeric payload field. Values decoded from JSON arrive
// as float64; events constructed in process may carry int.
func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
