package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/propwatch/types"
)

// Task info paths and states.
const (
	TaskStatePath  = "info.state"
	TaskErrorPath  = "info.error"
	TaskResultPath = "info.result"

	TaskQueued     = "queued"
	TaskRunning    = "running"
	TaskSuccess    = "success"
	TaskStateError = "error"
)

// TaskOutcome is the terminal state of a task.
type TaskOutcome struct {
	State string
	// Fault is the LocalizedMethodFault of a failed task, if reported.
	Fault any
	// Result is the task result of a successful task, if any.
	Result any
}

// Failed reports whether the task ended in the error state.
func (o *TaskOutcome) Failed() bool {
	return o.State == TaskStateError
}

// Message returns the localized fault message of a failed task.
func (o *TaskOutcome) Message() string {
	f, ok := o.Fault.(*types.Object)
	if !ok {
		return ""
	}
	if msg, ok := f.Get("localizedMessage"); ok {
		return types.Text(msg)
	}
	return ""
}

// Err returns a TaskError for a failed task, nil otherwise.
func (o *TaskOutcome) Err() error {
	if !o.Failed() {
		return nil
	}
	return &TaskError{Message: o.Message()}
}

// TaskError reports a task that ended in the error state.
type TaskError struct {
	Message string
}

func (e *TaskError) Error() string {
	if e.Message == "" {
		return "task failed"
	}
	return "task failed: " + e.Message
}

// WaitForTask subscribes to the task's state and error and blocks until the
// state is success or error.
func (w *Watcher) WaitForTask(ctx context.Context, task types.Reference) (*TaskOutcome, error) {
	res, err := w.WaitForValues(ctx, task,
		[]string{TaskStatePath, TaskErrorPath, TaskResultPath},
		[]Until{{Path: TaskStatePath, Values: []any{TaskSuccess, TaskStateError}}},
	)
	if err != nil {
		return nil, err
	}
	out := &TaskOutcome{}
	if s, ok := res.Slot(TaskStatePath); ok {
		out.State = types.Text(s.Value)
	}
	if s, ok := res.Slot(TaskErrorPath); ok && s.IsSet() {
		out.Fault = s.Value
	}
	if s, ok := res.Slot(TaskResultPath); ok && s.IsSet() {
		out.Result = s.Value
	}
	return out, nil
}

// PollTask reads the task's state with snapshot reads until it is success
// or error. It sleeps PollRunning between reads while the task runs and
// PollQueued otherwise.
func (w *Watcher) PollTask(ctx context.Context, task types.Reference) (*TaskOutcome, error) {
	for {
		values, err := w.PropertiesByPaths(ctx, task, TaskStatePath, TaskErrorPath, TaskResultPath)
		if err != nil {
			return nil, err
		}
		state := types.Text(values[TaskStatePath])
		switch state {
		case TaskSuccess, TaskStateError:
			return &TaskOutcome{
				State:  state,
				Fault:  values[TaskErrorPath],
				Result: values[TaskResultPath],
			}, nil
		}

		delay := w.config.PollQueued
		if state == TaskRunning {
			delay = w.config.PollRunning
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("poll task %s: %w", task, ctx.Err())
		case <-time.After(delay):
		}
	}
}
