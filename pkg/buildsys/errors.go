package buildsys

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrTaskNotFound is returned when a requested task name is not registered
	ErrTaskNotFound = eris.New("task not found")
	// ErrDuplicateTask is returned when two tasks are registered under the same name
	ErrDuplicateTask = eris.New("task already registered")
	// ErrInvalidTask is returned for nil tasks and leaves without a body
	ErrInvalidTask = eris.New("invalid task")
)

// TaskError reports the failure of a single leaf task
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic recovered from a leaf body
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
