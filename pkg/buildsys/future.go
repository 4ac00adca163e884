package buildsys

import "context"

// Future is the handle of a single task execution
type Future struct {
	task *Task
	done chan struct{}
	err  error
}

// Start begins executing the task in the background and returns immediately
func Start(ctx context.Context, task *Task) *Future {
	f := &Future{
		task: task,
		done: make(chan struct{}),
	}

	go func() {
		defer close(f.done)
		f.err = execute(ctx, task)
	}()

	return f
}

// Task returns the task this future belongs to
func (f *Future) Task() *Task {
	return f.task
}

// Done is closed once the task and all of its children have finished
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the outcome of the execution or nil while it is still running
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Await blocks until the execution finished and returns its outcome
func (f *Future) Await() error {
	<-f.done
	return f.err
}
