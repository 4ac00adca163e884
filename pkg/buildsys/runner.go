package buildsys

import (
	"context"
)

// Run executes the task and blocks until it and all of its children finished
func Run(ctx context.Context, task *Task) error {
	return Start(ctx, task).Await()
}

// RunTask looks up the named task in the registry and executes it
func RunTask(ctx context.Context, reg *Registry, name string) error {
	task, err := reg.Lookup(name)
	if err != nil {
		return err
	}

	return Run(ctx, task)
}

// RunTasks executes the named tasks one after the other. All names are resolved before the first task
// starts.
func RunTasks(ctx context.Context, reg *Registry, names []string) error {
	tasks := make([]*Task, len(names))
	for idx, name := range names {
		task, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		tasks[idx] = task
	}

	for _, task := range tasks {
		if err := Run(ctx, task); err != nil {
			return err
		}
	}

	return nil
}
