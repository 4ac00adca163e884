package buildsys

import (
	"sort"

	"github.com/rotisserie/eris"
)

// DefaultTask is the export name used when no task is requested
const DefaultTask = "default"

// Registry maps exported names to tasks. It is built once and never modified afterwards.
type Registry struct {
	tasks map[string]*Task
}

// NewRegistry validates the given exports and returns a registry containing them. The same task may be
// exported under several names (i.e. "build" and "default").
func NewRegistry(exports map[string]*Task) (*Registry, error) {
	tasks := make(map[string]*Task, len(exports))
	for name, task := range exports {
		if name == "" {
			return nil, eris.Wrap(ErrInvalidTask, "tasks can't be exported without a name")
		}

		if err := Validate(task); err != nil {
			return nil, eris.Wrapf(err, "failed to register %s", name)
		}

		tasks[name] = task
	}

	return &Registry{tasks: tasks}, nil
}

// Lookup returns the task exported under the given name
func (r *Registry) Lookup(name string) (*Task, error) {
	task, ok := r.tasks[name]
	if !ok {
		return nil, eris.Wrapf(ErrTaskNotFound, "task %s", name)
	}

	return task, nil
}

// HasDefault reports whether a default task was exported
func (r *Registry) HasDefault() bool {
	_, ok := r.tasks[DefaultTask]
	return ok
}

// Names returns the sorted list of exported names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Len returns the number of exported names
func (r *Registry) Len() int {
	return len(r.tasks)
}
