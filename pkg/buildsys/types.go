package buildsys

import (
	"context"
	"fmt"
)

// Kind distinguishes leaf tasks from the two composition types
type Kind int

const (
	// KindLeaf is an atomic task with its own body
	KindLeaf Kind = iota
	// KindSeries runs its children one after the other
	KindSeries
	// KindParallel starts all children at once
	KindParallel
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindSeries:
		return "series"
	case KindParallel:
		return "parallel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TaskFunc is the body of a leaf task. The task is complete once the function returns.
type TaskFunc func(ctx context.Context) error

// Task is either a leaf with a body or a series / parallel composition of other tasks.
// Tasks are never modified after construction.
type Task struct {
	Name     string
	Desc     string
	Hidden   bool
	Kind     Kind
	Children []*Task
	run      TaskFunc
}

// NewTask creates a leaf task
func NewTask(name, desc string, run TaskFunc) *Task {
	return &Task{
		Name: name,
		Desc: desc,
		Kind: KindLeaf,
		run:  run,
	}
}

// Named returns a visible copy of the task called name. The original task is left untouched.
func (t *Task) Named(name string) *Task {
	named := *t
	named.Name = name
	named.Hidden = false
	return &named
}

// String returns a string representation of the task
func (t *Task) String() string {
	if t.Desc == "" {
		return fmt.Sprintf("<Task %s (%s)>", t.Name, t.Kind)
	}
	return fmt.Sprintf("<Task %s: %s>", t.Name, t.Desc)
}

// Walk calls fn for the task and all of its descendants in declaration order
func (t *Task) Walk(fn func(*Task)) {
	fn(t)
	if t == nil {
		return
	}

	for _, child := range t.Children {
		child.Walk(fn)
	}
}
