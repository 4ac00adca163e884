package buildsys

import (
	"context"
	"fmt"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
)

// Series composes the given tasks into a task that runs them strictly in order. A child only starts
// after its predecessor succeeded; the first failure ends the series. An empty name creates a hidden
// task with a generated name.
func Series(name string, children ...*Task) *Task {
	return composite(KindSeries, name, children)
}

// Parallel composes the given tasks into a task that starts all of them at once. It completes after
// every child has finished and fails if any child failed. Running siblings are never cancelled.
func Parallel(name string, children ...*Task) *Task {
	return composite(KindParallel, name, children)
}

func composite(kind Kind, name string, children []*Task) *Task {
	task := &Task{
		Name:     name,
		Kind:     kind,
		Children: make([]*Task, len(children)),
	}
	copy(task.Children, children)

	if task.Name == "" {
		task.Hidden = true
		task.Name = kind.String() + "#" + nanoid.New()
	}

	return task
}

// Validate checks that the task and its descendants can be executed
func Validate(task *Task) error {
	if task == nil {
		return eris.Wrap(ErrInvalidTask, "nil task")
	}

	var err error
	task.Walk(func(t *Task) {
		if err != nil {
			return
		}

		switch {
		case t == nil:
			err = eris.Wrapf(ErrInvalidTask, "nil child in %s", task.Name)
		case t.Kind == KindLeaf && t.run == nil:
			err = eris.Wrapf(ErrInvalidTask, "leaf %s has no body", t.Name)
		case t.Kind != KindLeaf && t.run != nil:
			err = eris.Wrapf(ErrInvalidTask, "composite %s can't have a body", t.Name)
		}
	})
	return err
}

func execute(ctx context.Context, task *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger := Log(ctx).With().Str("task", task.Name).Logger()
	if !task.Hidden {
		logger.Info().Msg("Starting...")
	}
	start := time.Now()

	var err error
	switch task.Kind {
	case KindSeries:
		err = runSeries(ctx, task)
	case KindParallel:
		err = runParallel(ctx, task)
	default:
		err = runLeaf(WithLogger(ctx, &logger), task)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		if task.Kind == KindLeaf {
			logger.Error().Err(err).Msgf("Failed after %s", elapsed)
		} else if !task.Hidden {
			logger.Warn().Msgf("Aborted after %s", elapsed)
		}
		return err
	}

	if !task.Hidden {
		logger.Info().Msgf("Finished after %s", elapsed)
	}
	return nil
}

func runSeries(ctx context.Context, task *Task) error {
	for _, child := range task.Children {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := Start(ctx, child).Await(); err != nil {
			return err
		}
	}

	return nil
}

func runParallel(ctx context.Context, task *Task) error {
	futures := make([]*Future, len(task.Children))
	for idx, child := range task.Children {
		futures[idx] = Start(ctx, child)
	}

	var err error
	for _, f := range futures {
		err = multierr.Append(err, f.Await())
	}
	return err
}

func runLeaf(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{Task: task.Name, Err: &PanicError{Value: r}}
		}
	}()

	if task.run == nil {
		return &TaskError{Task: task.Name, Err: eris.Wrap(ErrInvalidTask, "missing body")}
	}

	if runErr := task.run(ctx); runErr != nil {
		return &TaskError{Task: task.Name, Err: runErr}
	}
	return nil
}

// Describe renders the composition of a task as a single line, e.g. "series(clean, parallel(css, js))"
func Describe(task *Task) string {
	if task.Kind == KindLeaf {
		return task.Name
	}

	out := task.Kind.String() + "("
	for idx, child := range task.Children {
		if idx > 0 {
			out += ", "
		}
		if child.Hidden || child.Kind == KindLeaf {
			out += Describe(child)
		} else {
			out += child.Name
		}
	}
	return fmt.Sprintf("%s)", out)
}
