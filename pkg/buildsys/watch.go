package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/aidarkhanov/nanoid"
	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
)

// DefaultIgnoredDirs are never watched
var DefaultIgnoredDirs = []string{".git", "node_modules"}

// Binding associates glob patterns with the task that runs when a matching file changes
type Binding struct {
	Patterns []string
	Task     *Task
}

type compiledBinding struct {
	Binding
	set *PatternSet
}

// Watcher re-runs tasks whenever files below its root change. Every matching event schedules its own
// run; runs of the same task may overlap.
type Watcher struct {
	root     string
	bindings []compiledBinding
	ignored  map[string]bool
	runs     sync.WaitGroup
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithIgnoredDirs replaces the list of directory names that are skipped while registering watches
func WithIgnoredDirs(names ...string) WatcherOption {
	return func(w *Watcher) {
		w.ignored = make(map[string]bool, len(names))
		for _, name := range names {
			w.ignored[name] = true
		}
	}
}

// NewWatcher compiles the bindings. Nothing is watched until Watch is called.
func NewWatcher(root string, bindings []Binding, opts ...WatcherOption) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", root)
	}

	w := &Watcher{
		root:     root,
		bindings: make([]compiledBinding, 0, len(bindings)),
	}
	WithIgnoredDirs(DefaultIgnoredDirs...)(w)
	for _, opt := range opts {
		opt(w)
	}

	for _, b := range bindings {
		if err := Validate(b.Task); err != nil {
			return nil, eris.Wrap(err, "invalid watch binding")
		}

		set, err := CompilePatterns(b.Patterns...)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid watch binding for %s", b.Task.Name)
		}
		if set.Empty() {
			return nil, eris.Errorf("watch binding for %s has no patterns", b.Task.Name)
		}

		w.bindings = append(w.bindings, compiledBinding{Binding: b, set: set})
	}

	return w, nil
}

// WatchTask wraps a watcher in a leaf task that watches until its context is cancelled
func WatchTask(name, root string, bindings []Binding, opts ...WatcherOption) (*Task, error) {
	w, err := NewWatcher(root, bindings, opts...)
	if err != nil {
		return nil, err
	}

	return NewTask(name, "Watches files and re-runs tasks on change", w.Watch), nil
}

// Watch registers the root directory recursively and dispatches events until ctx is cancelled.
// Failed runs are logged and never end the watch.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "failed to create file watcher")
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.root); err != nil {
		return err
	}

	Log(ctx).Info().Msgf("Watching %s (%d bindings)", w.root, len(w.bindings))

	for {
		select {
		case <-ctx.Done():
			w.runs.Wait()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				w.runs.Wait()
				return nil
			}

			if event.Has(fsnotify.Create) {
				info, err := os.Stat(event.Name)
				if err == nil && info.IsDir() {
					if err := w.addRecursive(fsw, event.Name); err != nil {
						Log(ctx).Warn().Err(err).Msgf("Could not watch %s", event.Name)
					}
				}
			}

			if event.Op == fsnotify.Chmod {
				continue
			}

			w.Dispatch(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				w.runs.Wait()
				return nil
			}
			Log(ctx).Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == dir {
				return eris.Wrapf(err, "failed to watch %s", dir)
			}
			return nil
		}

		if !info.IsDir() {
			return nil
		}

		if p != w.root && w.ignored[info.Name()] {
			return filepath.SkipDir
		}

		if err := fsw.Add(p); err != nil {
			return eris.Wrapf(err, "failed to watch %s", p)
		}
		return nil
	})
}

// Dispatch starts every task bound to a pattern matching the given path and returns the number of
// started runs. It does not wait for them to finish.
func (w *Watcher) Dispatch(ctx context.Context, file string) int {
	if !filepath.IsAbs(file) {
		file = filepath.Join(w.root, file)
	}

	rel, err := filepath.Rel(w.root, file)
	if err != nil {
		return 0
	}
	rel = filepath.ToSlash(rel)

	started := 0
	for _, b := range w.bindings {
		if !b.set.Match(rel) {
			continue
		}

		started++
		w.runs.Add(1)
		go func(task *Task) {
			defer w.runs.Done()

			logger := Log(ctx).With().Str("run", nanoid.New()).Logger()
			logger.Debug().Str("path", file).Msgf("%s changed, running %s", rel, task.Name)

			if err := Run(WithLogger(ctx, &logger), task); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msgf("%s failed, still watching", task.Name)
			}
		}(b.Task)
	}

	return started
}

// Wait blocks until all runs started by Dispatch have finished
func (w *Watcher) Wait() {
	w.runs.Wait()
}
