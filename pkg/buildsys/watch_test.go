package buildsys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterTask(name string, counter *int32, err error) *Task {
	return NewTask(name, "", func(ctx context.Context) error {
		atomic.AddInt32(counter, 1)
		return err
	})
}

func TestWatcherDispatchMatchesBindings(t *testing.T) {
	root := t.TempDir()
	var css, js, reload int32

	w, err := NewWatcher(root, []Binding{
		{Patterns: []string{"./scss/**/*"}, Task: counterTask("css", &css, nil)},
		{Patterns: []string{"./js/**/*", "!./js/**/*.min.js"}, Task: counterTask("js", &js, nil)},
		{Patterns: []string{"./**/*.html"}, Task: counterTask("reload", &reload, nil)},
	})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, 1, w.Dispatch(ctx, filepath.Join(root, "scss", "parts", "_nav.scss")))
	assert.Equal(t, 1, w.Dispatch(ctx, "js/app.js"))
	assert.Equal(t, 0, w.Dispatch(ctx, "js/app.min.js"))
	assert.Equal(t, 1, w.Dispatch(ctx, "index.html"))
	assert.Equal(t, 0, w.Dispatch(ctx, "README.md"))
	w.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&css))
	assert.EqualValues(t, 1, atomic.LoadInt32(&js))
	assert.EqualValues(t, 1, atomic.LoadInt32(&reload))
}

func TestWatcherDoesNotDeduplicateRuns(t *testing.T) {
	var runs int32
	release := make(chan struct{})
	task := NewTask("css", "", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		<-release
		return nil
	})

	w, err := NewWatcher(t.TempDir(), []Binding{{Patterns: []string{"scss/*"}, Task: task}})
	require.NoError(t, err)

	ctx := context.Background()
	w.Dispatch(ctx, "scss/a.scss")
	w.Dispatch(ctx, "scss/a.scss")
	w.Dispatch(ctx, "scss/b.scss")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	w.Wait()
}

func TestWatcherSurvivesFailingTasks(t *testing.T) {
	var runs int32
	w, err := NewWatcher(t.TempDir(), []Binding{
		{Patterns: []string{"scss/*"}, Task: counterTask("css", &runs, errors.New("syntax error"))},
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, w.Dispatch(ctx, "scss/a.scss"))
		w.Wait()
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&runs))
}

func TestNewWatcherValidatesBindings(t *testing.T) {
	var runs int32
	_, err := NewWatcher(t.TempDir(), []Binding{{Patterns: nil, Task: counterTask("css", &runs, nil)}})
	assert.Error(t, err)

	_, err = NewWatcher(t.TempDir(), []Binding{{Patterns: []string{"*.scss"}}})
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestWatchReactsToFileChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scss"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))

	var runs int32
	task, err := WatchTask("watch", root, []Binding{
		{Patterns: []string{"scss/**/*.scss"}, Task: counterTask("css", &runs, errors.New("broken"))},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f := Start(ctx, task)

	// fsnotify needs a moment to register the watches
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(root, "scss", "main.scss"), []byte("a { color: red }"), 0o644)
		return atomic.LoadInt32(&runs) > 0
	}, 5*time.Second, 50*time.Millisecond)

	before := atomic.LoadInt32(&runs)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scss", "nested"), 0o755))
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(root, "scss", "nested", "_part.scss"), []byte("b {}"), 0o644)
		return atomic.LoadInt32(&runs) > before
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-f.Done():
		assert.NoError(t, f.Err())
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}
