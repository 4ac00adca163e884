package buildsys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	rec := &recorder{}
	build := Series("build", rec.leaf("css", nil), rec.leaf("js", nil))

	reg, err := NewRegistry(map[string]*Task{
		"build":     build,
		"clean":     rec.leaf("clean", nil),
		DefaultTask: build,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "clean", "default"}, reg.Names())
	assert.Equal(t, 3, reg.Len())
	assert.True(t, reg.HasDefault())

	task, err := reg.Lookup("default")
	require.NoError(t, err)
	assert.Same(t, build, task)

	_, err = reg.Lookup("deploy")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRegistryRejectsInvalidTasks(t *testing.T) {
	_, err := NewRegistry(map[string]*Task{"broken": nil})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = NewRegistry(map[string]*Task{"": NewTask("x", "", func(context.Context) error { return nil })})
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestRegistryIsDetachedFromInput(t *testing.T) {
	rec := &recorder{}
	exports := map[string]*Task{"css": rec.leaf("css", nil)}
	reg, err := NewRegistry(exports)
	require.NoError(t, err)

	exports["js"] = rec.leaf("js", nil)
	_, err = reg.Lookup("js")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRunTasksResolvesNamesFirst(t *testing.T) {
	rec := &recorder{}
	reg, err := NewRegistry(map[string]*Task{
		"clean": rec.leaf("clean", nil),
		"css":   rec.leaf("css", nil),
	})
	require.NoError(t, err)

	err = RunTasks(context.Background(), reg, []string{"clean", "missing", "css"})
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Empty(t, rec.list())

	require.NoError(t, RunTasks(context.Background(), reg, []string{"clean", "css"}))
	assert.Equal(t, []string{"clean", "css"}, rec.list())
}

func TestRunTaskUnknownName(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	err = RunTask(context.Background(), reg, "css")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Contains(t, err.Error(), "css")
}
