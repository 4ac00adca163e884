package sitefile

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

// normalizePath resolves paths relative to the site file. "//" refers to the project root.
func normalizePath(ctx *parserCtx, pathList ...string) string {
	result := filepath.Dir(ctx.filepath)

	for _, path := range pathList {
		switch {
		case strings.HasPrefix(path, "//"):
			result = filepath.Join(ctx.projectRoot, path[2:])
		case filepath.IsAbs(path):
			result = path
		default:
			result = filepath.Join(result, path)
		}
	}

	return filepath.Clean(result)
}

func simplifyPath(ctx *parserCtx, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	rel, err := filepath.Rel(ctx.projectRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return "//" + filepath.ToSlash(rel)
}

// stringList accepts None, a single string or any iterable of strings
func stringList(input starlark.Value, field string) ([]string, error) {
	switch value := input.(type) {
	case nil, starlark.NoneType:
		return []string{}, nil
	case starlark.String:
		return []string{value.GoString()}, nil
	case starlark.Iterable:
		result := make([]string, 0)
		iter := value.Iterate()
		defer iter.Done()

		var item starlark.Value
		for iter.Next(&item) {
			str, ok := item.(starlark.String)
			if !ok {
				return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
			}
			result = append(result, str.GoString())
		}
		return result, nil
	default:
		return nil, eris.Errorf("expected a string or a list of strings for %s but found %s", field, input.Type())
	}
}

func stringDict(input *starlark.Dict, field string) (map[string]string, error) {
	result := make(map[string]string)
	if input == nil {
		return result, nil
	}

	for _, item := range input.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found key type %s in %s but only strings are supported", item[0].Type(), field)
		}

		value, ok := item[1].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found value of type %s for key %s in %s but only strings are supported",
				item[1].Type(), key.GoString(), field)
		}

		result[key.GoString()] = value.GoString()
	}
	return result, nil
}

func toTask(value starlark.Value, field string) (*buildsys.Task, error) {
	tv, ok := value.(*taskValue)
	if !ok {
		return nil, eris.Errorf("expected a task for %s but found %s", field, value.Type())
	}
	return tv.task, nil
}

func toTasks(values starlark.Tuple, field string) ([]*buildsys.Task, error) {
	tasks := make([]*buildsys.Task, len(values))
	for idx, value := range values {
		task, err := toTask(value, fmt.Sprintf("%s #%d", field, idx+1))
		if err != nil {
			return nil, err
		}
		tasks[idx] = task
	}
	return tasks, nil
}

// toStarlark converts decoded YAML / JSON values
func toStarlark(value interface{}) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case bool:
		return starlark.Bool(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case uint64:
		return starlark.MakeUint64(value), nil
	case float64:
		return starlark.Float(value), nil
	case []interface{}:
		items := make([]starlark.Value, len(value))
		for idx, item := range value {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[idx] = converted
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(value))
		for key, item := range value {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}

			if err := dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[interface{}]interface{}:
		converted := make(map[string]interface{}, len(value))
		for key, item := range value {
			converted[fmt.Sprint(key)] = item
		}
		return toStarlark(converted)
	default:
		return nil, eris.Errorf("encountered unsupported type %T", value)
	}
}

// lookupKey follows a dotted key ("repository.url", "files.0") through a decoded document
func lookupKey(doc interface{}, key string) (interface{}, bool) {
	current := doc
	for _, part := range strings.Split(key, ".") {
		switch value := current.(type) {
		case map[string]interface{}:
			next, ok := value[part]
			if !ok {
				return nil, false
			}
			current = next
		case map[interface{}]interface{}:
			found := false
			for k, v := range value {
				if fmt.Sprint(k) == part {
					current = v
					found = true
					break
				}
			}
			if !found {
				return nil, false
			}
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(value) {
				return nil, false
			}
			current = value[idx]
		default:
			return nil, false
		}
	}

	return current, current != nil
}

func logAt(thread *starlark.Thread) (string, *parserCtx) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos
	return fmt.Sprintf("%s:%d:%d", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col), ctx
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	location, ctx := logAt(thread)
	buildsys.Log(ctx.ctx).Info().Msgf("%s: %s", location, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	location, ctx := logAt(thread)
	buildsys.Log(ctx.ctx).Warn().Msgf("%s: %s", location, fmt.Sprintf(msg, args...))
}
