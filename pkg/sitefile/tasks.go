package sitefile

import (
	"fmt"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/pipeline"
)

// taskValue exposes a task to Starlark code
type taskValue struct {
	task *buildsys.Task
}

var _ starlark.HasAttrs = (*taskValue)(nil)

func (t *taskValue) String() string        { return t.task.String() }
func (t *taskValue) Type() string          { return "task" }
func (t *taskValue) Freeze()               {}
func (t *taskValue) Truth() starlark.Bool  { return starlark.True }
func (t *taskValue) Hash() (uint32, error) { return starlark.String(t.task.Name).Hash() }

func (t *taskValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(t.task.Name), nil
	case "desc":
		return starlark.String(t.task.Desc), nil
	case "kind":
		return starlark.String(t.task.Kind.String()), nil
	case "hidden":
		return starlark.Bool(t.task.Hidden), nil
	default:
		return nil, nil
	}
}

func (t *taskValue) AttrNames() []string {
	return []string{"desc", "hidden", "kind", "name"}
}

func newLeaf(kind, name, desc string, run buildsys.TaskFunc) (starlark.Value, error) {
	hidden := false
	if name == "" {
		hidden = true
		name = kind + "#" + nanoid.New()
	}

	if name == "configure" {
		return nil, eris.New(`the task name "configure" is reserved, please use a different name`)
	}

	task := buildsys.NewTask(name, desc, run)
	task.Hidden = hidden
	return &taskValue{task: task}, nil
}

func cleanTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc string
	var rawPaths starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "paths?", &rawPaths, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	paths, err := stringList(rawPaths, "paths")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, eris.Errorf("%s: paths is required", fn.Name())
	}

	ctx := getCtx(thread)
	for idx, p := range paths {
		paths[idx] = normalizePath(ctx, p)
	}

	return newLeaf(fn.Name(), name, desc, pipeline.Clean(ctx.projectRoot, paths))
}

func copyTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc string
	var mappings *starlark.Dict

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "mappings?", &mappings, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	if mappings == nil || mappings.Len() == 0 {
		return nil, eris.Errorf("%s: mappings is required", fn.Name())
	}

	ctx := getCtx(thread)
	specs := make([]pipeline.CopySpec, 0, mappings.Len())
	for _, item := range mappings.Items() {
		dest, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("%s: destinations must be strings but found %s", fn.Name(), item[0].Type())
		}

		src, err := stringList(item[1], fmt.Sprintf("mappings[%s]", dest))
		if err != nil {
			return nil, err
		}

		specs = append(specs, pipeline.CopySpec{
			Src:  src,
			Dest: normalizePath(ctx, dest.GoString()),
		})
	}

	return newLeaf(fn.Name(), name, desc, pipeline.Copy(ctx.projectRoot, specs))
}

func assetOptions(thread *starlark.Thread, fn *starlark.Builtin, rawSrc starlark.Value, dest, banner string, reload bool) (pipeline.AssetOptions, error) {
	src, err := stringList(rawSrc, "src")
	if err != nil {
		return pipeline.AssetOptions{}, err
	}
	if len(src) == 0 {
		return pipeline.AssetOptions{}, eris.Errorf("%s: src is required", fn.Name())
	}
	if dest == "" {
		return pipeline.AssetOptions{}, eris.Errorf("%s: dest is required", fn.Name())
	}

	ctx := getCtx(thread)
	opts := pipeline.AssetOptions{
		Root:   ctx.projectRoot,
		Src:    src,
		Dest:   normalizePath(ctx, dest),
		Banner: banner,
	}

	if reload {
		server := ctx.devServer()
		opts.Notify = func(string) {
			server.Reload()
		}
	}
	return opts, nil
}

func stylesTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc, dest, banner string
	var rawSrc starlark.Value
	var reload bool
	tools := getCtx(thread).settings.Config.Tools
	sass := tools.Sass
	autoprefixer := tools.Autoprefixer

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "src?", &rawSrc, "dest?", &dest,
		"banner?", &banner, "reload?", &reload, "sass?", &sass, "autoprefixer?", &autoprefixer, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	opts, err := assetOptions(thread, fn, rawSrc, dest, banner, reload)
	if err != nil {
		return nil, err
	}

	return newLeaf(fn.Name(), name, desc, pipeline.Styles(pipeline.StyleOptions{
		AssetOptions: opts,
		Sass:         sass,
		Autoprefixer: autoprefixer,
		Env:          getCtx(thread).shellEnv(nil),
	}))
}

func scriptsTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc, dest, banner string
	var rawSrc starlark.Value
	var reload bool

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "src?", &rawSrc, "dest?", &dest,
		"banner?", &banner, "reload?", &reload, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	opts, err := assetOptions(thread, fn, rawSrc, dest, banner, reload)
	if err != nil {
		return nil, err
	}

	return newLeaf(fn.Name(), name, desc, pipeline.Scripts(opts))
}

func shellTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc, base string
	var env *starlark.Dict
	var cmds *starlark.List

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "cmds?", &cmds, "env?", &env,
		"base?", &base, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	if cmds == nil || cmds.Len() == 0 {
		return nil, eris.Errorf("%s: cmds is required", fn.Name())
	}

	ctx := getCtx(thread)
	if base == "" {
		base = "."
	}
	base = normalizePath(ctx, base)

	taskEnv, err := stringDict(env, "env")
	if err != nil {
		return nil, err
	}

	scripts := make([]string, 0, cmds.Len())
	for idx := 0; idx < cmds.Len(); idx++ {
		switch value := cmds.Index(idx).(type) {
		case starlark.String:
			scripts = append(scripts, value.GoString())
		case starlark.Tuple, *starlark.List:
			parts, err := stringList(value, fmt.Sprintf("cmds[%d]", idx))
			if err != nil {
				return nil, err
			}

			script, err := pipeline.QuoteCommand(parts...)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}
			scripts = append(scripts, script)
		default:
			return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples and lists are valid", fn.Name(),
				value.Type())
		}
	}

	return newLeaf(fn.Name(), name, desc, pipeline.Commands(base, ctx.shellEnv(taskEnv), scripts))
}

func compressTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc string
	var rawSrc starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "src?", &rawSrc, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	src, err := stringList(rawSrc, "src")
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, eris.Errorf("%s: src is required", fn.Name())
	}

	return newLeaf(fn.Name(), name, desc, pipeline.Compress(getCtx(thread).projectRoot, src))
}

func archiveTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc, dest string
	var rawSrc starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "src?", &rawSrc, "dest?", &dest,
		"desc?", &desc)
	if err != nil {
		return nil, err
	}

	src, err := stringList(rawSrc, "src")
	if err != nil {
		return nil, err
	}
	if len(src) == 0 || dest == "" {
		return nil, eris.Errorf("%s: src and dest are required", fn.Name())
	}

	ctx := getCtx(thread)
	return newLeaf(fn.Name(), name, desc, pipeline.Archive(ctx.projectRoot, src, normalizePath(ctx, dest)))
}

func reloadTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	return newLeaf(fn.Name(), name, desc, pipeline.ReloadTask(getCtx(thread).devServer()))
}

func serveTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	return newLeaf(fn.Name(), name, desc, getCtx(thread).devServer().Serve)
}

// watchTask accepts bindings as a list of (patterns, task) pairs or as a dict mapping a pattern to a task
func watchTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc string
	var rawBindings starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "bindings?", &rawBindings, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	var pairs []starlark.Tuple
	switch value := rawBindings.(type) {
	case *starlark.Dict:
		pairs = value.Items()
	case *starlark.List, starlark.Tuple:
		iter := value.(starlark.Iterable).Iterate()
		var item starlark.Value
		for iter.Next(&item) {
			seq, ok := item.(starlark.Indexable)
			if !ok || seq.Len() != 2 {
				iter.Done()
				return nil, eris.Errorf("%s: bindings must be (patterns, task) pairs but found %s", fn.Name(), item)
			}
			pairs = append(pairs, starlark.Tuple{seq.Index(0), seq.Index(1)})
		}
		iter.Done()
	default:
		return nil, eris.Errorf("%s: bindings is required", fn.Name())
	}

	bindings := make([]buildsys.Binding, len(pairs))
	for idx, pair := range pairs {
		patterns, err := stringList(pair[0], fmt.Sprintf("bindings[%d]", idx))
		if err != nil {
			return nil, err
		}

		task, err := toTask(pair[1], fmt.Sprintf("bindings[%d]", idx))
		if err != nil {
			return nil, err
		}

		bindings[idx] = buildsys.Binding{Patterns: patterns, Task: task}
	}

	hidden := name == ""
	if hidden {
		name = fn.Name() + "#" + nanoid.New()
	}

	task, err := buildsys.WatchTask(name, getCtx(thread).projectRoot, bindings)
	if err != nil {
		return nil, err
	}

	task.Hidden = hidden
	if desc != "" {
		task.Desc = desc
	}
	return &taskValue{task: task}, nil
}

func deployTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc string
	var rawPaths, rawExclude starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &name, "paths?", &rawPaths,
		"exclude?", &rawExclude, "desc?", &desc)
	if err != nil {
		return nil, err
	}

	paths, err := stringList(rawPaths, "paths")
	if err != nil {
		return nil, err
	}

	exclude, err := stringList(rawExclude, "exclude")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	transport := ctx.transport
	if rsync, ok := transport.(pipeline.Rsync); ok && len(exclude) > 0 {
		rsync.Exclude = append(append([]string{}, rsync.Exclude...), exclude...)
		transport = rsync
	}

	return newLeaf(fn.Name(), name, desc, pipeline.Deploy(pipeline.DeployOptions{
		Root:      ctx.projectRoot,
		Paths:     paths,
		Target:    ctx.settings.Target,
		Deploy:    ctx.settings.Config.Deploy,
		Confirm:   ctx.confirm,
		Transport: transport,
	}))
}

// compositeArgs extracts the optional leading name and the name / desc keywords of series() and parallel()
func compositeArgs(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, string, []*buildsys.Task, error) {
	var name, desc string
	if len(args) > 0 {
		if str, ok := args[0].(starlark.String); ok {
			name = str.GoString()
			args = args[1:]
		}
	}

	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		value, ok := kv[1].(starlark.String)
		if !ok {
			return "", "", nil, eris.Errorf("%s: %s must be a string", fn.Name(), key)
		}

		switch key {
		case "name":
			name = value.GoString()
		case "desc":
			desc = value.GoString()
		default:
			return "", "", nil, eris.Errorf("%s: unexpected keyword argument %s", fn.Name(), key)
		}
	}

	children, err := toTasks(args, fn.Name())
	if err != nil {
		return "", "", nil, err
	}
	return name, desc, children, nil
}

func series(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	name, desc, children, err := compositeArgs(fn, args, kwargs)
	if err != nil {
		return nil, err
	}

	task := buildsys.Series(name, children...)
	task.Desc = desc
	return &taskValue{task: task}, nil
}

func parallel(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	name, desc, children, err := compositeArgs(fn, args, kwargs)
	if err != nil {
		return nil, err
	}

	task := buildsys.Parallel(name, children...)
	task.Desc = desc
	return &taskValue{task: task}, nil
}

// export registers tasks under their own name (positional) or under the keyword (default = build)
func export(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.Errorf("%s: can only be called from configure()", fn.Name())
	}

	// hidden tasks exported by keyword take that name, a task exported twice keeps the first one
	renamed := make(map[*buildsys.Task]*buildsys.Task)
	add := func(name string, value starlark.Value) error {
		task, err := toTask(value, name)
		if err != nil {
			return err
		}

		if task.Hidden {
			named, ok := renamed[task]
			if !ok {
				named = task.Named(name)
				renamed[task] = named
			}
			task = named
		}

		if _, present := ctx.exports[name]; present {
			return eris.Wrapf(buildsys.ErrDuplicateTask, "%s: %s", fn.Name(), name)
		}
		ctx.exports[name] = task
		return nil
	}

	for _, value := range args {
		tv, ok := value.(*taskValue)
		if !ok {
			return nil, eris.Errorf("%s: expected a task but found %s", fn.Name(), value.Type())
		}
		if tv.task.Hidden {
			return nil, eris.Errorf("%s: %s has no name, export it with a keyword argument", fn.Name(), tv.task.Name)
		}

		if err := add(tv.task.Name, tv); err != nil {
			return nil, err
		}
	}

	// "default" goes last so an aliased task is named after its other export
	for _, pass := range []bool{false, true} {
		for _, kv := range kwargs {
			name := string(kv[0].(starlark.String))
			if (name == buildsys.DefaultTask) != pass {
				continue
			}

			if err := add(name, kv[1]); err != nil {
				return nil, err
			}
		}
	}

	return starlark.None, nil
}
