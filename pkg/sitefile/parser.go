package sitefile

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/pipeline"
)

// FileName is the name of the site file the CLI searches for
const FileName = "site.star"

// ScriptOption is an option declared with option() in the site file
type ScriptOption struct {
	DefaultValue string
	Help         string
}

// Site is the result of evaluating a site file
type Site struct {
	Filename string
	Registry *buildsys.Registry
	Options  map[string]ScriptOption
	// Server is the dev server shared by serve() and reload(); nil if the site file doesn't use it
	Server *pipeline.DevServer
}

// Option customizes Parse
type Option func(*parserCtx)

// WithConfirmer replaces the terminal prompt used by production deploys
func WithConfirmer(confirm pipeline.Confirmer) Option {
	return func(ctx *parserCtx) {
		ctx.confirm = confirm
	}
}

// WithTransport replaces the rsync transport used by deploy tasks
func WithTransport(transport pipeline.Transport) Option {
	return func(ctx *parserCtx) {
		ctx.transport = transport
	}
}

type parserCtx struct {
	ctx          context.Context
	settings     config.Settings
	options      map[string]ScriptOption
	envOverrides map[string]string
	shellEnvs    []map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	exports      map[string]*buildsys.Task
	server       *pipeline.DevServer
	confirm      pipeline.Confirmer
	transport    pipeline.Transport
	initPhase    bool
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

// devServer returns the site's dev server, creating it on first use
func (ctx *parserCtx) devServer() *pipeline.DevServer {
	if ctx.server == nil {
		cfg := ctx.settings.Config
		base := cfg.Server.Base
		if !filepath.IsAbs(base) {
			base = filepath.Join(ctx.projectRoot, base)
		}

		ctx.server = pipeline.NewDevServer(cfg.Server.Address, base)
	}
	return ctx.server
}

// shellEnv returns a map that receives every setenv() override once the site file was evaluated
func (ctx *parserCtx) shellEnv(base map[string]string) map[string]string {
	if base == nil {
		base = make(map[string]string)
	}

	ctx.shellEnvs = append(ctx.shellEnvs, base)
	return base
}

func builtins() starlark.StringDict {
	return starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"YEAR":         starlark.MakeInt(time.Now().Year()),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"semver":       starlark.NewBuiltin("semver", parseSemver),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"clean":        starlark.NewBuiltin("clean", cleanTask),
		"copy":         starlark.NewBuiltin("copy", copyTask),
		"styles":       starlark.NewBuiltin("styles", stylesTask),
		"scripts":      starlark.NewBuiltin("scripts", scriptsTask),
		"task":         starlark.NewBuiltin("task", shellTask),
		"compress":     starlark.NewBuiltin("compress", compressTask),
		"archive":      starlark.NewBuiltin("archive", archiveTask),
		"reload":       starlark.NewBuiltin("reload", reloadTask),
		"serve":        starlark.NewBuiltin("serve", serveTask),
		"watch":        starlark.NewBuiltin("watch", watchTask),
		"deploy":       starlark.NewBuiltin("deploy", deployTask),
		"series":       starlark.NewBuiltin("series", series),
		"parallel":     starlark.NewBuiltin("parallel", parallel),
		"export":       starlark.NewBuiltin("export", export),
	}
}

func evalError(ctx *parserCtx, err error, action string) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return eris.Wrapf(config.ErrConfig, "failed to %s %s:\n%s", action, simplifyPath(ctx, ctx.filepath),
			evalErr.Backtrace())
	}
	return eris.Wrapf(config.ErrConfig, "failed to %s %s: %v", action, simplifyPath(ctx, ctx.filepath), err)
}

// Parse evaluates the site file and collects the exported tasks. The project root is
// settings.ProjectRoot or, if empty, the directory containing the site file.
func Parse(ctx context.Context, filename string, settings config.Settings, opts ...Option) (*Site, error) {
	if settings.Config == nil {
		return nil, eris.Wrap(config.ErrConfig, "missing configuration")
	}

	filename, err := filepath.Abs(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", filename)
	}

	projectRoot := settings.ProjectRoot
	if projectRoot == "" {
		projectRoot = filepath.Dir(filename)
	}
	projectRoot, err = filepath.Abs(projectRoot)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", projectRoot)
	}
	settings.ProjectRoot = projectRoot

	if settings.Options == nil {
		settings.Options = map[string]string{}
	}

	threadCtx := &parserCtx{
		ctx:          ctx,
		settings:     settings,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		envOverrides: make(map[string]string),
		yamlCache:    make(map[string]interface{}),
		exports:      make(map[string]*buildsys.Task),
		confirm:      pipeline.TerminalConfirmer{},
		initPhase:    true,
	}
	for _, opt := range opts {
		opt(threadCtx)
	}

	if threadCtx.transport == nil {
		threadCtx.transport = pipeline.Rsync{
			Binary:  settings.Config.Deploy.Rsync,
			Dir:     projectRoot,
			Exclude: settings.Config.Deploy.Exclude,
		}
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			buildsys.Log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	thread.SetLocal("parserCtx", threadCtx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	globals, err := starlark.ExecFile(thread, simplifyPath(threadCtx, filename), script, builtins())
	if err != nil {
		return nil, evalError(threadCtx, err, "execute")
	}

	configure, ok := globals["configure"]
	if !ok {
		return nil, eris.Wrapf(config.ErrConfig, "%s did not declare a configure function",
			simplifyPath(threadCtx, filename))
	}

	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, eris.Wrapf(config.ErrConfig, "%s did declare a configure value but it's not a function",
			simplifyPath(threadCtx, filename))
	}

	threadCtx.initPhase = false
	if _, err := starlark.Call(thread, configureFunc, starlark.Tuple{}, nil); err != nil {
		return nil, evalError(threadCtx, err, "configure")
	}

	for _, env := range threadCtx.shellEnvs {
		for name, value := range threadCtx.envOverrides {
			if _, present := env[name]; !present {
				env[name] = value
			}
		}
	}

	if len(threadCtx.exports) == 0 {
		buildsys.Log(ctx).Warn().Msgf("%s doesn't export any tasks", simplifyPath(threadCtx, filename))
	}

	registry, err := buildsys.NewRegistry(threadCtx.exports)
	if err != nil {
		return nil, err
	}

	return &Site{
		Filename: filename,
		Registry: registry,
		Options:  threadCtx.options,
		Server:   threadCtx.server,
	}, nil
}

// Find searches for a site file in dir and its parents
func Find(dir string) (string, error) {
	path := dir
	for {
		candidate := filepath.Join(path, FileName)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", candidate)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Wrapf(config.ErrConfig, "no %s file found in %s or its parents", FileName, dir)
		}
		path = parent
	}
}
