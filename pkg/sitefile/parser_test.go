package sitefile

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/pipeline"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func settingsFor(t *testing.T, root string) config.Settings {
	t.Helper()
	cfg, err := config.Load(root)
	require.NoError(t, err)

	cfg.Deploy.Staging = config.Profile{Hostname: "staging.example.com", Destination: "/srv/staging"}
	cfg.Deploy.Production = config.Profile{Hostname: "example.com", Destination: "/srv/www"}

	return config.Settings{
		Config:      cfg,
		ProjectRoot: root,
		Options:     map[string]string{},
	}
}

func parseSite(t *testing.T, root, script string, settings config.Settings, opts ...Option) (*Site, error) {
	t.Helper()
	writeFile(t, root, FileName, script)
	return Parse(context.Background(), filepath.Join(root, FileName), settings, opts...)
}

const buildSite = `
version = read_yaml("package.json", "version", "0.0.0")
banner = "/*!\n * %s v%s (%d)\n */\n" % (read_yaml("package.json", "title"), version, YEAR)

def configure():
    clean_vendor = clean("clean", paths = ["vendor"], desc = "Delete the vendor directory")
    modules = copy("modules", mappings = {
        "vendor/bootstrap": "./node_modules/bootstrap/dist/**/*",
        "vendor/jquery": ["./node_modules/jquery/dist/*", "!./node_modules/jquery/dist/core.js"],
    })

    css = styles("css",
        src = "./scss/**/*.scss",
        dest = "./css",
        banner = banner,
        sass = 'cat "$SRC"',
        autoprefixer = "",
    )
    js = scripts("js", src = ["./js/*.js", "!./js/*.min.js"], dest = "./js", banner = banner)

    vendor = series("vendor", clean_vendor, modules)
    build = series("build", vendor, parallel(css, js), desc = "Build everything")

    export(css, js, clean_vendor, vendor, build, default = build)
`

func TestParseBuildScenario(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"title": "Freelancer", "version": "6.0.5"}`)
	writeFile(t, root, "node_modules/bootstrap/dist/js/bootstrap.js", "var bootstrap = {};")
	writeFile(t, root, "node_modules/jquery/dist/jquery.js", "var jQuery = {};")
	writeFile(t, root, "node_modules/jquery/dist/core.js", "core")
	writeFile(t, root, "vendor/stale.js", "old")
	writeFile(t, root, "scss/freelancer.scss", "body {\n  color: red;\n}\n")
	writeFile(t, root, "scss/_variables.scss", "$x: 1;\n")
	writeFile(t, root, "js/freelancer.js", "function hello(name) {\n  return 'Hello ' + name;\n}\n")

	site, err := parseSite(t, root, buildSite, settingsFor(t, root))
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "clean", "css", "default", "js", "vendor"}, site.Registry.Names())
	assert.True(t, site.Registry.HasDefault())
	assert.Nil(t, site.Server)

	build, err := site.Registry.Lookup("build")
	require.NoError(t, err)
	assert.Equal(t, "Build everything", build.Desc)
	assert.Equal(t, buildsys.KindSeries, build.Kind)

	require.NoError(t, buildsys.RunTask(context.Background(), site.Registry, buildsys.DefaultTask))

	assert.NoFileExists(t, filepath.Join(root, "vendor", "stale.js"))
	assert.FileExists(t, filepath.Join(root, "vendor", "bootstrap", "js", "bootstrap.js"))
	assert.FileExists(t, filepath.Join(root, "vendor", "jquery", "jquery.js"))
	assert.NoFileExists(t, filepath.Join(root, "vendor", "jquery", "core.js"))

	css, err := os.ReadFile(filepath.Join(root, "css", "freelancer.min.css"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(css), "/*!\n * Freelancer v6.0.5 ("))
	assert.NoFileExists(t, filepath.Join(root, "css", "_variables.css"))

	assert.FileExists(t, filepath.Join(root, "js", "freelancer.min.js"))
}

func TestParseFailsBuildWhenOneBranchFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"title": "Freelancer"}`)
	writeFile(t, root, "scss/freelancer.scss", "body {}")
	writeFile(t, root, "js/freelancer.js", "var a = 1;")

	script := strings.Replace(buildSite, `sass = 'cat "$SRC"'`, `sass = "exit 1"`, 1)
	site, err := parseSite(t, root, script, settingsFor(t, root))
	require.NoError(t, err)

	err = buildsys.RunTask(context.Background(), site.Registry, "build")
	require.Error(t, err)

	var taskErr *buildsys.TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, "css", taskErr.Task)

	// js still ran
	assert.FileExists(t, filepath.Join(root, "js", "freelancer.min.js"))
}

func TestKeywordExportsNameHiddenTasks(t *testing.T) {
	root := t.TempDir()
	site, err := parseSite(t, root, `
def configure():
    a = task("a", cmds = ["echo a > a.txt"])
    inner = parallel(a, task(cmds = ["true"]))
    dist = series(inner, task(cmds = ["true"]))
    export(a, default = dist, dist = dist, nested = inner, build = series("build", inner))
`, settingsFor(t, root))
	require.NoError(t, err)

	dist, err := site.Registry.Lookup("dist")
	require.NoError(t, err)
	assert.Equal(t, "dist", dist.Name)
	assert.False(t, dist.Hidden)

	def, err := site.Registry.Lookup(buildsys.DefaultTask)
	require.NoError(t, err)
	assert.Same(t, dist, def)

	nested, err := site.Registry.Lookup("nested")
	require.NoError(t, err)
	assert.Equal(t, "nested", nested.Name)

	build, err := site.Registry.Lookup("build")
	require.NoError(t, err)
	require.Len(t, build.Children, 1)
	assert.True(t, build.Children[0].Hidden)
	assert.NotEqual(t, "nested", build.Children[0].Name)

	var out bytes.Buffer
	logger := zerolog.New(&out)
	ctx := buildsys.WithLogger(context.Background(), &logger)
	require.NoError(t, buildsys.RunTask(ctx, site.Registry, "dist"))
	assert.Contains(t, out.String(), `"task":"dist","message":"Starting..."`)
	assert.Contains(t, out.String(), `"task":"dist","message":"Finished after`)
}

func TestParseOptions(t *testing.T) {
	root := t.TempDir()
	settings := settingsFor(t, root)
	settings.Options["mode"] = "production"

	site, err := parseSite(t, root, `
mode = option("mode", "development", help = "Build mode")
level = option("level", "3")

def configure():
    export(task("show", cmds = ["true"], desc = mode + "/" + level))
`, settings)
	require.NoError(t, err)

	show, err := site.Registry.Lookup("show")
	require.NoError(t, err)
	assert.Equal(t, "production/3", show.Desc)

	assert.Equal(t, ScriptOption{DefaultValue: "development", Help: "Build mode"}, site.Options["mode"])
	assert.Contains(t, site.Options, "level")
}

func TestReadYaml(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{
  "version": "5.0.7",
  "repository": {"type": "git", "url": "https://example.com/theme.git"},
  "files": ["css", "js"],
  "private": true
}`)
	writeFile(t, root, "data/site.yaml", "deploy:\n  hosts:\n    - alpha\n    - beta\n")

	site, err := parseSite(t, root, `
values = [
    read_yaml("package.json", "version"),
    read_yaml("package.json", "repository.url"),
    ",".join(read_yaml("package.json", "files")),
    read_yaml("package.json", "files.1"),
    str(read_yaml("package.json", "private")),
    read_yaml("package.json", "missing.key", "fallback"),
    str(read_yaml("package.json", "files.7")),
    read_yaml("data/site.yaml", "deploy.hosts.0"),
]

def configure():
    export(task("show", cmds = ["true"], desc = "|".join(values)))
`, settingsFor(t, root))
	require.NoError(t, err)

	show, err := site.Registry.Lookup("show")
	require.NoError(t, err)
	assert.Equal(t, "5.0.7|https://example.com/theme.git|css,js|js|True|fallback|None|alpha", show.Desc)
}

func TestSemver(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"version": "v6.0.5"}`)

	site, err := parseSite(t, root, `
version = semver(read_yaml("package.json", "version"), require = ">= 6.0, < 7")
plain = semver("1.2")

def configure():
    export(task("show", cmds = ["true"], desc = version + " " + plain))
`, settingsFor(t, root))
	require.NoError(t, err)

	show, err := site.Registry.Lookup("show")
	require.NoError(t, err)
	assert.Equal(t, "6.0.5 1.2.0", show.Desc)
}

func TestShellTasksSeeEnvironmentOverrides(t *testing.T) {
	root := t.TempDir()

	site, err := parseSite(t, root, `
def configure():
    hello = task("hello",
        cmds = [
            "echo $GREETING $TARGET > out.txt",
            ["touch", "my file.txt"],
        ],
        env = {"TARGET": "world"},
    )
    setenv("GREETING", "hi")
    export(hello)
`, settingsFor(t, root))
	require.NoError(t, err)

	require.NoError(t, buildsys.RunTask(context.Background(), site.Registry, "hello"))

	out, err := os.ReadFile(filepath.Join(root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi world\n", string(out))
	assert.FileExists(t, filepath.Join(root, "my file.txt"))
}

func TestDevServerTasks(t *testing.T) {
	root := t.TempDir()

	site, err := parseSite(t, root, `
def configure():
    css = styles(src = "scss/*.scss", dest = "css", reload = True)
    files = watch("watch_files", [
        (["scss/**/*"], css),
        ("**/*.html", reload()),
    ])
    export(files, serve("serve"), watch = parallel(files, serve()))
`, settingsFor(t, root))
	require.NoError(t, err)

	require.NotNil(t, site.Server)
	assert.Equal(t, "127.0.0.1:3000", site.Server.Addr())
	assert.Equal(t, []string{"serve", "watch", "watch_files"}, site.Registry.Names())

	watchTask, err := site.Registry.Lookup("watch")
	require.NoError(t, err)
	assert.Equal(t, buildsys.KindParallel, watchTask.Kind)
	assert.Len(t, watchTask.Children, 2)
}

type deployRecorder struct {
	calls    int
	paths    []string
	profile  config.Profile
	answered bool
}

func (d *deployRecorder) Sync(ctx context.Context, profile config.Profile, paths []string) error {
	d.calls++
	d.paths = paths
	d.profile = profile
	return nil
}

const deploySite = `
def configure():
    export(deploy("deploy", paths = ["css", "js", "*.html", "!404.html"]))
`

func TestDeployTask(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "css/app.css", "a{}")
	writeFile(t, root, "js/app.js", "x()")
	writeFile(t, root, "index.html", "<html></html>")
	writeFile(t, root, "404.html", "<html></html>")

	cases := []struct {
		target   config.Target
		answer   bool
		calls    int
		expected error
	}{
		{config.TargetNone, true, 0, config.ErrConfig},
		{config.TargetProduction, false, 0, pipeline.ErrDeployDeclined},
		{config.TargetProduction, true, 1, nil},
		{config.TargetStaging, false, 1, nil},
	}

	for _, c := range cases {
		recorder := &deployRecorder{}
		asked := false
		confirm := pipeline.ConfirmFunc(func(question string, defaultAnswer bool) (bool, error) {
			asked = true
			assert.False(t, defaultAnswer)
			return c.answer, nil
		})

		settings := settingsFor(t, root)
		settings.Target = c.target
		site, err := parseSite(t, root, deploySite, settings, WithConfirmer(confirm), WithTransport(recorder))
		require.NoError(t, err)

		err = buildsys.RunTask(context.Background(), site.Registry, "deploy")
		if c.expected == nil {
			require.NoError(t, err, c.target.String())
			assert.Equal(t, []string{"css", "js", "index.html"}, recorder.paths)
		} else {
			assert.True(t, errors.Is(err, c.expected), c.target.String())
		}

		assert.Equal(t, c.calls, recorder.calls, c.target.String())
		assert.Equal(t, c.target == config.TargetProduction, asked, c.target.String())
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"missing configure": `x = 1`,
		"configure value":   `configure = 1`,
		"option in configure": `
def configure():
    option("late")
`,
		"export outside configure": `
export(task("a", cmds = ["true"]))
def configure():
    pass
`,
		"duplicate export": `
def configure():
    a = task("a", cmds = ["true"])
    export(a, a = a)
`,
		"unnamed export": `
def configure():
    export(task(cmds = ["true"]))
`,
		"reserved name": `
def configure():
    export(task("configure", cmds = ["true"]))
`,
		"not a task": `
def configure():
    export(build = "css")
`,
		"error builtin": `
error("broken setup")
def configure():
    pass
`,
		"syntax": `def configure(:`,
		"invalid version": `
version = semver("six")
def configure():
    pass
`,
		"unsatisfied version": `
version = semver("5.0.7", require = ">= 6.0")
def configure():
    pass
`,
	}

	for name, script := range cases {
		root := t.TempDir()
		_, err := parseSite(t, root, script, settingsFor(t, root))
		require.Error(t, err, name)
		assert.True(t, eris.Is(err, config.ErrConfig), name)
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, FileName, "")
	nested := filepath.Join(root, "scss", "components")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, FileName), found)
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()

	site, err := parseSite(t, root, `
paths = [
    resolve_path("css", "theme.css", base = "//"),
    resolve_path("//vendor", "../js"),
    str(isdir("scss")),
    str(isfile("site.star")),
    getenv("SITEBUILD_TEST_UNSET", "unset"),
]

def configure():
    export(task("show", cmds = ["true"], desc = "|".join(paths)))
`, settingsFor(t, root))
	require.NoError(t, err)

	show, err := site.Registry.Lookup("show")
	require.NoError(t, err)
	assert.Equal(t, "css/theme.css|"+filepath.ToSlash(filepath.Join(root, "js"))+"|False|True|unset", show.Desc)
}

func TestParseExampleProject(t *testing.T) {
	root, err := filepath.Abs(filepath.Join("..", "..", "examples", "startbootstrap"))
	require.NoError(t, err)

	cfg, err := config.Load(root)
	require.NoError(t, err)

	site, err := Parse(context.Background(), filepath.Join(root, FileName), config.Settings{
		Config:      cfg,
		ProjectRoot: root,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"build", "clean", "compress", "css", "default", "deploy", "dist", "js", "vendor", "watch",
	}, site.Registry.Names())
	require.NotNil(t, site.Server)
	assert.Equal(t, "127.0.0.1:3000", site.Server.Addr())

	for _, name := range []string{"watch", "dist"} {
		task, err := site.Registry.Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, task.Name)
		assert.False(t, task.Hidden)
	}
}
