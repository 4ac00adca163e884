package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

// Shell runs POSIX shell scripts through the embedded interpreter
type Shell struct {
	Dir    string
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Quiet suppresses the log line printed for each statement
	Quiet bool
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func (s Shell) environ() expand.Environ {
	envVars := os.Environ()

	keys := make([]string, 0, len(s.Env))
	for name := range s.Env {
		keys = append(keys, name)
	}
	sort.Strings(keys)

	for _, name := range keys {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, s.Env[name]))
	}

	return expand.ListEnviron(envVars...)
}

// Run parses the script and executes it statement by statement. Every statement is logged first; in dry
// runs nothing is executed.
func (s Shell) Run(ctx context.Context, name, script string) error {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(script), name)
	if err != nil {
		return eris.Wrapf(err, "failed to parse command %s", script)
	}

	stdout := s.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := s.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	runner, err := interp.New(
		interp.Dir(s.Dir),
		interp.Env(s.environ()),
		interp.ExecHandler(defaultExecHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(s.Stdin, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}
	dryRun := buildsys.IsDryRun(ctx)

	for _, stmt := range file.Stmts {
		if !s.Quiet || dryRun {
			strBuffer.Reset()
			if err := printer.Print(&strBuffer, stmt); err != nil {
				return eris.Wrap(err, "failed to print command")
			}

			buildsys.Log(ctx).Info().Bool("command", true).Msg(strBuffer.String())
		}

		if dryRun {
			continue
		}

		if err := runner.Run(ctx, stmt); err != nil {
			return eris.Wrapf(err, "%s failed", name)
		}

		if runner.Exited() {
			return nil
		}
	}

	return nil
}

// Output runs the script with input on stdin and returns everything it printed on stdout
func (s Shell) Output(ctx context.Context, name, script string, input []byte) ([]byte, error) {
	var out bytes.Buffer
	s.Stdin = bytes.NewReader(input)
	s.Stdout = &out
	s.Quiet = true

	// filters always run, dry runs are handled by the callers
	ctx = buildsys.WithDryRun(ctx, false)
	if err := s.Run(ctx, name, script); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

// Commands returns a task body running each script in order, like the cmds of a build-tools task
func Commands(dir string, env map[string]string, cmds []string) buildsys.TaskFunc {
	return func(ctx context.Context) error {
		shell := Shell{Dir: dir, Env: env}
		for idx, cmd := range cmds {
			if err := shell.Run(ctx, fmt.Sprintf("cmd#%d", idx), cmd); err != nil {
				return err
			}
		}
		return nil
	}
}

// QuoteCommand renders args as a single shell command line
func QuoteCommand(args ...string) (string, error) {
	if len(args) == 0 {
		return "", eris.New("empty command")
	}

	cmd := new(syntax.CallExpr)
	cmd.Args = make([]*syntax.Word, len(args))
	for idx, value := range args {
		var wordPart syntax.WordPart

		switch {
		case strings.Contains(value, "'"):
			node := new(syntax.Lit)
			node.Value = "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
			wordPart = node
		case value == "" || strings.ContainsAny(value, " \t\n$\"\\`*?[]{}()<>|&;#~!"):
			node := new(syntax.SglQuoted)
			node.Value = value
			wordPart = node
		default:
			node := new(syntax.Lit)
			node.Value = value
			wordPart = node
		}

		cmd.Args[idx] = &syntax.Word{Parts: []syntax.WordPart{wordPart}}
	}

	strBuffer := strings.Builder{}
	if err := syntax.NewPrinter(syntax.Minify(true)).Print(&strBuffer, cmd); err != nil {
		return "", eris.Wrap(err, "failed to print command")
	}

	return strBuffer.String(), nil
}
