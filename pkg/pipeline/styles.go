package pipeline

import (
	"context"
	"path"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

// StyleOptions configures the stylesheet build
type StyleOptions struct {
	AssetOptions
	// Sass is a shell command that compiles the stylesheet in $SRC and prints the CSS
	Sass string
	// Autoprefixer is an optional shell filter reading CSS on stdin and printing the result
	Autoprefixer string
	// Env contains additional variables for both commands
	Env map[string]string
}

func isPartial(rel string) bool {
	return strings.HasPrefix(path.Base(rel), "_")
}

// Styles compiles every matched stylesheet (except _partials) and writes name.css and name.min.css
func Styles(opts StyleOptions) buildsys.TaskFunc {
	return func(ctx context.Context) error {
		files, err := opts.resolve(isPartial)
		if err != nil {
			return err
		}

		logger := buildsys.Log(ctx)
		if len(files) == 0 {
			logger.Warn().Msgf("No stylesheets matched %s", strings.Join(opts.Src, ", "))
			return nil
		}

		if buildsys.IsDryRun(ctx) {
			for _, f := range files {
				logger.Info().Msgf("Would compile %s to %s", f.Rel, opts.output(f, ".css"))
			}
			return nil
		}

		m := newMinifier()
		for _, f := range files {
			env := make(map[string]string, len(opts.Env)+1)
			for k, v := range opts.Env {
				env[k] = v
			}
			env["SRC"] = f.Path

			shell := Shell{Dir: opts.Root, Env: env}

			compiled, err := shell.Output(ctx, "sass", opts.Sass, nil)
			if err != nil {
				return eris.Wrapf(err, "failed to compile %s", f.Rel)
			}

			if opts.Autoprefixer != "" {
				compiled, err = shell.Output(ctx, "autoprefixer", opts.Autoprefixer, compiled)
				if err != nil {
					return eris.Wrapf(err, "failed to autoprefix %s", f.Rel)
				}
			}

			if err := opts.write(opts.output(f, ".css"), compiled); err != nil {
				return err
			}

			minified, err := m.Bytes(mediaCSS, compiled)
			if err != nil {
				return eris.Wrapf(err, "failed to minify %s", f.Rel)
			}

			if err := opts.write(opts.output(f, ".min.css"), minified); err != nil {
				return err
			}

			logger.Debug().Str("path", f.Path).Msgf("Compiled %s", f.Rel)
		}

		logger.Info().Msgf("Compiled %d stylesheet(s)", len(files))
		return nil
	}
}
