package pipeline

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

func isMinified(rel string) bool {
	return strings.HasSuffix(rel, ".min.js")
}

// Scripts minifies every matched script (except *.min.js) into name.min.js
func Scripts(opts AssetOptions) buildsys.TaskFunc {
	return func(ctx context.Context) error {
		files, err := opts.resolve(isMinified)
		if err != nil {
			return err
		}

		logger := buildsys.Log(ctx)
		if len(files) == 0 {
			logger.Warn().Msgf("No scripts matched %s", strings.Join(opts.Src, ", "))
			return nil
		}

		if buildsys.IsDryRun(ctx) {
			for _, f := range files {
				logger.Info().Msgf("Would minify %s to %s", f.Rel, opts.output(f, ".min.js"))
			}
			return nil
		}

		m := newMinifier()
		for _, f := range files {
			source, err := os.ReadFile(f.Path)
			if err != nil {
				return eris.Wrapf(err, "failed to read %s", f.Path)
			}

			minified, err := m.Bytes(mediaJS, source)
			if err != nil {
				return eris.Wrapf(err, "failed to minify %s", f.Rel)
			}

			if err := opts.write(opts.output(f, ".min.js"), minified); err != nil {
				return err
			}
		}

		logger.Info().Msgf("Minified %d script(s)", len(files))
		return nil
	}
}
