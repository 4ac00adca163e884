package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

// Clean recursively deletes the given paths. Missing paths are ignored.
func Clean(root string, paths []string) buildsys.TaskFunc {
	return func(ctx context.Context) error {
		for _, item := range paths {
			if !filepath.IsAbs(item) {
				item = filepath.Join(root, item)
			}
			item = filepath.Clean(item)

			if item == filepath.Clean(root) || item == filepath.Dir(item) {
				return eris.Errorf("refusing to delete %s", item)
			}

			if buildsys.IsDryRun(ctx) {
				buildsys.Log(ctx).Info().Str("path", item).Msgf("Would delete %s", item)
				continue
			}

			buildsys.Log(ctx).Debug().Str("path", item).Msgf("Deleting %s", item)
			if err := os.RemoveAll(item); err != nil {
				return eris.Wrapf(err, "could not delete %s", item)
			}
		}

		return nil
	}
}
