package pipeline

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

// Archive packs every matched file into a .tar.xz archive at dest. Entry names are the paths below the
// glob base of the matching pattern.
func Archive(root string, patterns []string, dest string) buildsys.TaskFunc {
	return func(ctx context.Context) error {
		set, err := buildsys.CompilePatterns(patterns...)
		if err != nil {
			return err
		}

		files, err := set.Resolve(root)
		if err != nil {
			return err
		}

		if !filepath.IsAbs(dest) {
			dest = filepath.Join(root, dest)
		}

		if buildsys.IsDryRun(ctx) {
			buildsys.Log(ctx).Info().Msgf("Would pack %d file(s) into %s", len(files), dest)
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
		}

		hdl, err := os.Create(dest)
		if err != nil {
			return eris.Wrapf(err, "failed to create %s", dest)
		}
		defer hdl.Close()

		xzw, err := xz.NewWriter(hdl)
		if err != nil {
			return eris.Wrap(err, "failed to initialize xz writer")
		}

		tw := tar.NewWriter(xzw)
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}

			if f.Path == dest {
				continue
			}

			if err := addTarEntry(tw, f); err != nil {
				return err
			}
		}

		if err := tw.Close(); err != nil {
			return eris.Wrapf(err, "failed to finish %s", dest)
		}
		if err := xzw.Close(); err != nil {
			return eris.Wrapf(err, "failed to finish %s", dest)
		}

		buildsys.Log(ctx).Info().Str("path", dest).Msgf("Packed %d file(s) into %s", len(files), dest)
		return hdl.Close()
	}
}

func addTarEntry(tw *tar.Writer, f buildsys.FileMatch) error {
	info, err := os.Stat(f.Path)
	if err != nil {
		return eris.Wrapf(err, "failed to check %s", f.Path)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return eris.Wrapf(err, "failed to build header for %s", f.Path)
	}
	header.Name = f.Rel

	if err := tw.WriteHeader(header); err != nil {
		return eris.Wrapf(err, "failed to write header for %s", f.Path)
	}

	reader, err := os.Open(f.Path)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", f.Path)
	}
	defer reader.Close()

	if _, err := io.Copy(tw, reader); err != nil {
		return eris.Wrapf(err, "failed to pack %s", f.Path)
	}
	return nil
}
