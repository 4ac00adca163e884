package pipeline

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

// Compress writes a brotli compressed copy (name.br) next to every matched file so static file servers
// can serve precompressed assets
func Compress(root string, patterns []string) buildsys.TaskFunc {
	return func(ctx context.Context) error {
		set, err := buildsys.CompilePatterns(patterns...)
		if err != nil {
			return err
		}

		files, err := set.Resolve(root)
		if err != nil {
			return err
		}

		count := 0
		buffer := make([]byte, 4096)
		for _, f := range files {
			if strings.HasSuffix(f.Path, ".br") {
				continue
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			if buildsys.IsDryRun(ctx) {
				buildsys.Log(ctx).Info().Msgf("Would compress %s", f.Path)
				continue
			}

			if err := compressFile(f.Path, f.Path+".br", buffer); err != nil {
				return err
			}
			count++
		}

		buildsys.Log(ctx).Info().Msgf("Compressed %d file(s)", count)
		return nil
	}
}

func compressFile(src, dest string, buffer []byte) error {
	reader, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer reader.Close()

	hdl, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}
	defer hdl.Close()

	brw := brotli.NewWriterLevel(hdl, brotli.BestCompression)
	if _, err := io.CopyBuffer(brw, reader, buffer); err != nil {
		return eris.Wrapf(err, "failed to compress %s", src)
	}

	if err := brw.Close(); err != nil {
		return eris.Wrapf(err, "failed to compress %s", src)
	}

	return hdl.Close()
}
