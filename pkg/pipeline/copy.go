package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

// CopySpec copies every file matching Src into Dest, keeping the structure below the glob base
type CopySpec struct {
	Src  []string
	Dest string
}

type copyJob struct {
	src  string
	dest string
	mode os.FileMode
	size int64
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	visible := os.Getenv("CI") != "true" && term.IsTerminal(int(os.Stderr.Fd()))

	return progressbar.NewOptions64(length,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionClearOnFinish(),
	)
}

// Copy copies files for all specs, i.e. third party libraries from node_modules into the vendor directory
func Copy(root string, specs []CopySpec) buildsys.TaskFunc {
	return func(ctx context.Context) error {
		jobs := make([]copyJob, 0)
		var total int64

		for _, spec := range specs {
			set, err := buildsys.CompilePatterns(spec.Src...)
			if err != nil {
				return err
			}

			files, err := set.Resolve(root)
			if err != nil {
				return err
			}

			if len(files) == 0 {
				buildsys.Log(ctx).Warn().Msgf("%s didn't match any files", strings.Join(spec.Src, ", "))
				continue
			}

			dest := spec.Dest
			if !filepath.IsAbs(dest) {
				dest = filepath.Join(root, dest)
			}

			for _, f := range files {
				info, err := os.Stat(f.Path)
				if err != nil {
					return eris.Wrapf(err, "failed to check %s", f.Path)
				}

				jobs = append(jobs, copyJob{
					src:  f.Path,
					dest: filepath.Join(dest, filepath.FromSlash(f.Rel)),
					mode: info.Mode().Perm(),
					size: info.Size(),
				})
				total += info.Size()
			}
		}

		if buildsys.IsDryRun(ctx) {
			for _, job := range jobs {
				buildsys.Log(ctx).Info().Msgf("Would copy %s to %s", job.src, job.dest)
			}
			return nil
		}

		bar := getProgressBar(total, "Copying files")
		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := copyFile(job, bar); err != nil {
				return err
			}
		}

		if err := bar.Finish(); err != nil {
			return eris.Wrap(err, "failed to finish progress bar")
		}

		buildsys.Log(ctx).Info().Msgf("Copied %d file(s)", len(jobs))
		return nil
	}
}

func copyFile(job copyJob, progress io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(job.dest), 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(job.dest))
	}

	src, err := os.Open(job.src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", job.src)
	}
	defer src.Close()

	dest, err := os.OpenFile(job.dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, job.mode)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", job.dest)
	}

	if _, err := io.Copy(io.MultiWriter(dest, progress), src); err != nil {
		dest.Close()
		return eris.Wrapf(err, "failed to copy %s", job.src)
	}

	if err := dest.Close(); err != nil {
		return eris.Wrapf(err, "failed to write %s", job.dest)
	}
	return nil
}
