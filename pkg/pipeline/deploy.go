package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/config"
)

// ErrDeployDeclined is returned when the production deploy confirmation was answered with no
var ErrDeployDeclined = eris.New("deployment declined")

const productionQuestion = "Heads Up! Are you SURE you want to push to PRODUCTION?"

// Transport uploads paths to a deploy profile
type Transport interface {
	Sync(ctx context.Context, profile config.Profile, paths []string) error
}

// Rsync syncs through the rsync binary, run by the embedded shell
type Rsync struct {
	Binary  string
	Dir     string
	Exclude []string
}

// Args builds the rsync command line
func (r Rsync) Args(profile config.Profile, paths []string) []string {
	args := []string{r.Binary, "--progress", "--checksum", "--relative", "--recursive", "--dirs", "--delete"}
	for _, pattern := range r.Exclude {
		args = append(args, "--exclude="+pattern)
	}

	args = append(args, paths...)
	return append(args, profile.Remote())
}

// Sync implements Transport
func (r Rsync) Sync(ctx context.Context, profile config.Profile, paths []string) error {
	cmd, err := QuoteCommand(r.Args(profile, paths)...)
	if err != nil {
		return err
	}

	return Shell{Dir: r.Dir}.Run(ctx, "rsync", cmd)
}

// DeployOptions configures the deploy task. Paths are relative to Root; glob patterns among them are
// expanded and "!" patterns exclude files matched by those globs.
type DeployOptions struct {
	Root      string
	Paths     []string
	Target    config.Target
	Deploy    config.DeployConfig
	Confirm   Confirmer
	Transport Transport
}

// Deploy syncs the configured paths to the selected target. A missing target is a configuration error
// reported before anything is transferred; production deploys have to be confirmed.
func Deploy(opts DeployOptions) buildsys.TaskFunc {
	return func(ctx context.Context) error {
		profile, err := opts.Deploy.Profile(opts.Target)
		if err != nil {
			return err
		}

		paths, err := resolveDeployPaths(ctx, opts.Root, opts.Paths)
		if err != nil {
			return err
		}

		if opts.Target == config.TargetProduction {
			if opts.Confirm == nil {
				return eris.Wrap(config.ErrConfig, "production deploys need a confirmation prompt")
			}

			ok, err := opts.Confirm.Confirm(productionQuestion, false)
			if err != nil {
				return err
			}

			if !ok {
				buildsys.Log(ctx).Warn().Msg("Production deploy cancelled")
				return ErrDeployDeclined
			}
		}

		buildsys.Log(ctx).Info().Msgf("Deploying to %s (%s)", opts.Target, profile.Remote())
		return opts.Transport.Sync(ctx, profile, paths)
	}
}

// resolveDeployPaths expands glob patterns below root. Literal paths are kept as they are but have to exist.
func resolveDeployPaths(ctx context.Context, root string, raw []string) ([]string, error) {
	excludes := make([]string, 0)
	for _, p := range raw {
		if strings.HasPrefix(p, "!") {
			excludes = append(excludes, p)
		}
	}

	seen := make(map[string]bool)
	paths := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.HasPrefix(p, "!") {
			continue
		}

		if !buildsys.IsGlob(p) {
			p = buildsys.NormalizePattern(p)
			location := filepath.FromSlash(p)
			if !filepath.IsAbs(location) {
				location = filepath.Join(root, location)
			}

			if _, err := os.Stat(location); err != nil {
				return nil, eris.Wrapf(config.ErrConfig, "deploy path %s doesn't exist", p)
			}

			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
			continue
		}

		set, err := buildsys.CompilePatterns(append([]string{p}, excludes...)...)
		if err != nil {
			return nil, eris.Wrapf(config.ErrConfig, "invalid deploy path %s: %v", p, err)
		}

		files, err := set.Resolve(root)
		if err != nil {
			return nil, err
		}

		if len(files) == 0 {
			buildsys.Log(ctx).Debug().Msgf("%s matched no files", p)
		}

		for _, f := range files {
			rel, err := filepath.Rel(root, f.Path)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to resolve %s", f.Path)
			}

			rel = filepath.ToSlash(rel)
			if !seen[rel] {
				seen[rel] = true
				paths = append(paths, rel)
			}
		}
	}

	if len(paths) == 0 {
		return nil, eris.Wrap(config.ErrConfig, "no paths to deploy")
	}
	return paths, nil
}
