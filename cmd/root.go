// Package cmd implements the sitebuild command line interface
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/sitefile"
)

type rootFlags struct {
	sitefile   string
	staging    bool
	production bool
	list       bool
	dry        bool
}

// NewRootCmd builds the sitebuild command. The parser options are passed to sitefile.Parse.
func NewRootCmd(parserOpts ...sitefile.Option) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "sitebuild [flags] [task...] [key=value...]",
		Short: "Asset build tool for static sites",
		Long: `This command parses the first site.star file it finds (searching upwards from the current directory)
and executes the given tasks. Without tasks, the "default" export is run or, if there is none, the
available tasks are listed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(NewConsoleWriter(cmd.ErrOrStderr()))
			err := run(cmd, flags, args, &logger, parserOpts)
			if err != nil {
				logger.Error().Err(err).Msg("Build failed")
			}
			return err
		},
	}

	cmd.Flags().StringVar(&flags.sitefile, "sitefile", "", "path to the site file (default: the closest site.star)")
	cmd.Flags().BoolVar(&flags.staging, "staging", false, "deploy to the staging profile")
	cmd.Flags().BoolVar(&flags.production, "production", false, "deploy to the production profile (asks for confirmation)")
	cmd.Flags().BoolVarP(&flags.list, "list", "l", false, "list the available tasks and options")
	cmd.Flags().BoolVarP(&flags.dry, "dry", "n", false, "dry run; only print what would be done, don't change anything")

	return cmd
}

// Execute runs the root command and exits with a non-zero status on failure
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

func run(cmd *cobra.Command, flags *rootFlags, args []string, logger *zerolog.Logger, parserOpts []sitefile.Option) error {
	taskArgs, options := splitArgs(args)

	sitePath := flags.sitefile
	if sitePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		sitePath, err = sitefile.Find(wd)
		if err != nil {
			return err
		}
	}

	sitePath, err := filepath.Abs(sitePath)
	if err != nil {
		return err
	}
	projectRoot := filepath.Dir(sitePath)

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return err
	}

	if cfg.Log.JSON {
		*logger = zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
	}
	*logger = logger.Level(cfg.LogLevel())

	if flags.staging && flags.production {
		logger.Warn().Msg("Both --staging and --production were passed, deploying to staging")
	}

	settings := config.Settings{
		Config:      cfg,
		ProjectRoot: projectRoot,
		Target:      config.ResolveTarget(flags.staging, flags.production),
		DryRun:      flags.dry,
		Options:     options,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = buildsys.WithLogger(ctx, logger)
	ctx = buildsys.WithDryRun(ctx, settings.DryRun)

	site, err := sitefile.Parse(ctx, sitePath, settings, parserOpts...)
	if err != nil {
		return err
	}

	if flags.list || (len(taskArgs) == 0 && !site.Registry.HasDefault()) {
		printTasks(cmd.OutOrStdout(), site)
		return nil
	}

	if len(taskArgs) == 0 {
		taskArgs = []string{buildsys.DefaultTask}
	}

	return runTasks(ctx, site, taskArgs)
}

func runTasks(ctx context.Context, site *sitefile.Site, names []string) error {
	err := buildsys.RunTasks(ctx, site.Registry, names)
	if err != nil && ctx.Err() != nil {
		buildsys.Log(ctx).Warn().Msg("Interrupted")
	}
	return err
}

func printTasks(out io.Writer, site *sitefile.Site) {
	names := site.Registry.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "No tasks exported.")
	} else {
		fmt.Fprintln(out, "Available tasks:")
	}

	maxNameLen := 0
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		task, _ := site.Registry.Lookup(name)
		desc := task.Desc
		if desc == "" && task.Kind != buildsys.KindLeaf {
			desc = buildsys.Describe(task)
		}

		fmt.Fprintf(out, lineFmt, name+":", desc)
	}

	if len(site.Options) == 0 {
		return
	}

	optionNames := make([]string, 0, len(site.Options))
	for name := range site.Options {
		optionNames = append(optionNames, name)
	}
	sort.Strings(optionNames)

	fmt.Fprintln(out, "\nOptions:")
	for _, name := range optionNames {
		opt := site.Options[name]
		fmt.Fprintf(out, " * %s=%s  %s\n", name, opt.DefaultValue, opt.Help)
	}
}
