// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ledgerworks/modkernel/internal/config"
	"github.com/ledgerworks/modkernel/internal/issue"
)

// skipConfigAnnotation marks commands that must work without a loadable config.
const skipConfigAnnotation = "modkernel/skip-config"

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// App carries the dependencies and per-invocation state shared by all commands.
type App struct {
	Config config.Provider

	stdout io.Writer
	stderr io.Writer

	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *log.Logger
}

// NewApp creates an App writing to the given streams.
func NewApp(provider config.Provider, stdout, stderr io.Writer) *App {
	return &App{
		Config: provider,
		stdout: stdout,
		stderr: stderr,
		cfg:    config.DefaultConfig(),
		logger: log.NewWithOptions(io.Discard, log.Options{}),
	}
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := NewApp(config.NewProvider(), stdout, stderr)
	root := newRootCommand(app)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := fang.Execute(
		ctx,
		root,
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(app.handleError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		return 1
	}
	return 0
}

func newRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "modkernel",
		Short: "Inspect and run module catalogs",
		Long: TitleStyle.Render("modkernel") + SubtitleStyle.Render(" - feature-gated module lifecycle kernel") + `

modkernel reads a catalog of module manifests, orders them by their declared
dependencies and activates them against a set of enabled features.

` + SubtitleStyle.Render("Examples:") + `
  modkernel diagnose modules.cue             Report cycles and unresolved dependencies
  modkernel migrate modules.cue --write      Rewrite legacy activation rules
  modkernel plan modules.cue -f sales,crm    Show which modules a feature set activates
  modkernel watch modules.cue                Follow the features file`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				app.logger = newLogger(app.stderr, app.cfg.Log, app.verbose)
				return nil
			}
			return app.loadConfig(cmd.Context())
		},
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/modkernel/config.cue)")

	root.AddCommand(
		newDiagnoseCommand(app),
		newMigrateCommand(app),
		newPlanCommand(app),
		newWatchCommand(app),
		newConfigCommand(app),
	)
	return root
}

// loadConfig reads the configuration and derives the logger from it. The
// --verbose flag wins over ui.verbose.
func (a *App) loadConfig(ctx context.Context) error {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return err
	}
	a.cfg = cfg
	if !a.verbose {
		a.verbose = cfg.UI.Verbose
	}
	a.logger = newLogger(a.stderr, cfg.Log, a.verbose)
	if cfg.Source != "" {
		a.logger.Debug("configuration loaded", "path", cfg.Source)
	}
	return nil
}

// handleError prints command errors. An ExitError without a cause was already
// reported by the command.
func (a *App) handleError(w io.Writer, _ fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, a.verbose))
}

// newLogger builds the CLI logger from the log section of the configuration.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) *log.Logger {
	level, err := log.ParseLevel(cfg.Level.String())
	if err != nil {
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}

	formatter := log.TextFormatter
	switch cfg.Format {
	case config.LogFormatJSON:
		formatter = log.JSONFormatter
	case config.LogFormatLogfmt:
		formatter = log.LogfmtFormatter
	case config.LogFormatText:
	}

	return log.NewWithOptions(w, log.Options{
		Prefix:    config.AppName,
		Level:     level,
		Formatter: formatter,
	})
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

func versionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
