// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerworks/modkernel/internal/config"
	"github.com/ledgerworks/modkernel/internal/featuregate"
	"github.com/ledgerworks/modkernel/internal/issue"
	"github.com/ledgerworks/modkernel/internal/kernel"
	"github.com/ledgerworks/modkernel/internal/metrics"
	"github.com/ledgerworks/modkernel/internal/telemetry"
	"github.com/ledgerworks/modkernel/internal/watch"
)

var errNoFeaturesFile = errors.New("no features file given")

type watchOptions struct {
	featuresFile string
	metricsAddr  string
	debounce     time.Duration
}

func newWatchCommand(app *App) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch [catalog]",
		Short: "Run the catalog and follow the features file",
		Long: `Boot the catalog with declarative modules and keep it running.

The enabled features are read from a CUE file holding 'features: [...]'.
Whenever the file changes, bursts of edits are coalesced over the debounce
window and the new set is applied: modules that lost eligibility are torn
down, modules that gained it are set up. An unreadable or invalid file keeps
the previous set.

With --metrics-addr the kernel metrics are served at /metrics. Spans are
exported when tracing.endpoint is configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("features-file") {
				opts.featuresFile = app.cfg.FeaturesFile
			}
			if !flags.Changed("metrics-addr") {
				opts.metricsAddr = app.cfg.Metrics.Addr
			}
			if !flags.Changed("debounce") {
				opts.debounce = app.cfg.Watch.Debounce
			}
			return runWatch(cmd.Context(), app, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.featuresFile, "features-file", "", "CUE file listing the enabled features")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", config.DefaultDebounce, "window used to coalesce file events")
	return cmd
}

func runWatch(ctx context.Context, app *App, args []string, opts *watchOptions) error {
	path, err := app.catalogPath(args)
	if err != nil {
		return err
	}
	if opts.featuresFile == "" {
		return issue.NewErrorContext().
			WithOperation("watch features").
			WithSuggestion("Pass --features-file features.cue").
			WithSuggestion("Set 'features_file' in config.cue or MODKERNEL_FEATURES_FILE").
			Wrap(errNoFeaturesFile).
			BuildError()
	}
	cat, _, err := app.loadCatalog(path)
	if err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}
	shutdownTracing, err := telemetry.Setup(ctx, config.AppName, app.cfg.Tracing.Endpoint)
	if err != nil {
		app.logger.Warn("tracing disabled", "endpoint", app.cfg.Tracing.Endpoint, "err", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			app.logger.Warn("flush spans", "err", err)
		}
	}()

	r := app.bootRegistry(cat, featuregate.NewSet(),
		kernel.WithMetrics(m),
		kernel.WithTracer(telemetry.Tracer()),
	)

	fw, err := watch.NewFeatureWatcher(opts.featuresFile, opts.debounce, app.logger.WithPrefix("watch"),
		func(ctx context.Context, set featuregate.Set) error {
			app.logReport("features applied", r.OnFeatureSetChanged(ctx, set))
			return nil
		})
	if err != nil {
		return err
	}
	if _, err := fw.Reload(ctx); err != nil {
		if closeErr := fw.Close(); closeErr != nil {
			app.logger.Warn("close features watcher", "err", closeErr)
		}
		return issue.NewErrorContext().
			WithOperation("load features").
			WithResource(opts.featuresFile).
			WithSuggestion("The file must hold a list of feature ids, e.g. features: [\"sales\"]").
			Wrap(err).
			BuildError()
	}

	app.logReport("catalog activated", r.ActivateAll(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fw.Run(gctx)
	})
	if opts.metricsAddr != "" {
		app.logger.Info("serving metrics", "addr", opts.metricsAddr)
		g.Go(func() error {
			if err := m.Serve(gctx, opts.metricsAddr); err != nil {
				return issue.NewErrorContext().
					WithOperation("serve metrics").
					WithResource(opts.metricsAddr).
					WithSuggestion("Pick a free address with --metrics-addr").
					Wrap(err).
					BuildError()
			}
			return nil
		})
	}
	runErr := g.Wait()

	app.logReport("shutdown", r.Shutdown(context.WithoutCancel(ctx)))
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
