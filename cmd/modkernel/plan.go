// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ledgerworks/modkernel/internal/featuregate"
	"github.com/ledgerworks/modkernel/internal/kernel"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

type planOptions struct {
	features []string
	emit     []string
}

func newPlanCommand(app *App) *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan [catalog]",
		Short: "Show which modules a feature set activates",
		Long: `Boot the catalog against a feature set and print the phase of every module.

Each manifest runs as a declarative module: it contributes one action to every
hook point it provides and subscribes to every event pattern it consumes. The
resulting hook table is printed after the module table. Events given with
--emit are published once all modules are active.

The feature set defaults to 'features' from config.cue.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("features") {
				opts.features = app.cfg.Features
			}
			return runPlan(cmd.Context(), app, args, opts)
		},
	}
	cmd.Flags().StringSliceVarP(&opts.features, "features", "f", nil, "enabled features (comma separated)")
	cmd.Flags().StringArrayVar(&opts.emit, "emit", nil, "event name to publish after activation (repeatable)")
	return cmd
}

func runPlan(ctx context.Context, app *App, args []string, opts *planOptions) error {
	path, err := app.catalogPath(args)
	if err != nil {
		return err
	}
	cat, _, err := app.loadCatalog(path)
	if err != nil {
		return err
	}

	features := featuregate.FromStrings(opts.features)
	r := app.bootRegistry(cat, features)
	report := r.ActivateAll(ctx)

	w := app.stdout
	fmt.Fprintf(w, "%s %s\n\n", TitleStyle.Render("Features"), featureList(features))
	fmt.Fprintln(w, TitleStyle.Render("Modules"))
	fmt.Fprintln(w, moduleTable(cat, r.Statuses()))
	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("Hooks"))
	fmt.Fprintln(w, hookTable(r))

	if len(report.Diagnostics) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, TitleStyle.Render("Diagnostics"))
		printDiagnostics(w, report)
	}

	if len(opts.emit) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, TitleStyle.Render("Events"))
		for _, name := range opts.emit {
			d := r.Bus().Emit(ctx, name, nil)
			fmt.Fprintf(w, "  %s delivered to %d subscription(s), %d failed\n", CmdStyle.Render(name), d.Matched, d.Failed)
		}
	}

	shutdown := r.Shutdown(context.WithoutCancel(ctx))
	if shutdown.HasErrors() {
		app.logReport("shutdown", shutdown)
	}
	return nil
}

func featureList(set featuregate.Set) string {
	if set.Len() == 0 {
		return SubtitleStyle.Render("(none)")
	}
	return set.String()
}

func moduleTable(cat *manifest.Catalog, statuses []kernel.ModuleStatus) string {
	t := newTable("MODULE", "VERSION", "ACTIVATION", "PHASE", "HOOKS", "SUBSCRIPTIONS", "ENHANCED BY")
	for _, st := range statuses {
		m, _ := cat.Get(st.ID)
		t.Row(
			string(st.ID),
			m.Version,
			describeActivation(m.Activation),
			phaseStyle(st.Phase).Render(st.Phase.String()),
			strconv.Itoa(st.Hooks),
			strconv.Itoa(st.Subscriptions),
			joinFeatures(st.Enhancements),
		)
	}
	return t.String()
}

func hookTable(r *kernel.Registry) string {
	t := newTable("POINT", "ORDER", "MODULE", "PRIORITY")
	for _, point := range r.Hooks().Points() {
		for i, a := range r.Hooks().Entries(point) {
			t.Row(string(point), strconv.Itoa(i+1), string(a.ModuleID), strconv.Itoa(a.Priority))
		}
	}
	return t.String()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtitleStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		}).
		Headers(headers...)
}

func describeActivation(act manifest.Activation) string {
	switch act.Kind {
	case manifest.ActivationFeature:
		return "feature " + string(act.ActivatedBy)
	case manifest.ActivationLegacy:
		return "legacy " + joinFeatures(act.RequiredFeatures)
	case manifest.ActivationAlwaysOn:
		return "always-on"
	default:
		return act.Kind.String()
	}
}

func joinFeatures(fs []manifest.FeatureID) string {
	if len(fs) == 0 {
		return "-"
	}
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}
