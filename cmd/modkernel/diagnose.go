// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/modkernel/internal/dag"
	"github.com/ledgerworks/modkernel/internal/issue"
	"github.com/ledgerworks/modkernel/internal/kernel"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

const (
	outputText = "text"
	outputJSON = "json"

	// guideStyle lets glamour pick a style for the output terminal.
	guideStyle = "auto"
)

type (
	// diagnosis is the offline resolution report of one catalog.
	diagnosis struct {
		Catalog    string          `json:"catalog"`
		Order      []string        `json:"order"`
		Foundation []string        `json:"foundation"`
		Cycles     [][]string      `json:"cycles"`
		Unresolved []unresolvedRef `json:"unresolved"`
		Blocked    []blockedModule `json:"blocked_by_cycle"`
		Rejected   []string        `json:"rejected"`
	}

	unresolvedRef struct {
		Module  string `json:"module"`
		Missing string `json:"missing"`
	}

	blockedModule struct {
		Module string   `json:"module"`
		Cycle  []string `json:"cycle"`
	}

	diagnoseOptions struct {
		format  string
		explain bool
	}
)

func newDiagnoseCommand(app *App) *cobra.Command {
	opts := &diagnoseOptions{}
	cmd := &cobra.Command{
		Use:   "diagnose [catalog]",
		Short: "Report dependency cycles, unresolved dependencies and the activation order",
		Long: `Resolve the dependency graph of a catalog without running any module.

The report lists every dependency cycle as an ordered chain, every reference
to an unknown module, the modules blocked behind a cycle, the foundation tier
and the computed activation order. The command exits with status 1 when a
cycle or an unresolved reference is found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnose(app, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", outputText, "output format (text or json)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "print a guide for every kind of problem found")
	return cmd
}

func runDiagnose(app *App, args []string, opts *diagnoseOptions) error {
	if opts.format != outputText && opts.format != outputJSON {
		return fmt.Errorf("unknown output format %q (expected text or json)", opts.format)
	}
	path, err := app.catalogPath(args)
	if err != nil {
		return err
	}
	cat, rejected, err := app.loadCatalog(path)
	if err != nil {
		return err
	}

	res := kernel.ResolveManifests(cat.Manifests())
	d := newDiagnosis(path, res, rejected)

	if opts.format == outputJSON {
		enc := json.NewEncoder(app.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return err
		}
	} else {
		renderDiagnosis(app.stdout, d)
	}

	if opts.explain {
		if err := renderGuides(app.stdout, res, len(rejected) > 0); err != nil {
			return err
		}
	}

	if res.HasProblems() {
		return &ExitError{Code: 1}
	}
	return nil
}

func newDiagnosis(path string, res *dag.Result, rejected []error) diagnosis {
	d := diagnosis{
		Catalog:    path,
		Order:      nonNil(res.Order),
		Foundation: nonNil(res.Foundation),
		Cycles:     res.Cycles,
		Unresolved: make([]unresolvedRef, 0, len(res.Unresolved)),
		Blocked:    []blockedModule{},
		Rejected:   make([]string, 0, len(rejected)),
	}
	if d.Cycles == nil {
		d.Cycles = [][]string{}
	}
	for _, u := range res.Unresolved {
		d.Unresolved = append(d.Unresolved, unresolvedRef{Module: u.From, Missing: u.Missing})
	}
	for _, id := range res.Blocked() {
		d.Blocked = append(d.Blocked, blockedModule{Module: id, Cycle: res.BlockedByCycle[id]})
	}
	for _, r := range rejected {
		d.Rejected = append(d.Rejected, r.Error())
	}
	return d
}

func renderDiagnosis(w io.Writer, d diagnosis) {
	fmt.Fprintln(w, TitleStyle.Render("Catalog ")+CmdStyle.Render(d.Catalog))
	fmt.Fprintln(w)

	section(w, "Activation order", len(d.Order), func() {
		for i, id := range d.Order {
			fmt.Fprintf(w, "  %2d. %s\n", i+1, id)
		}
	})
	section(w, "Foundation", len(d.Foundation), func() {
		fmt.Fprintf(w, "  %s\n", strings.Join(d.Foundation, ", "))
	})
	section(w, "Dependency cycles", len(d.Cycles), func() {
		for _, c := range d.Cycles {
			fmt.Fprintf(w, "  %s %s\n", ErrorStyle.Render("✗"), strings.Join(c, " -> "))
		}
	})
	section(w, "Unresolved dependencies", len(d.Unresolved), func() {
		for _, u := range d.Unresolved {
			fmt.Fprintf(w, "  %s %s depends on unknown module %s\n", ErrorStyle.Render("✗"), u.Module, u.Missing)
		}
	})
	section(w, "Blocked by a cycle", len(d.Blocked), func() {
		for _, b := range d.Blocked {
			fmt.Fprintf(w, "  %s %s (cycle: %s)\n", WarningStyle.Render("!"), b.Module, strings.Join(b.Cycle, ", "))
		}
	})
	if len(d.Rejected) > 0 {
		section(w, "Rejected manifests", len(d.Rejected), func() {
			for _, r := range d.Rejected {
				fmt.Fprintf(w, "  %s %s\n", WarningStyle.Render("!"), r)
			}
		})
	}

	if len(d.Cycles) == 0 && len(d.Unresolved) == 0 {
		fmt.Fprintln(w, SuccessStyle.Render("✓")+" no dependency problems found")
	}
}

func section(w io.Writer, title string, n int, body func()) {
	fmt.Fprintf(w, "%s %s\n", TitleStyle.Render(title), SubtitleStyle.Render(fmt.Sprintf("(%d)", n)))
	if n == 0 {
		fmt.Fprintln(w, "  "+SubtitleStyle.Render("(none)"))
	} else {
		body()
	}
	fmt.Fprintln(w)
}

// renderGuides prints the markdown guide of every problem kind present.
func renderGuides(w io.Writer, res *dag.Result, rejected bool) error {
	var guides []*issue.Issue
	if rejected {
		guides = append(guides, issue.Get(issue.InvalidManifestId))
	}
	present := map[kernel.Code]bool{
		kernel.CodeDependencyCycle:      len(res.Cycles) > 0,
		kernel.CodeUnresolvedDependency: len(res.Unresolved) > 0,
		kernel.CodeBlockedByCycle:       len(res.BlockedByCycle) > 0,
	}
	for _, code := range []kernel.Code{kernel.CodeDependencyCycle, kernel.CodeUnresolvedDependency, kernel.CodeBlockedByCycle} {
		if !present[code] {
			continue
		}
		if guide := issue.ForDiagnostic(string(code)); guide != nil {
			guides = append(guides, guide)
		}
	}

	for _, guide := range guides {
		rendered, err := guide.Render(guideStyle)
		if err != nil {
			return err
		}
		fmt.Fprint(w, rendered)
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// moduleIDs converts manifest ids to strings for display.
func moduleIDs(ids []manifest.ModuleID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
