// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"io"

	"github.com/ledgerworks/modkernel/internal/featuregate"
	"github.com/ledgerworks/modkernel/internal/kernel"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

// bootRegistry creates a registry configured from the kernel section of the
// configuration and registers every catalog manifest as a declarative module.
func (a *App) bootRegistry(cat *manifest.Catalog, features featuregate.Set, opts ...kernel.Option) *kernel.Registry {
	base := []kernel.Option{
		kernel.WithLogger(a.logger.WithPrefix("kernel")),
		kernel.WithFeatures(features),
		kernel.WithStrictDeclarations(a.cfg.Kernel.StrictDeclarations),
		kernel.WithHandlerTimeout(a.cfg.Kernel.HandlerTimeout),
	}
	r := kernel.New(append(base, opts...)...)
	for _, err := range r.RegisterCatalog(cat, kernel.Declarative) {
		a.logger.Warn("module not registered", "err", err)
	}
	return r
}

// printDiagnostics writes the warnings and errors of a pass report.
func printDiagnostics(w io.Writer, report *kernel.Report) {
	for _, d := range report.Diagnostics {
		var marker string
		switch d.Severity {
		case kernel.SeverityError:
			marker = ErrorStyle.Render("✗")
		case kernel.SeverityWarning:
			marker = WarningStyle.Render("!")
		case kernel.SeverityInfo:
			marker = VerboseStyle.Render("·")
		}
		fmt.Fprintf(w, "  %s %s %s: %s\n", marker, CmdStyle.Render(string(d.ModuleID)), SubtitleStyle.Render(string(d.Code)), d.Message)
	}
}

// logReport logs a pass summary and every non-info diagnostic.
func (a *App) logReport(pass string, report *kernel.Report) {
	a.logger.Info(pass,
		"activated", len(report.Activated),
		"torn_down", len(report.TornDown),
		"failed", len(report.Failed),
	)
	for _, d := range report.Diagnostics {
		switch d.Severity {
		case kernel.SeverityError:
			a.logger.Error(d.Message, "module", d.ModuleID, "code", d.Code)
		case kernel.SeverityWarning:
			a.logger.Warn(d.Message, "module", d.ModuleID, "code", d.Code)
		case kernel.SeverityInfo:
			a.logger.Debug(d.Message, "module", d.ModuleID, "code", d.Code)
		}
	}
}
