// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"io/fs"

	"github.com/ledgerworks/modkernel/internal/issue"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

var errNoCatalog = errors.New("no catalog given")

// catalogPath picks the catalog from the first argument, falling back to the
// catalog configured in config.cue.
func (a *App) catalogPath(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if a.cfg.Catalog != "" {
		return a.cfg.Catalog, nil
	}
	return "", issue.NewErrorContext().
		WithOperation("load module catalog").
		WithSuggestion("Pass the catalog file as an argument, e.g. 'modkernel diagnose modules.cue'").
		WithSuggestion("Set 'catalog' in config.cue or the MODKERNEL_CATALOG environment variable").
		Wrap(errNoCatalog).
		BuildError()
}

// loadCatalog reads a catalog file. Rejected manifests are returned alongside
// the catalog; only file-level problems are errors.
func (a *App) loadCatalog(path string) (*manifest.Catalog, []error, error) {
	cat, rejected, err := manifest.LoadCatalog(path)
	if err != nil {
		ec := issue.NewErrorContext().
			WithOperation("load module catalog").
			WithResource(path).
			Wrap(err)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			ec.WithSuggestion("Check that the catalog path is correct")
		case errors.Is(err, manifest.ErrUnknownFormat):
			ec.WithSuggestion("Use a .cue, .toml, .yaml or .yml catalog file")
		default:
			ec.WithSuggestion("Fix the syntax error reported above and retry")
		}
		return nil, nil, ec.BuildError()
	}
	for _, r := range rejected {
		a.logger.Debug("manifest rejected", "catalog", path, "err", r)
	}
	return cat, rejected, nil
}
