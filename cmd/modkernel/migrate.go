// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/modkernel/internal/issue"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

var errRejectedManifests = errors.New("catalog has rejected manifests")

type migrateOptions struct {
	format string
	write  bool
}

func newMigrateCommand(app *App) *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate [catalog]",
		Short: "Rewrite legacy activation rules into the activated_by shape",
		Long: `Rewrite every legacy activation rule (required_features/optional_features)
into the current shape.

The first required feature becomes activated_by; the remaining required
features followed by the optional ones become enhanced_by. A legacy rule with
no required features becomes always_on. Manifests already in the current
shape are left alone, so running migrate twice changes nothing.

The migrated catalog is printed to stdout, or written back to the catalog
file in its own format with --write.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(app, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", string(manifest.FormatCUE), "output format (cue, toml or yaml)")
	cmd.Flags().BoolVarP(&opts.write, "write", "w", false, "rewrite the catalog file in place")
	return cmd
}

func runMigrate(app *App, args []string, opts *migrateOptions) error {
	path, err := app.catalogPath(args)
	if err != nil {
		return err
	}
	cat, rejected, err := app.loadCatalog(path)
	if err != nil {
		return err
	}

	format := manifest.Format(opts.format)
	if opts.write {
		if len(rejected) > 0 {
			for _, r := range rejected {
				fmt.Fprintln(app.stderr, WarningStyle.Render("! ")+r.Error())
			}
			return issue.NewErrorContext().
				WithOperation("migrate module catalog").
				WithResource(path).
				WithSuggestion("Fix the rejected manifests first; --write would drop them").
				WithSuggestion("Run 'modkernel diagnose --explain' for details").
				Wrap(errRejectedManifests).
				BuildError()
		}
		if format, err = manifest.FormatFromPath(path); err != nil {
			return err
		}
	}

	migrated, changed := manifest.MigrateAll(cat.Manifests())
	out, err := manifest.EncodeCatalog(migrated, format)
	if err != nil {
		return err
	}

	if len(changed) == 0 {
		fmt.Fprintln(app.stderr, SubtitleStyle.Render("nothing to migrate"))
	} else {
		fmt.Fprintf(app.stderr, "%s migrated %d module(s): %s\n",
			SuccessStyle.Render("✓"), len(changed), strings.Join(moduleIDs(changed), ", "))
	}

	if !opts.write {
		_, err = app.stdout.Write(out)
		return err
	}
	if len(changed) == 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return issue.NewErrorContext().
			WithOperation("migrate module catalog").
			WithResource(path).
			WithSuggestion("Check that the catalog file is writable").
			Wrap(err).
			BuildError()
	}
	app.logger.Info("catalog rewritten", "path", path, "modules", len(changed))
	return nil
}
