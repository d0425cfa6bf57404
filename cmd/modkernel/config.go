// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/modkernel/internal/config"
)

// newConfigCommand creates the `modkernel config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage modkernel configuration",
		Long: `Manage modkernel configuration.

Configuration is read from the first of:
  - the file given with --config
  - $XDG_CONFIG_HOME/modkernel/config.cue (see 'modkernel config path')
  - ./config.cue

Every key can be overridden with a MODKERNEL_ environment variable, e.g.
MODKERNEL_LOG_LEVEL=debug or MODKERNEL_KERNEL_STRICT_DECLARATIONS=true.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			showConfig(app.stdout, app.cfg)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as CUE",
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := io.WriteString(app.stdout, config.GenerateCUE(app.cfg))
			return err
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Create the default configuration file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.CreateDefaultConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show the configuration file path",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			dir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "Config directory: %s\n", dir)
			fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(w io.Writer, cfg *config.Config) {
	key := CmdStyle.Render
	value := SuccessStyle.Render
	none := SubtitleStyle.Render

	orNone := func(s string) string {
		if s == "" {
			return none("(not set)")
		}
		return value(s)
	}

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if cfg.Source != "" {
		fmt.Fprintf(w, "%s: %s\n", key("Config file"), cfg.Source)
	} else {
		fmt.Fprintf(w, "%s: %s\n", key("Config file"), none("(using defaults)"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s: %s\n", key("catalog"), orNone(cfg.Catalog))
	if len(cfg.Features) == 0 {
		fmt.Fprintf(w, "%s: %s\n", key("features"), none("(none)"))
	} else {
		fmt.Fprintf(w, "%s: %s\n", key("features"), value(strings.Join(cfg.Features, ", ")))
	}
	fmt.Fprintf(w, "%s: %s\n", key("features_file"), orNone(cfg.FeaturesFile))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("log"))
	fmt.Fprintf(w, "  level: %s\n", value(cfg.Log.Level.String()))
	fmt.Fprintf(w, "  format: %s\n", value(cfg.Log.Format.String()))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("kernel"))
	fmt.Fprintf(w, "  strict_declarations: %s\n", value(strconv.FormatBool(cfg.Kernel.StrictDeclarations)))
	fmt.Fprintf(w, "  handler_timeout: %s\n", value(cfg.Kernel.HandlerTimeout.String()))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("watch"))
	fmt.Fprintf(w, "  debounce: %s\n", value(cfg.Watch.Debounce.String()))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("metrics"))
	fmt.Fprintf(w, "  addr: %s\n", orNone(cfg.Metrics.Addr))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("tracing"))
	fmt.Fprintf(w, "  endpoint: %s\n", orNone(cfg.Tracing.Endpoint))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("ui"))
	fmt.Fprintf(w, "  verbose: %s\n", value(strconv.FormatBool(cfg.UI.Verbose)))
}
