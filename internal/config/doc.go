// SPDX-License-Identifier: MPL-2.0

// Package config handles modkernel configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/modkernel/config.cue (~/Library/Application
// Support/modkernel/config.cue on macOS, %APPDATA%\modkernel\config.cue on Windows), from
// ./config.cue, or from an explicit path. Every key can be overridden by an environment
// variable with the MODKERNEL_ prefix, dots replaced by underscores
// (MODKERNEL_KERNEL_STRICT_DECLARATIONS=true).
//
// Files are validated against an embedded CUE schema (config_schema.cue) before they are
// merged over the defaults.
package config
