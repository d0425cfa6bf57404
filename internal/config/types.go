// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	// LogFormatText is charmbracelet/log's human-readable formatter.
	LogFormatText LogFormat = "text"
	// LogFormatJSON writes one JSON object per record.
	LogFormatJSON LogFormat = "json"
	// LogFormatLogfmt writes key=value records.
	LogFormatLogfmt LogFormat = "logfmt"

	// DefaultDebounce is the default window for coalescing features-file events.
	DefaultDebounce = 500 * time.Millisecond
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidDuration is returned for negative durations.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidFeature is returned when a configured feature id is blank.
	ErrInvalidFeature = errors.New("invalid feature")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level written by the CLI logger.
	LogLevel string

	// LogFormat selects the charmbracelet/log formatter.
	LogFormat string

	// InvalidLogLevelError wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidLogFormatError wraps ErrInvalidLogFormat for errors.Is() compatibility.
	InvalidLogFormatError struct {
		Value LogFormat
	}

	// InvalidDurationError wraps ErrInvalidDuration.
	InvalidDurationError struct {
		Field string
		Value time.Duration
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// LogConfig configures the CLI logger.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}

	// KernelConfig carries the module registry options.
	KernelConfig struct {
		// StrictDeclarations rejects hook points and event patterns missing
		// from the registering module's manifest.
		StrictDeclarations bool `json:"strict_declarations" mapstructure:"strict_declarations"`
		// HandlerTimeout bounds each event handler call. Zero means no deadline.
		HandlerTimeout time.Duration `json:"handler_timeout" mapstructure:"handler_timeout"`
	}

	// WatchConfig configures the features-file watcher.
	WatchConfig struct {
		Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
	}

	// MetricsConfig configures the Prometheus endpoint.
	MetricsConfig struct {
		Addr string `json:"addr" mapstructure:"addr"`
	}

	// TracingConfig configures span export.
	TracingConfig struct {
		// Endpoint is the OTLP/HTTP collector URL; empty disables export.
		Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	}

	// UIConfig contains user interface settings.
	UIConfig struct {
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}

	// Config is the effective modkernel configuration.
	Config struct {
		// Catalog is the path to the module catalog file.
		Catalog string `json:"catalog" mapstructure:"catalog"`
		// Features is the enabled-feature set used at boot.
		Features []string `json:"features" mapstructure:"features"`
		// FeaturesFile is watched by `modkernel watch`.
		FeaturesFile string        `json:"features_file" mapstructure:"features_file"`
		Log          LogConfig     `json:"log" mapstructure:"log"`
		Kernel       KernelConfig  `json:"kernel" mapstructure:"kernel"`
		Watch        WatchConfig   `json:"watch" mapstructure:"watch"`
		Metrics      MetricsConfig `json:"metrics" mapstructure:"metrics"`
		Tracing      TracingConfig `json:"tracing" mapstructure:"tracing"`
		UI           UIConfig      `json:"ui" mapstructure:"ui"`

		// Source is the file the configuration was read from, empty for defaults.
		Source string `json:"-" mapstructure:"-"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Features: []string{},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
		Watch: WatchConfig{
			Debounce: DefaultDebounce,
		},
	}
}

func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the level is one of the defined levels.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

func (f LogFormat) String() string { return string(f) }

// IsValid returns whether the format is one of the defined formats.
func (f LogFormat) IsValid() (bool, []error) {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
		return true, nil
	default:
		return false, []error{&InvalidLogFormatError{Value: f}}
	}
}

func (e *InvalidLogFormatError) Error() string {
	return fmt.Sprintf("invalid log format %q (valid: text, json, logfmt)", e.Value)
}

func (e *InvalidLogFormatError) Unwrap() error { return ErrInvalidLogFormat }

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("%s: negative duration %s", e.Field, e.Value)
}

func (e *InvalidDurationError) Unwrap() error { return ErrInvalidDuration }

// IsValid returns whether the Config has valid fields.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	for i, f := range c.Features {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, fmt.Errorf("%w: features[%d] is blank", ErrInvalidFeature, i))
		}
	}
	if valid, fieldErrs := c.Log.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Log.Format.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.Kernel.HandlerTimeout < 0 {
		errs = append(errs, &InvalidDurationError{Field: "kernel.handler_timeout", Value: c.Kernel.HandlerTimeout})
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, &InvalidDurationError{Field: "watch.debounce", Value: c.Watch.Debounce})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig followed by the field errors, so both the
// aggregate and the specific sentinels match with errors.Is().
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
