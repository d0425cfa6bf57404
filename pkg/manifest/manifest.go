// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrConfiguration is the sentinel wrapped by ConfigurationError.
	ErrConfiguration = errors.New("invalid module configuration")
	// ErrInvalidModuleID is returned when a ModuleID is empty or contains whitespace.
	ErrInvalidModuleID = errors.New("invalid module id")
	// ErrInvalidFeatureID is returned when a FeatureID is empty or contains whitespace.
	ErrInvalidFeatureID = errors.New("invalid feature id")
	// ErrInvalidHookPointID is returned when a HookPointID is empty or contains whitespace.
	ErrInvalidHookPointID = errors.New("invalid hook point id")
	// ErrInvalidEventPattern is returned when an EventPattern has empty segments.
	ErrInvalidEventPattern = errors.New("invalid event pattern")
)

type (
	// ModuleID uniquely identifies a module within a catalog.
	ModuleID string

	// FeatureID names one entry of the enabled-feature set.
	FeatureID string

	// HookPointID names an extension slot that modules contribute payloads to.
	HookPointID string

	// EventPattern is a dot-segmented event name where any segment may be the
	// "*" wildcard. A bare "*" matches every event.
	EventPattern string

	// Manifest is the static description of one module.
	Manifest struct {
		ID         ModuleID
		Version    string
		DependsOn  []ModuleID
		Activation Activation
		// Provides lists the hook points the module contributes to.
		Provides []HookPointID
		// Consumes lists the event patterns the module subscribes to.
		Consumes []EventPattern
		// Exports is opaque to the kernel and handed out to other modules
		// while this one is active.
		Exports map[string]any
	}

	// ConfigurationError reports a manifest that cannot enter the catalog, either
	// because it is malformed or because its id is already taken. It wraps
	// ErrConfiguration for errors.Is() compatibility.
	ConfigurationError struct {
		// ModuleID is the offending manifest id (may be empty when the id itself is missing).
		ModuleID ModuleID
		// Source locates the manifest, e.g. "catalog.cue: modules[3]".
		Source string
		// Reason is a short human-readable description.
		Reason string
		// FieldErrors holds field-level validation errors.
		FieldErrors []error
	}
)

// String returns the id as a plain string.
func (id ModuleID) String() string { return string(id) }

// Validate returns nil if the id is non-empty and free of whitespace.
func (id ModuleID) Validate() error {
	if !validToken(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidModuleID, string(id))
	}
	return nil
}

// String returns the feature id as a plain string.
func (f FeatureID) String() string { return string(f) }

// Validate returns nil if the feature id is non-empty and free of whitespace.
func (f FeatureID) Validate() error {
	if !validToken(string(f)) {
		return fmt.Errorf("%w: %q", ErrInvalidFeatureID, string(f))
	}
	return nil
}

// String returns the hook point id as a plain string.
func (h HookPointID) String() string { return string(h) }

// Validate returns nil if the hook point id is non-empty and free of whitespace.
func (h HookPointID) Validate() error {
	if !validToken(string(h)) {
		return fmt.Errorf("%w: %q", ErrInvalidHookPointID, string(h))
	}
	return nil
}

// String returns the pattern as a plain string.
func (p EventPattern) String() string { return string(p) }

// Validate checks that every dot-separated segment is non-empty and contains no
// whitespace. Wildcards are only allowed as whole segments.
func (p EventPattern) Validate() error {
	if !validToken(string(p)) {
		return fmt.Errorf("%w: %q", ErrInvalidEventPattern, string(p))
	}
	for seg := range strings.SplitSeq(string(p), ".") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidEventPattern, string(p))
		}
		if seg != "*" && strings.Contains(seg, "*") {
			return fmt.Errorf("%w: %q mixes a wildcard into segment %q", ErrInvalidEventPattern, string(p), seg)
		}
	}
	return nil
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	sb.WriteString("module")
	if e.ModuleID != "" {
		fmt.Fprintf(&sb, " %q", e.ModuleID)
	}
	if e.Source != "" {
		fmt.Fprintf(&sb, " (%s)", e.Source)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if len(e.FieldErrors) > 0 {
		msgs := make([]string, 0, len(e.FieldErrors))
		for _, fe := range e.FieldErrors {
			msgs = append(msgs, fe.Error())
		}
		sb.WriteString(": ")
		sb.WriteString(strings.Join(msgs, "; "))
	}
	return sb.String()
}

// Unwrap returns ErrConfiguration for errors.Is() compatibility.
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// Validate checks the manifest's fields and collects every problem found into a
// single ConfigurationError. Self-dependencies are not rejected here: the
// resolver reports them as one-node cycles.
func (m Manifest) Validate() error {
	var fieldErrs []error
	if err := m.ID.Validate(); err != nil {
		fieldErrs = append(fieldErrs, fmt.Errorf("id: %w", err))
	}
	if strings.TrimSpace(m.Version) == "" {
		fieldErrs = append(fieldErrs, errors.New("version: required"))
	}
	for i, dep := range m.DependsOn {
		if err := dep.Validate(); err != nil {
			fieldErrs = append(fieldErrs, fmt.Errorf("depends_on[%d]: %w", i, err))
		}
	}
	if err := m.Activation.Validate(); err != nil {
		fieldErrs = append(fieldErrs, fmt.Errorf("activation: %w", err))
	}
	for i, point := range m.Provides {
		if err := point.Validate(); err != nil {
			fieldErrs = append(fieldErrs, fmt.Errorf("hooks.provide[%d]: %w", i, err))
		}
	}
	for i, pattern := range m.Consumes {
		if err := pattern.Validate(); err != nil {
			fieldErrs = append(fieldErrs, fmt.Errorf("hooks.consume[%d]: %w", i, err))
		}
	}
	if len(fieldErrs) > 0 {
		return &ConfigurationError{ModuleID: m.ID, Reason: "malformed manifest", FieldErrors: fieldErrs}
	}
	return nil
}

// IsFoundation reports whether the module declares no dependencies.
func (m Manifest) IsFoundation() bool {
	return len(m.DependsOn) == 0
}

// ProvidesPoint reports whether the manifest declares the hook point.
func (m Manifest) ProvidesPoint(point HookPointID) bool {
	return slices.Contains(m.Provides, point)
}

// ConsumesPattern reports whether the manifest declares the event pattern.
func (m Manifest) ConsumesPattern(pattern EventPattern) bool {
	return slices.Contains(m.Consumes, pattern)
}

// Clone returns a copy that shares no slices with the receiver. The exports map
// is copied shallowly.
func (m Manifest) Clone() Manifest {
	out := m
	out.DependsOn = slices.Clone(m.DependsOn)
	out.Activation = m.Activation.Clone()
	out.Provides = slices.Clone(m.Provides)
	out.Consumes = slices.Clone(m.Consumes)
	if m.Exports != nil {
		out.Exports = maps.Clone(m.Exports)
	}
	return out
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}
