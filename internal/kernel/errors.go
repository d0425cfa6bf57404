// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerworks/modkernel/pkg/manifest"
)

var (
	// ErrUnresolvedDependency is the sentinel wrapped by UnresolvedDependencyError.
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	// ErrSetupFailed is the sentinel wrapped by SetupError.
	ErrSetupFailed = errors.New("module setup failed")
	// ErrTeardownFailed is the sentinel wrapped by TeardownError.
	ErrTeardownFailed = errors.New("module teardown failed")
	// ErrNotActive is the sentinel wrapped by NotActiveError.
	ErrNotActive = errors.New("module not active")
	// ErrHandleClosed is returned by Handle methods after the owning module
	// was torn down or its setup failed.
	ErrHandleClosed = errors.New("module handle closed")
	// ErrCatalogSealed is returned by Register after the first activation pass.
	ErrCatalogSealed = errors.New("module catalog is sealed")
	// ErrInvalidTransition is the sentinel wrapped by TransitionError.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrUndeclared is the sentinel wrapped by UndeclaredError.
	ErrUndeclared = errors.New("undeclared registration")
	// ErrUnknownModule is returned when an id is not in the catalog.
	ErrUnknownModule = errors.New("unknown module")
)

type (
	// UnresolvedDependencyError reports depends_on entries that name no known module.
	UnresolvedDependencyError struct {
		ModuleID manifest.ModuleID
		Missing  []manifest.ModuleID
	}

	// SetupError wraps the error (or panic) returned by a module's Setup or factory.
	SetupError struct {
		ModuleID manifest.ModuleID
		Err      error
		Panicked bool
	}

	// TeardownError wraps the error (or panic) returned by a module's Teardown.
	TeardownError struct {
		ModuleID manifest.ModuleID
		Err      error
		Panicked bool
	}

	// NotActiveError is returned by Exports for a module that is not Active.
	NotActiveError struct {
		ModuleID manifest.ModuleID
		Phase    Phase
	}

	// TransitionError reports a lifecycle transition the phase table forbids.
	TransitionError struct {
		ModuleID manifest.ModuleID
		From     Phase
		To       Phase
	}

	// UndeclaredError is returned in strict mode when a module registers to a
	// hook point, event pattern or dependency its manifest does not declare.
	UndeclaredError struct {
		ModuleID manifest.ModuleID
		// Kind is "hook point", "event pattern" or "dependency".
		Kind string
		Name string
	}
)

func (e *UnresolvedDependencyError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		missing[i] = string(m)
	}
	return fmt.Sprintf("module %q depends on unknown module(s): %s", e.ModuleID, strings.Join(missing, ", "))
}

// Unwrap returns ErrUnresolvedDependency for errors.Is() compatibility.
func (e *UnresolvedDependencyError) Unwrap() error { return ErrUnresolvedDependency }

func (e *SetupError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("setup of module %q panicked: %v", e.ModuleID, e.Err)
	}
	return fmt.Sprintf("setup of module %q failed: %v", e.ModuleID, e.Err)
}

// Unwrap returns both ErrSetupFailed and the underlying cause.
func (e *SetupError) Unwrap() []error { return []error{ErrSetupFailed, e.Err} }

func (e *TeardownError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("teardown of module %q panicked: %v", e.ModuleID, e.Err)
	}
	return fmt.Sprintf("teardown of module %q failed: %v", e.ModuleID, e.Err)
}

// Unwrap returns both ErrTeardownFailed and the underlying cause.
func (e *TeardownError) Unwrap() []error { return []error{ErrTeardownFailed, e.Err} }

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("module %q is not active (phase: %s)", e.ModuleID, e.Phase)
}

// Unwrap returns ErrNotActive for errors.Is() compatibility.
func (e *NotActiveError) Unwrap() error { return ErrNotActive }

func (e *TransitionError) Error() string {
	return fmt.Sprintf("module %q cannot move from %s to %s", e.ModuleID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition for errors.Is() compatibility.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func (e *UndeclaredError) Error() string {
	return fmt.Sprintf("module %q used %s %q without declaring it in its manifest", e.ModuleID, e.Kind, e.Name)
}

// Unwrap returns ErrUndeclared for errors.Is() compatibility.
func (e *UndeclaredError) Unwrap() error { return ErrUndeclared }
