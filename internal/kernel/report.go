// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

const (
	// SeverityInfo marks diagnostics that describe expected behavior.
	SeverityInfo Severity = "info"
	// SeverityWarning marks a recoverable problem.
	SeverityWarning Severity = "warning"
	// SeverityError marks a problem that kept a module from becoming active.
	SeverityError Severity = "error"

	// CodeDependencyCycle: the module lies on a dependency cycle.
	CodeDependencyCycle Code = "dependency_cycle"
	// CodeUnresolvedDependency: depends_on names an unknown module.
	CodeUnresolvedDependency Code = "unresolved_dependency"
	// CodeBlockedByCycle: the module depends (transitively) on a cycle.
	CodeBlockedByCycle Code = "blocked_by_cycle"
	// CodeWaitingOnDependency: the module is eligible but a dependency is not active.
	CodeWaitingOnDependency Code = "waiting_on_dependency"
	// CodeSetupFailed: Setup or the factory returned an error or panicked.
	CodeSetupFailed Code = "setup_failed"
	// CodeTeardownFailed: Teardown returned an error or panicked.
	CodeTeardownFailed Code = "teardown_failed"
	// CodeInvalidTransition: a lifecycle transition was refused.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeCanceled: the pass context was cancelled before the module was set up.
	CodeCanceled Code = "canceled"
)

type (
	// Severity is the level of a Diagnostic.
	Severity string

	// Code is a machine-readable diagnostic identifier.
	Code string

	// Diagnostic is one structured finding of a pass, returned to the caller
	// rather than printed so the CLI can decide how to render it.
	Diagnostic struct {
		Severity Severity
		Code     Code
		ModuleID manifest.ModuleID
		Message  string
		// Cause is the underlying error, for errors.Is/As inspection.
		Cause error
	}

	// Report is the outcome of one activation, feature-change or shutdown pass.
	Report struct {
		Diagnostics []Diagnostic
		// Activated lists modules whose Setup succeeded, in call order.
		Activated []manifest.ModuleID
		// TornDown lists modules whose Teardown ran, in call order.
		TornDown []manifest.ModuleID
		// Failed lists modules whose Setup failed, in call order.
		Failed []manifest.ModuleID
	}
)

func (r *Report) add(sev Severity, code Code, id manifest.ModuleID, msg string, cause error) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Severity: sev, Code: code, ModuleID: id, Message: msg, Cause: cause})
}

// HasErrors reports whether any diagnostic has SeverityError.
func (r *Report) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ByCode returns the diagnostics carrying code.
func (r *Report) ByCode(code Code) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// ForModule returns the diagnostics about id.
func (r *Report) ForModule(id manifest.ModuleID) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.ModuleID == id {
			out = append(out, d)
		}
	}
	return out
}
