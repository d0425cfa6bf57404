// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"errors"
	"fmt"
)

const (
	// PhaseUninstalled is the initial phase, and the phase of modules that are
	// not eligible under the current features.
	PhaseUninstalled Phase = iota
	// PhaseEligible means the activation rule passes and setup may run once
	// every dependency is active.
	PhaseEligible
	// PhaseInstalling means Setup is in flight.
	PhaseInstalling
	// PhaseActive means Setup returned successfully.
	PhaseActive
	// PhaseTearingDown means Teardown is in flight.
	PhaseTearingDown
	// PhaseFailed means Setup failed. The module is retried once its
	// eligibility or the phases of its dependencies change.
	PhaseFailed
)

// ErrInvalidPhase is returned when a Phase value is not one of the defined phases.
var ErrInvalidPhase = errors.New("invalid phase")

type (
	// Phase is the lifecycle phase of one module.
	Phase int32

	// InvalidPhaseError is returned when a Phase value is not recognized.
	// It wraps ErrInvalidPhase for errors.Is() compatibility.
	InvalidPhaseError struct {
		Value Phase
	}
)

var transitions = map[Phase][]Phase{
	PhaseUninstalled: {PhaseEligible},
	PhaseEligible:    {PhaseInstalling, PhaseUninstalled},
	PhaseInstalling:  {PhaseActive, PhaseFailed},
	PhaseActive:      {PhaseTearingDown},
	PhaseTearingDown: {PhaseEligible, PhaseUninstalled},
	PhaseFailed:      {PhaseEligible, PhaseUninstalled},
}

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseUninstalled:
		return "uninstalled"
	case PhaseEligible:
		return "eligible"
	case PhaseInstalling:
		return "installing"
	case PhaseActive:
		return "active"
	case PhaseTearingDown:
		return "tearing-down"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error implements the error interface for InvalidPhaseError.
func (e *InvalidPhaseError) Error() string {
	return fmt.Sprintf("invalid phase %d (valid: 0=uninstalled, 1=eligible, 2=installing, 3=active, 4=tearing-down, 5=failed)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidPhaseError) Unwrap() error {
	return ErrInvalidPhase
}

// Validate returns nil if the Phase is one of the defined phases,
// or an error wrapping ErrInvalidPhase if it is not.
func (p Phase) Validate() error {
	if _, ok := transitions[p]; !ok {
		return &InvalidPhaseError{Value: p}
	}
	return nil
}

// CanTransition reports whether moving from p to next is allowed.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InFlight reports whether a lifecycle operation is running (Installing or TearingDown).
func (p Phase) InFlight() bool {
	return p == PhaseInstalling || p == PhaseTearingDown
}
