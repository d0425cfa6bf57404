// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"errors"
	"testing"
)

func TestPhaseTransitions(t *testing.T) {
	t.Parallel()

	all := []Phase{PhaseUninstalled, PhaseEligible, PhaseInstalling, PhaseActive, PhaseTearingDown, PhaseFailed}
	allowed := map[[2]Phase]bool{
		{PhaseUninstalled, PhaseEligible}:    true,
		{PhaseEligible, PhaseInstalling}:     true,
		{PhaseEligible, PhaseUninstalled}:    true,
		{PhaseInstalling, PhaseActive}:       true,
		{PhaseInstalling, PhaseFailed}:       true,
		{PhaseActive, PhaseTearingDown}:      true,
		{PhaseTearingDown, PhaseEligible}:    true,
		{PhaseTearingDown, PhaseUninstalled}: true,
		{PhaseFailed, PhaseEligible}:         true,
		{PhaseFailed, PhaseUninstalled}:      true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Phase{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestPhaseValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phase   Phase
		name    string
		wantErr bool
	}{
		{PhaseUninstalled, "uninstalled", false},
		{PhaseEligible, "eligible", false},
		{PhaseInstalling, "installing", false},
		{PhaseActive, "active", false},
		{PhaseTearingDown, "tearing-down", false},
		{PhaseFailed, "failed", false},
		{Phase(99), "unknown", true},
		{Phase(-1), "unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.phase.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			err := tt.phase.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrInvalidPhase) {
				t.Errorf("error should wrap ErrInvalidPhase, got %v", err)
			}
			var phaseErr *InvalidPhaseError
			if !errors.As(err, &phaseErr) || phaseErr.Value != tt.phase {
				t.Errorf("expected *InvalidPhaseError for %d, got %v", tt.phase, err)
			}
		})
	}
}

func TestPhaseInFlight(t *testing.T) {
	t.Parallel()

	for _, p := range []Phase{PhaseInstalling, PhaseTearingDown} {
		if !p.InFlight() {
			t.Errorf("%s should be in flight", p)
		}
	}
	for _, p := range []Phase{PhaseUninstalled, PhaseEligible, PhaseActive, PhaseFailed} {
		if p.InFlight() {
			t.Errorf("%s should not be in flight", p)
		}
	}
}
