// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"context"
	"sync"
	"testing"

	"github.com/ledgerworks/modkernel/pkg/manifest"
)

// callLog records lifecycle calls across modules in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

// take returns the recorded calls and clears the log.
func (l *callLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.calls
	l.calls = nil
	return out
}

func logged(l *callLog, id string, setup func(ctx context.Context, h *Handle) error) Factory {
	return Static(Funcs{
		OnSetup: func(ctx context.Context, h *Handle) error {
			l.add("setup:" + id)
			if setup != nil {
				return setup(ctx, h)
			}
			return nil
		},
		OnTeardown: func(context.Context) error {
			l.add("teardown:" + id)
			return nil
		},
	})
}

func mf(id string, act manifest.Activation, deps ...manifest.ModuleID) manifest.Manifest {
	return manifest.Manifest{
		ID:         manifest.ModuleID(id),
		Version:    "1.0.0",
		DependsOn:  deps,
		Activation: act,
	}
}

func mustRegister(t *testing.T, r *Registry, m manifest.Manifest, f Factory) {
	t.Helper()
	if err := r.Register(m, f); err != nil {
		t.Fatalf("Register(%s) failed: %v", m.ID, err)
	}
}

func requirePhase(t *testing.T, r *Registry, id manifest.ModuleID, want Phase) {
	t.Helper()
	st, ok := r.Status(id)
	if !ok {
		t.Fatalf("module %s not registered", id)
	}
	if st.Phase != want {
		t.Fatalf("module %s: phase %s, want %s (err: %v)", id, st.Phase, want, st.Err)
	}
}
