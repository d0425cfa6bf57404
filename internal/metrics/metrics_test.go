// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveSetup("sales", nil, time.Millisecond)
	m.ObserveTeardown("sales", errors.New("boom"))
	m.IncPass("activate_all")
	m.SetActiveModules(3)
	m.ObserveEmit(0)
	m.IncHandlerFailure("sales")
	m.SetHookRegistrations(1)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	m, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	m.ObserveSetup("sales", nil, 10*time.Millisecond)
	m.ObserveSetup("sales", errors.New("boom"), time.Millisecond)
	m.ObserveTeardown("sales", nil)
	m.IncPass("feature_change")
	m.SetActiveModules(2)
	m.ObserveEmit(0)
	m.ObserveEmit(3)
	m.IncHandlerFailure("inventory")
	m.SetHookRegistrations(4)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"setup success", testutil.ToFloat64(m.setups.WithLabelValues("sales", StatusSuccess)), 1},
		{"setup failure", testutil.ToFloat64(m.setups.WithLabelValues("sales", StatusFailure)), 1},
		{"teardown success", testutil.ToFloat64(m.teardowns.WithLabelValues("sales", StatusSuccess)), 1},
		{"passes", testutil.ToFloat64(m.passes.WithLabelValues("feature_change")), 1},
		{"active", testutil.ToFloat64(m.activeModules), 2},
		{"emitted", testutil.ToFloat64(m.eventsEmitted), 2},
		{"dropped", testutil.ToFloat64(m.eventsDropped), 1},
		{"handler failures", testutil.ToFloat64(m.handlerFailures.WithLabelValues("inventory")), 1},
		{"hook registrations", testutil.ToFloat64(m.hookRegistrations), 4},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	m, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	m.SetActiveModules(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "modkernel_kernel_active_modules 5") {
		t.Errorf("gauge missing from exposition:\n%s", rec.Body.String())
	}
}
