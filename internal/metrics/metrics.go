// SPDX-License-Identifier: MPL-2.0

// Package metrics exposes Prometheus instrumentation for the module kernel.
// A nil *Metrics is valid and records nothing, so components take it as an
// optional dependency.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "modkernel"

	// StatusSuccess labels a lifecycle operation that completed.
	StatusSuccess = "success"
	// StatusFailure labels a lifecycle operation that returned an error or panicked.
	StatusFailure = "failure"
)

// Metrics holds the kernel's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	setups            *prometheus.CounterVec   // by module, status
	teardowns         *prometheus.CounterVec   // by module, status
	setupDuration     *prometheus.HistogramVec // by module
	passes            *prometheus.CounterVec   // by kind
	activeModules     prometheus.Gauge
	eventsEmitted     prometheus.Counter
	eventsDropped     prometheus.Counter
	handlerFailures   *prometheus.CounterVec // by module
	hookRegistrations prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		setups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "setups_total",
			Help:      "Total number of module setup calls",
		}, []string{"module", "status"}),

		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "teardowns_total",
			Help:      "Total number of module teardown calls",
		}, []string{"module", "status"}),

		setupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "setup_duration_seconds",
			Help:      "Module setup duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"module"}),

		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "passes_total",
			Help:      "Total number of activation passes",
		}, []string{"kind"}), // kind: activate_all, feature_change, shutdown

		activeModules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "active_modules",
			Help:      "Current number of active modules",
		}),

		eventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Total number of emitted events",
		}),

		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events emitted with no matching subscriber",
		}),

		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_failures_total",
			Help:      "Total number of event handler failures",
		}, []string{"module"}),

		hookRegistrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hooks",
			Name:      "registrations",
			Help:      "Current number of hook registrations",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.setups, m.teardowns, m.setupDuration, m.passes, m.activeModules,
		m.eventsEmitted, m.eventsDropped, m.handlerFailures, m.hookRegistrations,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSetup records one setup call.
func (m *Metrics) ObserveSetup(module string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.setups.WithLabelValues(module, status(err)).Inc()
	m.setupDuration.WithLabelValues(module).Observe(d.Seconds())
}

// ObserveTeardown records one teardown call.
func (m *Metrics) ObserveTeardown(module string, err error) {
	if m == nil {
		return
	}
	m.teardowns.WithLabelValues(module, status(err)).Inc()
}

// IncPass counts one activation pass of the given kind.
func (m *Metrics) IncPass(kind string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(kind).Inc()
}

// SetActiveModules sets the active module gauge.
func (m *Metrics) SetActiveModules(n int) {
	if m == nil {
		return
	}
	m.activeModules.Set(float64(n))
}

// ObserveEmit records one emitted event and how many subscribers it reached.
func (m *Metrics) ObserveEmit(matched int) {
	if m == nil {
		return
	}
	m.eventsEmitted.Inc()
	if matched == 0 {
		m.eventsDropped.Inc()
	}
}

// IncHandlerFailure counts a failed handler owned by module.
func (m *Metrics) IncHandlerFailure(module string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(module).Inc()
}

// SetHookRegistrations sets the hook registration gauge.
func (m *Metrics) SetHookRegistrations(n int) {
	if m == nil {
		return
	}
	m.hookRegistrations.Set(float64(n))
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx) //nolint:contextcheck // parent is already done
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}
