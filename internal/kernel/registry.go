// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ledgerworks/modkernel/internal/dag"
	"github.com/ledgerworks/modkernel/internal/eventbus"
	"github.com/ledgerworks/modkernel/internal/featuregate"
	"github.com/ledgerworks/modkernel/internal/hooks"
	"github.com/ledgerworks/modkernel/internal/metrics"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

const (
	passActivateAll   = "activate_all"
	passFeatureChange = "feature_change"
	passShutdown      = "shutdown"
)

type (
	// Registry owns the module catalog and drives every lifecycle transition.
	//
	// Register, ActivateAll, OnFeatureSetChanged and Shutdown are serialized:
	// only one pass runs at a time. Exports, Status, Statuses and Actions may
	// be called concurrently with a pass.
	Registry struct {
		// passMu is the single writer lock held for a whole pass.
		passMu sync.Mutex

		// mu guards the fields below and every moduleState's mutable fields.
		mu         sync.RWMutex
		ids        []manifest.ModuleID
		states     map[manifest.ModuleID]*moduleState
		features   featuregate.Set
		sealed     bool
		resolution *dag.Result

		hooks          *hooks.Registry
		bus            *eventbus.Bus
		logger         *log.Logger
		tracer         trace.Tracer
		metrics        *metrics.Metrics
		strict         bool
		handlerTimeout time.Duration
	}

	moduleState struct {
		manifest manifest.Manifest
		factory  Factory

		// opMu serializes Setup and Teardown of this module. module is only
		// touched while it is held.
		opMu   sync.Mutex
		module Module

		phase   Phase
		err     error
		hooks   []hooks.Handle
		subs    []*eventbus.Subscription
		exports map[string]any
		handle  *Handle
		// failedDeps is the dependency phase snapshot taken when setup failed.
		failedDeps string
	}

	// ModuleStatus is a read-only snapshot of one module's state.
	ModuleStatus struct {
		ID    manifest.ModuleID
		Phase Phase
		// Err is the last setup failure, if any.
		Err           error
		Hooks         int
		Subscriptions int
		// Enhancements lists the enabled enhancing features.
		Enhancements []manifest.FeatureID
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithLogger sets the logger. Handles derive per-module loggers from it.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHooks uses an existing hook registry instead of a private one.
func WithHooks(h *hooks.Registry) Option {
	return func(r *Registry) { r.hooks = h }
}

// WithBus uses an existing event bus instead of a private one.
func WithBus(b *eventbus.Bus) Option {
	return func(r *Registry) { r.bus = b }
}

// WithFeatures sets the feature set used by the first activation pass.
func WithFeatures(s featuregate.Set) Option {
	return func(r *Registry) { r.features = s }
}

// WithMetrics records lifecycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithTracer records a span around every Setup and Teardown call.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithStrictDeclarations makes handles reject hook points and event patterns
// the manifest does not declare. Without it, such registrations are logged.
func WithStrictDeclarations(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

// WithHandlerTimeout sets the per-handler deadline of the private event bus.
// It has no effect together with WithBus.
func WithHandlerTimeout(d time.Duration) Option {
	return func(r *Registry) { r.handlerTimeout = d }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		states: make(map[manifest.ModuleID]*moduleState),
		logger: log.NewWithOptions(io.Discard, log.Options{Prefix: "kernel"}),
		tracer: noop.NewTracerProvider().Tracer("kernel"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.hooks == nil {
		r.hooks = hooks.New()
	}
	if r.bus == nil {
		r.bus = eventbus.New(
			eventbus.WithLogger(r.logger.WithPrefix("eventbus")),
			eventbus.WithTracer(r.tracer),
			eventbus.WithMetrics(r.metrics),
			eventbus.WithHandlerTimeout(r.handlerTimeout),
		)
	}
	return r
}

// Register adds a manifest and the factory producing its module. It fails with
// a *manifest.ConfigurationError for a malformed manifest, a nil factory or a
// duplicate id, and with ErrCatalogSealed once the first pass has run.
func (r *Registry) Register(m manifest.Manifest, f Factory) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %q: %w", m.ID, ErrCatalogSealed)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if f == nil {
		return &manifest.ConfigurationError{ModuleID: m.ID, Reason: "no module factory"}
	}
	if _, exists := r.states[m.ID]; exists {
		return &manifest.ConfigurationError{ModuleID: m.ID, Reason: "duplicate module id"}
	}
	r.states[m.ID] = &moduleState{manifest: m.Clone(), factory: f}
	r.ids = append(r.ids, m.ID)
	return nil
}

// RegisterCatalog registers every manifest of cat with the factory returned by
// factoryFor. It returns the errors of the manifests that were rejected.
func (r *Registry) RegisterCatalog(cat *manifest.Catalog, factoryFor func(manifest.Manifest) Factory) []error {
	var errs []error
	for _, m := range cat.Manifests() {
		if err := r.Register(m, factoryFor(m)); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ActivateAll resolves the catalog (sealing it), then runs Setup for every
// eligible module whose dependencies are active, in dependency order.
func (r *Registry) ActivateAll(ctx context.Context) *Report {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	r.seal()
	r.metrics.IncPass(passActivateAll)
	report := r.newReport()
	r.reconcile(ctx, report)
	r.logger.Info("activation pass complete",
		"activated", len(report.Activated), "failed", len(report.Failed), "diagnostics", len(report.Diagnostics))
	return report
}

// OnFeatureSetChanged replaces the enabled features and reconciles: modules
// that lost eligibility and their active dependents are torn down in reverse
// dependency order, then modules that gained it are set up in dependency
// order. A set equal to the current one is a no-op. Before the first
// ActivateAll only the stored features change.
func (r *Registry) OnFeatureSetChanged(ctx context.Context, set featuregate.Set) *Report {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	r.mu.Lock()
	if r.features.Equal(set) {
		r.mu.Unlock()
		r.logger.Debug("feature set unchanged", "features", set.String())
		return &Report{}
	}
	added, removed := r.features.Diff(set)
	r.features = set
	sealed := r.sealed
	r.mu.Unlock()

	r.logger.Info("feature set changed", "added", added, "removed", removed)
	if !sealed {
		return &Report{}
	}

	r.metrics.IncPass(passFeatureChange)
	report := r.newReport()
	r.reconcile(ctx, report)
	return report
}

// Shutdown tears down every active module in reverse dependency order and
// leaves all modules Uninstalled. ActivateAll may be called again afterwards.
func (r *Registry) Shutdown(ctx context.Context) *Report {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	r.metrics.IncPass(passShutdown)
	report := &Report{}

	r.mu.RLock()
	active := make(map[manifest.ModuleID]bool)
	for id, st := range r.states {
		if st.phase == PhaseActive {
			active[id] = true
		}
	}
	r.mu.RUnlock()

	for _, id := range r.teardownOrder(active) {
		r.teardown(ctx, r.state(id), PhaseUninstalled, report)
	}

	r.mu.Lock()
	for _, st := range r.states {
		if st.phase == PhaseEligible || st.phase == PhaseFailed {
			st.phase = PhaseUninstalled
		}
	}
	r.mu.Unlock()

	r.updateGauges()
	r.logger.Info("shutdown complete", "torn_down", len(report.TornDown))
	return report
}

// Exports returns the module's manifest exports merged with the values it
// published through its handle. It fails with a *NotActiveError unless the
// module is Active.
func (r *Registry) Exports(id manifest.ModuleID) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, id)
	}
	if st.phase != PhaseActive {
		return nil, &NotActiveError{ModuleID: id, Phase: st.phase}
	}
	out := make(map[string]any, len(st.manifest.Exports)+len(st.exports))
	maps.Copy(out, st.manifest.Exports)
	maps.Copy(out, st.exports)
	return out, nil
}

// Status returns a snapshot of one module.
func (r *Registry) Status(id manifest.ModuleID) (ModuleStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.states[id]
	if !ok {
		return ModuleStatus{}, false
	}
	return r.statusLocked(st), true
}

// Statuses returns a snapshot of every module in registration order.
func (r *Registry) Statuses() []ModuleStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModuleStatus, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.statusLocked(r.states[id]))
	}
	return out
}

// Actions returns the payloads registered on a hook point, in order.
func (r *Registry) Actions(point manifest.HookPointID) []any {
	return r.hooks.Actions(point)
}

// Hooks returns the hook registry modules register into.
func (r *Registry) Hooks() *hooks.Registry { return r.hooks }

// Bus returns the event bus modules subscribe to.
func (r *Registry) Bus() *eventbus.Bus { return r.bus }

// Features returns the current feature set.
func (r *Registry) Features() featuregate.Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.features
}

// Resolution returns the dependency resolution computed by the first pass,
// or nil before it.
func (r *Registry) Resolution() *dag.Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolution
}

func (r *Registry) statusLocked(st *moduleState) ModuleStatus {
	return ModuleStatus{
		ID:            st.manifest.ID,
		Phase:         st.phase,
		Err:           st.err,
		Hooks:         len(st.hooks),
		Subscriptions: len(st.subs),
		Enhancements:  featuregate.Enhancements(st.manifest.Activation, r.features),
	}
}

func (r *Registry) state(id manifest.ModuleID) *moduleState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[id]
}

func (r *Registry) seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
	if r.resolution != nil {
		return
	}
	ms := make([]manifest.Manifest, 0, len(r.ids))
	for _, id := range r.ids {
		ms = append(ms, r.states[id].manifest)
	}
	r.resolution = ResolveManifests(ms)
}

// ResolveManifests runs the dependency resolver over manifests exactly as the
// registry does on its first pass. It needs no modules, so offline tools can
// report cycles, unresolved references and the activation order.
func ResolveManifests(ms []manifest.Manifest) *dag.Result {
	nodes := make([]dag.Node, 0, len(ms))
	for _, m := range ms {
		deps := make([]string, len(m.DependsOn))
		for i, d := range m.DependsOn {
			deps[i] = string(d)
		}
		nodes = append(nodes, dag.Node{ID: string(m.ID), DependsOn: deps})
	}
	return dag.Resolve(nodes)
}

// newReport starts a pass report with the static resolution findings.
func (r *Registry) newReport() *Report {
	res := r.Resolution()
	report := &Report{}

	for _, cycle := range res.Cycles {
		cause := &dag.CycleError{Cycle: slices.Clone(cycle)}
		chain := strings.Join(cycle, " -> ")
		for _, id := range slices.Compact(slices.Sorted(slices.Values(cycle))) {
			report.add(SeverityError, CodeDependencyCycle, manifest.ModuleID(id),
				fmt.Sprintf("module is on dependency cycle %s", chain), cause)
		}
	}

	var from string
	var missing []manifest.ModuleID
	flush := func() {
		if from == "" {
			return
		}
		cause := &UnresolvedDependencyError{ModuleID: manifest.ModuleID(from), Missing: missing}
		report.add(SeverityError, CodeUnresolvedDependency, cause.ModuleID, cause.Error(), cause)
	}
	for _, u := range res.Unresolved {
		if u.From != from {
			flush()
			from, missing = u.From, nil
		}
		missing = append(missing, manifest.ModuleID(u.Missing))
	}
	flush()

	for _, id := range res.Blocked() {
		members := res.BlockedByCycle[id]
		report.add(SeverityError, CodeBlockedByCycle, manifest.ModuleID(id),
			fmt.Sprintf("module depends on cycle member(s) %s", strings.Join(members, ", ")), dag.ErrDependencyCycle)
	}
	return report
}
