// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/ledgerworks/modkernel/internal/eventbus"
	"github.com/ledgerworks/modkernel/internal/featuregate"
	"github.com/ledgerworks/modkernel/internal/hooks"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

// Handle is the capability a module receives in Setup. Every hook action and
// subscription made through it is owned by the module and released on
// teardown, or on setup failure. A handle is closed once that happens; its
// methods then return ErrHandleClosed.
type Handle struct {
	r      *Registry
	st     *moduleState
	logger *log.Logger
	closed atomic.Bool
}

func newHandle(r *Registry, st *moduleState) *Handle {
	return &Handle{
		r:      r,
		st:     st,
		logger: r.logger.With("module", st.manifest.ID),
	}
}

// ModuleID returns the owning module's id.
func (h *Handle) ModuleID() manifest.ModuleID {
	return h.st.manifest.ID
}

// Manifest returns a copy of the owning module's manifest.
func (h *Handle) Manifest() manifest.Manifest {
	return h.st.manifest.Clone()
}

// Logger returns a logger tagged with the module id.
func (h *Handle) Logger() *log.Logger {
	return h.logger
}

// Closed reports whether the handle was closed.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// AddAction contributes payload to a hook point.
func (h *Handle) AddAction(point manifest.HookPointID, payload any, priority int) (hooks.Handle, error) {
	if h.closed.Load() {
		return hooks.Handle{}, ErrHandleClosed
	}
	if err := point.Validate(); err != nil {
		return hooks.Handle{}, err
	}
	if err := h.checkDeclared("hook point", string(point), h.st.manifest.ProvidesPoint(point)); err != nil {
		return hooks.Handle{}, err
	}

	hh := h.r.hooks.AddAction(point, payload, h.st.manifest.ID, priority)

	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	if h.closed.Load() {
		h.r.hooks.RemoveAction(hh)
		return hooks.Handle{}, ErrHandleClosed
	}
	h.st.hooks = append(h.st.hooks, hh)
	return hh, nil
}

// RemoveAction removes one of this module's hook actions before teardown.
// Handles owned by other modules are ignored.
func (h *Handle) RemoveAction(hh hooks.Handle) bool {
	h.r.mu.Lock()
	idx := slices.Index(h.st.hooks, hh)
	if idx < 0 {
		h.r.mu.Unlock()
		return false
	}
	h.st.hooks = slices.Delete(h.st.hooks, idx, idx+1)
	h.r.mu.Unlock()
	return h.r.hooks.RemoveAction(hh)
}

// Subscribe attaches handler to events matching pattern.
func (h *Handle) Subscribe(pattern manifest.EventPattern, handler eventbus.Handler) (*eventbus.Subscription, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	if err := h.checkDeclared("event pattern", string(pattern), h.st.manifest.ConsumesPattern(pattern)); err != nil {
		return nil, err
	}

	sub, err := h.r.bus.Subscribe(pattern, handler, h.st.manifest.ID)
	if err != nil {
		return nil, err
	}

	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	if h.closed.Load() {
		h.r.bus.Unsubscribe(sub)
		return nil, ErrHandleClosed
	}
	h.st.subs = append(h.st.subs, sub)
	return sub, nil
}

// Unsubscribe detaches one of this module's subscriptions before teardown.
func (h *Handle) Unsubscribe(sub *eventbus.Subscription) bool {
	h.r.mu.Lock()
	idx := slices.Index(h.st.subs, sub)
	if idx < 0 {
		h.r.mu.Unlock()
		return false
	}
	h.st.subs = slices.Delete(h.st.subs, idx, idx+1)
	h.r.mu.Unlock()
	return h.r.bus.Unsubscribe(sub)
}

// Emit publishes an event with this module as its source.
func (h *Handle) Emit(ctx context.Context, name string, payload any) (eventbus.Delivery, error) {
	if h.closed.Load() {
		return eventbus.Delivery{}, ErrHandleClosed
	}
	return h.r.bus.EmitFrom(ctx, h.st.manifest.ID, name, payload), nil
}

// FeatureEnabled reports whether f is in the current feature set.
func (h *Handle) FeatureEnabled(f manifest.FeatureID) bool {
	return h.r.Features().Has(f)
}

// Enhancements returns the module's enhancing features that are enabled now.
func (h *Handle) Enhancements() []manifest.FeatureID {
	return featuregate.Enhancements(h.st.manifest.Activation, h.r.Features())
}

// Export publishes a runtime value next to the manifest exports. Values are
// dropped when the module is torn down.
func (h *Handle) Export(key string, value any) error {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()

	if h.closed.Load() {
		return ErrHandleClosed
	}
	if h.st.exports == nil {
		h.st.exports = make(map[string]any)
	}
	h.st.exports[key] = value
	return nil
}

// DependencyExports returns the exports of a module listed in depends_on.
// Modules cannot read the exports of modules they do not depend on.
func (h *Handle) DependencyExports(dep manifest.ModuleID) (map[string]any, error) {
	if !slices.Contains(h.st.manifest.DependsOn, dep) {
		return nil, &UndeclaredError{ModuleID: h.st.manifest.ID, Kind: "dependency", Name: string(dep)}
	}
	return h.r.Exports(dep)
}

func (h *Handle) checkDeclared(kind, name string, declared bool) error {
	if declared {
		return nil
	}
	if h.r.strict {
		return &UndeclaredError{ModuleID: h.st.manifest.ID, Kind: kind, Name: name}
	}
	h.logger.Warn("undeclared "+kind, "name", name)
	return nil
}

// close marks the handle closed under the registry lock, so a registration
// racing with it either lands before release or is refused.
func (h *Handle) close() {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	h.closed.Store(true)
}
