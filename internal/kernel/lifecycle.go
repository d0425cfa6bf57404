// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerworks/modkernel/internal/dag"
	"github.com/ledgerworks/modkernel/internal/featuregate"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

// reconcile brings every module's phase in line with the current features:
// teardown of losers first, then activation of winners.
func (r *Registry) reconcile(ctx context.Context, report *Report) {
	desired := r.desired()
	r.teardownLosers(ctx, desired, report)
	r.settlePhases(desired)
	r.activateEligible(ctx, report)
	r.updateGauges()
}

// desired computes which modules should be active: ordered by the resolver,
// free of unresolved references, and passing their activation rule.
func (r *Registry) desired() map[manifest.ModuleID]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[manifest.ModuleID]bool, len(r.states))
	for id, st := range r.states {
		out[id] = r.resolution.Ordered(string(id)) &&
			len(r.resolution.UnresolvedFrom(string(id))) == 0 &&
			featuregate.Eligible(st.manifest.Activation, r.features)
	}
	return out
}

func (r *Registry) teardownLosers(ctx context.Context, desired map[manifest.ModuleID]bool, report *Report) {
	r.mu.RLock()
	closure := make(map[manifest.ModuleID]bool)
	var active []*moduleState
	for _, id := range r.ids {
		st := r.states[id]
		if st.phase != PhaseActive {
			continue
		}
		active = append(active, st)
		if !desired[id] {
			closure[id] = true
		}
	}
	r.mu.RUnlock()

	// Pull in every active module that depends on something being torn down.
	for changed := len(closure) > 0; changed; {
		changed = false
		for _, st := range active {
			if closure[st.manifest.ID] {
				continue
			}
			if slices.ContainsFunc(st.manifest.DependsOn, func(dep manifest.ModuleID) bool { return closure[dep] }) {
				closure[st.manifest.ID] = true
				changed = true
			}
		}
	}

	for _, id := range r.teardownOrder(closure) {
		next := PhaseUninstalled
		if desired[id] {
			next = PhaseEligible
		}
		r.teardown(ctx, r.state(id), next, report)
	}
}

// teardownOrder sorts ids so that dependents come before their dependencies.
func (r *Registry) teardownOrder(ids map[manifest.ModuleID]bool) []manifest.ModuleID {
	if len(ids) == 0 {
		return nil
	}
	res := r.Resolution()

	members := make([]manifest.ModuleID, 0, len(ids))
	for id := range ids {
		members = append(members, id)
	}
	slices.SortFunc(members, func(a, b manifest.ModuleID) int {
		return cmp.Compare(res.Position(string(a)), res.Position(string(b)))
	})

	g := dag.New()
	for _, id := range members {
		var deps []string
		for _, dep := range r.state(id).manifest.DependsOn {
			if ids[dep] {
				deps = append(deps, string(dep))
			}
		}
		g.Add(string(id), deps...)
	}
	order, err := g.TeardownOrder()
	if err != nil {
		// Active modules never form a cycle; fall back to reverse resolver order.
		r.logger.Error("teardown ordering failed", "err", err)
		slices.Reverse(members)
		return members
	}
	out := make([]manifest.ModuleID, len(order))
	for i, id := range order {
		out[i] = manifest.ModuleID(id)
	}
	return out
}

// settlePhases moves idle modules between Uninstalled, Eligible and Failed.
func (r *Registry) settlePhases(desired map[manifest.ModuleID]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.ids {
		st := r.states[id]
		switch st.phase {
		case PhaseUninstalled:
			if desired[id] {
				st.phase = PhaseEligible
			}
		case PhaseEligible:
			if !desired[id] {
				st.phase = PhaseUninstalled
			}
		case PhaseFailed:
			switch {
			case !desired[id]:
				st.phase = PhaseUninstalled
			case r.depKeyLocked(st) != st.failedDeps:
				r.logger.Debug("retrying failed module", "module", id)
				st.phase = PhaseEligible
			}
		case PhaseInstalling, PhaseActive, PhaseTearingDown:
		}
	}
}

func (r *Registry) activateEligible(ctx context.Context, report *Report) {
	for _, idStr := range r.Resolution().Order {
		id := manifest.ModuleID(idStr)
		st := r.state(id)

		r.mu.RLock()
		phase := st.phase
		var waiting []string
		for _, dep := range st.manifest.DependsOn {
			if ds, ok := r.states[dep]; ok && ds.phase != PhaseActive {
				waiting = append(waiting, fmt.Sprintf("%s (%s)", dep, ds.phase))
			}
		}
		r.mu.RUnlock()

		if phase != PhaseEligible {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.add(SeverityWarning, CodeCanceled, id, "activation pass cancelled before setup", err)
			continue
		}
		if len(waiting) > 0 {
			report.add(SeverityWarning, CodeWaitingOnDependency, id,
				"waiting on "+strings.Join(waiting, ", "), nil)
			continue
		}
		r.setup(ctx, st, report)
	}
}

func (r *Registry) setup(ctx context.Context, st *moduleState, report *Report) {
	st.opMu.Lock()
	defer st.opMu.Unlock()

	id := st.manifest.ID
	if err := r.transition(st, PhaseInstalling); err != nil {
		report.add(SeverityError, CodeInvalidTransition, id, err.Error(), err)
		return
	}

	ctx, span := r.tracer.Start(ctx, "kernel.setup", trace.WithAttributes(
		attribute.String("module.id", string(id)),
		attribute.String("module.version", st.manifest.Version),
	))
	defer span.End()

	h := newHandle(r, st)
	r.mu.Lock()
	st.handle = h
	st.err = nil
	st.exports = nil
	r.mu.Unlock()

	start := time.Now()
	err := r.runSetup(ctx, st, h)
	r.metrics.ObserveSetup(string(id), err, time.Since(start))

	if err != nil {
		h.close()
		released := r.release(st)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		r.mu.Lock()
		st.err = err
		st.failedDeps = r.depKeyLocked(st)
		r.mu.Unlock()
		r.mustTransition(st, PhaseFailed)

		report.Failed = append(report.Failed, id)
		report.add(SeverityError, CodeSetupFailed, id, err.Error(), err)
		r.logger.Error("module setup failed", "module", id, "err", err, "rolled_back", released)
		return
	}

	r.mustTransition(st, PhaseActive)
	report.Activated = append(report.Activated, id)
	status, _ := r.Status(id)
	r.logger.Info("module active", "module", id, "hooks", status.Hooks, "subscriptions", status.Subscriptions)
}

func (r *Registry) runSetup(ctx context.Context, st *moduleState, h *Handle) (err error) {
	id := st.manifest.ID
	defer func() {
		if rec := recover(); rec != nil {
			err = &SetupError{ModuleID: id, Err: fmt.Errorf("%v", rec), Panicked: true}
		}
	}()

	if st.module == nil {
		m, ferr := st.factory()
		if ferr != nil {
			return &SetupError{ModuleID: id, Err: fmt.Errorf("resolve module: %w", ferr)}
		}
		if m == nil {
			return &SetupError{ModuleID: id, Err: errors.New("resolve module: factory returned nil")}
		}
		st.module = m
	}
	if serr := st.module.Setup(ctx, h); serr != nil {
		return &SetupError{ModuleID: id, Err: serr}
	}
	return nil
}

func (r *Registry) teardown(ctx context.Context, st *moduleState, next Phase, report *Report) {
	st.opMu.Lock()
	defer st.opMu.Unlock()

	id := st.manifest.ID
	if err := r.transition(st, PhaseTearingDown); err != nil {
		report.add(SeverityError, CodeInvalidTransition, id, err.Error(), err)
		return
	}

	ctx, span := r.tracer.Start(ctx, "kernel.teardown", trace.WithAttributes(
		attribute.String("module.id", string(id)),
	))
	defer span.End()

	err := r.runTeardown(ctx, st)
	r.mu.RLock()
	h := st.handle
	r.mu.RUnlock()
	if h != nil {
		h.close()
	}
	released := r.release(st)
	r.metrics.ObserveTeardown(string(id), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		report.add(SeverityWarning, CodeTeardownFailed, id, err.Error(), err)
		r.logger.Warn("module teardown failed", "module", id, "err", err)
	}

	r.mustTransition(st, next)
	report.TornDown = append(report.TornDown, id)
	r.logger.Info("module torn down", "module", id, "released", released, "next", next)
}

func (r *Registry) runTeardown(ctx context.Context, st *moduleState) (err error) {
	id := st.manifest.ID
	defer func() {
		if rec := recover(); rec != nil {
			err = &TeardownError{ModuleID: id, Err: fmt.Errorf("%v", rec), Panicked: true}
		}
	}()

	if st.module == nil {
		return nil
	}
	if terr := st.module.Teardown(ctx); terr != nil {
		return &TeardownError{ModuleID: id, Err: terr}
	}
	return nil
}

// release removes every hook action and subscription the module still owns and
// drops its runtime exports. It returns the number of registrations removed.
func (r *Registry) release(st *moduleState) int {
	r.mu.Lock()
	hs, subs := st.hooks, st.subs
	st.hooks, st.subs, st.exports = nil, nil, nil
	r.mu.Unlock()

	released := 0
	for _, h := range hs {
		if r.hooks.RemoveAction(h) {
			released++
		} else {
			r.logger.Warn("hook action already removed", "module", st.manifest.ID, "point", h.Point)
		}
	}
	for _, sub := range subs {
		if r.bus.Unsubscribe(sub) {
			released++
		} else {
			r.logger.Warn("subscription already removed", "module", st.manifest.ID, "pattern", sub.Pattern.String())
		}
	}
	return released
}

func (r *Registry) transition(st *moduleState, next Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !st.phase.CanTransition(next) {
		return &TransitionError{ModuleID: st.manifest.ID, From: st.phase, To: next}
	}
	st.phase = next
	return nil
}

// mustTransition is used for transitions the phase table always allows from
// the phase the caller holds the module in.
func (r *Registry) mustTransition(st *moduleState, next Phase) {
	if err := r.transition(st, next); err != nil {
		r.logger.Error("lifecycle invariant violated", "err", err)
	}
}

// depKeyLocked snapshots the phases of st's dependencies.
func (r *Registry) depKeyLocked(st *moduleState) string {
	var sb strings.Builder
	for _, dep := range st.manifest.DependsOn {
		phase := "missing"
		if ds, ok := r.states[dep]; ok {
			phase = ds.phase.String()
		}
		fmt.Fprintf(&sb, "%s=%s;", dep, phase)
	}
	return sb.String()
}

func (r *Registry) updateGauges() {
	r.mu.RLock()
	active := 0
	for _, st := range r.states {
		if st.phase == PhaseActive {
			active++
		}
	}
	r.mu.RUnlock()
	r.metrics.SetActiveModules(active)
	r.metrics.SetHookRegistrations(r.hooks.Len())
}
