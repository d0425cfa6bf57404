// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ledgerworks/modkernel/internal/dag"
	"github.com/ledgerworks/modkernel/internal/eventbus"
	"github.com/ledgerworks/modkernel/internal/featuregate"
	"github.com/ledgerworks/modkernel/internal/metrics"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

func TestActivateAllFollowsDependencyOrder(t *testing.T) {
	t.Parallel()

	var l callLog
	r := New()
	mustRegister(t, r, mf("reports", manifest.AlwaysOn(), "sales", "core"), logged(&l, "reports", nil))
	mustRegister(t, r, mf("sales", manifest.AlwaysOn(), "core"), logged(&l, "sales", nil))
	mustRegister(t, r, mf("core", manifest.AlwaysOn()), logged(&l, "core", nil))

	report := r.ActivateAll(context.Background())

	if got := l.take(); !slices.Equal(got, []string{"setup:core", "setup:sales", "setup:reports"}) {
		t.Fatalf("unexpected setup order %v", got)
	}
	if !slices.Equal(report.Activated, []manifest.ModuleID{"core", "sales", "reports"}) {
		t.Errorf("unexpected Activated %v", report.Activated)
	}
	if report.HasErrors() {
		t.Errorf("unexpected diagnostics %+v", report.Diagnostics)
	}
	for _, id := range []manifest.ModuleID{"core", "sales", "reports"} {
		requirePhase(t, r, id, PhaseActive)
	}

	// A second pass is idempotent.
	again := r.ActivateAll(context.Background())
	if len(again.Activated) != 0 || len(l.take()) != 0 {
		t.Errorf("second ActivateAll should not set anything up")
	}
}

func TestSetupFailureRollsBackAndContinues(t *testing.T) {
	t.Parallel()

	var l callLog
	var captured *Handle
	boom := errors.New("boom")
	r := New()

	mustRegister(t, r, mf("core", manifest.AlwaysOn()), logged(&l, "core", nil))
	broken := mf("broken", manifest.AlwaysOn(), "core")
	broken.Provides = []manifest.HookPointID{"nav.items"}
	broken.Consumes = []manifest.EventPattern{"sales.*"}
	mustRegister(t, r, broken, logged(&l, "broken", func(_ context.Context, h *Handle) error {
		captured = h
		if _, err := h.AddAction("nav.items", "broken-nav", 1); err != nil {
			return err
		}
		if _, err := h.Subscribe("sales.*", func(context.Context, eventbus.Event) error { return nil }); err != nil {
			return err
		}
		if err := h.Export("key", "value"); err != nil {
			return err
		}
		return boom
	}))
	mustRegister(t, r, mf("needs-broken", manifest.AlwaysOn(), "broken"), logged(&l, "needs-broken", nil))
	mustRegister(t, r, mf("sibling", manifest.AlwaysOn(), "core"), logged(&l, "sibling", nil))

	report := r.ActivateAll(context.Background())

	if got := l.take(); !slices.Equal(got, []string{"setup:core", "setup:broken", "setup:sibling"}) {
		t.Fatalf("unexpected calls %v (teardown must not run on setup failure)", got)
	}
	requirePhase(t, r, "broken", PhaseFailed)
	requirePhase(t, r, "sibling", PhaseActive)
	requirePhase(t, r, "needs-broken", PhaseEligible)

	if !slices.Equal(report.Failed, []manifest.ModuleID{"broken"}) {
		t.Errorf("unexpected Failed %v", report.Failed)
	}
	diags := report.ByCode(CodeSetupFailed)
	if len(diags) != 1 || !errors.Is(diags[0].Cause, boom) || !errors.Is(diags[0].Cause, ErrSetupFailed) {
		t.Errorf("unexpected setup diagnostics %+v", diags)
	}
	if waiting := report.ByCode(CodeWaitingOnDependency); len(waiting) != 1 || waiting[0].ModuleID != "needs-broken" {
		t.Errorf("expected needs-broken to wait on broken, got %+v", waiting)
	}

	if got := r.Actions("nav.items"); len(got) != 0 {
		t.Errorf("partial hook registration survived: %v", got)
	}
	if r.Bus().Len() != 0 {
		t.Errorf("partial subscription survived: %d live", r.Bus().Len())
	}
	st, _ := r.Status("broken")
	if st.Hooks != 0 || st.Subscriptions != 0 || !errors.Is(st.Err, boom) {
		t.Errorf("unexpected status %+v", st)
	}
	if _, err := captured.AddAction("nav.items", "late", 0); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("handle should be closed after failed setup, got %v", err)
	}
}

func TestSetupPanicIsRecovered(t *testing.T) {
	t.Parallel()

	r := New()
	mustRegister(t, r, mf("panicky", manifest.AlwaysOn()), Static(Funcs{
		OnSetup: func(context.Context, *Handle) error { panic("kaboom") },
	}))
	mustRegister(t, r, mf("fine", manifest.AlwaysOn()), Static(Funcs{}))

	report := r.ActivateAll(context.Background())

	requirePhase(t, r, "panicky", PhaseFailed)
	requirePhase(t, r, "fine", PhaseActive)
	var setupErr *SetupError
	if !errors.As(report.ByCode(CodeSetupFailed)[0].Cause, &setupErr) || !setupErr.Panicked {
		t.Errorf("expected a panicked SetupError, got %+v", report.Diagnostics)
	}
}

func TestFactoryFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := New()
	mustRegister(t, r, mf("nofactory", manifest.AlwaysOn()), func() (Module, error) {
		calls.Add(1)
		return nil, errors.New("not built")
	})
	mustRegister(t, r, mf("nilmodule", manifest.AlwaysOn()), func() (Module, error) { return nil, nil })

	report := r.ActivateAll(context.Background())
	if len(report.Failed) != 2 {
		t.Fatalf("expected both modules to fail, got %+v", report)
	}
	requirePhase(t, r, "nofactory", PhaseFailed)
	requirePhase(t, r, "nilmodule", PhaseFailed)
	if calls.Load() != 1 {
		t.Errorf("factory called %d times", calls.Load())
	}
}

func TestFactoryResolvedOnceAndCached(t *testing.T) {
	t.Parallel()

	var built, setups atomic.Int32
	r := New(WithFeatures(featuregate.NewSet("sales")))
	mustRegister(t, r, mf("sales", manifest.ActivatedBy("sales")), func() (Module, error) {
		built.Add(1)
		return Funcs{OnSetup: func(context.Context, *Handle) error {
			setups.Add(1)
			return nil
		}}, nil
	})

	ctx := context.Background()
	r.ActivateAll(ctx)
	r.OnFeatureSetChanged(ctx, featuregate.NewSet())
	r.OnFeatureSetChanged(ctx, featuregate.NewSet("sales"))

	if built.Load() != 1 || setups.Load() != 2 {
		t.Errorf("factory built %d times, setup ran %d times", built.Load(), setups.Load())
	}
}

func TestHookPriorityAndTeardown(t *testing.T) {
	t.Parallel()

	r := New(WithFeatures(featuregate.NewSet("sales")))
	sales := mf("sales", manifest.ActivatedBy("sales"))
	sales.Provides = []manifest.HookPointID{"dashboard.widgets"}
	inventory := mf("inventory", manifest.AlwaysOn())
	inventory.Provides = []manifest.HookPointID{"dashboard.widgets"}

	mustRegister(t, r, inventory, Static(Funcs{OnSetup: func(_ context.Context, h *Handle) error {
		_, err := h.AddAction("dashboard.widgets", "stock-widget", 5)
		return err
	}}))
	mustRegister(t, r, sales, Static(Funcs{OnSetup: func(_ context.Context, h *Handle) error {
		_, err := h.AddAction("dashboard.widgets", "revenue-widget", 10)
		return err
	}}))

	ctx := context.Background()
	r.ActivateAll(ctx)
	if got := r.Actions("dashboard.widgets"); !slices.Equal(got, []any{"revenue-widget", "stock-widget"}) {
		t.Fatalf("expected priority 10 first, got %v", got)
	}

	report := r.OnFeatureSetChanged(ctx, featuregate.NewSet())
	if !slices.Equal(report.TornDown, []manifest.ModuleID{"sales"}) {
		t.Fatalf("expected sales torn down, got %+v", report)
	}
	if got := r.Actions("dashboard.widgets"); !slices.Equal(got, []any{"stock-widget"}) {
		t.Errorf("expected only the priority 5 payload, got %v", got)
	}
	requirePhase(t, r, "sales", PhaseUninstalled)
}

func TestTeardownRemovesSubscriptions(t *testing.T) {
	t.Parallel()

	var received atomic.Int32
	r := New(WithFeatures(featuregate.NewSet("reports")))
	reports := mf("reports", manifest.ActivatedBy("reports"))
	reports.Consumes = []manifest.EventPattern{"sales.*"}
	mustRegister(t, r, reports, Static(Funcs{OnSetup: func(_ context.Context, h *Handle) error {
		_, err := h.Subscribe("sales.*", func(_ context.Context, ev eventbus.Event) error {
			received.Add(1)
			return nil
		})
		return err
	}}))

	ctx := context.Background()
	r.ActivateAll(ctx)
	if d := r.Bus().Emit(ctx, "sales.order_placed", 1); d.Matched != 1 {
		t.Fatalf("expected one delivery, got %+v", d)
	}

	r.OnFeatureSetChanged(ctx, featuregate.NewSet())
	if d := r.Bus().Emit(ctx, "sales.order_placed", 2); d.Matched != 0 {
		t.Errorf("torn down module still subscribed: %+v", d)
	}
	if received.Load() != 1 {
		t.Errorf("handler invoked %d times", received.Load())
	}
}

func TestFeatureChangeTearsDownBeforeActivating(t *testing.T) {
	t.Parallel()

	var l callLog
	r := New(WithFeatures(featuregate.NewSet("sales")))
	mustRegister(t, r, mf("core", manifest.AlwaysOn()), logged(&l, "core", nil))
	mustRegister(t, r, mf("sales", manifest.ActivatedBy("sales"), "core"), logged(&l, "sales", nil))
	mustRegister(t, r, mf("reports", manifest.AlwaysOn(), "sales", "core"), logged(&l, "reports", nil))
	mustRegister(t, r, mf("staff", manifest.ActivatedBy("staff"), "core"), logged(&l, "staff", nil))

	ctx := context.Background()
	r.ActivateAll(ctx)
	if got := l.take(); !slices.Equal(got, []string{"setup:core", "setup:sales", "setup:reports"}) {
		t.Fatalf("unexpected boot %v", got)
	}

	report := r.OnFeatureSetChanged(ctx, featuregate.NewSet("staff"))
	if got := l.take(); !slices.Equal(got, []string{"teardown:reports", "teardown:sales", "setup:staff"}) {
		t.Fatalf("unexpected feature change sequence %v", got)
	}
	requirePhase(t, r, "reports", PhaseEligible)
	requirePhase(t, r, "sales", PhaseUninstalled)
	requirePhase(t, r, "staff", PhaseActive)
	if w := report.ByCode(CodeWaitingOnDependency); len(w) != 1 || w[0].ModuleID != "reports" {
		t.Errorf("expected reports to wait on sales, got %+v", w)
	}

	r.OnFeatureSetChanged(ctx, featuregate.NewSet("sales", "staff"))
	if got := l.take(); !slices.Equal(got, []string{"setup:sales", "setup:reports"}) {
		t.Fatalf("unexpected re-activation sequence %v", got)
	}
	requirePhase(t, r, "reports", PhaseActive)
}

func TestFeatureChangeNoop(t *testing.T) {
	t.Parallel()

	var l callLog
	r := New(WithFeatures(featuregate.NewSet("sales")))
	mustRegister(t, r, mf("sales", manifest.ActivatedBy("sales")), logged(&l, "sales", nil))
	r.ActivateAll(context.Background())
	l.take()

	report := r.OnFeatureSetChanged(context.Background(), featuregate.NewSet("sales"))
	if len(report.Diagnostics)+len(report.Activated)+len(report.TornDown) != 0 || len(l.take()) != 0 {
		t.Errorf("identical feature set should be a no-op, got %+v", report)
	}
}

func TestFeatureChangeBeforeActivation(t *testing.T) {
	t.Parallel()

	var l callLog
	r := New()
	mustRegister(t, r, mf("sales", manifest.ActivatedBy("sales")), logged(&l, "sales", nil))

	report := r.OnFeatureSetChanged(context.Background(), featuregate.NewSet("sales"))
	if len(report.Activated) != 0 || len(l.take()) != 0 {
		t.Fatalf("nothing should be set up before ActivateAll")
	}
	requirePhase(t, r, "sales", PhaseUninstalled)

	r.ActivateAll(context.Background())
	requirePhase(t, r, "sales", PhaseActive)
}

func TestUnresolvedDependencyNeverActive(t *testing.T) {
	t.Parallel()

	r := New()
	mustRegister(t, r, mf("core", manifest.AlwaysOn()), Static(Funcs{}))
	mustRegister(t, r, mf("delivery", manifest.AlwaysOn(), "core", "geo"), Static(Funcs{}))

	report := r.ActivateAll(context.Background())

	requirePhase(t, r, "core", PhaseActive)
	requirePhase(t, r, "delivery", PhaseUninstalled)
	diags := report.ByCode(CodeUnresolvedDependency)
	if len(diags) != 1 || diags[0].ModuleID != "delivery" {
		t.Fatalf("expected one unresolved diagnostic, got %+v", report.Diagnostics)
	}
	var unresolved *UnresolvedDependencyError
	if !errors.As(diags[0].Cause, &unresolved) || !slices.Equal(unresolved.Missing, []manifest.ModuleID{"geo"}) {
		t.Errorf("missing id not reported: %v", diags[0].Cause)
	}
	if !errors.Is(diags[0].Cause, ErrUnresolvedDependency) {
		t.Error("cause should wrap ErrUnresolvedDependency")
	}

	// Feature changes never make it eligible either.
	r.OnFeatureSetChanged(context.Background(), featuregate.NewSet("anything"))
	requirePhase(t, r, "delivery", PhaseUninstalled)
}

func TestCyclesAreExcludedAndReported(t *testing.T) {
	t.Parallel()

	var l callLog
	r := New()
	mustRegister(t, r, mf("a", manifest.AlwaysOn(), "b"), logged(&l, "a", nil))
	mustRegister(t, r, mf("b", manifest.AlwaysOn(), "a"), logged(&l, "b", nil))
	mustRegister(t, r, mf("c", manifest.AlwaysOn(), "a"), logged(&l, "c", nil))
	mustRegister(t, r, mf("d", manifest.AlwaysOn()), logged(&l, "d", nil))

	report := r.ActivateAll(context.Background())

	if got := l.take(); !slices.Equal(got, []string{"setup:d"}) {
		t.Fatalf("only d should be set up, got %v", got)
	}
	cycles := report.ByCode(CodeDependencyCycle)
	if len(cycles) != 2 || cycles[0].ModuleID != "a" || cycles[1].ModuleID != "b" {
		t.Fatalf("expected cycle diagnostics for a and b, got %+v", cycles)
	}
	if !errors.Is(cycles[0].Cause, dag.ErrDependencyCycle) {
		t.Errorf("cycle cause should wrap the dependency cycle sentinel")
	}
	if blocked := report.ByCode(CodeBlockedByCycle); len(blocked) != 1 || blocked[0].ModuleID != "c" {
		t.Errorf("expected c blocked by the cycle, got %+v", blocked)
	}
	res := r.Resolution()
	if len(res.Cycles) != 1 || !slices.Equal(res.Cycles[0], []string{"a", "b", "a"}) {
		t.Errorf("unexpected cycles %v", res.Cycles)
	}
}

func TestExports(t *testing.T) {
	t.Parallel()

	r := New(WithFeatures(featuregate.NewSet("sales")))
	sales := mf("sales", manifest.ActivatedBy("sales"))
	sales.Exports = map[string]any{"currency": "EUR"}
	mustRegister(t, r, sales, Static(Funcs{OnSetup: func(_ context.Context, h *Handle) error {
		return h.Export("tax_rate", 0.2)
	}}))

	if _, err := r.Exports("sales"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive before activation, got %v", err)
	}
	if _, err := r.Exports("ghost"); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("expected ErrUnknownModule, got %v", err)
	}

	r.ActivateAll(context.Background())
	exports, err := r.Exports("sales")
	if err != nil {
		t.Fatalf("Exports failed: %v", err)
	}
	if exports["currency"] != "EUR" || exports["tax_rate"] != 0.2 {
		t.Errorf("unexpected exports %v", exports)
	}
	exports["currency"] = "USD"
	if again, _ := r.Exports("sales"); again["currency"] != "EUR" {
		t.Error("Exports should return a copy")
	}

	r.OnFeatureSetChanged(context.Background(), featuregate.NewSet())
	_, err = r.Exports("sales")
	var notActive *NotActiveError
	if !errors.As(err, &notActive) || notActive.Phase != PhaseUninstalled {
		t.Errorf("expected NotActiveError in phase uninstalled, got %v", err)
	}
}

func TestDependencyExports(t *testing.T) {
	t.Parallel()

	r := New()
	core := mf("core", manifest.AlwaysOn())
	core.Exports = map[string]any{"db": "primary"}
	mustRegister(t, r, core, Static(Funcs{}))
	mustRegister(t, r, mf("other", manifest.AlwaysOn()), Static(Funcs{}))

	var got map[string]any
	var undeclaredErr error
	mustRegister(t, r, mf("sales", manifest.AlwaysOn(), "core"), Static(Funcs{OnSetup: func(_ context.Context, h *Handle) error {
		var err error
		got, err = h.DependencyExports("core")
		_, undeclaredErr = h.DependencyExports("other")
		return err
	}}))

	r.ActivateAll(context.Background())
	requirePhase(t, r, "sales", PhaseActive)
	if got["db"] != "primary" {
		t.Errorf("unexpected dependency exports %v", got)
	}
	var undeclared *UndeclaredError
	if !errors.As(undeclaredErr, &undeclared) || undeclared.Kind != "dependency" {
		t.Errorf("expected UndeclaredError for a non-dependency, got %v", undeclaredErr)
	}
}

func TestRetryAfterEligibilityChange(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	r := New(WithFeatures(featuregate.NewSet("x")))
	mustRegister(t, r, mf("flaky", manifest.ActivatedBy("x")), Static(Funcs{OnSetup: func(context.Context, *Handle) error {
		if attempts.Add(1) == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	}}))

	ctx := context.Background()
	r.ActivateAll(ctx)
	requirePhase(t, r, "flaky", PhaseFailed)

	r.OnFeatureSetChanged(ctx, featuregate.NewSet("x", "y"))
	requirePhase(t, r, "flaky", PhaseFailed)
	if attempts.Load() != 1 {
		t.Fatalf("unrelated change should not retry, attempts=%d", attempts.Load())
	}

	r.OnFeatureSetChanged(ctx, featuregate.NewSet("y"))
	requirePhase(t, r, "flaky", PhaseUninstalled)
	st, _ := r.Status("flaky")
	if st.Err == nil {
		t.Error("last failure reason should be kept")
	}

	report := r.OnFeatureSetChanged(ctx, featuregate.NewSet("x"))
	requirePhase(t, r, "flaky", PhaseActive)
	if attempts.Load() != 2 || !slices.Equal(report.Activated, []manifest.ModuleID{"flaky"}) {
		t.Errorf("expected a successful retry, attempts=%d report=%+v", attempts.Load(), report)
	}
	if st, _ := r.Status("flaky"); st.Err != nil {
		t.Errorf("error should clear after a successful setup, got %v", st.Err)
	}
}

func TestRetryAfterDependencyChange(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	r := New(WithFeatures(featuregate.NewSet("sales")))
	mustRegister(t, r, mf("sales", manifest.ActivatedBy("sales")), Static(Funcs{}))
	mustRegister(t, r, mf("reports", manifest.AlwaysOn(), "sales"), Static(Funcs{OnSetup: func(context.Context, *Handle) error {
		if attempts.Add(1) == 1 {
			return errors.New("sales not warmed up")
		}
		return nil
	}}))

	ctx := context.Background()
	r.ActivateAll(ctx)
	requirePhase(t, r, "reports", PhaseFailed)

	r.OnFeatureSetChanged(ctx, featuregate.NewSet())
	requirePhase(t, r, "reports", PhaseEligible)

	r.OnFeatureSetChanged(ctx, featuregate.NewSet("sales"))
	requirePhase(t, r, "reports", PhaseActive)
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	r := New()
	mustRegister(t, r, mf("core", manifest.AlwaysOn()), Static(Funcs{}))

	var cfgErr *manifest.ConfigurationError
	if err := r.Register(mf("core", manifest.AlwaysOn()), Static(Funcs{})); !errors.As(err, &cfgErr) {
		t.Errorf("expected duplicate ConfigurationError, got %v", err)
	}
	if err := r.Register(mf("", manifest.AlwaysOn()), Static(Funcs{})); !errors.Is(err, manifest.ErrConfiguration) {
		t.Errorf("expected malformed ConfigurationError, got %v", err)
	}
	if err := r.Register(mf("nofactory", manifest.AlwaysOn()), nil); !errors.Is(err, manifest.ErrConfiguration) {
		t.Errorf("expected ConfigurationError for nil factory, got %v", err)
	}

	r.ActivateAll(context.Background())
	if err := r.Register(mf("late", manifest.AlwaysOn()), Static(Funcs{})); !errors.Is(err, ErrCatalogSealed) {
		t.Errorf("expected ErrCatalogSealed, got %v", err)
	}
	if len(r.Statuses()) != 1 {
		t.Errorf("rejected registrations should not appear, got %v", r.Statuses())
	}
}

func TestRegisterCatalog(t *testing.T) {
	t.Parallel()

	cat := manifest.NewCatalog()
	for _, m := range []manifest.Manifest{mf("core", manifest.AlwaysOn()), mf("sales", manifest.AlwaysOn(), "core")} {
		if err := cat.Add(m); err != nil {
			t.Fatal(err)
		}
	}

	r := New()
	errs := r.RegisterCatalog(cat, func(manifest.Manifest) Factory { return Static(Funcs{}) })
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	r.ActivateAll(context.Background())
	requirePhase(t, r, "sales", PhaseActive)
}

func TestStrictDeclarations(t *testing.T) {
	t.Parallel()

	setup := func(_ context.Context, h *Handle) error {
		if _, err := h.AddAction("undeclared.point", "x", 0); err != nil {
			return err
		}
		_, err := h.Subscribe("undeclared.*", func(context.Context, eventbus.Event) error { return nil })
		return err
	}

	strict := New(WithStrictDeclarations(true))
	mustRegister(t, strict, mf("m", manifest.AlwaysOn()), Static(Funcs{OnSetup: setup}))
	report := strict.ActivateAll(context.Background())
	requirePhase(t, strict, "m", PhaseFailed)
	var undeclared *UndeclaredError
	if !errors.As(report.ByCode(CodeSetupFailed)[0].Cause, &undeclared) || undeclared.Kind != "hook point" {
		t.Errorf("expected UndeclaredError for the hook point, got %+v", report.Diagnostics)
	}

	lenient := New()
	mustRegister(t, lenient, mf("m", manifest.AlwaysOn()), Static(Funcs{OnSetup: setup}))
	lenient.ActivateAll(context.Background())
	requirePhase(t, lenient, "m", PhaseActive)
	if st, _ := lenient.Status("m"); st.Hooks != 1 || st.Subscriptions != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHandleRemovesOwnRegistrations(t *testing.T) {
	t.Parallel()

	r := New()
	var handle *Handle
	m := mf("m", manifest.AlwaysOn())
	m.Provides = []manifest.HookPointID{"p"}
	m.Consumes = []manifest.EventPattern{"e"}
	mustRegister(t, r, m, Static(Funcs{OnSetup: func(_ context.Context, h *Handle) error {
		handle = h
		hh, err := h.AddAction("p", "temp", 0)
		if err != nil {
			return err
		}
		if !h.RemoveAction(hh) || h.RemoveAction(hh) {
			return errors.New("RemoveAction misbehaved")
		}
		sub, err := h.Subscribe("e", func(context.Context, eventbus.Event) error { return nil })
		if err != nil {
			return err
		}
		if !h.Unsubscribe(sub) {
			return errors.New("Unsubscribe failed")
		}
		_, err = h.AddAction("p", "kept", 0)
		return err
	}}))

	r.ActivateAll(context.Background())
	requirePhase(t, r, "m", PhaseActive)
	if got := r.Actions("p"); !slices.Equal(got, []any{"kept"}) {
		t.Errorf("unexpected actions %v", got)
	}

	r.Shutdown(context.Background())
	if !handle.Closed() {
		t.Error("handle should be closed after shutdown")
	}
	if _, err := handle.Emit(context.Background(), "e", nil); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("expected ErrHandleClosed, got %v", err)
	}
	if err := handle.Export("k", 1); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("expected ErrHandleClosed, got %v", err)
	}
	if r.Hooks().Len() != 0 {
		t.Errorf("registrations left after shutdown: %d", r.Hooks().Len())
	}
}

func TestHandleFeatureQueries(t *testing.T) {
	t.Parallel()

	var enabled bool
	var enhancements []manifest.FeatureID
	r := New(WithFeatures(featuregate.NewSet("sales", "loyalty")))
	mustRegister(t, r, mf("sales", manifest.ActivatedBy("sales", "loyalty", "gift_cards")), Static(Funcs{
		OnSetup: func(_ context.Context, h *Handle) error {
			enabled = h.FeatureEnabled("loyalty")
			enhancements = h.Enhancements()
			h.Logger().Debug("configured", "enhancements", enhancements)
			if h.ModuleID() != "sales" || h.Manifest().Version != "1.0.0" {
				return errors.New("wrong identity")
			}
			return nil
		},
	}))

	r.ActivateAll(context.Background())
	if !enabled || !slices.Equal(enhancements, []manifest.FeatureID{"loyalty"}) {
		t.Errorf("enabled=%v enhancements=%v", enabled, enhancements)
	}
	if st, _ := r.Status("sales"); !slices.Equal(st.Enhancements, []manifest.FeatureID{"loyalty"}) {
		t.Errorf("status enhancements %v", st.Enhancements)
	}
}

func TestTeardownFailureDoesNotBlockPass(t *testing.T) {
	t.Parallel()

	var l callLog
	r := New()
	mustRegister(t, r, mf("core", manifest.AlwaysOn()), logged(&l, "core", nil))
	mustRegister(t, r, mf("sales", manifest.AlwaysOn(), "core"), Static(Funcs{
		OnSetup: func(_ context.Context, h *Handle) error {
			_, err := h.AddAction("p", "x", 0)
			return err
		},
		OnTeardown: func(context.Context) error { return errors.New("stuck") },
	}))

	r.ActivateAll(context.Background())
	l.take()

	report := r.Shutdown(context.Background())
	if got := l.take(); !slices.Equal(got, []string{"teardown:core"}) {
		t.Errorf("core should still be torn down, got %v", got)
	}
	if !slices.Equal(report.TornDown, []manifest.ModuleID{"sales", "core"}) {
		t.Errorf("unexpected teardown order %v", report.TornDown)
	}
	diags := report.ByCode(CodeTeardownFailed)
	if len(diags) != 1 || diags[0].Severity != SeverityWarning || !errors.Is(diags[0].Cause, ErrTeardownFailed) {
		t.Errorf("unexpected teardown diagnostics %+v", diags)
	}
	requirePhase(t, r, "sales", PhaseUninstalled)
	if len(r.Actions("p")) != 0 {
		t.Error("registrations must be released even when teardown fails")
	}
}

func TestShutdownReverseOrder(t *testing.T) {
	t.Parallel()

	var l callLog
	r := New()
	mustRegister(t, r, mf("core", manifest.AlwaysOn()), logged(&l, "core", nil))
	mustRegister(t, r, mf("sales", manifest.AlwaysOn(), "core"), logged(&l, "sales", nil))
	mustRegister(t, r, mf("reports", manifest.AlwaysOn(), "sales"), logged(&l, "reports", nil))
	mustRegister(t, r, mf("staff", manifest.ActivatedBy("staff")), logged(&l, "staff", nil))

	r.ActivateAll(context.Background())
	l.take()
	r.Shutdown(context.Background())

	if got := l.take(); !slices.Equal(got, []string{"teardown:reports", "teardown:sales", "teardown:core"}) {
		t.Errorf("unexpected shutdown order %v", got)
	}
	for _, st := range r.Statuses() {
		if st.Phase != PhaseUninstalled {
			t.Errorf("%s left in phase %s", st.ID, st.Phase)
		}
	}

	r.ActivateAll(context.Background())
	requirePhase(t, r, "reports", PhaseActive)
}

func TestCancelledContextStopsNewSetups(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	r := New()
	mustRegister(t, r, mf("first", manifest.AlwaysOn()), Static(Funcs{OnSetup: func(context.Context, *Handle) error {
		cancel()
		return nil
	}}))
	mustRegister(t, r, mf("second", manifest.AlwaysOn(), "first"), Static(Funcs{}))

	report := r.ActivateAll(ctx)
	requirePhase(t, r, "first", PhaseActive)
	requirePhase(t, r, "second", PhaseEligible)
	if c := report.ByCode(CodeCanceled); len(c) != 1 || !errors.Is(c[0].Cause, context.Canceled) {
		t.Errorf("expected a canceled diagnostic, got %+v", report.Diagnostics)
	}

	r.ActivateAll(context.Background())
	requirePhase(t, r, "second", PhaseActive)
}

func TestReadsProceedDuringSetup(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	r := New()
	core := mf("core", manifest.AlwaysOn())
	core.Exports = map[string]any{"ready": true}
	mustRegister(t, r, core, Static(Funcs{}))
	mustRegister(t, r, mf("slow", manifest.AlwaysOn(), "core"), Static(Funcs{OnSetup: func(context.Context, *Handle) error {
		close(entered)
		<-release
		return nil
	}}))

	done := make(chan *Report)
	go func() { done <- r.ActivateAll(context.Background()) }()

	<-entered
	if exports, err := r.Exports("core"); err != nil || exports["ready"] != true {
		t.Errorf("Exports during setup: %v %v", exports, err)
	}
	requirePhase(t, r, "slow", PhaseInstalling)
	_ = r.Actions("anything")
	close(release)

	report := <-done
	if !slices.Equal(report.Activated, []manifest.ModuleID{"core", "slow"}) {
		t.Errorf("unexpected Activated %v", report.Activated)
	}
}

func TestSpansAndMetrics(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	m, err := metrics.New()
	if err != nil {
		t.Fatal(err)
	}

	r := New(WithTracer(tp.Tracer("test")), WithMetrics(m))
	mustRegister(t, r, mf("core", manifest.AlwaysOn()), Static(Funcs{}))
	mustRegister(t, r, mf("broken", manifest.AlwaysOn()), Static(Funcs{OnSetup: func(context.Context, *Handle) error {
		return errors.New("nope")
	}}))
	r.ActivateAll(context.Background())

	var setups, failed int
	for _, span := range rec.Ended() {
		if span.Name() != "kernel.setup" {
			continue
		}
		setups++
		if span.Status().Code == codes.Error {
			failed++
		}
	}
	if setups != 2 || failed != 1 {
		t.Errorf("expected 2 setup spans with 1 error, got %d/%d", setups, failed)
	}

	count, err := testutil.GatherAndCount(m.Registry(), "modkernel_module_setups_total")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 setup series, got %d", count)
	}
}
