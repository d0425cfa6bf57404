// SPDX-License-Identifier: MPL-2.0

package kernel

import "context"

type (
	// Module is the runtime side of a manifest.
	//
	// Setup registers the module's hook actions and event subscriptions
	// through h. It is called at most once per activation and always awaited.
	// Teardown releases anything the module holds outside the handle;
	// registrations made through the handle are removed by the registry.
	Module interface {
		Setup(ctx context.Context, h *Handle) error
		Teardown(ctx context.Context) error
	}

	// Factory produces the module for one manifest. It is resolved lazily on
	// the module's first activation and the result is cached.
	Factory func() (Module, error)

	// Funcs adapts plain functions to Module. Nil fields are no-ops.
	Funcs struct {
		OnSetup    func(ctx context.Context, h *Handle) error
		OnTeardown func(ctx context.Context) error
	}
)

// Setup implements Module.
func (f Funcs) Setup(ctx context.Context, h *Handle) error {
	if f.OnSetup == nil {
		return nil
	}
	return f.OnSetup(ctx, h)
}

// Teardown implements Module.
func (f Funcs) Teardown(ctx context.Context) error {
	if f.OnTeardown == nil {
		return nil
	}
	return f.OnTeardown(ctx)
}

// Static returns a factory that always yields m.
func Static(m Module) Factory {
	return func() (Module, error) { return m, nil }
}
