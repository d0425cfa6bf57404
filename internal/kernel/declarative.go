// SPDX-License-Identifier: MPL-2.0

package kernel

import (
	"context"
	"sync/atomic"

	"github.com/ledgerworks/modkernel/internal/eventbus"
	"github.com/ledgerworks/modkernel/pkg/manifest"
)

type (
	// DeclaredAction is the payload a declarative module contributes to each
	// hook point its manifest provides.
	DeclaredAction struct {
		Module       manifest.ModuleID
		Version      string
		Point        manifest.HookPointID
		Enhancements []manifest.FeatureID
	}

	// declarativeModule registers exactly what its manifest declares: one
	// action per provided hook point and one logging subscription per
	// consumed event pattern.
	declarativeModule struct {
		manifest manifest.Manifest
		received atomic.Int64
	}
)

// Declarative is a factory for modules that have no code of their own. It
// lets a catalog be booted and inspected as is, and has the signature
// RegisterCatalog expects.
func Declarative(m manifest.Manifest) Factory {
	return func() (Module, error) {
		return &declarativeModule{manifest: m.Clone()}, nil
	}
}

func (d *declarativeModule) Setup(_ context.Context, h *Handle) error {
	enh := h.Enhancements()
	for _, point := range d.manifest.Provides {
		payload := DeclaredAction{
			Module:       d.manifest.ID,
			Version:      d.manifest.Version,
			Point:        point,
			Enhancements: enh,
		}
		if _, err := h.AddAction(point, payload, 0); err != nil {
			return err
		}
	}

	logger := h.Logger()
	for _, pattern := range d.manifest.Consumes {
		_, err := h.Subscribe(pattern, func(_ context.Context, ev eventbus.Event) error {
			n := d.received.Add(1)
			logger.Info("event received", "event", ev.Name, "source", ev.Source, "pattern", pattern, "count", n)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *declarativeModule) Teardown(context.Context) error {
	return nil
}
