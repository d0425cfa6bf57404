// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// ActivationAlwaysOn modules are eligible regardless of the feature set.
	ActivationAlwaysOn ActivationKind = iota
	// ActivationFeature modules are gated on exactly one feature (ActivatedBy).
	ActivationFeature
	// ActivationLegacy modules are gated on all of RequiredFeatures.
	ActivationLegacy
)

// ErrInvalidActivation is the sentinel wrapped by activation validation errors.
var ErrInvalidActivation = errors.New("invalid activation")

type (
	// ActivationKind tags which activation rule an Activation carries.
	ActivationKind int

	// Activation is the normalized activation rule of a manifest. Only the
	// fields relevant to Kind are populated:
	//   - ActivationAlwaysOn: EnhancedBy (optional)
	//   - ActivationFeature:  ActivatedBy, EnhancedBy
	//   - ActivationLegacy:   RequiredFeatures, OptionalFeatures
	Activation struct {
		Kind             ActivationKind
		ActivatedBy      FeatureID
		EnhancedBy       []FeatureID
		RequiredFeatures []FeatureID
		OptionalFeatures []FeatureID
	}

	// ActivationSpec is the external (file) shape of an activation rule. Any
	// combination of fields may be present; Normalize applies precedence.
	ActivationSpec struct {
		AlwaysOn         bool     `json:"always_on,omitempty" yaml:"always_on,omitempty" toml:"always_on,omitempty"`
		ActivatedBy      string   `json:"activated_by,omitempty" yaml:"activated_by,omitempty" toml:"activated_by,omitempty"`
		EnhancedBy       []string `json:"enhanced_by,omitempty" yaml:"enhanced_by,omitempty" toml:"enhanced_by,omitempty"`
		RequiredFeatures []string `json:"required_features,omitempty" yaml:"required_features,omitempty" toml:"required_features,omitempty"`
		OptionalFeatures []string `json:"optional_features,omitempty" yaml:"optional_features,omitempty" toml:"optional_features,omitempty"`
	}
)

// String returns a human-readable name for the kind.
func (k ActivationKind) String() string {
	switch k {
	case ActivationAlwaysOn:
		return "always-on"
	case ActivationFeature:
		return "feature"
	case ActivationLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// AlwaysOn returns an always-on activation.
func AlwaysOn(enhancedBy ...FeatureID) Activation {
	return Activation{Kind: ActivationAlwaysOn, EnhancedBy: enhancedBy}
}

// ActivatedBy returns a single-feature activation.
func ActivatedBy(feature FeatureID, enhancedBy ...FeatureID) Activation {
	return Activation{Kind: ActivationFeature, ActivatedBy: feature, EnhancedBy: enhancedBy}
}

// Legacy returns a legacy multi-feature activation.
func Legacy(required, optional []FeatureID) Activation {
	return Activation{Kind: ActivationLegacy, RequiredFeatures: required, OptionalFeatures: optional}
}

// Validate checks that the populated fields make sense for Kind.
func (a Activation) Validate() error {
	switch a.Kind {
	case ActivationAlwaysOn:
	case ActivationFeature:
		if err := a.ActivatedBy.Validate(); err != nil {
			return fmt.Errorf("%w: activated_by: %w", ErrInvalidActivation, err)
		}
	case ActivationLegacy:
		for i, f := range a.RequiredFeatures {
			if err := f.Validate(); err != nil {
				return fmt.Errorf("%w: required_features[%d]: %w", ErrInvalidActivation, i, err)
			}
		}
		for i, f := range a.OptionalFeatures {
			if err := f.Validate(); err != nil {
				return fmt.Errorf("%w: optional_features[%d]: %w", ErrInvalidActivation, i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidActivation, a.Kind)
	}
	for i, f := range a.EnhancedBy {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%w: enhanced_by[%d]: %w", ErrInvalidActivation, i, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (a Activation) Clone() Activation {
	out := a
	out.EnhancedBy = slices.Clone(a.EnhancedBy)
	out.RequiredFeatures = slices.Clone(a.RequiredFeatures)
	out.OptionalFeatures = slices.Clone(a.OptionalFeatures)
	return out
}

// Equal reports whether two activations carry the same rule.
func (a Activation) Equal(b Activation) bool {
	return a.Kind == b.Kind &&
		a.ActivatedBy == b.ActivatedBy &&
		slices.Equal(a.EnhancedBy, b.EnhancedBy) &&
		slices.Equal(a.RequiredFeatures, b.RequiredFeatures) &&
		slices.Equal(a.OptionalFeatures, b.OptionalFeatures)
}

// Normalize converts the external shape into the tagged representation.
// Precedence: always_on, then activated_by, then the legacy fields. A spec with
// no fields at all is always-on.
func (s ActivationSpec) Normalize() Activation {
	switch {
	case s.AlwaysOn:
		return Activation{Kind: ActivationAlwaysOn, EnhancedBy: toFeatures(s.EnhancedBy)}
	case s.ActivatedBy != "":
		return Activation{
			Kind:        ActivationFeature,
			ActivatedBy: FeatureID(s.ActivatedBy),
			EnhancedBy:  toFeatures(s.EnhancedBy),
		}
	case len(s.RequiredFeatures) > 0 || len(s.OptionalFeatures) > 0:
		return Activation{
			Kind:             ActivationLegacy,
			RequiredFeatures: toFeatures(s.RequiredFeatures),
			OptionalFeatures: toFeatures(s.OptionalFeatures),
		}
	default:
		return Activation{Kind: ActivationAlwaysOn, EnhancedBy: toFeatures(s.EnhancedBy)}
	}
}

// Validate rejects specs that mix activation shapes. Normalize would keep the
// highest-precedence shape and silently drop the other fields.
func (s ActivationSpec) Validate() error {
	legacy := len(s.RequiredFeatures) > 0 || len(s.OptionalFeatures) > 0
	switch {
	case s.AlwaysOn && s.ActivatedBy != "":
		return fmt.Errorf("%w: always_on cannot be combined with activated_by", ErrInvalidActivation)
	case s.AlwaysOn && legacy:
		return fmt.Errorf("%w: always_on cannot be combined with required_features or optional_features", ErrInvalidActivation)
	case s.ActivatedBy != "" && legacy:
		return fmt.Errorf("%w: activated_by cannot be combined with required_features or optional_features", ErrInvalidActivation)
	case legacy && len(s.EnhancedBy) > 0:
		return fmt.Errorf("%w: enhanced_by cannot be combined with required_features or optional_features", ErrInvalidActivation)
	}
	return nil
}

// Spec converts the tagged representation back into the external shape.
func (a Activation) Spec() ActivationSpec {
	switch a.Kind {
	case ActivationFeature:
		return ActivationSpec{ActivatedBy: string(a.ActivatedBy), EnhancedBy: fromFeatures(a.EnhancedBy)}
	case ActivationLegacy:
		return ActivationSpec{
			RequiredFeatures: fromFeatures(a.RequiredFeatures),
			OptionalFeatures: fromFeatures(a.OptionalFeatures),
		}
	default:
		return ActivationSpec{AlwaysOn: true, EnhancedBy: fromFeatures(a.EnhancedBy)}
	}
}

// Migrate rewrites a legacy activation into the current shape: the first
// required feature becomes ActivatedBy, and the remaining required features
// followed by the optional ones become EnhancedBy. A legacy rule with no
// required features becomes always-on, enhanced by its optional features.
// Manifests already in the current shape are returned unchanged, so applying
// Migrate twice gives the same result as applying it once.
func Migrate(m Manifest) Manifest {
	if m.Activation.Kind != ActivationLegacy {
		return m
	}
	out := m.Clone()
	req := m.Activation.RequiredFeatures
	opt := m.Activation.OptionalFeatures

	enhanced := make([]FeatureID, 0, len(req)+len(opt))
	if len(req) > 0 {
		enhanced = append(enhanced, req[1:]...)
	}
	enhanced = append(enhanced, opt...)
	if len(enhanced) == 0 {
		enhanced = nil
	}

	if len(req) == 0 {
		out.Activation = Activation{Kind: ActivationAlwaysOn, EnhancedBy: enhanced}
		return out
	}
	out.Activation = Activation{Kind: ActivationFeature, ActivatedBy: req[0], EnhancedBy: enhanced}
	return out
}

// MigrateAll applies Migrate to every manifest and reports which ids changed.
func MigrateAll(ms []Manifest) ([]Manifest, []ModuleID) {
	out := make([]Manifest, 0, len(ms))
	var changed []ModuleID
	for _, m := range ms {
		mm := Migrate(m)
		if m.Activation.Kind != mm.Activation.Kind {
			changed = append(changed, m.ID)
		}
		out = append(out, mm)
	}
	return out, changed
}

func toFeatures(in []string) []FeatureID {
	if len(in) == 0 {
		return nil
	}
	out := make([]FeatureID, len(in))
	for i, s := range in {
		out[i] = FeatureID(s)
	}
	return out
}

func fromFeatures(in []FeatureID) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, f := range in {
		out[i] = string(f)
	}
	return out
}
