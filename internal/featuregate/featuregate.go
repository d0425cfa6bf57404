// SPDX-License-Identifier: MPL-2.0

// Package featuregate evaluates module activation rules against the set of
// enabled features. Everything here is pure: the same inputs always give the
// same answer and nothing is mutated.
package featuregate

import (
	"slices"
	"strings"

	"github.com/ledgerworks/modkernel/pkg/manifest"
)

// Set is an immutable set of enabled feature ids. The zero value is the empty set.
type Set struct {
	members map[manifest.FeatureID]struct{}
}

// NewSet builds a set from ids. Empty ids are ignored.
func NewSet(ids ...manifest.FeatureID) Set {
	members := make(map[manifest.FeatureID]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		members[id] = struct{}{}
	}
	return Set{members: members}
}

// Parse builds a set from a comma separated list such as "sales, staff".
func Parse(list string) Set {
	var ids []manifest.FeatureID
	for part := range strings.SplitSeq(list, ",") {
		if p := strings.TrimSpace(part); p != "" {
			ids = append(ids, manifest.FeatureID(p))
		}
	}
	return NewSet(ids...)
}

// FromStrings builds a set from plain strings.
func FromStrings(ids []string) Set {
	out := make([]manifest.FeatureID, 0, len(ids))
	for _, id := range ids {
		out = append(out, manifest.FeatureID(strings.TrimSpace(id)))
	}
	return NewSet(out...)
}

// Has reports whether id is enabled.
func (s Set) Has(id manifest.FeatureID) bool {
	_, ok := s.members[id]
	return ok
}

// Len returns the number of enabled features.
func (s Set) Len() int {
	return len(s.members)
}

// IDs returns the members in lexical order.
func (s Set) IDs() []manifest.FeatureID {
	out := make([]manifest.FeatureID, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Equal reports whether both sets hold the same members.
func (s Set) Equal(o Set) bool {
	if len(s.members) != len(o.members) {
		return false
	}
	for id := range s.members {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// Diff returns the features present in next but not in s (added) and those
// present in s but not in next (removed), both sorted.
func (s Set) Diff(next Set) (added, removed []manifest.FeatureID) {
	for _, id := range next.IDs() {
		if !s.Has(id) {
			added = append(added, id)
		}
	}
	for _, id := range s.IDs() {
		if !next.Has(id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// String renders the set as a sorted comma separated list.
func (s Set) String() string {
	ids := s.IDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

// Eligible reports whether a module with activation rule act may be active
// under set. Always-on rules are always eligible; a single-feature rule needs
// that feature; a legacy rule needs every required feature. Enhancing and
// optional features never affect the result.
func Eligible(act manifest.Activation, set Set) bool {
	switch act.Kind {
	case manifest.ActivationAlwaysOn:
		return true
	case manifest.ActivationFeature:
		return set.Has(act.ActivatedBy)
	case manifest.ActivationLegacy:
		for _, f := range act.RequiredFeatures {
			if !set.Has(f) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Enhancements returns the enhancing (or, for legacy rules, optional) features
// of act that are enabled in set, in declaration order.
func Enhancements(act manifest.Activation, set Set) []manifest.FeatureID {
	candidates := act.EnhancedBy
	if act.Kind == manifest.ActivationLegacy {
		candidates = act.OptionalFeatures
	}
	var out []manifest.FeatureID
	for _, f := range candidates {
		if set.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
