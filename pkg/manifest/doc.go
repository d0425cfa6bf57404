// SPDX-License-Identifier: MPL-2.0

// Package manifest defines module manifests and the static catalog that holds them.
//
// A manifest is the declarative description of one business module: its identity,
// the modules it depends on, the rule that activates it against the enabled-feature
// set, the hook points it contributes to, the event patterns it consumes, and an
// opaque exports map.
//
// Activation rules arrive in two external shapes. The current shape names a single
// required feature (activated_by) plus enhancing features (enhanced_by); the legacy
// shape lists several required features (all must be enabled) plus optional ones.
// Both are normalized at the catalog boundary into one tagged Activation value, and
// Migrate rewrites the legacy shape into the current one.
//
// Catalog files may be written in CUE (validated against an embedded schema), TOML
// or YAML. A malformed manifest is excluded from the catalog and reported; the rest
// of the file still loads.
package manifest
