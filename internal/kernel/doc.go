// SPDX-License-Identifier: MPL-2.0

// Package kernel orchestrates module lifecycles.
//
// A Registry holds the static manifest catalog and one factory per module.
// ActivateAll resolves the dependency graph, evaluates every activation rule
// against the enabled features and runs each eligible module's Setup in
// dependency order, one at a time. OnFeatureSetChanged re-evaluates
// eligibility, tears down modules that lost it (and their active dependents)
// in reverse dependency order, then activates the modules that gained it.
//
// Modules never reach the hook registry or event bus directly: Setup receives
// a *Handle that records every registration against the module, so teardown
// and setup-failure rollback remove exactly what the module added.
//
// No pass ever aborts because of one module. Problems are returned as
// Diagnostics in the pass Report.
package kernel
