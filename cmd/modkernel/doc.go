// SPDX-License-Identifier: MPL-2.0

// Command modkernel inspects and runs module catalogs.
//
// diagnose reports dependency cycles, unresolved references and the computed
// activation order of a catalog. migrate rewrites legacy activation rules into
// the activated_by/enhanced_by shape. plan boots a kernel with declarative
// modules against a feature set and prints the resulting phases and hook
// table. watch keeps a kernel running and re-evaluates it whenever the
// features file changes.
package main
