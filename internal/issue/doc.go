// SPDX-License-Identifier: MPL-2.0

// Package issue turns failures into something an operator can act on.
//
// ActionableError carries the failed operation, the resource involved and
// suggested fixes. Issue holds a Markdown guide per kind of problem (catalog
// loading, dependency cycles, unresolved dependencies, module setup) and is
// looked up by id or by the kernel diagnostic code it explains.
package issue
