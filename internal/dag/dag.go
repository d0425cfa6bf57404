// SPDX-License-Identifier: MPL-2.0

// Package dag provides directed graph operations for topological sorting and
// cycle detection over module dependencies.
//
// Resolve is the tolerant entry point used at boot: it never fails, and reports
// cycles, unresolved references and cycle-blocked nodes next to a best-effort
// order. Graph is the strict variant used where any cycle is a programming error.
package dag

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	unvisited visitState = iota
	visiting
	visited
)

// ErrDependencyCycle is the sentinel wrapped by CycleError.
var ErrDependencyCycle = errors.New("dependency cycle")

type (
	// CycleError indicates that the graph contains a cycle, preventing topological ordering.
	// It wraps ErrDependencyCycle for errors.Is() compatibility.
	CycleError struct {
		// Cycle contains the nodes that form the cycle. Chains produced by Resolve
		// repeat the first id at the end (a -> b -> a).
		Cycle []string
	}

	// Graph records which node requires which. Unlike Resolve it has no notion of
	// missing nodes: requiring an unknown id adds it.
	Graph struct {
		ids   []string
		pos   map[string]int
		needs [][]int
	}

	visitState uint8
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Unwrap returns ErrDependencyCycle for errors.Is() compatibility.
func (e *CycleError) Unwrap() error {
	return ErrDependencyCycle
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{pos: make(map[string]int)}
}

// Add registers id with the nodes it requires. Calling Add again for the same
// id appends to its requirements.
func (g *Graph) Add(id string, requires ...string) {
	n := g.intern(id)
	for _, dep := range requires {
		d := g.intern(dep)
		if !slices.Contains(g.needs[n], d) {
			g.needs[n] = append(g.needs[n], d)
		}
	}
}

func (g *Graph) intern(id string) int {
	if n, ok := g.pos[id]; ok {
		return n
	}
	n := len(g.ids)
	g.pos[id] = n
	g.ids = append(g.ids, id)
	g.needs = append(g.needs, nil)
	return n
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.ids)
}

// SetupOrder lists every node after the nodes it requires. Independent nodes
// keep the order in which they were first added. A cycle yields a *CycleError
// whose chain closes on its first node.
func (g *Graph) SetupOrder() ([]string, error) {
	if len(g.ids) == 0 {
		return nil, nil
	}
	state := make([]visitState, len(g.ids))
	out := make([]string, 0, len(g.ids))
	var path []int

	var visit func(n int) error
	visit = func(n int) error {
		switch state[n] {
		case visited:
			return nil
		case visiting:
			start := slices.Index(path, n)
			chain := make([]string, 0, len(path)-start+1)
			for _, p := range path[start:] {
				chain = append(chain, g.ids[p])
			}
			return &CycleError{Cycle: append(chain, g.ids[n])}
		}
		state[n] = visiting
		path = append(path, n)
		for _, d := range g.needs[n] {
			if err := visit(d); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[n] = visited
		out = append(out, g.ids[n])
		return nil
	}

	for n := range g.ids {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TeardownOrder is SetupOrder reversed: every node comes before the nodes it
// requires.
func (g *Graph) TeardownOrder() ([]string, error) {
	order, err := g.SetupOrder()
	if err != nil {
		return nil, err
	}
	slices.Reverse(order)
	return order, nil
}
