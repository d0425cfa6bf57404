// SPDX-License-Identifier: MPL-2.0

package dag

import (
	"cmp"
	"slices"
)

type (
	// Node is one vertex handed to Resolve: an id and the ids it depends on.
	Node struct {
		ID        string
		DependsOn []string
	}

	// Unresolved records a dependency reference to an id that is not a node.
	Unresolved struct {
		From    string
		Missing string
	}

	// Result is the outcome of Resolve. It is always complete: problems are
	// reported next to the best-effort order instead of aborting it.
	Result struct {
		// Order lists every node that can be set up, dependencies first.
		// In-cycle and cycle-blocked nodes are absent.
		Order []string
		// Cycles holds each detected cycle as an id chain whose last element
		// repeats the first (a self-dependency is [a a]).
		Cycles [][]string
		// Unresolved lists references to unknown ids, by From then declaration order.
		Unresolved []Unresolved
		// Foundation lists the nodes with no declared dependencies, sorted.
		Foundation []string
		// InCycle flags every id that lies on at least one cycle.
		InCycle map[string]bool
		// BlockedByCycle maps nodes that are not on a cycle but transitively
		// depend on one to the sorted cycle members they reach.
		BlockedByCycle map[string][]string

		position map[string]int
	}
)

// Resolve computes an activation order for nodes.
//
// A depth-first traversal (roots in id order, dependencies in declared order)
// keeps the current path on a stack; a dependency already on the stack closes
// a cycle, recorded as the path slice from that id plus the id again. A
// layered Kahn pass then repeatedly takes every node whose known dependencies
// are already ordered and that is not in a cycle; within one layer,
// foundation-tier nodes come first, then ids in lexical order.
//
// References to ids that are not in nodes are reported in Unresolved and are
// ignored for ordering. Duplicate node ids keep the first declaration.
func Resolve(nodes []Node) *Result {
	byID := make(map[string]Node, len(nodes))
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			continue
		}
		byID[n.ID] = Node{ID: n.ID, DependsOn: uniq(n.DependsOn)}
		ids = append(ids, n.ID)
	}
	slices.Sort(ids)

	res := &Result{
		InCycle:        make(map[string]bool),
		BlockedByCycle: make(map[string][]string),
		position:       make(map[string]int, len(ids)),
	}

	for _, id := range ids {
		n := byID[id]
		if len(n.DependsOn) == 0 {
			res.Foundation = append(res.Foundation, id)
		}
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				res.Unresolved = append(res.Unresolved, Unresolved{From: id, Missing: dep})
			}
		}
	}

	res.findCycles(ids, byID)
	res.order(ids, byID)
	res.findBlocked(ids, byID)
	return res
}

// findCycles records one chain per back edge found by the path-stack DFS and
// computes strongly connected components (Tarjan) over the same traversal.
// Every member of a component with more than one node, or with a self-edge,
// is flagged in-cycle. Members that no recorded chain covers get a chain of
// their own, the shortest loop through them inside their component.
func (r *Result) findCycles(ids []string, byID map[string]Node) {
	var (
		state   = make(map[string]visitState, len(ids))
		index   = make(map[string]int, len(ids))
		low     = make(map[string]int, len(ids))
		path    []string
		sccPend []string
		covered = make(map[string]bool)
	)

	var visit func(id string)
	visit = func(id string) {
		state[id] = visiting
		index[id] = len(index)
		low[id] = index[id]
		path = append(path, id)
		sccPend = append(sccPend, id)

		for _, dep := range byID[id].DependsOn {
			if _, known := byID[dep]; !known {
				continue
			}
			switch state[dep] {
			case unvisited:
				visit(dep)
				low[id] = min(low[id], low[dep])
			case visiting:
				idx := slices.Index(path, dep)
				cycle := append(slices.Clone(path[idx:]), dep)
				r.Cycles = append(r.Cycles, cycle)
				for _, member := range cycle {
					covered[member] = true
				}
				low[id] = min(low[id], index[dep])
			case visited:
				if slices.Contains(sccPend, dep) {
					low[id] = min(low[id], index[dep])
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = visited

		if low[id] != index[id] {
			return
		}
		start := slices.Index(sccPend, id)
		component := slices.Clone(sccPend[start:])
		sccPend = sccPend[:start]
		if len(component) == 1 && !slices.Contains(byID[id].DependsOn, id) {
			return
		}
		for _, member := range component {
			r.InCycle[member] = true
		}
		slices.Sort(component)
		for _, member := range component {
			if covered[member] {
				continue
			}
			cycle := shortestLoop(member, component, byID)
			r.Cycles = append(r.Cycles, cycle)
			for _, m := range cycle {
				covered[m] = true
			}
		}
	}

	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}
}

// shortestLoop returns the shortest chain from id back to id that stays
// within component. Dependencies are explored in declared order.
func shortestLoop(id string, component []string, byID map[string]Node) []string {
	parent := map[string]string{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range byID[cur].DependsOn {
			if !slices.Contains(component, dep) {
				continue
			}
			if dep == id {
				chain := []string{id}
				for n := cur; n != id; n = parent[n] {
					chain = append(chain, n)
				}
				slices.Reverse(chain[1:])
				return append(chain, id)
			}
			if _, seen := parent[dep]; !seen {
				parent[dep] = cur
				queue = append(queue, dep)
			}
		}
	}
	return []string{id, id}
}

func (r *Result) order(ids []string, byID map[string]Node) {
	placed := make(map[string]bool, len(ids))
	remaining := slices.DeleteFunc(slices.Clone(ids), func(id string) bool { return r.InCycle[id] })

	for len(remaining) > 0 {
		var layer []string
		for _, id := range remaining {
			if r.ready(byID[id], byID, placed) {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			// Everything left depends on a cycle.
			return
		}
		slices.SortFunc(layer, func(a, b string) int {
			fa, fb := len(byID[a].DependsOn) == 0, len(byID[b].DependsOn) == 0
			if fa != fb {
				if fa {
					return -1
				}
				return 1
			}
			return cmp.Compare(a, b)
		})
		for _, id := range layer {
			placed[id] = true
			r.position[id] = len(r.Order)
			r.Order = append(r.Order, id)
		}
		remaining = slices.DeleteFunc(remaining, func(id string) bool { return placed[id] })
	}
}

func (r *Result) ready(n Node, byID map[string]Node, placed map[string]bool) bool {
	for _, dep := range n.DependsOn {
		if _, known := byID[dep]; !known {
			continue
		}
		if !placed[dep] {
			return false
		}
	}
	return true
}

// findBlocked walks the dependencies of every node left out of Order (and not
// itself in a cycle) and collects the cycle members it reaches.
func (r *Result) findBlocked(ids []string, byID map[string]Node) {
	for _, id := range ids {
		if r.InCycle[id] || r.Ordered(id) {
			continue
		}
		seen := map[string]bool{id: true}
		var members []string
		queue := slices.Clone(byID[id].DependsOn)
		for len(queue) > 0 {
			dep := queue[0]
			queue = queue[1:]
			if seen[dep] {
				continue
			}
			seen[dep] = true
			n, known := byID[dep]
			if !known {
				continue
			}
			if r.InCycle[dep] {
				members = append(members, dep)
				continue
			}
			queue = append(queue, n.DependsOn...)
		}
		slices.Sort(members)
		r.BlockedByCycle[id] = members
	}
}

// Ordered reports whether id has a place in Order.
func (r *Result) Ordered(id string) bool {
	_, ok := r.position[id]
	return ok
}

// Position returns the index of id in Order, or -1.
func (r *Result) Position(id string) int {
	if p, ok := r.position[id]; ok {
		return p
	}
	return -1
}

// Blocked returns the ids in BlockedByCycle, sorted.
func (r *Result) Blocked() []string {
	out := make([]string, 0, len(r.BlockedByCycle))
	for id := range r.BlockedByCycle {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// UnresolvedFrom returns the missing ids referenced by id.
func (r *Result) UnresolvedFrom(id string) []string {
	var out []string
	for _, u := range r.Unresolved {
		if u.From == id {
			out = append(out, u.Missing)
		}
	}
	return out
}

// HasProblems reports whether any cycle or unresolved reference was found.
func (r *Result) HasProblems() bool {
	return len(r.Cycles) > 0 || len(r.Unresolved) > 0
}

// CycleErrors returns one *CycleError per detected cycle.
func (r *Result) CycleErrors() []error {
	out := make([]error, 0, len(r.Cycles))
	for _, c := range r.Cycles {
		out = append(out, &CycleError{Cycle: slices.Clone(c)})
	}
	return out
}

func uniq(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
