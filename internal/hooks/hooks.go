// SPDX-License-Identifier: MPL-2.0

// Package hooks implements named extension points that modules contribute
// ordered payloads to.
//
// Actions on one hook point are ordered by priority, higher numbers first, with
// ties broken by registration order (the earlier registration wins). A hook
// point nobody contributed to yields an empty slice.
package hooks

import (
	"cmp"
	"slices"
	"sync"

	"github.com/ledgerworks/modkernel/pkg/manifest"
)

type (
	// Action is one contribution to a hook point.
	Action struct {
		ModuleID manifest.ModuleID
		Priority int
		Payload  any
		// Seq is the registry-wide registration sequence number.
		Seq uint64
	}

	// Handle identifies one registration for later removal. The zero value
	// refers to nothing.
	Handle struct {
		Point manifest.HookPointID
		Seq   uint64
	}

	// Registry holds every hook point. It is safe for concurrent use.
	Registry struct {
		mu     sync.RWMutex
		seq    uint64
		points map[manifest.HookPointID]*point
		total  int
	}

	point struct {
		entries map[uint64]Action
		// sorted is rebuilt on read after a change.
		sorted []Action
		dirty  bool
	}
)

// New creates an empty registry.
func New() *Registry {
	return &Registry{points: make(map[manifest.HookPointID]*point)}
}

// Valid reports whether the handle came from AddAction.
func (h Handle) Valid() bool {
	return h.Seq != 0
}

// AddAction registers payload on hook point id on behalf of owner.
func (r *Registry) AddAction(id manifest.HookPointID, payload any, owner manifest.ModuleID, priority int) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	p, ok := r.points[id]
	if !ok {
		p = &point{entries: make(map[uint64]Action)}
		r.points[id] = p
	}
	p.entries[r.seq] = Action{ModuleID: owner, Priority: priority, Payload: payload, Seq: r.seq}
	p.dirty = true
	r.total++
	return Handle{Point: id, Seq: r.seq}
}

// RemoveAction removes the registration behind h. It returns false if the
// registration was already removed or never existed.
func (r *Registry) RemoveAction(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.points[h.Point]
	if !ok {
		return false
	}
	if _, ok := p.entries[h.Seq]; !ok {
		return false
	}
	delete(p.entries, h.Seq)
	p.dirty = true
	r.total--
	if len(p.entries) == 0 {
		delete(r.points, h.Point)
	}
	return true
}

// Actions returns the payloads registered on id in order. The result is never nil.
func (r *Registry) Actions(id manifest.HookPointID) []any {
	entries := r.Entries(id)
	out := make([]any, len(entries))
	for i, a := range entries {
		out[i] = a.Payload
	}
	return out
}

// Entries returns the full actions registered on id in order. The result is
// a copy and never nil.
func (r *Registry) Entries(id manifest.HookPointID) []Action {
	r.mu.RLock()
	p, ok := r.points[id]
	if !ok {
		r.mu.RUnlock()
		return []Action{}
	}
	if !p.dirty {
		out := slices.Clone(p.sorted)
		r.mu.RUnlock()
		return out
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	// The point may have been emptied while the lock was released.
	p, ok = r.points[id]
	if !ok {
		return []Action{}
	}
	if p.dirty {
		p.rebuild()
	}
	return slices.Clone(p.sorted)
}

// Points returns the ids of hook points that have at least one action, sorted.
func (r *Registry) Points() []manifest.HookPointID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]manifest.HookPointID, 0, len(r.points))
	for id := range r.points {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of registrations across all hook points.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

func (p *point) rebuild() {
	sorted := make([]Action, 0, len(p.entries))
	for _, a := range p.entries {
		sorted = append(sorted, a)
	}
	slices.SortFunc(sorted, func(a, b Action) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	p.sorted = sorted
	p.dirty = false
}
