package method

import (
	"fmt"
	"sort"
)

// Registry holds the configured methods, resolved once at startup.
type Registry struct {
	byID    map[int]Method
	ordered []Method
}

// NewRegistry builds a registry, rejecting duplicate method ids.
func NewRegistry(methods ...Method) (*Registry, error) {
	r := &Registry{byID: make(map[int]Method, len(methods))}

	for _, m := range methods {
		if _, exists := r.byID[m.ID()]; exists {
			return nil, fmt.Errorf("duplicate method id %d", m.ID())
		}
		r.byID[m.ID()] = m
		r.ordered = append(r.ordered, m)
	}

	sort.SliceStable(r.ordered, func(i, j int) bool {
		if r.ordered[i].Order() != r.ordered[j].Order() {
			return r.ordered[i].Order() < r.ordered[j].Order()
		}
		return r.ordered[i].ID() < r.ordered[j].ID()
	})

	return r, nil
}

// ByID returns the method with the given id.
func (r *Registry) ByID(id int) (Method, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// All returns the methods in display order.
func (r *Registry) All() []Method {
	out := make([]Method, len(r.ordered))
	copy(out, r.ordered)
	return out
}
