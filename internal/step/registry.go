package step

import (
	"context"
	"fmt"
	"sort"
)

type entry struct {
	desc Descriptor
	step Step
}

// Registry maps step names to descriptors and executables. It is built once
// at startup and read-only afterwards; no runtime mutation happens here.
type Registry struct {
	entries  map[string]entry
	provider Provider
}

// Build resolves every catalog descriptor against the provider. A provider
// that cannot supply a required step fails startup rather than failing the
// first job that needs it.
func Build(p Provider, catalog []Descriptor) (*Registry, error) {
	r := &Registry{
		entries:  make(map[string]entry, len(catalog)),
		provider: p,
	}
	for _, d := range catalog {
		if _, exists := r.entries[d.Name]; exists {
			return nil, fmt.Errorf("duplicate step %q in catalog", d.Name)
		}
		s, err := p.Step(d.Name)
		if err != nil {
			return nil, fmt.Errorf("resolve step %q: %w", d.Name, err)
		}
		r.entries[d.Name] = entry{desc: d, step: s}
	}
	return r, nil
}

// Has reports whether a step name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Lookup returns the descriptor and executable for a step name.
func (r *Registry) Lookup(name string) (Descriptor, Step, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, nil, false
	}
	return e.desc, e.step, true
}

// Descriptors returns all registered descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether the backing provider can execute steps.
func (r *Registry) Ready(ctx context.Context) error {
	return r.provider.Ready(ctx)
}

// Close releases the backing provider.
func (r *Registry) Close() error {
	return r.provider.Close()
}
