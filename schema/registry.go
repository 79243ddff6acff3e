package schema

import (
	"fmt"
	"maps"
	"slices"
)

// Registry is an immutable table of type descriptors keyed by wire name.
// It is safe for concurrent use once built.
type Registry struct {
	types map[string]*Type
	deps  []*Registry
}

// NewRegistry validates and links defs. Field types and bases may refer to
// types in deps (typically Builtin()). Each def is copied; callers may reuse
// their slices.
func NewRegistry(defs []*Type, deps ...*Registry) (*Registry, error) {
	r := &Registry{
		types: make(map[string]*Type, len(defs)),
		deps:  deps,
	}
	for _, d := range defs {
		if d == nil || d.Name == "" {
			return nil, fmt.Errorf("schema: type without name")
		}
		if _, dup := r.types[d.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate type %q", d.Name)
		}
		if d.Kind == KindArray {
			return nil, fmt.Errorf("schema: %q: array types are implicit", d.Name)
		}
		c := *d
		c.Fields = slices.Clone(d.Fields)
		c.Values = slices.Clone(d.Values)
		r.types[d.Name] = &c
	}
	for _, t := range r.types {
		if err := r.link(t, nil); err != nil {
			return nil, err
		}
	}
	for _, t := range r.types {
		if err := r.check(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tables; it panics on error.
func MustRegistry(defs []*Type, deps ...*Registry) *Registry {
	r, err := NewRegistry(defs, deps...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor registered under name in this registry or
// its dependencies.
func (r *Registry) Lookup(name string) (*Type, bool) {
	if r == nil {
		return nil, false
	}
	if t, ok := r.types[name]; ok {
		return t, true
	}
	for _, d := range r.deps {
		if t, ok := d.Lookup(name); ok {
			return t, true
		}
	}
	return nil, false
}

// Names returns the names registered directly in r, sorted.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.types))
}

// link computes the flattened field list of a composite, ancestors first.
func (r *Registry) link(t *Type, seen []string) error {
	if t.Kind != KindComposite || t.index != nil {
		return nil
	}
	if slices.Contains(seen, t.Name) {
		return fmt.Errorf("schema: inheritance cycle through %q", t.Name)
	}

	var inherited []Field
	var ancestors []string
	if t.Base != "" {
		base, ok := r.Lookup(t.Base)
		if !ok {
			return fmt.Errorf("schema: %q: unknown base %q", t.Name, t.Base)
		}
		if base.Kind != KindComposite {
			return fmt.Errorf("schema: %q: base %q is not composite", t.Name, t.Base)
		}
		if err := r.link(base, append(seen, t.Name)); err != nil {
			return err
		}
		inherited = base.all
		ancestors = append(slices.Clone(base.ancestors), base.Name)
	}

	all := append(slices.Clone(inherited), t.Fields...)
	index := make(map[string]int, len(all))
	for i, f := range all {
		if _, dup := index[f.Name]; dup {
			return fmt.Errorf("schema: %q: field %q declared twice", t.Name, f.Name)
		}
		index[f.Name] = i
	}
	t.all = all
	t.index = index
	t.ancestors = ancestors
	return nil
}

// check verifies that every field type resolves.
func (r *Registry) check(t *Type) error {
	switch t.Kind {
	case KindEnum:
		if len(t.Values) == 0 {
			return fmt.Errorf("schema: enum %q has no values", t.Name)
		}
	case KindInt:
		switch t.Bits {
		case 8, 16, 32, 64:
		default:
			return fmt.Errorf("schema: %q: unsupported int width %d", t.Name, t.Bits)
		}
	case KindComposite:
		for _, f := range t.Fields {
			if _, ok := r.Lookup(f.Type); !ok {
				return fmt.Errorf("schema: %q.%s: unknown type %q", t.Name, f.Name, f.Type)
			}
		}
	}
	return nil
}
