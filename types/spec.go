package types

import (
	"errors"
	"fmt"
)

// PropertySpec selects properties of every object of one managed type.
type PropertySpec struct {
	// Type is the managed object type the paths apply to.
	Type string `json:"type" yaml:"type" msgpack:"type"`
	// All selects every property of the type; PathSet is ignored when set.
	All bool `json:"all,omitempty" yaml:"all,omitempty" msgpack:"all,omitempty"`
	// PathSet lists dotted property paths, e.g. "info.state".
	PathSet []string `json:"path_set,omitempty" yaml:"path_set,omitempty" msgpack:"path_set,omitempty"`
}

// ObjectSpec names one object a filter starts from.
type ObjectSpec struct {
	Obj  Reference `json:"obj" yaml:"obj" msgpack:"obj"`
	Skip bool      `json:"skip,omitempty" yaml:"skip,omitempty" msgpack:"skip,omitempty"`
}

// FilterSpec is the (objects × property paths) selection a filter watches.
type FilterSpec struct {
	PropSet   []PropertySpec `json:"prop_set" yaml:"prop_set" msgpack:"prop_set"`
	ObjectSet []ObjectSpec   `json:"object_set" yaml:"object_set" msgpack:"object_set"`
}

// NewFilterSpec builds the single-object spec used by property reads and
// waits. An empty path list selects all properties of the object.
func NewFilterSpec(obj Reference, paths ...string) FilterSpec {
	return FilterSpec{
		PropSet: []PropertySpec{{
			Type:    obj.Type,
			All:     len(paths) == 0,
			PathSet: paths,
		}},
		ObjectSet: []ObjectSpec{{Obj: obj}},
	}
}

// Validate checks the structural shape of the spec. Paths are resolved
// against the schema by the collector, not here.
func (s FilterSpec) Validate() error {
	if len(s.ObjectSet) == 0 {
		return errors.New("filter spec has no objects")
	}
	if len(s.PropSet) == 0 {
		return errors.New("filter spec has no property specs")
	}
	for i, o := range s.ObjectSet {
		if o.Obj.Type == "" || o.Obj.Value == "" {
			return fmt.Errorf("object_set[%d]: incomplete reference %q", i, o.Obj.String())
		}
	}
	for i, p := range s.PropSet {
		if p.Type == "" {
			return fmt.Errorf("prop_set[%d]: missing type", i)
		}
		if !p.All && len(p.PathSet) == 0 {
			return fmt.Errorf("prop_set[%d]: no paths and all=false", i)
		}
	}
	return nil
}

// PathsFor returns the property paths selected for objects of typ, and
// whether all properties are selected.
func (s FilterSpec) PathsFor(typ string) (paths []string, all bool) {
	for _, p := range s.PropSet {
		if p.Type != typ {
			continue
		}
		if p.All {
			all = true
		}
		paths = append(paths, p.PathSet...)
	}
	return paths, all
}
