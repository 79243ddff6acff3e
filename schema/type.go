// Package schema holds static type descriptor tables for the codec.
//
// A Registry is built once per schema from explicit descriptors instead of
// discovering shapes at decode time. A Resolver layers a local registry over
// the builtin well-known namespace and memoizes every lookup.
package schema

import (
	"fmt"
	"slices"
)

// Kind classifies a type descriptor.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindDateTime
	// KindAny is xsd:anyType; the element's type-override attribute decides.
	KindAny
	KindEnum
	KindReference
	KindComposite
	// KindArray descriptors are synthesized by the resolver for "X[]" and
	// "ArrayOfX" names; they are never registered directly.
	KindArray
)

var kindNames = map[Kind]string{
	KindString:    "string",
	KindBool:      "boolean",
	KindInt:       "int",
	KindDateTime:  "dateTime",
	KindAny:       "any",
	KindEnum:      "enum",
	KindReference: "reference",
	KindComposite: "composite",
	KindArray:     "array",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so seed files can
// declare kinds by name.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown kind %q", string(b))
}

// Field describes one named field of a composite type.
type Field struct {
	Name string `yaml:"name"`
	// Type is the declared type name; for array fields, the item type.
	Type string `yaml:"type"`
	// Array marks a field that travels as a run of same-tag siblings.
	Array bool `yaml:"array,omitempty"`
}

// Type is the descriptor of one wire type.
type Type struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`
	// Bits is the signed width of KindInt types (8, 16, 32, 64).
	Bits int `yaml:"bits,omitempty"`
	// Base names the parent composite type; empty for roots.
	Base string `yaml:"base,omitempty"`
	// Fields lists the fields declared by this type, not its ancestors.
	Fields []Field `yaml:"fields,omitempty"`
	// Values lists the constants of an enum type.
	Values []string `yaml:"values,omitempty"`
	// Elem is the item type of a KindArray descriptor.
	Elem *Type `yaml:"-"`

	// Computed when the owning registry is linked.
	all       []Field
	index     map[string]int
	ancestors []string
}

// IsPrimitive reports whether the type is a scalar parsed from text.
func (t *Type) IsPrimitive() bool {
	switch t.Kind {
	case KindString, KindBool, KindInt, KindDateTime:
		return true
	}
	return false
}

// AllFields returns every field of a composite, ancestor fields first.
func (t *Type) AllFields() []Field {
	return t.all
}

// Field looks up a field by name across the inheritance chain.
func (t *Type) Field(name string) (Field, bool) {
	i, ok := t.index[name]
	if !ok {
		return Field{}, false
	}
	return t.all[i], true
}

// HasValue reports whether s is a constant of an enum type.
func (t *Type) HasValue(s string) bool {
	return slices.Contains(t.Values, s)
}

// Is reports whether t is the named type or one of its descendants.
func (t *Type) Is(name string) bool {
	return t.Name == name || slices.Contains(t.ancestors, name)
}

// Ancestors returns the inheritance chain from the root down to the parent.
func (t *Type) Ancestors() []string {
	return t.ancestors
}
