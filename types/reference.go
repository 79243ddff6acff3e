// Package types defines core domain types shared by the codec and the
// property collector protocol.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strings"
)

// ReferenceType is the wire type name of a managed object reference.
const ReferenceType = "ManagedObjectReference"

// Reference identifies a remote managed object without carrying its state.
// Two references are equal iff both fields match; the zero value is not a
// valid reference.
type Reference struct {
	// Type is the managed object type name, e.g. "Task".
	Type string `json:"type" yaml:"type" msgpack:"type"`
	// Value is the opaque server-assigned identifier, e.g. "task-42".
	Value string `json:"value" yaml:"value" msgpack:"value"`
}

// NewReference returns a reference for the given type and id.
func NewReference(typ, value string) Reference {
	return Reference{Type: typ, Value: value}
}

// String renders the reference as "Type:value".
func (r Reference) String() string {
	return r.Type + ":" + r.Value
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool {
	return r.Type == "" && r.Value == ""
}

// ParseReference parses the "Type:value" form produced by String.
func ParseReference(s string) (Reference, error) {
	typ, value, ok := strings.Cut(s, ":")
	if !ok || typ == "" || value == "" {
		return Reference{}, fmt.Errorf("invalid reference %q: want Type:value", s)
	}
	return Reference{Type: typ, Value: value}, nil
}
