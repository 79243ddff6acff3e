package types

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Decoded values are one of:
//   - nil (nothing present)
//   - string, bool, int8, int16, int32, int64, time.Time
//   - Enum
//   - Reference
//   - Array (homogeneous, ordered)
//   - *Object (composite record)

// Enum is one constant of a named enumeration.
type Enum struct {
	Type  string `json:"type" msgpack:"type"`
	Value string `json:"value" msgpack:"value"`
}

func (e Enum) String() string { return e.Value }

// Array is an ordered sequence of values sharing one declared item type.
type Array struct {
	// ItemType is the declared item type name, e.g. "int" or "TaskInfo".
	ItemType string `json:"item_type" msgpack:"item_type"`
	Items    []any  `json:"items" msgpack:"items"`
}

// Len returns the number of items.
func (a Array) Len() int { return len(a.Items) }

// Field is one present field of a composite record.
type Field struct {
	Name  string `json:"name" msgpack:"name"`
	Value any    `json:"value" msgpack:"value"`
}

// Object is a composite record of a schema type. Only present fields are
// held; absent fields are not defaulted.
type Object struct {
	Type   string  `json:"type" msgpack:"type"`
	Fields []Field `json:"fields" msgpack:"fields"`
}

// NewObject returns an empty record of the given type.
func NewObject(typ string) *Object {
	return &Object{Type: typ}
}

// With sets a field and returns the receiver, for building literals.
func (o *Object) With(name string, value any) *Object {
	o.Set(name, value)
	return o
}

// Get returns the value of a present field.
func (o *Object) Get(name string) (any, bool) {
	if o == nil {
		return nil, false
	}
	for _, f := range o.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces a field in place or appends it. A nil value deletes the field.
func (o *Object) Set(name string, value any) {
	if value == nil {
		o.Delete(name)
		return
	}
	for i := range o.Fields {
		if o.Fields[i].Name == name {
			o.Fields[i].Value = value
			return
		}
	}
	o.Fields = append(o.Fields, Field{Name: name, Value: value})
}

// Delete removes a field if present.
func (o *Object) Delete(name string) {
	for i := range o.Fields {
		if o.Fields[i].Name == name {
			o.Fields = append(o.Fields[:i], o.Fields[i+1:]...)
			return
		}
	}
}

// Lookup walks a dotted property path through nested records.
func (o *Object) Lookup(path string) (any, bool) {
	var cur any = o
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(*Object)
		if !ok || obj == nil {
			return nil, false
		}
		cur, ok = obj.Get(seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy of the record.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := &Object{Type: o.Type, Fields: make([]Field, len(o.Fields))}
	for i, f := range o.Fields {
		c.Fields[i] = Field{Name: f.Name, Value: CloneValue(f.Value)}
	}
	return c
}

// CloneValue deep-copies records and arrays; scalars are returned as is.
func CloneValue(v any) any {
	switch x := v.(type) {
	case *Object:
		return x.Clone()
	case Array:
		items := make([]any, len(x.Items))
		for i, it := range x.Items {
			items[i] = CloneValue(it)
		}
		return Array{ItemType: x.ItemType, Items: items}
	default:
		return v
	}
}

// Equal reports whether two decoded values are equal. Records compare by
// type and field set regardless of field order; timestamps compare by instant.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case *Object:
		y, ok := b.(*Object)
		if !ok {
			return false
		}
		if x == nil || y == nil {
			return x == y
		}
		if x.Type != y.Type || len(x.Fields) != len(y.Fields) {
			return false
		}
		for _, f := range x.Fields {
			v, ok := y.Get(f.Name)
			if !ok || !Equal(f.Value, v) {
				return false
			}
		}
		return true
	case Array:
		y, ok := b.(Array)
		if !ok || x.ItemType != y.ItemType || len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	default:
		return reflect.DeepEqual(a, b)
	}
}

// Text renders a scalar value in its wire text form. Records and arrays
// render as a short summary.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case Enum:
		return x.Value
	case Reference:
		return x.String()
	case Array:
		return fmt.Sprintf("%s[%d]", x.ItemType, len(x.Items))
	case *Object:
		return fmt.Sprintf("%s{%d fields}", x.Type, len(x.Fields))
	default:
		return fmt.Sprintf("%v", v)
	}
}
