// Package codec converts between element trees and typed values, driven by
// schema descriptors.
//
// Decoding honors xsi:type overrides: an element whose override does not
// start with "xsd:" decodes as the named type rather than the declared one.
// Encoding emits an override only where the runtime type of a value differs
// from the declared type of its slot, which lets the decoder reconstruct the
// same value.
package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
)

// Codec is a decoder/encoder bound to one resolver. It is safe for
// concurrent use; the resolver cache is its only shared state.
type Codec struct {
	resolver *schema.Resolver
}

// New creates a codec over a local registry with the builtin namespace as
// fallback. local may be nil.
func New(local *schema.Registry) *Codec {
	return &Codec{resolver: schema.NewResolver(local)}
}

// NewWithResolver creates a codec using an existing resolver.
func NewWithResolver(r *schema.Resolver) *Codec {
	return &Codec{resolver: r}
}

// Resolver returns the codec's resolver.
func (c *Codec) Resolver() *schema.Resolver {
	return c.resolver
}

// dateTimeLayouts are accepted ISO-8601 forms; zoneless values are UTC.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// parsePrimitive parses element text per the primitive's rule.
func parsePrimitive(t *schema.Type, text string) (any, error) {
	switch t.Kind {
	case schema.KindString:
		return text, nil
	case schema.KindBool:
		switch strings.TrimSpace(text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fault.New(fault.ErrMalformedDocument, "parse boolean", text)
	case schema.KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, t.Bits)
		if err != nil {
			return nil, fault.Wrap(fault.ErrMalformedDocument, "parse "+t.Name, err)
		}
		switch t.Bits {
		case 8:
			return int8(n), nil
		case 16:
			return int16(n), nil
		case 32:
			return int32(n), nil
		default:
			return n, nil
		}
	case schema.KindDateTime:
		s := strings.TrimSpace(text)
		for _, layout := range dateTimeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return nil, fault.New(fault.ErrMalformedDocument, "parse dateTime", text)
	}
	return nil, fmt.Errorf("codec: %s is not a primitive", t.Name)
}

// primitiveName returns the xsd type name for a scalar Go value.
func primitiveName(v any) (string, bool) {
	switch v.(type) {
	case string:
		return schema.TypeString, true
	case bool:
		return schema.TypeBoolean, true
	case int8:
		return schema.TypeByte, true
	case int16:
		return schema.TypeShort, true
	case int32:
		return schema.TypeInt, true
	case int64:
		return schema.TypeLong, true
	case time.Time:
		return schema.TypeDateTime, true
	}
	return "", false
}

// ParseText converts a literal into a value of the named type. It accepts
// primitives, enum constants and "Type:value" references, and is used to
// turn user-supplied expectations into comparable values.
func (c *Codec) ParseText(typeName, text string) (any, error) {
	t, err := c.resolver.Resolve(typeName)
	if err != nil {
		return nil, err
	}
	switch t.Kind {
	case schema.KindEnum:
		if !t.HasValue(text) {
			return nil, fault.New(fault.ErrInvalidEnumValue, t.Name, text)
		}
		return types.Enum{Type: t.Name, Value: text}, nil
	case schema.KindReference:
		return types.ParseReference(text)
	case schema.KindAny:
		return text, nil
	}
	if t.IsPrimitive() {
		return parsePrimitive(t, text)
	}
	return nil, fmt.Errorf("codec: cannot parse %s from text", t.Name)
}
