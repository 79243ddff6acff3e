package codec

import (
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
	"github.com/pithecene-io/propwatch/xmltree"
)

// Encode renders v as element text under tag. A nil value renders as the
// empty string; callers omit the tag entirely. Arrays render as sibling
// elements sharing tag, never as a wrapper.
func (c *Codec) Encode(tag, declared string, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	t, err := c.resolver.Resolve(declared)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := c.encode(&b, tag, t, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (c *Codec) encode(b *strings.Builder, tag string, declared *schema.Type, v any) error {
	switch x := v.(type) {
	case nil:
		return nil

	case types.Array:
		return c.encodeArray(b, tag, declared, x)

	case types.Reference:
		b.WriteString("<" + tag)
		if declared.Kind != schema.KindReference {
			writeOverride(b, types.ReferenceType)
		}
		b.WriteString(` type="` + xmltree.EscapeAttr(x.Type) + `">`)
		b.WriteString(xmltree.EscapeText(x.Value))
		b.WriteString("</" + tag + ">")
		return nil

	case types.Enum:
		et, err := c.resolver.Resolve(x.Type)
		if err != nil {
			return err
		}
		if et.Kind != schema.KindEnum || !et.HasValue(x.Value) {
			return fault.New(fault.ErrInvalidEnumValue, x.Type, x.Value)
		}
		b.WriteString("<" + tag)
		if declared.Name != et.Name {
			writeOverride(b, et.Name)
		}
		b.WriteString(">" + xmltree.EscapeText(x.Value) + "</" + tag + ">")
		return nil

	case time.Time:
		b.WriteString("<" + tag)
		if declared.Kind != schema.KindDateTime {
			writeOverride(b, xmltree.XSDPrefix+":"+schema.TypeDateTime)
		}
		b.WriteString(">" + types.Text(x) + "</" + tag + ">")
		return nil

	case *types.Object:
		return c.encodeObject(b, tag, declared, x)
	}

	name, ok := primitiveName(v)
	if !ok {
		return fmt.Errorf("codec: cannot encode %T into <%s>", v, tag)
	}
	b.WriteString("<" + tag)
	if declared.Name != name {
		writeOverride(b, xmltree.XSDPrefix+":"+name)
	}
	b.WriteString(">" + xmltree.EscapeText(types.Text(v)) + "</" + tag + ">")
	return nil
}

func (c *Codec) encodeArray(b *strings.Builder, tag string, declared *schema.Type, arr types.Array) error {
	switch declared.Kind {
	case schema.KindArray:
		for _, item := range arr.Items {
			if err := c.encode(b, tag, declared.Elem, item); err != nil {
				return err
			}
		}
		return nil
	case schema.KindAny:
		item, err := c.resolver.Resolve(arr.ItemType)
		if err != nil {
			return err
		}
		b.WriteString("<" + tag)
		writeOverride(b, schema.ArrayName(item.Name))
		b.WriteString(">")
		for _, v := range arr.Items {
			if err := c.encode(b, item.Name, item, v); err != nil {
				return err
			}
		}
		b.WriteString("</" + tag + ">")
		return nil
	}
	return fmt.Errorf("codec: array of %s in scalar slot <%s> of type %s", arr.ItemType, tag, declared.Name)
}

// encodeObject walks the runtime type's fields from the root ancestor down,
// skipping absent fields.
func (c *Codec) encodeObject(b *strings.Builder, tag string, declared *schema.Type, obj *types.Object) error {
	if obj == nil {
		return nil
	}
	rt, err := c.resolver.Resolve(obj.Type)
	if err != nil {
		return err
	}
	if rt.Kind != schema.KindComposite {
		return fmt.Errorf("codec: %s is not a composite type", obj.Type)
	}
	for _, f := range obj.Fields {
		if _, ok := rt.Field(f.Name); !ok {
			return fmt.Errorf("codec: %s has no field %q", rt.Name, f.Name)
		}
	}

	b.WriteString("<" + tag)
	if declared.Name != rt.Name {
		writeOverride(b, rt.Name)
	}
	b.WriteString(">")
	for _, f := range rt.AllFields() {
		v, ok := obj.Get(f.Name)
		if !ok || v == nil {
			continue
		}
		ft, err := c.resolver.Resolve(schema.DeclaredType(f))
		if err != nil {
			return err
		}
		if err := c.encode(b, f.Name, ft, v); err != nil {
			return fmt.Errorf("%s.%s: %w", rt.Name, f.Name, err)
		}
	}
	b.WriteString("</" + tag + ">")
	return nil
}

func writeOverride(b *strings.Builder, typeName string) {
	b.WriteString(` ` + xmltree.XSIPrefix + `:type="` + xmltree.EscapeAttr(typeName) + `"`)
}
