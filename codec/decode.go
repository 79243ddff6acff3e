package codec

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
	"github.com/pithecene-io/propwatch/xmltree"
)

// Decode converts the children of parent into a value of the declared type.
// parent is the enclosing element (e.g. a response wrapper); its children
// are the value elements. With no children the result is nil: that is the
// convention for absent values, not an error. An array declared type
// consumes every child; a scalar declared type decodes the first.
func (c *Codec) Decode(declared string, parent *xmltree.Element) (any, error) {
	if len(parent.Children) == 0 {
		return nil, nil
	}
	t, err := c.resolver.Resolve(declared)
	if err != nil {
		return nil, err
	}
	if t.Kind == schema.KindArray {
		return c.decodeArray(t.Elem, parent.Children)
	}
	return c.DecodeElement(t, parent.Children[0])
}

// DecodeFragment parses a run of sibling elements and decodes it as Decode does.
func (c *Codec) DecodeFragment(declared, fragment string) (any, error) {
	parent, err := xmltree.ParseFragment(fragment)
	if err != nil {
		return nil, err
	}
	return c.Decode(declared, parent)
}

// DecodeElement decodes a single element whose declared type is t.
func (c *Codec) DecodeElement(t *schema.Type, el *xmltree.Element) (any, error) {
	eff, err := c.effectiveType(t, el)
	if err != nil {
		return nil, err
	}

	switch eff.Kind {
	case schema.KindReference:
		return decodeReference(el)
	case schema.KindEnum:
		text := strings.TrimSpace(el.Text)
		if !eff.HasValue(text) {
			return nil, fault.New(fault.ErrInvalidEnumValue, eff.Name, text)
		}
		return types.Enum{Type: eff.Name, Value: text}, nil
	case schema.KindComposite:
		return c.decodeObject(eff, el)
	case schema.KindArray:
		// ArrayOfX wrapper in an any-typed slot; children are the items.
		return c.decodeArray(eff.Elem, el.Children)
	case schema.KindAny:
		if len(el.Children) > 0 {
			return nil, fault.New(fault.ErrMalformedDocument, "decode", "untyped element <"+el.Tag()+"> has children")
		}
		return el.Text, nil
	}
	if len(el.Children) > 0 {
		return nil, fault.New(fault.ErrMalformedDocument, "decode", "primitive element <"+el.Tag()+"> has children")
	}
	return parsePrimitive(eff, el.Text)
}

// effectiveType applies the polymorphism rule. An override outside the
// primitive namespace always selects the descriptor; an "xsd:" override is
// honored only in primitive or any-typed slots.
func (c *Codec) effectiveType(declared *schema.Type, el *xmltree.Element) (*schema.Type, error) {
	override, ok := el.TypeOverride()
	if !ok || override == "" {
		return declared, nil
	}
	if strings.HasPrefix(override, xmltree.XSDPrefix+":") {
		if declared.IsPrimitive() || declared.Kind == schema.KindAny {
			return c.resolver.Resolve(override)
		}
		return declared, nil
	}

	eff, err := c.resolver.Resolve(override)
	if err != nil {
		return nil, err
	}
	if declared.Kind == schema.KindComposite && eff.Kind == schema.KindComposite && !eff.Is(declared.Name) {
		return nil, fault.New(fault.ErrMalformedDocument, "decode",
			fmt.Sprintf("%s is not a %s", eff.Name, declared.Name))
	}
	return eff, nil
}

func (c *Codec) decodeArray(item *schema.Type, run []*xmltree.Element) (types.Array, error) {
	arr := types.Array{ItemType: item.Name, Items: make([]any, 0, len(run))}
	for i, el := range run {
		v, err := c.DecodeElement(item, el)
		if err != nil {
			return types.Array{}, fmt.Errorf("[%d]: %w", i, err)
		}
		arr.Items = append(arr.Items, v)
	}
	return arr, nil
}

// decodeObject decodes a composite record. Array-valued fields consume the
// whole run of same-tag siblings at once; the decoder advances by run length.
func (c *Codec) decodeObject(t *schema.Type, el *xmltree.Element) (*types.Object, error) {
	obj := types.NewObject(t.Name)
	kids := el.Children

	for i := 0; i < len(kids); {
		tag := kids[i].Tag()
		f, ok := t.Field(tag)
		if !ok {
			return nil, fault.New(fault.ErrMalformedDocument, "decode", t.Name+"."+tag)
		}
		ft, err := c.resolver.Resolve(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, tag, err)
		}

		n := 1
		var v any
		if f.Array {
			n = xmltree.RunLength(kids, i)
			v, err = c.decodeArray(ft, kids[i:i+n])
		} else {
			v, err = c.DecodeElement(ft, kids[i])
		}
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, tag, err)
		}

		obj.Set(tag, v)
		i += n
	}
	return obj, nil
}

func decodeReference(el *xmltree.Element) (types.Reference, error) {
	typ, ok := el.Attr("type")
	if !ok || typ == "" {
		return types.Reference{}, fault.New(fault.ErrMalformedDocument, "decode", "reference <"+el.Tag()+"> without type")
	}
	return types.Reference{Type: typ, Value: strings.TrimSpace(el.Text)}, nil
}
