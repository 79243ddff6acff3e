// Package xmltree parses XML text into a small element tree for the codec.
//
// Only elements, attributes and character data are kept. Mixed content
// (text between child elements) is dropped; comments and processing
// instructions are skipped.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pithecene-io/propwatch/fault"
)

// Namespace URIs and the conventional prefixes used on the wire.
const (
	XSINamespace = "http://www.w3.org/2001/XMLSchema-instance"
	XSDNamespace = "http://www.w3.org/2001/XMLSchema"
	XSIPrefix    = "xsi"
	XSDPrefix    = "xsd"
)

// Element is one node of the tree.
type Element struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Element
	// Text is the character data of a leaf element, untrimmed.
	Text string
}

// Tag returns the local name of the element.
func (e *Element) Tag() string {
	return e.Name.Local
}

// Attr returns an unqualified attribute value.
func (e *Element) Attr(local string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value, true
		}
	}
	return "", false
}

// TypeOverride returns the xsi:type attribute. The prefix may be bound to
// the XSI namespace or left undeclared.
func (e *Element) TypeOverride() (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == "type" && (a.Name.Space == XSINamespace || a.Name.Space == XSIPrefix) {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child with the given local name.
func (e *Element) Child(local string) *Element {
	for _, c := range e.Children {
		if c.Name.Local == local {
			return c
		}
	}
	return nil
}

// Find walks a path of local names through first-match children.
func (e *Element) Find(path ...string) *Element {
	cur := e
	for _, p := range path {
		if cur = cur.Child(p); cur == nil {
			return nil
		}
	}
	return cur
}

// RunLength counts the consecutive siblings starting at children[from]
// that share its tag.
func RunLength(children []*Element, from int) int {
	tag := children[from].Name.Local
	n := 1
	for j := from + 1; j < len(children) && children[j].Name.Local == tag; j++ {
		n++
	}
	return n
}

// Parse reads one document and returns its root element.
// Structural errors are reported as fault.ErrMalformedDocument.
func Parse(r io.Reader) (*Element, error) {
	dec := xml.NewDecoder(r)
	var stack []*Element
	var root *Element
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fault.Wrap(fault.ErrMalformedDocument, "parse", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, fault.New(fault.ErrMalformedDocument, "parse", "multiple root elements")
			}
			el := &Element{Name: t.Name, Attrs: t.Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else {
				root = el
			}
			stack = append(stack, el)
			text.Reset()
		case xml.EndElement:
			el := stack[len(stack)-1]
			if len(el.Children) == 0 {
				el.Text = text.String()
			}
			stack = stack[:len(stack)-1]
			text.Reset()
		case xml.CharData:
			if len(stack) > 0 {
				text.Write(t)
			} else if len(bytes.TrimSpace(t)) > 0 {
				return nil, fault.New(fault.ErrMalformedDocument, "parse", "text outside root element")
			}
		}
	}

	if root == nil {
		return nil, fault.New(fault.ErrMalformedDocument, "parse", "empty document")
	}
	if len(stack) > 0 {
		return nil, fault.New(fault.ErrMalformedDocument, "parse", fmt.Sprintf("unclosed element <%s>", stack[len(stack)-1].Tag()))
	}
	return root, nil
}

// ParseString parses a document held in a string.
func ParseString(s string) (*Element, error) {
	return Parse(strings.NewReader(s))
}

// ParseFragment parses a run of sibling elements by wrapping them in a
// synthetic container that binds the xsi and xsd prefixes. The container is
// returned; its children are the fragment's elements.
func ParseFragment(fragment string) (*Element, error) {
	var b strings.Builder
	b.WriteString(`<fragment xmlns:xsi="` + XSINamespace + `" xmlns:xsd="` + XSDNamespace + `">`)
	b.WriteString(fragment)
	b.WriteString(`</fragment>`)
	return ParseString(b.String())
}

// EscapeText returns s escaped for use as element text.
func EscapeText(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// EscapeAttr returns s escaped for use inside a double-quoted attribute.
func EscapeAttr(s string) string {
	return EscapeText(s)
}
