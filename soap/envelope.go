// Package soap carries the property collector protocol over SOAP/HTTP.
//
// Client implements collector.PropertyCollector against a remote endpoint;
// Server exposes a memory store to such clients, one collector session per
// session cookie. Request parameters and results are encoded with the codec
// from the protocol types of the builtin schema.
package soap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
	"github.com/pithecene-io/propwatch/xmltree"
)

// Wire constants.
const (
	EnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	VimNamespace      = "urn:vim25"
	SOAPAction        = "urn:vim25/6.0"
	ContentType       = "text/xml; charset=utf-8"
	// SessionCookie carries the collector session id.
	SessionCookie = "vmware_soap_session"
	// ServerFaultCode is the faultcode of every fault the server raises.
	ServerFaultCode = "ServerFaultCode"
)

// Managed object types of the collector itself.
const (
	TypePropertyCollector = "PropertyCollector"
	TypePropertyFilter    = "PropertyFilter"
)

const envelopeOpen = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<soapenv:Envelope xmlns:soapenv="` + EnvelopeNamespace + `"` +
	` xmlns:xsd="` + xmltree.XSDNamespace + `"` +
	` xmlns:xsi="` + xmltree.XSINamespace + `">` +
	`<soapenv:Body>`

const envelopeClose = `</soapenv:Body></soapenv:Envelope>`

// param is one named element of a request or response body.
type param struct {
	name     string
	declared string
	value    any
}

// buildEnvelope renders an operation element with its parameters. Nil
// parameters are omitted.
func buildEnvelope(c *codec.Codec, op string, params ...param) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(envelopeOpen)
	b.WriteString("<" + op + ` xmlns="` + VimNamespace + `">`)
	for _, p := range params {
		s, err := c.Encode(p.name, p.declared, p.value)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", op, p.name, err)
		}
		b.WriteString(s)
	}
	b.WriteString("</" + op + ">")
	b.WriteString(envelopeClose)
	return b.Bytes(), nil
}

// parseBody returns the single element inside the envelope body.
func parseBody(r io.Reader) (*xmltree.Element, error) {
	root, err := xmltree.Parse(r)
	if err != nil {
		return nil, err
	}
	if root.Tag() != "Envelope" {
		return nil, fault.New(fault.ErrMalformedDocument, "soap", "root element <"+root.Tag()+"> is not an envelope")
	}
	body := root.Child("Body")
	if body == nil || len(body.Children) == 0 {
		return nil, fault.New(fault.ErrMalformedDocument, "soap", "envelope without body content")
	}
	return body.Children[0], nil
}

// decodeParam decodes every child of op named name as one value.
func decodeParam(c *codec.Codec, op *xmltree.Element, name, declared string) (any, error) {
	var run []*xmltree.Element
	for _, el := range op.Children {
		if el.Tag() == name {
			run = append(run, el)
		}
	}
	v, err := c.Decode(declared, &xmltree.Element{Children: run})
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", op.Tag(), name, err)
	}
	return v, nil
}

// Fault is a SOAP fault as received on the wire. It is the cause inside the
// classified *fault.Error a Client returns.
type Fault struct {
	Code   string
	String string
	// Type is the fault detail type, e.g. "InvalidCollectorVersion".
	Type string
	// Detail is the decoded fault detail record, if any.
	Detail *types.Object
}

func (f *Fault) Error() string {
	if f.Type != "" {
		return fmt.Sprintf("soap fault %s (%s): %s", f.Code, f.Type, f.String)
	}
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// faultTypes maps fault detail types to the error taxonomy. Subtypes match
// through their ancestors.
var faultTypes = []struct {
	typ  string
	kind error
}{
	{"InvalidCollectorVersion", fault.ErrStaleVersion},
	{"RequestCanceled", fault.ErrCanceled},
	{"InvalidProperty", fault.ErrInvalidPropertyPath},
	{"ManagedObjectNotFound", fault.ErrNotFound},
}

// decodeFault converts a Fault element into a classified error. Unknown
// detail types become transport faults carrying the fault string.
func decodeFault(c *codec.Codec, op string, el *xmltree.Element) error {
	f := &Fault{}
	if e := el.Child("faultcode"); e != nil {
		f.Code = strings.TrimSpace(e.Text)
	}
	if e := el.Child("faultstring"); e != nil {
		f.String = strings.TrimSpace(e.Text)
	}

	var rt *schema.Type
	if detail := el.Child("detail"); detail != nil && len(detail.Children) > 0 {
		rt, f.Detail = decodeFaultDetail(c, detail.Children[0])
		if f.Detail != nil {
			f.Type = f.Detail.Type
		}
	}

	kind, detail := fault.ErrTransportFault, f.String
	if rt != nil {
		for _, ft := range faultTypes {
			if rt.Is(ft.typ) {
				kind = ft.kind
				break
			}
		}
		switch {
		case rt.Is("InvalidProperty"):
			if name, ok := f.Detail.Get("name"); ok {
				detail = types.Text(name)
			}
		case rt.Is("ManagedObjectNotFound"):
			if obj, ok := f.Detail.Get("obj"); ok {
				detail = types.Text(obj)
			}
		}
	}
	return &fault.Error{Kind: kind, Op: op, Detail: detail, Err: f}
}

// decodeFaultDetail decodes a detail child as a MethodFault. The concrete
// type comes from xsi:type, or from the tag with its "Fault" suffix dropped.
func decodeFaultDetail(c *codec.Codec, el *xmltree.Element) (*schema.Type, *types.Object) {
	declared, err := c.Resolver().Resolve(schema.TypeMethodFault)
	if err != nil {
		return nil, nil
	}
	if _, ok := el.TypeOverride(); !ok {
		if t, err := c.Resolver().Resolve(strings.TrimSuffix(el.Tag(), "Fault")); err == nil && t.Is(schema.TypeMethodFault) {
			declared = t
		}
	}
	v, err := c.DecodeElement(declared, el)
	if err != nil {
		return nil, nil
	}
	obj, ok := v.(*types.Object)
	if !ok {
		return nil, nil
	}
	rt, err := c.Resolver().Resolve(obj.Type)
	if err != nil {
		return nil, nil
	}
	return rt, obj
}

// faultDetail builds the detail record the server sends for err.
func faultDetail(err error) *types.Object {
	var fe *fault.Error
	detail := ""
	if errors.As(err, &fe) {
		detail = fe.Detail
	}
	switch {
	case errors.Is(err, fault.ErrStaleVersion):
		return types.NewObject("InvalidCollectorVersion")
	case errors.Is(err, fault.ErrCanceled):
		return types.NewObject("RequestCanceled")
	case errors.Is(err, fault.ErrInvalidPropertyPath):
		return types.NewObject("InvalidProperty").With("name", detail)
	case errors.Is(err, fault.ErrNotFound), errors.Is(err, fault.ErrFilterDestroyed):
		obj := types.NewObject("ManagedObjectNotFound")
		if ref, perr := types.ParseReference(detail); perr == nil {
			obj.Set("obj", ref)
		}
		return obj
	case errors.Is(err, fault.ErrMalformedDocument),
		errors.Is(err, fault.ErrUnknownType),
		errors.Is(err, fault.ErrInvalidEnumValue):
		return types.NewObject("InvalidRequest")
	}
	return types.NewObject("RuntimeFault")
}

// buildFault renders a fault envelope for err.
func buildFault(c *codec.Codec, err error) []byte {
	obj := faultDetail(err)
	var b bytes.Buffer
	b.WriteString(envelopeOpen)
	b.WriteString("<soapenv:Fault>")
	b.WriteString("<faultcode>" + ServerFaultCode + "</faultcode>")
	b.WriteString("<faultstring>" + xmltree.EscapeText(err.Error()) + "</faultstring>")
	if detail, encErr := c.Encode(obj.Type+"Fault", schema.TypeMethodFault, obj); encErr == nil {
		b.WriteString("<detail>" + detail + "</detail>")
	}
	b.WriteString("</soapenv:Fault>")
	b.WriteString(envelopeClose)
	return b.Bytes()
}
