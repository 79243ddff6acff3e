package schema

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pithecene-io/propwatch/fault"
)

// Array name markers.
const (
	arraySuffix = "[]"
	arrayPrefix = "ArrayOf"
	xsdPrefix   = "xsd:"
)

// Resolver maps wire type names to descriptors. Lookups try the local
// registry first, then the fallback. Every result, including synthesized
// array descriptors, is memoized under the exact input name.
//
// Each codec owns its resolver; the cache is append-only and safe for
// concurrent readers.
type Resolver struct {
	local    *Registry
	fallback *Registry
	cache    *xsync.MapOf[string, *Type]
}

// NewResolver creates a resolver over local with Builtin() as fallback.
// local may be nil.
func NewResolver(local *Registry) *Resolver {
	return NewResolverWithFallback(local, Builtin())
}

// NewResolverWithFallback creates a resolver with an explicit fallback namespace.
func NewResolverWithFallback(local, fallback *Registry) *Resolver {
	return &Resolver{
		local:    local,
		fallback: fallback,
		cache:    xsync.NewMapOf[string, *Type](),
	}
}

// Resolve returns the descriptor for name. Names ending in "[]" or starting
// with "ArrayOf" resolve to a KindArray descriptor of the item type. An
// "xsd:" prefix is stripped. Fails with fault.ErrUnknownType.
func (r *Resolver) Resolve(name string) (*Type, error) {
	if t, ok := r.cache.Load(name); ok {
		return t, nil
	}
	t, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	actual, _ := r.cache.LoadOrStore(name, t)
	return actual, nil
}

func (r *Resolver) resolve(name string) (*Type, error) {
	if t, ok := r.lookup(name); ok {
		return t, nil
	}

	if item, ok := strings.CutSuffix(name, arraySuffix); ok && item != "" {
		elem, err := r.Resolve(item)
		if err != nil {
			return nil, err
		}
		return &Type{Name: name, Kind: KindArray, Elem: elem}, nil
	}

	if item, ok := strings.CutPrefix(name, arrayPrefix); ok && item != "" {
		// ArrayOfString names the xsd primitive "string".
		for _, candidate := range []string{item, lowerFirst(item)} {
			if elem, ok := r.lookup(candidate); ok {
				return &Type{Name: name, Kind: KindArray, Elem: elem}, nil
			}
		}
	}

	if prim, ok := strings.CutPrefix(name, xsdPrefix); ok {
		if t, ok := r.fallback.Lookup(prim); ok && (t.IsPrimitive() || t.Kind == KindAny) {
			return t, nil
		}
	}

	return nil, fault.New(fault.ErrUnknownType, "resolve", name)
}

func (r *Resolver) lookup(name string) (*Type, bool) {
	if t, ok := r.local.Lookup(name); ok {
		return t, true
	}
	return r.fallback.Lookup(name)
}

// ArrayName returns the "ArrayOfX" wire name used for arrays in any-typed slots.
func ArrayName(item string) string {
	if item == "" {
		return arrayPrefix
	}
	return arrayPrefix + strings.ToUpper(item[:1]) + item[1:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// ResolvePath walks a dotted property path from a composite type. It returns
// the field at the end of the path and its resolved declared type. Paths may
// not traverse array fields. Fails with fault.ErrInvalidPropertyPath.
func (r *Resolver) ResolvePath(typeName, path string) (Field, *Type, error) {
	if path == "" {
		return Field{}, nil, fault.New(fault.ErrInvalidPropertyPath, "resolvePath", path)
	}
	t, err := r.Resolve(typeName)
	if err != nil {
		return Field{}, nil, err
	}

	segs := strings.Split(path, ".")
	var f Field
	for i, seg := range segs {
		if t.Kind != KindComposite {
			return Field{}, nil, fault.New(fault.ErrInvalidPropertyPath, "resolvePath", typeName+"."+path)
		}
		var ok bool
		f, ok = t.Field(seg)
		if !ok {
			return Field{}, nil, fault.New(fault.ErrInvalidPropertyPath, "resolvePath", typeName+"."+path)
		}
		if f.Array && i < len(segs)-1 {
			return Field{}, nil, fault.New(fault.ErrInvalidPropertyPath, "resolvePath", typeName+"."+path)
		}
		if t, err = r.Resolve(f.Type); err != nil {
			return Field{}, nil, err
		}
	}
	return f, t, nil
}

// DeclaredType returns the wire name of the declared type of a field,
// with an array marker for array fields.
func DeclaredType(f Field) string {
	if f.Array {
		return f.Type + arraySuffix
	}
	return f.Type
}
