// Package seed loads the object files served by `propwatch serve`.
//
// A seed file declares extra schema types, the initial objects of a memory
// store and an optional script of timed changes:
//
//	types:
//	  - name: VirtualMachine
//	    kind: composite
//	    fields:
//	      - {name: powerState, type: string}
//	objects:
//	  - ref: Task:task-1
//	    fields:
//	      info: {state: queued, progress: 0}
//	changes:
//	  - after: 2s
//	    ref: Task:task-1
//	    set: {info.state: running}
//
// Field values are plain YAML; their wire types come from the schema. A
// mapping may carry a "_type" key to pick a descendant type. In any-typed
// slots a scalar may be written {_type: long, value: 5}.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/propwatch/cli/config"
	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/collector/memory"
	"github.com/pithecene-io/propwatch/log"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
)

// TypeKey overrides the runtime type of a mapping.
const TypeKey = "_type"

// File is a parsed seed file.
type File struct {
	Types   []*schema.Type `yaml:"types"`
	Objects []Object       `yaml:"objects"`
	Changes []Change       `yaml:"changes"`
}

// Object is one initial object.
type Object struct {
	Ref string `yaml:"ref"`
	// Type defaults to the reference type.
	Type   string         `yaml:"type,omitempty"`
	Fields map[string]any `yaml:"fields"`
}

// Change is one scripted mutation, applied After the previous one.
type Change struct {
	After  config.Duration `yaml:"after"`
	Ref    string          `yaml:"ref"`
	Set    map[string]any  `yaml:"set,omitempty"`
	Remove []string        `yaml:"remove,omitempty"`
	Delete bool            `yaml:"delete,omitempty"`
}

// Load reads and parses a seed file. Environment variables are expanded
// as in config files.
func Load(path string) (*File, error) {
	data, err := config.ReadExpanded(path, "seed")
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses seed YAML. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &f, nil
}

// Registry links the declared types over the builtin namespace.
func (f *File) Registry() (*schema.Registry, error) {
	return schema.NewRegistry(f.Types, schema.Builtin())
}

// NewStore builds a memory store holding the seed objects.
func (f *File) NewStore(opts ...memory.Option) (*memory.Store, error) {
	reg, err := f.Registry()
	if err != nil {
		return nil, err
	}
	store := memory.NewStore(schema.NewResolver(reg), opts...)
	c := codec.NewWithResolver(store.Resolver())
	for i, o := range f.Objects {
		ref, err := types.ParseReference(o.Ref)
		if err != nil {
			return nil, fmt.Errorf("objects[%d]: %w", i, err)
		}
		typ := o.Type
		if typ == "" {
			typ = ref.Type
		}
		fields := make(map[string]any, len(o.Fields)+1)
		for k, v := range o.Fields {
			fields[k] = v
		}
		fields[TypeKey] = typ
		v, err := Value(c, typ, fields)
		if err != nil {
			return nil, fmt.Errorf("objects[%d] %s: %w", i, o.Ref, err)
		}
		if err := store.Put(ref, v.(*types.Object)); err != nil {
			return nil, fmt.Errorf("objects[%d] %s: %w", i, o.Ref, err)
		}
	}
	return store, nil
}

// Play applies the scripted changes in order until ctx is done. Failures
// are logged and do not stop the script.
func (f *File) Play(ctx context.Context, store *memory.Store, logger *log.Logger) error {
	c := codec.NewWithResolver(store.Resolver())
	for i, ch := range f.Changes {
		if ch.After.Duration > 0 {
			t := time.NewTimer(ch.After.Duration)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := apply(c, store, ch); err != nil {
			logger.Warn("seed change failed", map[string]any{
				"index": i,
				"ref":   ch.Ref,
				"error": err.Error(),
			})
			continue
		}
		logger.Debug("seed change applied", map[string]any{"index": i, "ref": ch.Ref})
	}
	return nil
}

func apply(c *codec.Codec, store *memory.Store, ch Change) error {
	ref, err := types.ParseReference(ch.Ref)
	if err != nil {
		return err
	}
	if ch.Delete {
		return store.Delete(ref)
	}
	paths := make([]string, 0, len(ch.Set))
	for p := range ch.Set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		f, _, err := c.Resolver().ResolvePath(ref.Type, p)
		if err != nil {
			return err
		}
		v, err := Value(c, schema.DeclaredType(f), ch.Set[p])
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if err := store.Set(ref, p, v); err != nil {
			return err
		}
	}
	for _, p := range ch.Remove {
		if err := store.Remove(ref, p); err != nil {
			return err
		}
	}
	return nil
}

// Value converts a plain YAML value into a typed value of the declared type.
func Value(c *codec.Codec, declared string, v any) (any, error) {
	t, err := c.Resolver().Resolve(declared)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case schema.KindArray:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: want a sequence, got %T", t.Name, v)
		}
		arr := types.Array{ItemType: t.Elem.Name, Items: make([]any, 0, len(items))}
		for i, item := range items {
			iv, err := Value(c, t.Elem.Name, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr.Items = append(arr.Items, iv)
		}
		return arr, nil
	case schema.KindComposite:
		return object(c, t, v)
	case schema.KindAny:
		return anyValue(c, v)
	case schema.KindDateTime:
		if ts, ok := v.(time.Time); ok {
			return ts, nil
		}
	}
	return c.ParseText(t.Name, fmt.Sprint(v))
}

func object(c *codec.Codec, t *schema.Type, v any) (*types.Object, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: want a mapping, got %T", t.Name, v)
	}
	rt := t
	if name, ok := m[TypeKey].(string); ok && name != t.Name {
		override, err := c.Resolver().Resolve(name)
		if err != nil {
			return nil, err
		}
		if override.Kind != schema.KindComposite || !override.Is(t.Name) {
			return nil, fmt.Errorf("%s is not a %s", name, t.Name)
		}
		rt = override
	}

	obj := types.NewObject(rt.Name)
	// Ancestor fields first, keeping the encoded field order stable.
	for _, f := range rt.AllFields() {
		raw, ok := m[f.Name]
		if !ok {
			continue
		}
		fv, err := Value(c, schema.DeclaredType(f), raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", rt.Name, f.Name, err)
		}
		if fv != nil {
			obj.Set(f.Name, fv)
		}
	}
	for k := range m {
		if k == TypeKey {
			continue
		}
		if _, ok := rt.Field(k); !ok {
			return nil, fmt.Errorf("%s has no field %q", rt.Name, k)
		}
	}
	return obj, nil
}

// anyValue infers a wire type for a value in an any-typed slot.
func anyValue(c *codec.Codec, v any) (any, error) {
	switch x := v.(type) {
	case string, bool, time.Time:
		return x, nil
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x), nil
		}
		return int64(x), nil
	case map[string]any:
		name, ok := x[TypeKey].(string)
		if !ok {
			return nil, fmt.Errorf("mapping in an any-typed slot needs %q", TypeKey)
		}
		t, err := c.Resolver().Resolve(name)
		if err != nil {
			return nil, err
		}
		if t.Kind == schema.KindComposite {
			return Value(c, name, x)
		}
		// Scalars spell their type as {_type: long, value: 5}.
		return Value(c, name, x["value"])
	case []any:
		return nil, errors.New("sequences in an any-typed slot are not supported")
	}
	return nil, fmt.Errorf("unsupported value %T", v)
}
