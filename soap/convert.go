package soap

import (
	"fmt"

	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
)

// Wire PropertyChangeOp constants and their Op equivalents.
var (
	opFromWire = map[string]types.Op{
		"add":            types.OpEnter,
		"assign":         types.OpModify,
		"remove":         types.OpRemove,
		"indirectRemove": types.OpRemove,
	}
	opToWire = map[types.Op]string{
		types.OpEnter:  "add",
		types.OpModify: "assign",
		types.OpRemove: "remove",
	}
)

func get[T any](o *types.Object, name string) (T, bool) {
	var zero T
	if o == nil {
		return zero, false
	}
	v, ok := o.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func items(o *types.Object, name string) []any {
	a, _ := get[types.Array](o, name)
	return a.Items
}

func objects(o *types.Object, name string) ([]*types.Object, error) {
	var out []*types.Object
	for i, it := range items(o, name) {
		obj, ok := it.(*types.Object)
		if !ok {
			return nil, fault.New(fault.ErrMalformedDocument, "soap", fmt.Sprintf("%s.%s[%d] is %T", o.Type, name, i, it))
		}
		out = append(out, obj)
	}
	return out, nil
}

func stringArray(ss []string) types.Array {
	arr := types.Array{ItemType: schema.TypeString, Items: make([]any, len(ss))}
	for i, s := range ss {
		arr.Items[i] = s
	}
	return arr
}

// specObject renders a FilterSpec as a PropertyFilterSpec record.
func specObject(s types.FilterSpec) *types.Object {
	props := types.Array{ItemType: schema.TypePropertySpec}
	for _, p := range s.PropSet {
		ps := types.NewObject(schema.TypePropertySpec).With("type", p.Type)
		if p.All {
			ps.Set("all", true)
		}
		if len(p.PathSet) > 0 {
			ps.Set("pathSet", stringArray(p.PathSet))
		}
		props.Items = append(props.Items, ps)
	}
	objs := types.Array{ItemType: schema.TypeObjectSpec}
	for _, o := range s.ObjectSet {
		os := types.NewObject(schema.TypeObjectSpec).With("obj", o.Obj)
		if o.Skip {
			os.Set("skip", true)
		}
		objs.Items = append(objs.Items, os)
	}
	return types.NewObject(schema.TypePropertyFilterSpec).With("propSet", props).With("objectSet", objs)
}

// specFrom reads a PropertyFilterSpec record.
func specFrom(v any) (types.FilterSpec, error) {
	o, ok := v.(*types.Object)
	if !ok {
		return types.FilterSpec{}, fault.New(fault.ErrMalformedDocument, "soap", fmt.Sprintf("filter spec is %T", v))
	}
	var spec types.FilterSpec
	props, err := objects(o, "propSet")
	if err != nil {
		return spec, err
	}
	for _, p := range props {
		ps := types.PropertySpec{}
		ps.Type, _ = get[string](p, "type")
		ps.All, _ = get[bool](p, "all")
		for _, path := range items(p, "pathSet") {
			if s, ok := path.(string); ok {
				ps.PathSet = append(ps.PathSet, s)
			}
		}
		spec.PropSet = append(spec.PropSet, ps)
	}
	objs, err := objects(o, "objectSet")
	if err != nil {
		return spec, err
	}
	for _, os := range objs {
		ref, _ := get[types.Reference](os, "obj")
		skip, _ := get[bool](os, "skip")
		spec.ObjectSet = append(spec.ObjectSet, types.ObjectSpec{Obj: ref, Skip: skip})
	}
	return spec, nil
}

// updateSetObject renders a batch as an UpdateSet record. filterFor names
// the filter each object's updates are reported under.
func updateSetObject(b *types.UpdateBatch, filterFor func(types.Reference) types.Reference) *types.Object {
	var order []types.Reference
	updates := make(map[types.Reference]*types.Object)

	for _, d := range b.Changes {
		fref := filterFor(d.Object)
		pfu, ok := updates[fref]
		if !ok {
			pfu = types.NewObject(schema.TypePropertyFilterUpdate).
				With("filter", fref).
				With("objectSet", types.Array{ItemType: schema.TypeObjectUpdate})
			updates[fref] = pfu
			order = append(order, fref)
		}

		ou := types.NewObject(schema.TypeObjectUpdate).
			With("kind", types.Enum{Type: schema.TypeObjectUpdateKind, Value: string(d.Kind)}).
			With("obj", d.Object)
		if len(d.Changes) > 0 {
			changes := types.Array{ItemType: schema.TypePropertyChange}
			for _, ch := range d.Changes {
				pc := types.NewObject(schema.TypePropertyChange).
					With("name", ch.Name).
					With("op", types.Enum{Type: schema.TypePropertyChangeOp, Value: opToWire[ch.Op]})
				if ch.Val != nil {
					pc.Set("val", ch.Val)
				}
				changes.Items = append(changes.Items, pc)
			}
			ou.Set("changeSet", changes)
		}

		set, _ := get[types.Array](pfu, "objectSet")
		set.Items = append(set.Items, ou)
		pfu.Set("objectSet", set)
	}

	filterSet := types.Array{ItemType: schema.TypePropertyFilterUpdate}
	for _, fref := range order {
		filterSet.Items = append(filterSet.Items, updates[fref])
	}
	us := types.NewObject(schema.TypeUpdateSet).With("version", b.Version)
	if len(filterSet.Items) > 0 {
		us.Set("filterSet", filterSet)
	}
	if b.Truncated {
		us.Set("truncated", true)
	}
	return us
}

// batchFrom reads an UpdateSet record. Object updates of all filters are
// flattened in document order.
func batchFrom(v any) (*types.UpdateBatch, error) {
	if v == nil {
		return nil, nil
	}
	us, ok := v.(*types.Object)
	if !ok {
		return nil, fault.New(fault.ErrMalformedDocument, "soap", fmt.Sprintf("update set is %T", v))
	}
	b := &types.UpdateBatch{}
	b.Version, _ = get[string](us, "version")
	b.Truncated, _ = get[bool](us, "truncated")

	filters, err := objects(us, "filterSet")
	if err != nil {
		return nil, err
	}
	for _, pfu := range filters {
		ous, err := objects(pfu, "objectSet")
		if err != nil {
			return nil, err
		}
		for _, ou := range ous {
			kind, _ := get[types.Enum](ou, "kind")
			ref, _ := get[types.Reference](ou, "obj")
			d := types.ObjectDelta{Object: ref, Kind: types.ObjectKind(kind.Value)}
			pcs, err := objects(ou, "changeSet")
			if err != nil {
				return nil, err
			}
			for _, pc := range pcs {
				name, _ := get[string](pc, "name")
				wop, _ := get[types.Enum](pc, "op")
				op, ok := opFromWire[wop.Value]
				if !ok {
					return nil, fault.New(fault.ErrInvalidEnumValue, schema.TypePropertyChangeOp, wop.Value)
				}
				val, _ := pc.Get("val")
				if op == types.OpRemove {
					val = nil
				}
				d.Changes = append(d.Changes, types.PropertyChange{Name: name, Op: op, Val: val})
			}
			b.Changes = append(b.Changes, d)
		}
	}
	return b, nil
}

// contentsArray renders snapshot contents as ObjectContent records.
func contentsArray(contents []types.ObjectContent) types.Array {
	arr := types.Array{ItemType: schema.TypeObjectContent}
	for _, c := range contents {
		oc := types.NewObject(schema.TypeObjectContent).With("obj", c.Obj)
		if len(c.PropSet) > 0 {
			props := types.Array{ItemType: schema.TypeDynamicProperty}
			for _, p := range c.PropSet {
				dp := types.NewObject(schema.TypeDynamicProperty).With("name", p.Name)
				if p.Val != nil {
					dp.Set("val", p.Val)
				}
				props.Items = append(props.Items, dp)
			}
			oc.Set("propSet", props)
		}
		arr.Items = append(arr.Items, oc)
	}
	return arr
}

// contentsFrom reads ObjectContent records.
func contentsFrom(v any) ([]types.ObjectContent, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.(types.Array)
	if !ok {
		return nil, fault.New(fault.ErrMalformedDocument, "soap", fmt.Sprintf("contents are %T", v))
	}
	out := make([]types.ObjectContent, 0, len(arr.Items))
	for i, it := range arr.Items {
		oc, ok := it.(*types.Object)
		if !ok {
			return nil, fault.New(fault.ErrMalformedDocument, "soap", fmt.Sprintf("contents[%d] is %T", i, it))
		}
		c := types.ObjectContent{}
		c.Obj, _ = get[types.Reference](oc, "obj")
		props, err := objects(oc, "propSet")
		if err != nil {
			return nil, err
		}
		for _, dp := range props {
			name, _ := get[string](dp, "name")
			val, _ := dp.Get("val")
			c.PropSet = append(c.PropSet, types.DynamicProperty{Name: name, Val: val})
		}
		out = append(out, c)
	}
	return out, nil
}
