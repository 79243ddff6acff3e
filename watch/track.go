package watch

import (
	"slices"
	"strings"

	"github.com/pithecene-io/propwatch/types"
)

// Until is one termination condition: the watch ends once the slot for Path
// holds any of Values.
//
// Values compare with types.Equal, except that a plain string also matches
// an enum constant of the same name, and a Text matches any scalar whose
// wire text equals it. A nil entry matches a removed property.
type Until struct {
	Path   string `json:"path" yaml:"path"`
	Values []any  `json:"values" yaml:"values"`
}

// Text is an accepted value given as wire text, for callers that do not
// know the slot's type up front (command line --until values).
type Text string

// Accepts reports whether slot satisfies the condition.
func (u Until) Accepts(slot types.Slot) bool {
	if !slot.Observed() {
		return false
	}
	for _, want := range u.Values {
		if want == nil {
			if slot.IsRemoved() {
				return true
			}
			continue
		}
		if slot.IsSet() && matches(slot.Value, want) {
			return true
		}
	}
	return false
}

func matches(got, want any) bool {
	switch w := want.(type) {
	case Text:
		switch got.(type) {
		case types.Array, *types.Object:
			return false
		}
		return types.Text(got) == string(w)
	case string:
		if e, ok := got.(types.Enum); ok {
			return e.Value == w
		}
	}
	return types.Equal(got, want)
}

// tracker folds update batches for one object into per-path slots.
type tracker struct {
	obj    types.Reference
	filter []string
	until  []Until
	order  []string
	slots  map[string]*types.Slot
}

func newTracker(obj types.Reference, filterPaths []string, until []Until) *tracker {
	t := &tracker{
		obj:    obj,
		filter: filterPaths,
		until:  until,
		slots:  make(map[string]*types.Slot),
	}
	add := func(p string) {
		if _, ok := t.slots[p]; ok {
			return
		}
		s := types.NewSlot(p)
		t.slots[p] = &s
		t.order = append(t.order, p)
	}
	for _, p := range filterPaths {
		add(p)
	}
	for _, u := range until {
		add(u.Path)
	}
	return t
}

// paths returns the union of filter and termination paths, filter paths first.
func (t *tracker) paths() []string {
	return slices.Clone(t.order)
}

// fold applies the batch in order and returns the ops applied per tracked
// slot update.
func (t *tracker) fold(b *types.UpdateBatch) []types.Op {
	var applied []types.Op
	for _, d := range b.Changes {
		if d.Object != t.obj {
			continue
		}
		if d.Kind == types.ObjectLeave {
			for _, p := range t.order {
				t.slots[p].Apply(types.PropertyChange{Name: p, Op: types.OpRemove})
				applied = append(applied, types.OpRemove)
			}
			continue
		}
		for _, ch := range d.Changes {
			for _, p := range t.order {
				if t.apply(t.slots[p], ch) {
					applied = append(applied, ch.Op)
				}
			}
		}
	}
	return applied
}

// apply folds one change into a slot when their paths overlap.
func (t *tracker) apply(slot *types.Slot, ch types.PropertyChange) bool {
	switch {
	case ch.Name == slot.Path:
		slot.Apply(ch)
	case strings.HasPrefix(slot.Path, ch.Name+"."):
		// An enclosing property changed; pick the tracked part out of it.
		if ch.Op == types.OpRemove {
			slot.Apply(ch)
			return true
		}
		obj, ok := ch.Val.(*types.Object)
		if !ok {
			slot.Apply(types.PropertyChange{Name: slot.Path, Op: types.OpRemove})
			return true
		}
		v, ok := obj.Lookup(slot.Path[len(ch.Name)+1:])
		if !ok {
			slot.Apply(types.PropertyChange{Name: slot.Path, Op: types.OpRemove})
			return true
		}
		slot.Apply(types.PropertyChange{Name: slot.Path, Op: ch.Op, Val: v})
	case strings.HasPrefix(ch.Name, slot.Path+"."):
		// A nested part of the tracked value changed; patch a copy.
		obj, ok := slot.Value.(*types.Object)
		if !slot.IsSet() || !ok {
			return false
		}
		patched := obj.Clone()
		if !patch(patched, ch.Name[len(slot.Path)+1:], ch) {
			return false
		}
		slot.Apply(types.PropertyChange{Name: slot.Path, Op: types.OpModify, Val: patched})
	default:
		return false
	}
	return true
}

// patch applies ch at the dotted sub-path of obj. Missing intermediate
// records cannot be typed, so such changes are skipped.
func patch(obj *types.Object, sub string, ch types.PropertyChange) bool {
	parent := obj
	segs := strings.Split(sub, ".")
	for _, seg := range segs[:len(segs)-1] {
		v, ok := parent.Get(seg)
		if !ok {
			return false
		}
		next, ok := v.(*types.Object)
		if !ok {
			return false
		}
		parent = next
	}
	leaf := segs[len(segs)-1]
	if ch.Op == types.OpRemove {
		parent.Delete(leaf)
	} else {
		parent.Set(leaf, types.CloneValue(ch.Val))
	}
	return true
}

// matched returns the first termination path whose slot is accepted.
func (t *tracker) matched() (string, bool) {
	for _, u := range t.until {
		if u.Accepts(*t.slots[u.Path]) {
			return u.Path, true
		}
	}
	return "", false
}

func (t *tracker) collect(paths []string) []types.Slot {
	out := make([]types.Slot, 0, len(paths))
	for _, p := range paths {
		out = append(out, *t.slots[p])
	}
	return out
}

func (t *tracker) filterSlots() []types.Slot {
	return t.collect(t.filter)
}

func (t *tracker) endSlots() []types.Slot {
	paths := make([]string, len(t.until))
	for i, u := range t.until {
		paths[i] = u.Path
	}
	return t.collect(paths)
}

func (t *tracker) allSlots() []types.Slot {
	return t.collect(t.order)
}

// texts renders every set slot in wire text form.
func (t *tracker) texts() map[string]string {
	out := make(map[string]string)
	for _, p := range t.order {
		if s := t.slots[p]; s.IsSet() {
			out[p] = types.Text(s.Value)
		}
	}
	return out
}
