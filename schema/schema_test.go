package schema

import (
	"errors"
	"sync"
	"testing"

	"github.com/pithecene-io/propwatch/fault"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry([]*Type{
		{Name: "VmState", Kind: KindEnum, Values: []string{"on", "off"}},
		{Name: "ManagedEntity", Kind: KindComposite, Fields: []Field{
			{Name: "name", Type: TypeString},
			{Name: "parent", Type: TypeReference},
		}},
		{Name: "VirtualMachine", Kind: KindComposite, Base: "ManagedEntity", Fields: []Field{
			{Name: "runtime", Type: "VmRuntime"},
			{Name: "datastore", Type: TypeReference, Array: true},
		}},
		{Name: "VmRuntime", Kind: KindComposite, Base: TypeDynamicData, Fields: []Field{
			{Name: "state", Type: "VmState"},
			{Name: "bootTime", Type: TypeDateTime},
		}},
	}, Builtin())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestRegistry_InheritedFieldsAncestorsFirst(t *testing.T) {
	reg := testRegistry(t)
	vm, ok := reg.Lookup("VirtualMachine")
	if !ok {
		t.Fatal("VirtualMachine not registered")
	}

	var names []string
	for _, f := range vm.AllFields() {
		names = append(names, f.Name)
	}
	want := []string{"name", "parent", "runtime", "datastore"}
	if len(names) != len(want) {
		t.Fatalf("fields = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("fields = %v, want %v", names, want)
		}
	}
	if !vm.Is("ManagedEntity") {
		t.Error("VirtualMachine should be a ManagedEntity")
	}
	if vm.Is("VmRuntime") {
		t.Error("VirtualMachine is not a VmRuntime")
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name string
		defs []*Type
	}{
		{"unknown base", []*Type{{Name: "A", Kind: KindComposite, Base: "Missing"}}},
		{"unknown field type", []*Type{{Name: "A", Kind: KindComposite, Fields: []Field{{Name: "x", Type: "Missing"}}}}},
		{"cycle", []*Type{
			{Name: "A", Kind: KindComposite, Base: "B"},
			{Name: "B", Kind: KindComposite, Base: "A"},
		}},
		{"duplicate", []*Type{{Name: "A", Kind: KindComposite}, {Name: "A", Kind: KindComposite}}},
		{"empty enum", []*Type{{Name: "E", Kind: KindEnum}}},
		{"bad width", []*Type{{Name: "I", Kind: KindInt, Bits: 12}}},
		{"shadowed field", []*Type{
			{Name: "A", Kind: KindComposite, Fields: []Field{{Name: "x", Type: TypeString}}},
			{Name: "B", Kind: KindComposite, Base: "A", Fields: []Field{{Name: "x", Type: TypeString}}},
		}},
		{"explicit array", []*Type{{Name: "A[]", Kind: KindArray}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.defs, Builtin()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestResolver_ArrayMarkers(t *testing.T) {
	r := NewResolver(testRegistry(t))

	tests := []struct {
		name string
		elem string
	}{
		{"int[]", TypeInt},
		{"VirtualMachine[]", "VirtualMachine"},
		{"ArrayOfInt", TypeInt},
		{"ArrayOfString", TypeString},
		{"ArrayOfManagedObjectReference", TypeReference},
		{"ArrayOfVmRuntime", "VmRuntime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, err := r.Resolve(tt.name)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if typ.Kind != KindArray || typ.Elem.Name != tt.elem {
				t.Errorf("Resolve(%q) = %v of %v, want array of %s", tt.name, typ.Kind, typ.Elem, tt.elem)
			}
		})
	}
}

func TestResolver_LocalOverridesFallback(t *testing.T) {
	local := MustRegistry([]*Type{
		{Name: TypeTaskInfoState, Kind: KindEnum, Values: []string{"pending", "done"}},
	})
	r := NewResolver(local)
	typ, err := r.Resolve(TypeTaskInfoState)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !typ.HasValue("pending") || typ.HasValue("running") {
		t.Errorf("expected local TaskInfoState, got values %v", typ.Values)
	}
	if _, err := r.Resolve(TypeTaskInfo); err != nil {
		t.Errorf("fallback lookup failed: %v", err)
	}
}

func TestResolver_MemoizesExactName(t *testing.T) {
	r := NewResolver(testRegistry(t))
	a, err := r.Resolve("VmRuntime[]")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, _ := r.Resolve("VmRuntime[]")
	if a != b {
		t.Error("expected the cached descriptor to be returned")
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve("ArrayOfVmRuntime"); err != nil {
				t.Errorf("concurrent Resolve: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestResolver_IndependentInstances(t *testing.T) {
	reg := testRegistry(t)
	r1 := NewResolver(reg)
	r2 := NewResolver(reg)
	if _, err := r1.Resolve("VirtualMachine[]"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := r2.cache.Load("VirtualMachine[]"); ok {
		t.Error("resolver caches must not be shared")
	}
}

func TestResolver_UnknownType(t *testing.T) {
	r := NewResolver(nil)
	for _, name := range []string{"Nope", "Nope[]", "ArrayOfNope", "xsd:nope"} {
		if _, err := r.Resolve(name); !errors.Is(err, fault.ErrUnknownType) {
			t.Errorf("Resolve(%q) err = %v, want ErrUnknownType", name, err)
		}
	}
}

func TestResolver_ResolvePath(t *testing.T) {
	r := NewResolver(testRegistry(t))

	f, typ, err := r.ResolvePath("VirtualMachine", "runtime.state")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if f.Name != "state" || typ.Name != "VmState" {
		t.Errorf("got field %s of %s", f.Name, typ.Name)
	}

	f, _, err = r.ResolvePath("VirtualMachine", "datastore")
	if err != nil || !f.Array {
		t.Errorf("datastore: field %+v err %v", f, err)
	}

	for _, bad := range []string{"", "runtime.nope", "nope", "name.length", "datastore.value", "runtime..state"} {
		if _, _, err := r.ResolvePath("VirtualMachine", bad); !errors.Is(err, fault.ErrInvalidPropertyPath) {
			t.Errorf("ResolvePath(%q) err = %v, want ErrInvalidPropertyPath", bad, err)
		}
	}
}

func TestKind_TextRoundTrip(t *testing.T) {
	for k := KindString; k <= KindArray; k++ {
		b, _ := k.MarshalText()
		var got Kind
		if err := got.UnmarshalText(b); err != nil || got != k {
			t.Errorf("kind %v: got %v err %v", k, got, err)
		}
	}
}
