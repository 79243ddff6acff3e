package types

// Op is the kind of change applied to one property.
type Op string

const (
	// OpEnter delivers a property value for the first time.
	OpEnter Op = "enter"
	// OpModify replaces a previously delivered value.
	OpModify Op = "modify"
	// OpRemove clears the property; the tracked value becomes absent.
	OpRemove Op = "remove"
)

// ObjectKind is the kind of update for a whole object within a batch.
type ObjectKind string

const (
	ObjectEnter  ObjectKind = "enter"
	ObjectModify ObjectKind = "modify"
	ObjectLeave  ObjectKind = "leave"
)

// PropertyChange is one property delta.
type PropertyChange struct {
	// Name is the dotted property path that changed.
	Name string `json:"name" msgpack:"name"`
	Op   Op     `json:"op" msgpack:"op"`
	// Val is the new value; nil for OpRemove.
	Val any `json:"val,omitempty" msgpack:"-"`
}

// ObjectDelta groups the property changes of one object.
type ObjectDelta struct {
	Object  Reference        `json:"object" msgpack:"object"`
	Kind    ObjectKind       `json:"kind" msgpack:"kind"`
	Changes []PropertyChange `json:"changes" msgpack:"changes"`
}

// UpdateBatch is the set of deltas between two version cursors. Changes are
// ordered; within one object, later changes to a path override earlier ones.
type UpdateBatch struct {
	// Version is the opaque cursor to pass to the next poll.
	Version   string        `json:"version" msgpack:"version"`
	Changes   []ObjectDelta `json:"changes" msgpack:"changes"`
	Truncated bool          `json:"truncated,omitempty" msgpack:"truncated,omitempty"`
}

// Empty reports whether the batch carries no property changes.
func (b *UpdateBatch) Empty() bool {
	if b == nil {
		return true
	}
	for _, d := range b.Changes {
		if len(d.Changes) > 0 || d.Kind == ObjectLeave {
			return false
		}
	}
	return true
}

// DynamicProperty is one property value of a snapshot.
type DynamicProperty struct {
	Name string `json:"name"`
	Val  any    `json:"val"`
}

// ObjectContent is a point-in-time snapshot of selected object properties.
type ObjectContent struct {
	Obj     Reference         `json:"obj"`
	PropSet []DynamicProperty `json:"prop_set"`
}

// Property returns the value of a snapshot property.
func (c ObjectContent) Property(name string) (any, bool) {
	for _, p := range c.PropSet {
		if p.Name == name {
			return p.Val, true
		}
	}
	return nil, false
}
