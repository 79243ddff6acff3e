package types

// SlotState distinguishes "never observed" from "removed" from "set".
type SlotState string

const (
	SlotUnset   SlotState = "unset"
	SlotRemoved SlotState = "removed"
	SlotSet     SlotState = "set"
)

// Slot is a client-held accumulator for one tracked property path.
// The zero value behaves as an unset slot; NewSlot labels it explicitly.
type Slot struct {
	Path  string    `json:"path" yaml:"path"`
	State SlotState `json:"state" yaml:"state"`
	Value any       `json:"value,omitempty" yaml:"value,omitempty"`
}

// IsSet reports whether a value has been delivered and not removed.
func (s Slot) IsSet() bool { return s.State == SlotSet }

// IsRemoved reports whether the property was removed after being observed.
func (s Slot) IsRemoved() bool { return s.State == SlotRemoved }

// Observed reports whether any change was applied to the slot.
func (s Slot) Observed() bool { return s.State == SlotSet || s.State == SlotRemoved }

// Apply folds one property change into the slot.
func (s *Slot) Apply(c PropertyChange) {
	if c.Op == OpRemove {
		s.State = SlotRemoved
		s.Value = nil
		return
	}
	s.State = SlotSet
	s.Value = c.Val
}

// NewSlot returns an unset slot for path.
func NewSlot(path string) Slot {
	return Slot{Path: path, State: SlotUnset}
}
