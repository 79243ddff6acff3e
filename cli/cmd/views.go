package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pithecene-io/propwatch/metrics"
	"github.com/pithecene-io/propwatch/policy"
	"github.com/pithecene-io/propwatch/types"
	"github.com/pithecene-io/propwatch/watch"
)

// SlotView is one property path and its value, as rendered.
type SlotView struct {
	Path  string `json:"path" yaml:"path"`
	State string `json:"state" yaml:"state"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
	Value string `json:"value" yaml:"value"`
}

// WatchView is the rendered outcome of watch and replay.
type WatchView struct {
	WatchID    string            `json:"watch_id" yaml:"watch_id"`
	Object     string            `json:"object" yaml:"object"`
	Matched    string            `json:"matched" yaml:"matched"`
	Version    string            `json:"version" yaml:"version"`
	Batches    int64             `json:"batches" yaml:"batches"`
	DurationMs int64             `json:"duration_ms" yaml:"duration_ms"`
	Slots      []SlotView        `json:"slots" yaml:"slots"`
	End        []SlotView        `json:"end" yaml:"end"`
	Archive    string            `json:"archive,omitempty" yaml:"archive,omitempty"`
	Metrics    *metrics.Snapshot `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Policy     *policy.Stats     `json:"policy,omitempty" yaml:"policy,omitempty"`
}

func newSlotView(s types.Slot) SlotView {
	v := SlotView{Path: s.Path, State: string(s.State)}
	if s.State == "" {
		v.State = string(types.SlotUnset)
	}
	if s.IsSet() {
		v.Type = typeName(s.Value)
		v.Value = valueText(s.Value)
	}
	return v
}

// valueText is the text form of scalars, or compact JSON for records
// and arrays.
func valueText(v any) string {
	switch v.(type) {
	case *types.Object, types.Array:
		b, err := json.Marshal(plain(v))
		if err != nil {
			return types.Text(v)
		}
		return string(b)
	}
	return types.Text(v)
}

// plain converts records and arrays into maps and slices of text.
func plain(v any) any {
	switch x := v.(type) {
	case *types.Object:
		m := make(map[string]any, len(x.Fields))
		for _, f := range x.Fields {
			m[f.Name] = plain(f.Value)
		}
		return m
	case types.Array:
		items := make([]any, len(x.Items))
		for i, item := range x.Items {
			items[i] = plain(item)
		}
		return items
	}
	return types.Text(v)
}

func slotViews(slots []types.Slot) []SlotView {
	out := make([]SlotView, len(slots))
	for i, s := range slots {
		out[i] = newSlotView(s)
	}
	return out
}

func newWatchView(res *watch.Result) *WatchView {
	return &WatchView{
		WatchID:    res.WatchID,
		Object:     res.Object.String(),
		Matched:    res.Matched,
		Version:    res.Version,
		Batches:    res.Batches,
		DurationMs: res.Duration.Milliseconds(),
		Slots:      slotViews(res.Slots),
		End:        slotViews(res.End),
	}
}

// rows flattens the view for table output: tracked slots, then
// termination slots not already listed.
func (v *WatchView) rows() []SlotView {
	seen := make(map[string]bool, len(v.Slots))
	rows := make([]SlotView, 0, len(v.Slots)+len(v.End))
	for _, s := range v.Slots {
		seen[s.Path] = true
		rows = append(rows, s)
	}
	for _, s := range v.End {
		if !seen[s.Path] {
			rows = append(rows, s)
		}
	}
	return rows
}

// TableHeaders lays the view out as slot rows in table output.
func (v *WatchView) TableHeaders() []string {
	return []string{"path", "state", "type", "value"}
}

// TableRows lists the slots of rows.
func (v *WatchView) TableRows() [][]string {
	rows := v.rows()
	out := make([][]string, len(rows))
	for i, s := range rows {
		out[i] = []string{s.Path, s.State, s.Type, s.Value}
	}
	return out
}

// typeName names the wire type of a decoded value.
func typeName(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return "string"
	case bool:
		return "boolean"
	case int8:
		return "byte"
	case int16:
		return "short"
	case int32:
		return "int"
	case int64:
		return "long"
	case time.Time:
		return "dateTime"
	case types.Enum:
		return x.Type
	case types.Reference:
		return types.ReferenceType
	case types.Array:
		return x.ItemType + "[]"
	case *types.Object:
		return x.Type
	}
	return fmt.Sprintf("%T", v)
}
