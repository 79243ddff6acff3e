// Package journal records the traffic of a watch as length-prefixed
// msgpack frames, so a wait can be replayed offline.
//
// Property values are stored as codec XML fragments declared as
// xsd:anyType, which keeps the runtime type of every value in the record.
package journal

import (
	"fmt"
	"time"

	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
)

// Kind discriminates journal records.
type Kind string

const (
	// KindHeader opens a journal and describes the watch.
	KindHeader Kind = "header"
	// KindBatch is one non-nil update batch.
	KindBatch Kind = "batch"
	// KindEmpty is a poll that returned no batch.
	KindEmpty Kind = "empty"
	// KindFault is a poll that failed.
	KindFault Kind = "fault"
	// KindResult closes a journal with the final slot values.
	KindResult Kind = "result"
)

// valueTag is the element name of stored value fragments.
const valueTag = "val"

// Record is one journal frame.
type Record struct {
	Kind Kind   `msgpack:"kind"`
	Seq  int64  `msgpack:"seq"`
	Ts   string `msgpack:"ts"`

	Header *Header      `msgpack:"header,omitempty"`
	Batch  *BatchRecord `msgpack:"batch,omitempty"`
	Fault  *FaultRecord `msgpack:"fault,omitempty"`
	Result []SlotRecord `msgpack:"result,omitempty"`
}

// Header describes the watch a journal belongs to.
type Header struct {
	JournalVersion string          `msgpack:"journal_version"`
	Object         types.Reference `msgpack:"object"`
	FilterPaths    []string        `msgpack:"filter_paths"`
	EndPaths       []string        `msgpack:"end_paths"`
	Endpoint       string          `msgpack:"endpoint,omitempty"`
}

// BatchRecord is an UpdateBatch with values stored as XML fragments.
type BatchRecord struct {
	Version   string        `msgpack:"version"`
	Truncated bool          `msgpack:"truncated,omitempty"`
	Deltas    []DeltaRecord `msgpack:"deltas"`
}

// DeltaRecord is one ObjectDelta.
type DeltaRecord struct {
	Object  types.Reference  `msgpack:"object"`
	Kind    types.ObjectKind `msgpack:"kind"`
	Changes []ChangeRecord   `msgpack:"changes"`
}

// ChangeRecord is one PropertyChange. XML is empty for removals.
type ChangeRecord struct {
	Name string   `msgpack:"name"`
	Op   types.Op `msgpack:"op"`
	XML  string   `msgpack:"xml,omitempty"`
}

// FaultRecord is a failed poll, classified by fault.Code.
type FaultRecord struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

// SlotRecord is one final slot.
type SlotRecord struct {
	Path  string          `msgpack:"path"`
	State types.SlotState `msgpack:"state"`
	XML   string          `msgpack:"xml,omitempty"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewHeader builds the opening record of a journal.
func NewHeader(obj types.Reference, filterPaths, endPaths []string, endpoint string) *Record {
	return &Record{
		Kind: KindHeader,
		Ts:   now(),
		Header: &Header{
			JournalVersion: types.JournalVersion,
			Object:         obj,
			FilterPaths:    filterPaths,
			EndPaths:       endPaths,
			Endpoint:       endpoint,
		},
	}
}

// NewBatch records a poll result. A nil batch becomes a KindEmpty record.
func NewBatch(c *codec.Codec, b *types.UpdateBatch) (*Record, error) {
	if b == nil {
		return &Record{Kind: KindEmpty, Ts: now()}, nil
	}
	br := &BatchRecord{Version: b.Version, Truncated: b.Truncated}
	for _, d := range b.Changes {
		dr := DeltaRecord{Object: d.Object, Kind: d.Kind}
		for _, ch := range d.Changes {
			xml, err := encodeValue(c, ch.Val)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", d.Object, ch.Name, err)
			}
			dr.Changes = append(dr.Changes, ChangeRecord{Name: ch.Name, Op: ch.Op, XML: xml})
		}
		br.Deltas = append(br.Deltas, dr)
	}
	return &Record{Kind: KindBatch, Ts: now(), Batch: br}, nil
}

// NewFault records a failed poll.
func NewFault(err error) *Record {
	return &Record{
		Kind:  KindFault,
		Ts:    now(),
		Fault: &FaultRecord{Code: fault.Code(err), Message: err.Error()},
	}
}

// NewResult records the final slot values of a watch.
func NewResult(c *codec.Codec, slots []types.Slot) (*Record, error) {
	rec := &Record{Kind: KindResult, Ts: now()}
	for _, s := range slots {
		xml, err := encodeValue(c, s.Value)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", s.Path, err)
		}
		rec.Result = append(rec.Result, SlotRecord{Path: s.Path, State: s.State, XML: xml})
	}
	return rec, nil
}

// UpdateBatch decodes a KindBatch record.
func (r *Record) UpdateBatch(c *codec.Codec) (*types.UpdateBatch, error) {
	if r.Kind != KindBatch || r.Batch == nil {
		return nil, fmt.Errorf("record %d is %s, not a batch", r.Seq, r.Kind)
	}
	b := &types.UpdateBatch{Version: r.Batch.Version, Truncated: r.Batch.Truncated}
	for _, dr := range r.Batch.Deltas {
		d := types.ObjectDelta{Object: dr.Object, Kind: dr.Kind}
		for _, cr := range dr.Changes {
			v, err := decodeValue(c, cr.XML)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", dr.Object, cr.Name, err)
			}
			d.Changes = append(d.Changes, types.PropertyChange{Name: cr.Name, Op: cr.Op, Val: v})
		}
		b.Changes = append(b.Changes, d)
	}
	return b, nil
}

// Err rebuilds the classified error of a KindFault record.
func (r *Record) Err() error {
	if r.Kind != KindFault || r.Fault == nil {
		return nil
	}
	return fault.FromCode(r.Fault.Code, "replay", r.Fault.Message)
}

// Slots decodes a KindResult record.
func (r *Record) Slots(c *codec.Codec) ([]types.Slot, error) {
	slots := make([]types.Slot, 0, len(r.Result))
	for _, sr := range r.Result {
		v, err := decodeValue(c, sr.XML)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", sr.Path, err)
		}
		slots = append(slots, types.Slot{Path: sr.Path, State: sr.State, Value: v})
	}
	return slots, nil
}

func encodeValue(c *codec.Codec, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	return c.Encode(valueTag, schema.TypeAny, v)
}

func decodeValue(c *codec.Codec, xml string) (any, error) {
	if xml == "" {
		return nil, nil
	}
	return c.DecodeFragment(schema.TypeAny, xml)
}
