// Package policy controls how observed collector traffic reaches the
// journal, and how transport calls are retried.
package policy

import (
	"context"
	"maps"

	"github.com/pithecene-io/propwatch/journal"
)

// Policy decides when journal records reach the sink.
//
// Rules:
//   - May drop: empty poll records
//   - Must NOT drop: header, batch, fault, result
//   - Policy must not alter record contents
//   - Policy failure ends the watch
type Policy interface {
	// Ingest handles one record. May drop droppable kinds.
	// Must not drop other kinds; returns an error instead.
	Ingest(ctx context.Context, rec *journal.Record) error

	// Flush writes any buffered records.
	// Called when the watch ends, whatever its outcome.
	Flush(ctx context.Context) error

	// Close releases policy resources, including the sink.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy observability counters.
type Stats struct {
	// TotalRecords is the total number of records received.
	TotalRecords int64
	// RecordsPersisted is the number of records written to the sink.
	RecordsPersisted int64
	// RecordsDropped is the total number of records dropped.
	RecordsDropped int64
	// DroppedByKind maps record kinds to drop counts.
	DroppedByKind map[journal.Kind]int64
	// BufferSize is the current number of buffered records (if buffered).
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the count of sink errors encountered.
	Errors int64
}

func (s Stats) clone() Stats {
	s.DroppedByKind = maps.Clone(s.DroppedByKind)
	if s.DroppedByKind == nil {
		s.DroppedByKind = make(map[journal.Kind]int64)
	}
	return s
}

// droppableKinds defines which record kinds may be dropped.
var droppableKinds = map[journal.Kind]bool{
	journal.KindEmpty: true,
}

// IsDroppable returns true if the record kind may be dropped by policy.
func IsDroppable(kind journal.Kind) bool {
	return droppableKinds[kind]
}

// counters accumulates Stats. It has no lock of its own; every policy
// guards it with the mutex that also guards its buffer.
type counters struct {
	Stats
}

func (c *counters) dropped(kind journal.Kind) {
	c.RecordsDropped++
	if c.DroppedByKind == nil {
		c.DroppedByKind = make(map[journal.Kind]int64)
	}
	c.DroppedByKind[kind]++
}

func (c *counters) snapshot(buffered int) Stats {
	s := c.Stats.clone()
	s.BufferSize = int64(buffered)
	return s
}
