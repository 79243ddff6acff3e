package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/propwatch/journal"
)

// NoopPolicy accepts records without persisting them. Used when a watch
// has no journal configured.
//
// Stats keep droppable semantics: empty poll records count as dropped,
// everything else as persisted.
type NoopPolicy struct {
	mu sync.Mutex
	c  counters
}

// NewNoopPolicy creates a new no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{}
}

// Ingest accepts the record but does not persist it.
func (p *NoopPolicy) Ingest(_ context.Context, rec *journal.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c.TotalRecords++
	if IsDroppable(rec.Kind) {
		p.c.dropped(rec.Kind)
	} else {
		p.c.RecordsPersisted++
	}
	return nil
}

// Flush is a no-op.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.mu.Lock()
	p.c.FlushCount++
	p.mu.Unlock()
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error {
	return nil
}

// Stats returns the policy statistics.
func (p *NoopPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.c.snapshot(0)
}
