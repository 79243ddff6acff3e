package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/propwatch/journal"
)

// StrictPolicy implements synchronous, unbuffered persistence.
//
//   - No buffering: each record is written immediately
//   - No drops: every record is persisted
//   - Backpressure: the watch blocks on sink latency
//   - Sink errors end the watch
type StrictPolicy struct {
	sink Sink

	mu sync.Mutex
	c  counters
}

// NewStrictPolicy creates a new strict policy writing to the given sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink}
}

// Ingest writes the record immediately to the sink.
func (p *StrictPolicy) Ingest(ctx context.Context, rec *journal.Record) error {
	err := p.sink.WriteRecords(ctx, []*journal.Record{rec})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.c.TotalRecords++
	if err != nil {
		p.c.Errors++
		return err
	}
	p.c.RecordsPersisted++
	return nil
}

// Flush is a no-op for strict policy (nothing is buffered).
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.mu.Lock()
	p.c.FlushCount++
	p.mu.Unlock()
	return nil
}

// Close closes the underlying sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.c.snapshot(0)
}
