package policy

import (
	"context"
	"slices"
	"sync"

	"github.com/pithecene-io/propwatch/journal"
)

// Sink is where a policy writes records. Strict policies write batches of
// one; buffered policies write whatever accumulated since the last flush.
type Sink interface {
	WriteRecords(ctx context.Context, records []*journal.Record) error
	Close() error
}

var (
	_ Sink = (*journal.Writer)(nil)
	_ Sink = (*MemorySink)(nil)
)

// MemorySink keeps records in memory. Watch and policy tests use it in
// place of a journal file.
type MemorySink struct {
	mu      sync.Mutex
	batches int
	records []*journal.Record
	closed  bool
	failErr error
}

// WriteRecords appends the batch, or returns the error set by FailWith.
func (s *MemorySink) WriteRecords(_ context.Context, records []*journal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.batches++
	s.records = append(s.records, records...)
	return nil
}

// FailWith makes later writes return err. A nil err clears the failure.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []*journal.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Batches counts successful WriteRecords calls.
func (s *MemorySink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Kinds lists the kinds of written records in order.
func (s *MemorySink) Kinds() []journal.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]journal.Kind, len(s.records))
	for i, r := range s.records {
		out[i] = r.Kind
	}
	return out
}
