package policy

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/pithecene-io/propwatch/journal"
	"github.com/pithecene-io/propwatch/log"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferRecords is the maximum number of records to buffer.
	MaxBufferRecords int

	// FlushAtLimit flushes the buffer when it fills instead of applying
	// drop rules.
	FlushAtLimit bool

	// Logger is an optional logger for policy observability.
	// If nil, no logging is emitted.
	Logger *log.Logger
}

// DefaultBufferedConfig returns sensible defaults for buffered policy.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{MaxBufferRecords: 256, FlushAtLimit: true}
}

// ErrBufferFull is returned when the buffer is full and the record is non-droppable.
var ErrBufferFull = errors.New("buffer full: cannot accept non-droppable record")

// ErrInvalidConfig is returned when BufferedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config: MaxBufferRecords must be positive")

// BufferedPolicy implements buffered persistence with drop rules.
//
//   - Bounded buffer with an explicit record limit
//   - May drop: empty poll records
//   - Batch writes on flush; buffers survive a failed flush
//   - Flushed when the watch ends
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	flushMu sync.Mutex // serializes flushes
	mu      sync.Mutex // guards buffer and c
	buffer  []*journal.Record
	c       counters
}

// NewBufferedPolicy creates a new buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferRecords <= 0 {
		return nil, ErrInvalidConfig
	}
	return &BufferedPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		buffer: make([]*journal.Record, 0, config.MaxBufferRecords),
	}, nil
}

// Ingest buffers the record.
//
// When full:
//   - With FlushAtLimit: flush, then buffer the record
//   - If the record is droppable: drop it, record in stats
//   - If non-droppable and the buffer holds droppable records: drop the oldest one
//   - Otherwise: return ErrBufferFull (ends the watch)
func (p *BufferedPolicy) Ingest(ctx context.Context, rec *journal.Record) error {
	p.mu.Lock()
	p.c.TotalRecords++
	if len(p.buffer) < p.config.MaxBufferRecords {
		p.buffer = append(p.buffer, rec)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.config.FlushAtLimit {
		if err := p.Flush(ctx); err != nil {
			return err
		}
		p.mu.Lock()
		p.buffer = append(p.buffer, rec)
		p.mu.Unlock()
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if IsDroppable(rec.Kind) {
		p.c.dropped(rec.Kind)
		p.logDrop(rec.Kind)
		return nil
	}
	if p.dropOldestDroppable() {
		p.buffer = append(p.buffer, rec)
		return nil
	}
	p.c.Errors++
	p.logger.Error("policy buffer overflow", map[string]any{"kind": string(rec.Kind)})
	return ErrBufferFull
}

// dropOldestDroppable evicts the oldest droppable record. Caller must hold mu.
func (p *BufferedPolicy) dropOldestDroppable() bool {
	i := slices.IndexFunc(p.buffer, func(r *journal.Record) bool { return IsDroppable(r.Kind) })
	if i < 0 {
		return false
	}
	kind := p.buffer[i].Kind
	p.buffer = slices.Delete(p.buffer, i, i+1)
	p.c.dropped(kind)
	p.logDrop(kind)
	return true
}

// Flush writes buffered records to the sink. On failure the buffer is kept
// intact; a retry may write duplicates but never loses records.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.c.FlushCount++
	records := slices.Clone(p.buffer)
	p.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	if err := p.sink.WriteRecords(ctx, records); err != nil {
		p.mu.Lock()
		p.c.Errors++
		p.mu.Unlock()
		p.logger.Warn("policy flush failed", map[string]any{"records": len(records), "error": err.Error()})
		return err
	}

	p.mu.Lock()
	p.c.RecordsPersisted += int64(len(records))
	// Records ingested during the write stay buffered.
	p.buffer = slices.Delete(p.buffer, 0, len(records))
	p.mu.Unlock()
	return nil
}

// Close closes the underlying sink. Unflushed records are discarded.
func (p *BufferedPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns a snapshot consistent with the buffer state.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.c.snapshot(len(p.buffer))
}

func (p *BufferedPolicy) logDrop(kind journal.Kind) {
	p.logger.Debug("policy dropped record", map[string]any{"kind": string(kind), "reason": "buffer_full"})
}
