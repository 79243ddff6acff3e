// Package metrics provides per-watch counters for property collector traffic.
//
// The Collector accumulates counters while a watch or a serving session
// runs. It is a leaf package with no internal dependencies; callers pass
// change ops as plain strings.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Filter lifecycle
	FiltersCreated   int64
	FiltersDestroyed int64

	// Polling
	UpdatesReceived int64
	EmptyPolls      int64
	ChangesApplied  int64
	ChangesByOp     map[string]int64
	StaleVersions   int64
	Retries         int64

	// Watch outcomes
	WaitsCompleted int64
	WaitsFailed    int64

	// Codec
	DecodeErrors int64

	// Journal and adapter sinks
	JournalWrites   int64
	JournalFailures int64
	PublishSuccess  int64
	PublishFailure  int64

	// Dimensions (informational, set at construction)
	Backend   string
	SessionID string
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	filtersCreated   int64
	filtersDestroyed int64

	updatesReceived int64
	emptyPolls      int64
	changesApplied  int64
	changesByOp     map[string]int64
	staleVersions   int64
	retries         int64

	waitsCompleted int64
	waitsFailed    int64

	decodeErrors int64

	journalWrites   int64
	journalFailures int64
	publishSuccess  int64
	publishFailure  int64

	backend   string
	sessionID string
}

// NewCollector creates a Collector with dimension labels.
// backend names the collector implementation (memory, soap, replay).
func NewCollector(backend, sessionID string) *Collector {
	return &Collector{
		changesByOp: make(map[string]int64),
		backend:     backend,
		sessionID:   sessionID,
	}
}

func (c *Collector) add(p *int64) {
	c.mu.Lock()
	*p++
	c.mu.Unlock()
}

// --- Filter lifecycle ---

// IncFilterCreated records a filter creation.
func (c *Collector) IncFilterCreated() {
	if c == nil {
		return
	}
	c.add(&c.filtersCreated)
}

// IncFilterDestroyed records a filter destruction.
func (c *Collector) IncFilterDestroyed() {
	if c == nil {
		return
	}
	c.add(&c.filtersDestroyed)
}

// --- Polling ---

// IncUpdateReceived records a non-nil update batch.
func (c *Collector) IncUpdateReceived() {
	if c == nil {
		return
	}
	c.add(&c.updatesReceived)
}

// IncEmptyPoll records a poll that returned no batch.
func (c *Collector) IncEmptyPoll() {
	if c == nil {
		return
	}
	c.add(&c.emptyPolls)
}

// IncChangeApplied records one property change folded into a slot.
// op is the change op ("enter", "modify", "remove").
func (c *Collector) IncChangeApplied(op string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.changesApplied++
	c.changesByOp[op]++
	c.mu.Unlock()
}

// IncStaleVersion records a poll rejected for an unknown version.
func (c *Collector) IncStaleVersion() {
	if c == nil {
		return
	}
	c.add(&c.staleVersions)
}

// IncRetry records a retried transport call.
func (c *Collector) IncRetry() {
	if c == nil {
		return
	}
	c.add(&c.retries)
}

// --- Watch outcomes ---

// IncWaitCompleted records a wait that reached an expected value.
func (c *Collector) IncWaitCompleted() {
	if c == nil {
		return
	}
	c.add(&c.waitsCompleted)
}

// IncWaitFailed records a wait that ended with an error.
func (c *Collector) IncWaitFailed() {
	if c == nil {
		return
	}
	c.add(&c.waitsFailed)
}

// IncDecodeError records a document the codec rejected.
func (c *Collector) IncDecodeError() {
	if c == nil {
		return
	}
	c.add(&c.decodeErrors)
}

// --- Sinks ---
// Journal counters are per-record; publish counters are per-event.

// IncJournalWrite records a journal record written.
func (c *Collector) IncJournalWrite() {
	if c == nil {
		return
	}
	c.add(&c.journalWrites)
}

// IncJournalFailure records a journal write that failed.
func (c *Collector) IncJournalFailure() {
	if c == nil {
		return
	}
	c.add(&c.journalFailures)
}

// IncPublishSuccess records an adapter publish that succeeded.
func (c *Collector) IncPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.publishSuccess)
}

// IncPublishFailure records an adapter publish that failed.
func (c *Collector) IncPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.publishFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		FiltersCreated:   c.filtersCreated,
		FiltersDestroyed: c.filtersDestroyed,

		UpdatesReceived: c.updatesReceived,
		EmptyPolls:      c.emptyPolls,
		ChangesApplied:  c.changesApplied,
		ChangesByOp:     maps.Clone(c.changesByOp),
		StaleVersions:   c.staleVersions,
		Retries:         c.retries,

		WaitsCompleted: c.waitsCompleted,
		WaitsFailed:    c.waitsFailed,

		DecodeErrors: c.decodeErrors,

		JournalWrites:   c.journalWrites,
		JournalFailures: c.journalFailures,
		PublishSuccess:  c.publishSuccess,
		PublishFailure:  c.publishFailure,

		Backend:   c.backend,
		SessionID: c.sessionID,
	}
}
