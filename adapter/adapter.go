// Package adapter defines the notification boundary for finished watches.
//
// Adapters publish watch completion events to downstream systems.
// The watch owns adapter calls; users provide configuration only.
package adapter

import (
	"context"
	"time"
)

// DefaultBackoff is the base delay between publish attempts; it doubles per retry.
const DefaultBackoff = 500 * time.Millisecond

// EventTypeWatchCompleted is the event_type of every WatchCompletedEvent.
const EventTypeWatchCompleted = "watch_completed"

// Outcomes of a watch.
const (
	OutcomeSuccess  = "success"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// WatchCompletedEvent is the payload published when a watch ends.
type WatchCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "watch_completed"
	WatchID         string `json:"watch_id"`
	Object          string `json:"object"` // Type:value
	Outcome         string `json:"outcome"`
	// ErrorCode is the fault code of a failed watch (e.g. "stale_version").
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	// Matched is the termination path whose value ended the watch.
	Matched string `json:"matched,omitempty"`
	// Values holds the text form of every set tracked slot.
	Values     map[string]string `json:"values,omitempty"`
	Version    string            `json:"version"`
	Batches    int64             `json:"batches"`
	Timestamp  string            `json:"timestamp"` // ISO 8601
	DurationMs int64             `json:"duration_ms"`
}

// Adapter publishes watch completion events to a downstream system.
type Adapter interface {
	// Publish sends a watch completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *WatchCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
