// Package collector defines the property collector boundary: server-side
// filters that watch (objects × property paths) and report changes as
// versioned update batches.
//
// Implementations live in subpackages (memory, replay) and in soap for the
// remote transport.
package collector

import (
	"context"

	"github.com/pithecene-io/propwatch/types"
)

// FilterState tracks the lifecycle of a filter handle.
type FilterState string

const (
	// FilterUnfiled is a handle that was never registered with a collector.
	FilterUnfiled FilterState = "unfiled"
	// FilterFiled is a live filter. Changes are reported for it.
	FilterFiled FilterState = "filed"
	// FilterDestroyed is terminal; no further changes are reported.
	FilterDestroyed FilterState = "destroyed"
)

// Filter is a server-side subscription created by CreateFilter.
type Filter interface {
	// Handle returns the opaque server-assigned identity of the filter.
	Handle() string

	// Spec returns the selection the filter was created with.
	Spec() types.FilterSpec

	// PartialUpdates reports whether only changed properties are delivered.
	// When false, every change to an object delivers all its selected
	// properties.
	PartialUpdates() bool

	// State returns the current lifecycle state.
	State() FilterState

	// Destroy stops the filter. Destroying a destroyed filter succeeds.
	Destroy(ctx context.Context) error
}

// PropertyCollector is the server endpoint that owns filters and version
// cursors for one session.
type PropertyCollector interface {
	// CreateFilter registers a filter for the session. The next
	// WaitForUpdates or CheckForUpdates call reports the current values of
	// the selected properties as entering.
	CreateFilter(ctx context.Context, spec types.FilterSpec, partial bool) (Filter, error)

	// CheckForUpdates returns the changes since version without blocking.
	// It returns nil when nothing changed.
	CheckForUpdates(ctx context.Context, version string) (*types.UpdateBatch, error)

	// WaitForUpdates blocks until a change since version is available.
	// The empty version requests the full current state. A nil batch with a
	// nil error means "nothing yet"; callers poll again with the same version.
	WaitForUpdates(ctx context.Context, version string) (*types.UpdateBatch, error)

	// CancelWaitForUpdates makes a blocked WaitForUpdates of the same
	// session return fault.ErrCanceled.
	CancelWaitForUpdates(ctx context.Context) error

	// RetrieveProperties returns a one-shot snapshot of the selected
	// properties without creating a filter.
	RetrieveProperties(ctx context.Context, specs []types.FilterSpec) ([]types.ObjectContent, error)

	// Filters returns the live filters of the session.
	Filters(ctx context.Context) ([]Filter, error)
}

// Mutator is implemented by collectors whose object store can be changed
// in process. The server side of the soap transport and the seed runner
// drive state changes through it.
type Mutator interface {
	// Put replaces the whole state of an object, creating it if needed.
	Put(ref types.Reference, obj *types.Object) error

	// Set assigns a value at a dotted property path.
	Set(ref types.Reference, path string, value any) error

	// Remove clears the property at path.
	Remove(ref types.Reference, path string) error

	// Delete removes the object. Filters watching it see it leave.
	Delete(ref types.Reference) error
}
