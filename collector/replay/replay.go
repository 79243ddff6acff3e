// Package replay implements a property collector that answers polls from
// a fixed script, such as a recorded journal.
//
// Each WaitForUpdates or CheckForUpdates call consumes the next step. Once
// the script runs out, polls fail with fault.ErrCanceled so a replayed
// watch always ends.
package replay

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/collector"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/journal"
	"github.com/pithecene-io/propwatch/types"
)

// Step is one scripted poll answer: a batch (nil for "nothing yet") or an error.
type Step struct {
	Batch *types.UpdateBatch
	Err   error
}

// Collector replays scripted steps. It is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	steps    []Step
	pos      int
	filters  []*filter
	canceled bool

	// state accumulates replayed property values for RetrieveProperties.
	state map[types.Reference]map[string]any

	// polls lists the version passed to each poll, in order.
	polls     []string
	destroyed int
}

var _ collector.PropertyCollector = (*Collector)(nil)

// New creates a collector that answers polls with steps in order.
func New(steps ...Step) *Collector {
	return &Collector{
		steps: steps,
		state: make(map[types.Reference]map[string]any),
	}
}

// FromRecords builds the script from journal records. Batch, empty and
// fault records become steps; other kinds are skipped.
func FromRecords(c *codec.Codec, records []*journal.Record) (*Collector, error) {
	var steps []Step
	for _, rec := range records {
		switch rec.Kind {
		case journal.KindBatch:
			b, err := rec.UpdateBatch(c)
			if err != nil {
				return nil, err
			}
			steps = append(steps, Step{Batch: b})
		case journal.KindEmpty:
			steps = append(steps, Step{})
		case journal.KindFault:
			steps = append(steps, Step{Err: rec.Err()})
		}
	}
	return New(steps...), nil
}

// CreateFilter records the filter; no validation is done.
func (c *Collector) CreateFilter(_ context.Context, spec types.FilterSpec, partial bool) (collector.Filter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := &filter{owner: c, handle: uuid.NewString(), spec: spec, partial: partial, state: collector.FilterFiled}
	c.filters = append(c.filters, f)
	return f, nil
}

// CheckForUpdates consumes the next step.
func (c *Collector) CheckForUpdates(ctx context.Context, version string) (*types.UpdateBatch, error) {
	return c.next(ctx, "checkForUpdates", version)
}

// WaitForUpdates consumes the next step.
func (c *Collector) WaitForUpdates(ctx context.Context, version string) (*types.UpdateBatch, error) {
	return c.next(ctx, "waitForUpdates", version)
}

func (c *Collector) next(ctx context.Context, op, version string) (*types.UpdateBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.ErrCanceled, op, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.polls = append(c.polls, version)
	if c.canceled {
		c.canceled = false
		return nil, fault.New(fault.ErrCanceled, op, "")
	}
	if c.pos >= len(c.steps) {
		return nil, fault.New(fault.ErrCanceled, op, "replay exhausted")
	}
	s := c.steps[c.pos]
	c.pos++
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Batch != nil {
		c.apply(s.Batch)
	}
	return s.Batch, nil
}

func (c *Collector) apply(b *types.UpdateBatch) {
	for _, d := range b.Changes {
		if d.Kind == types.ObjectLeave {
			delete(c.state, d.Object)
			continue
		}
		props := c.state[d.Object]
		if props == nil {
			props = make(map[string]any)
			c.state[d.Object] = props
		}
		for _, ch := range d.Changes {
			if ch.Op == types.OpRemove {
				delete(props, ch.Name)
			} else {
				props[ch.Name] = ch.Val
			}
		}
	}
}

// CancelWaitForUpdates makes the next poll fail with fault.ErrCanceled.
func (c *Collector) CancelWaitForUpdates(_ context.Context) error {
	c.mu.Lock()
	c.canceled = true
	c.mu.Unlock()
	return nil
}

// RetrieveProperties answers from the values replayed so far. Only
// explicitly listed paths are returned.
func (c *Collector) RetrieveProperties(_ context.Context, specs []types.FilterSpec) ([]types.ObjectContent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []types.ObjectContent
	for _, spec := range specs {
		for _, o := range spec.ObjectSet {
			props, ok := c.state[o.Obj]
			if !ok {
				return nil, fault.New(fault.ErrNotFound, "retrieveProperties", o.Obj.String())
			}
			content := types.ObjectContent{Obj: o.Obj}
			paths, _ := spec.PathsFor(o.Obj.Type)
			for _, p := range paths {
				if v, ok := props[p]; ok {
					content.PropSet = append(content.PropSet, types.DynamicProperty{Name: p, Val: v})
				}
			}
			out = append(out, content)
		}
	}
	return out, nil
}

// Filters returns the filters that were not destroyed.
func (c *Collector) Filters(_ context.Context) ([]collector.Filter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []collector.Filter
	for _, f := range c.filters {
		if f.state == collector.FilterFiled {
			out = append(out, f)
		}
	}
	return out, nil
}

// Polls returns the versions passed to each poll so far.
func (c *Collector) Polls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.polls...)
}

// Destroyed returns how many times a filter was actually destroyed.
// Repeated Destroy calls on one filter count once.
func (c *Collector) Destroyed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Remaining returns the number of unconsumed steps.
func (c *Collector) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps) - c.pos
}

type filter struct {
	owner   *Collector
	handle  string
	spec    types.FilterSpec
	partial bool
	state   collector.FilterState
}

func (f *filter) Handle() string         { return f.handle }
func (f *filter) Spec() types.FilterSpec { return f.spec }
func (f *filter) PartialUpdates() bool   { return f.partial }

func (f *filter) State() collector.FilterState {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	return f.state
}

func (f *filter) Destroy(_ context.Context) error {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	if f.state != collector.FilterDestroyed {
		f.state = collector.FilterDestroyed
		f.owner.destroyed++
	}
	return nil
}
