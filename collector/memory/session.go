package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/propwatch/collector"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
)

// Session is one client's view of a Store: its filters and its version
// history. All fields are guarded by the store mutex.
type Session struct {
	store *Store
	id    string

	filters map[string]*filter
	order   []string

	// seq is the newest version; floor is the oldest version still
	// answerable from history.
	seq     int
	floor   int
	history []entry

	// changed is closed and replaced whenever history grows.
	changed chan struct{}
	// cancel is closed and replaced by CancelWaitForUpdates.
	cancel chan struct{}
	closed bool
}

type entry struct {
	seq    int
	deltas []types.ObjectDelta
}

var _ collector.PropertyCollector = (*Session)(nil)

// Resolver returns the schema of the store behind the session.
func (s *Session) Resolver() *schema.Resolver {
	return s.store.resolver
}

// ID returns the session identity.
func (s *Session) ID() string {
	return s.id
}

// Close destroys the session's filters and detaches it from the store.
// Blocked waits return fault.ErrCanceled.
func (s *Session) Close() {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()
	if s.closed {
		return
	}
	for _, f := range s.filters {
		f.state = collector.FilterDestroyed
	}
	s.filters = make(map[string]*filter)
	s.order = nil
	s.closed = true
	close(s.cancel)
	delete(st.sessions, s.id)
	st.logger.Debug("session closed", map[string]any{"session_id": s.id})
}

// CreateFilter validates spec against the schema and registers a filter.
// Every selected object must exist.
func (s *Session) CreateFilter(_ context.Context, spec types.FilterSpec, partial bool) (collector.Filter, error) {
	if err := s.store.validate(spec); err != nil {
		return nil, err
	}

	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	if s.closed {
		return nil, fault.New(fault.ErrNotFound, "createFilter", "session "+s.id)
	}
	var deltas []types.ObjectDelta
	for _, o := range spec.ObjectSet {
		obj, ok := st.objects[o.Obj]
		if !ok {
			return nil, fault.New(fault.ErrNotFound, "createFilter", o.Obj.String())
		}
		if o.Skip {
			continue
		}
		deltas = append(deltas, types.ObjectDelta{
			Object:  o.Obj,
			Kind:    types.ObjectEnter,
			Changes: st.enterChanges(spec, o.Obj, obj),
		})
	}

	f := &filter{
		session: s,
		handle:  uuid.NewString(),
		spec:    spec,
		partial: partial,
		state:   collector.FilterFiled,
	}
	s.filters[f.handle] = f
	s.order = append(s.order, f.handle)
	s.record(deltas)

	st.logger.Debug("filter created", map[string]any{
		"session_id": s.id,
		"handle":     f.handle,
		"objects":    len(spec.ObjectSet),
		"partial":    partial,
	})
	return f, nil
}

// CheckForUpdates returns the changes since version, or nil if none.
func (s *Session) CheckForUpdates(_ context.Context, version string) (*types.UpdateBatch, error) {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.collect("checkForUpdates", version)
}

// WaitForUpdates blocks until a change since version is recorded. It
// returns a nil batch when the store's max wait elapses first.
func (s *Session) WaitForUpdates(ctx context.Context, version string) (*types.UpdateBatch, error) {
	st := s.store
	var timeout <-chan time.Time
	if st.maxWait > 0 {
		t := time.NewTimer(st.maxWait)
		defer t.Stop()
		timeout = t.C
	}

	for {
		st.mu.Lock()
		batch, err := s.collect("waitForUpdates", version)
		changed, cancel := s.changed, s.cancel
		st.mu.Unlock()
		if err != nil || batch != nil {
			return batch, err
		}

		select {
		case <-ctx.Done():
			return nil, fault.Wrap(fault.ErrCanceled, "waitForUpdates", ctx.Err())
		case <-cancel:
			return nil, fault.New(fault.ErrCanceled, "waitForUpdates", "")
		case <-timeout:
			return nil, nil
		case <-changed:
		}
	}
}

// CancelWaitForUpdates releases any WaitForUpdates blocked on this session.
func (s *Session) CancelWaitForUpdates(_ context.Context) error {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()
	if s.closed {
		return nil
	}
	close(s.cancel)
	s.cancel = make(chan struct{})
	return nil
}

// RetrieveProperties returns the present selected values of each object.
func (s *Session) RetrieveProperties(_ context.Context, specs []types.FilterSpec) ([]types.ObjectContent, error) {
	st := s.store
	for _, spec := range specs {
		if err := st.validate(spec); err != nil {
			return nil, err
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var out []types.ObjectContent
	for _, spec := range specs {
		for _, o := range spec.ObjectSet {
			obj, ok := st.objects[o.Obj]
			if !ok {
				return nil, fault.New(fault.ErrNotFound, "retrieveProperties", o.Obj.String())
			}
			if o.Skip {
				continue
			}
			content := types.ObjectContent{Obj: o.Obj}
			for _, p := range st.selection(spec, o.Obj.Type) {
				if v, ok := obj.Lookup(p); ok {
					content.PropSet = append(content.PropSet, types.DynamicProperty{Name: p, Val: types.CloneValue(v)})
				}
			}
			out = append(out, content)
		}
	}
	return out, nil
}

// Filters returns the live filters in creation order.
func (s *Session) Filters(_ context.Context) ([]collector.Filter, error) {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []collector.Filter
	for _, f := range s.live() {
		out = append(out, f)
	}
	return out, nil
}

// Version returns the newest version of the session.
func (s *Session) Version() string {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return strconv.Itoa(s.seq)
}

// live returns filed filters in creation order. Caller holds the store mutex.
func (s *Session) live() []*filter {
	out := make([]*filter, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.filters[h])
	}
	return out
}

// watches reports whether any live filter selects ref.
func (s *Session) watches(ref types.Reference) bool {
	return slices.ContainsFunc(s.live(), func(f *filter) bool { return watches(f.spec, ref) })
}

// record appends a history entry and wakes waiters. Caller holds the store mutex.
func (s *Session) record(deltas []types.ObjectDelta) {
	if len(deltas) == 0 || s.closed {
		return
	}
	s.seq++
	s.history = append(s.history, entry{seq: s.seq, deltas: deltas})
	if over := len(s.history) - s.store.historyLimit; over > 0 {
		s.floor = s.history[over-1].seq
		s.history = slices.Delete(s.history, 0, over)
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

// collect builds the batch for a poll at version. Caller holds the store mutex.
func (s *Session) collect(op, version string) (*types.UpdateBatch, error) {
	if s.closed {
		return nil, fault.New(fault.ErrCanceled, op, "session closed")
	}
	if version == "" {
		return s.snapshot(), nil
	}

	v, err := strconv.Atoi(version)
	if err != nil || v < s.floor || v > s.seq {
		return nil, fault.New(fault.ErrStaleVersion, op, version)
	}

	i, _ := slices.BinarySearchFunc(s.history, v+1, func(e entry, target int) int { return e.seq - target })
	pending := s.history[i:]
	if len(pending) == 0 {
		return nil, nil
	}

	batch := &types.UpdateBatch{}
	var all []types.ObjectDelta
	count := 0
	for n, e := range pending {
		if s.store.batchLimit > 0 && n > 0 && count >= s.store.batchLimit {
			batch.Truncated = true
			break
		}
		all = append(all, e.deltas...)
		for _, d := range e.deltas {
			count += len(d.Changes)
		}
		batch.Version = strconv.Itoa(e.seq)
	}
	batch.Changes = mergeDeltas(all)
	return batch, nil
}

// snapshot reports every present selected value of the live filters as
// entering, at the current version.
func (s *Session) snapshot() *types.UpdateBatch {
	st := s.store
	var all []types.ObjectDelta
	for _, f := range s.live() {
		for _, o := range f.spec.ObjectSet {
			obj, ok := st.objects[o.Obj]
			if !ok || o.Skip {
				continue
			}
			all = append(all, types.ObjectDelta{
				Object:  o.Obj,
				Kind:    types.ObjectEnter,
				Changes: st.enterChanges(f.spec, o.Obj, obj),
			})
		}
	}
	return &types.UpdateBatch{Version: strconv.Itoa(s.seq), Changes: mergeDeltas(all)}
}

// mergeDeltas folds consecutive deltas into one per object, keeping the
// first-seen object order. Later changes to a path replace earlier ones.
func mergeDeltas(deltas []types.ObjectDelta) []types.ObjectDelta {
	var out []types.ObjectDelta
	index := make(map[types.Reference]int)
	for _, d := range deltas {
		i, ok := index[d.Object]
		if !ok {
			index[d.Object] = len(out)
			out = append(out, types.ObjectDelta{Object: d.Object, Kind: d.Kind, Changes: slices.Clone(d.Changes)})
			continue
		}
		m := &out[i]
		switch {
		case d.Kind == types.ObjectLeave:
			m.Kind = types.ObjectLeave
			m.Changes = nil
			continue
		case m.Kind == types.ObjectLeave:
			m.Kind = d.Kind
			m.Changes = slices.Clone(d.Changes)
			continue
		case d.Kind == types.ObjectEnter:
			m.Kind = types.ObjectEnter
		}
		for _, c := range d.Changes {
			j := slices.IndexFunc(m.Changes, func(x types.PropertyChange) bool { return x.Name == c.Name })
			if j < 0 {
				m.Changes = append(m.Changes, c)
				continue
			}
			if m.Changes[j].Op == types.OpEnter && c.Op == types.OpModify {
				c.Op = types.OpEnter
			}
			m.Changes[j] = c
		}
	}
	return out
}

// validate checks the spec shape and resolves every path against the schema.
func (s *Store) validate(spec types.FilterSpec) error {
	if err := spec.Validate(); err != nil {
		return fault.Wrap(fault.ErrInvalidPropertyPath, "validate", err)
	}
	for _, p := range spec.PropSet {
		if _, err := s.resolver.Resolve(p.Type); err != nil {
			return err
		}
		for _, path := range p.PathSet {
			if _, _, err := s.resolver.ResolvePath(p.Type, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// filter is a live or destroyed filter handle.
type filter struct {
	session *Session
	handle  string
	spec    types.FilterSpec
	partial bool
	state   collector.FilterState
}

var _ collector.Filter = (*filter)(nil)

func (f *filter) Handle() string         { return f.handle }
func (f *filter) Spec() types.FilterSpec { return f.spec }
func (f *filter) PartialUpdates() bool   { return f.partial }

func (f *filter) State() collector.FilterState {
	f.session.store.mu.Lock()
	defer f.session.store.mu.Unlock()
	return f.state
}

// Destroy stops the filter. Changes already recorded stay in history.
func (f *filter) Destroy(_ context.Context) error {
	s := f.session
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if f.state == collector.FilterDestroyed {
		return nil
	}
	f.state = collector.FilterDestroyed
	delete(s.filters, f.handle)
	s.order = slices.DeleteFunc(s.order, func(h string) bool { return h == f.handle })
	s.store.logger.Debug("filter destroyed", map[string]any{"session_id": s.id, "handle": f.handle})
	return nil
}

func (f *filter) String() string {
	return fmt.Sprintf("filter %s (%s)", f.handle, f.state)
}
