// Package memory implements an in-process property collector over a
// mutable object store.
//
// A Store owns managed objects and their schema. Each client gets its own
// Session, which holds that client's filters and version history. Mutations
// through the Store fan out to every session whose live filters select the
// changed property.
package memory

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/log"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
)

// DefaultHistoryLimit is the number of update entries each session retains.
// Polls with an older version fail with fault.ErrStaleVersion.
const DefaultHistoryLimit = 64

// Store is the shared object store behind all sessions.
// It is safe for concurrent use; one mutex guards objects and sessions.
type Store struct {
	mu       sync.Mutex
	resolver *schema.Resolver
	objects  map[types.Reference]*types.Object
	sessions map[string]*Session
	logger   *log.Logger

	historyLimit int
	batchLimit   int
	maxWait      time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithHistoryLimit sets how many update entries each session retains.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithBatchLimit caps the property changes returned by one poll. Batches
// that stop early are marked truncated; the rest arrive on the next poll.
// Zero means unlimited.
func WithBatchLimit(n int) Option {
	return func(s *Store) { s.batchLimit = n }
}

// WithMaxWait bounds how long WaitForUpdates blocks before returning a nil
// batch. Zero waits until a change, cancellation or context expiry.
func WithMaxWait(d time.Duration) Option {
	return func(s *Store) { s.maxWait = d }
}

// NewStore creates an empty store. Property paths are validated against
// resolver; nil means builtin types only.
func NewStore(resolver *schema.Resolver, opts ...Option) *Store {
	if resolver == nil {
		resolver = schema.NewResolver(nil)
	}
	s := &Store{
		resolver:     resolver,
		objects:      make(map[types.Reference]*types.Object),
		sessions:     make(map[string]*Session),
		historyLimit: DefaultHistoryLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Resolver returns the schema resolver used for path validation.
func (s *Store) Resolver() *schema.Resolver {
	return s.resolver
}

// Session opens a new client session.
func (s *Store) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		store:   s,
		id:      uuid.NewString(),
		filters: make(map[string]*filter),
		changed: make(chan struct{}),
		cancel:  make(chan struct{}),
	}
	s.sessions[sess.id] = sess
	s.logger.Debug("session opened", map[string]any{"session_id": sess.id})
	return sess
}

// Get returns a copy of the current state of an object.
func (s *Store) Get(ref types.Reference) (*types.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[ref]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// Objects returns the references of all stored objects, sorted.
func (s *Store) Objects() []types.Reference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.SortedFunc(maps.Keys(s.objects), func(a, b types.Reference) int {
		return strings.Compare(a.String(), b.String())
	})
}

// Put replaces the whole state of an object, creating it if needed.
// obj.Type defaults to ref.Type and must be ref.Type or a descendant.
func (s *Store) Put(ref types.Reference, obj *types.Object) error {
	if obj == nil {
		obj = types.NewObject(ref.Type)
	}
	obj = obj.Clone()
	if obj.Type == "" {
		obj.Type = ref.Type
	}
	t, err := s.resolver.Resolve(obj.Type)
	if err != nil {
		return err
	}
	if t.Kind != schema.KindComposite || !t.Is(ref.Type) {
		return fault.New(fault.ErrMalformedDocument, "put", obj.Type+" is not a "+ref.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.objects[ref]
	s.objects[ref] = obj
	if !existed {
		s.publishEnter(ref, obj)
		return nil
	}

	var changed []string
	names := make(map[string]bool)
	for _, f := range prev.Fields {
		names[f.Name] = true
	}
	for _, f := range obj.Fields {
		names[f.Name] = true
	}
	for _, name := range slices.Sorted(maps.Keys(names)) {
		a, _ := prev.Get(name)
		b, _ := obj.Get(name)
		if !types.Equal(a, b) {
			changed = append(changed, name)
		}
	}
	s.publish(ref, obj, changed)
	return nil
}

// Set assigns value at a dotted property path, creating intermediate
// records as needed. A nil value removes the property.
func (s *Store) Set(ref types.Reference, path string, value any) error {
	if _, _, err := s.resolver.ResolvePath(ref.Type, path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[ref]
	if !ok {
		return fault.New(fault.ErrNotFound, "set", ref.String())
	}
	if err := s.setPath(obj, ref.Type, path, value); err != nil {
		return err
	}
	s.publish(ref, obj, []string{path})
	return nil
}

// Remove clears the property at path. Removing an absent property is a no-op.
func (s *Store) Remove(ref types.Reference, path string) error {
	if _, _, err := s.resolver.ResolvePath(ref.Type, path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[ref]
	if !ok {
		return fault.New(fault.ErrNotFound, "remove", ref.String())
	}
	if !removePath(obj, path) {
		return nil
	}
	s.publish(ref, obj, []string{path})
	return nil
}

// Delete removes an object. Sessions watching it see it leave.
func (s *Store) Delete(ref types.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[ref]; !ok {
		return fault.New(fault.ErrNotFound, "delete", ref.String())
	}
	delete(s.objects, ref)
	for _, sess := range s.sessions {
		if sess.watches(ref) {
			sess.record([]types.ObjectDelta{{Object: ref, Kind: types.ObjectLeave}})
		}
	}
	return nil
}

func (s *Store) setPath(obj *types.Object, typeName, path string, value any) error {
	segs := strings.Split(path, ".")
	cur := obj
	for i, seg := range segs[:len(segs)-1] {
		next, _ := cur.Get(seg)
		rec, ok := next.(*types.Object)
		if !ok || rec == nil {
			f, _, err := s.resolver.ResolvePath(typeName, strings.Join(segs[:i+1], "."))
			if err != nil {
				return err
			}
			rec = types.NewObject(f.Type)
			cur.Set(seg, rec)
		}
		cur = rec
	}
	cur.Set(segs[len(segs)-1], types.CloneValue(value))
	return nil
}

func removePath(obj *types.Object, path string) bool {
	parent := obj
	name := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		v, ok := obj.Lookup(path[:i])
		if !ok {
			return false
		}
		if parent, ok = v.(*types.Object); !ok {
			return false
		}
		name = path[i+1:]
	}
	if _, ok := parent.Get(name); !ok {
		return false
	}
	parent.Delete(name)
	return true
}

// selection returns the property paths a filter selects on objects of typ.
// "All" expands to the top-level fields of the type.
func (s *Store) selection(spec types.FilterSpec, typ string) []string {
	paths, all := spec.PathsFor(typ)
	if all {
		if t, err := s.resolver.Resolve(typ); err == nil {
			for _, f := range t.AllFields() {
				paths = append(paths, f.Name)
			}
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths)
}

// related reports whether a change at changed affects the selected path.
func related(changed, selected string) bool {
	return changed == selected ||
		strings.HasPrefix(changed, selected+".") ||
		strings.HasPrefix(selected, changed+".")
}

// enterChanges lists the present selected values of obj as entering.
func (s *Store) enterChanges(spec types.FilterSpec, ref types.Reference, obj *types.Object) []types.PropertyChange {
	var changes []types.PropertyChange
	for _, p := range s.selection(spec, ref.Type) {
		if v, ok := obj.Lookup(p); ok {
			changes = append(changes, types.PropertyChange{Name: p, Op: types.OpEnter, Val: types.CloneValue(v)})
		}
	}
	return changes
}

// publishEnter reports a newly stored object to the filters that name it.
func (s *Store) publishEnter(ref types.Reference, obj *types.Object) {
	for _, sess := range s.sessions {
		var deltas []types.ObjectDelta
		for _, f := range sess.live() {
			if !watches(f.spec, ref) {
				continue
			}
			deltas = append(deltas, types.ObjectDelta{
				Object:  ref,
				Kind:    types.ObjectEnter,
				Changes: s.enterChanges(f.spec, ref, obj),
			})
		}
		sess.record(deltas)
	}
}

// publish reports changes at the given paths to every session. Partial
// filters get the affected selected paths; whole filters get every present
// selected path of the object.
func (s *Store) publish(ref types.Reference, obj *types.Object, changed []string) {
	if len(changed) == 0 {
		return
	}
	for _, sess := range s.sessions {
		var deltas []types.ObjectDelta
		for _, f := range sess.live() {
			if !watches(f.spec, ref) {
				continue
			}
			var changes []types.PropertyChange
			for _, p := range s.selection(f.spec, ref.Type) {
				hit := slices.ContainsFunc(changed, func(c string) bool { return related(c, p) })
				if !hit && f.partial {
					continue
				}
				v, ok := obj.Lookup(p)
				switch {
				case ok:
					changes = append(changes, types.PropertyChange{Name: p, Op: types.OpModify, Val: types.CloneValue(v)})
				case hit:
					changes = append(changes, types.PropertyChange{Name: p, Op: types.OpRemove})
				}
			}
			if len(changes) > 0 {
				deltas = append(deltas, types.ObjectDelta{Object: ref, Kind: types.ObjectModify, Changes: changes})
			}
		}
		sess.record(deltas)
	}
}

func watches(spec types.FilterSpec, ref types.Reference) bool {
	return slices.ContainsFunc(spec.ObjectSet, func(o types.ObjectSpec) bool {
		return o.Obj == ref && !o.Skip
	})
}
