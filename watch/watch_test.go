package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/propwatch/adapter"
	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/collector"
	"github.com/pithecene-io/propwatch/collector/memory"
	"github.com/pithecene-io/propwatch/collector/replay"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/journal"
	"github.com/pithecene-io/propwatch/metrics"
	"github.com/pithecene-io/propwatch/policy"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
)

var taskRef = types.NewReference("Task", "task-7")

func state(v string) types.Enum {
	return types.Enum{Type: "TaskInfoState", Value: v}
}

func batch(version string, kind types.ObjectKind, changes ...types.PropertyChange) *types.UpdateBatch {
	return &types.UpdateBatch{
		Version: version,
		Changes: []types.ObjectDelta{{Object: taskRef, Kind: kind, Changes: changes}},
	}
}

func set(name string, v any) types.PropertyChange {
	return types.PropertyChange{Name: name, Op: types.OpModify, Val: v}
}

func enter(name string, v any) types.PropertyChange {
	return types.PropertyChange{Name: name, Op: types.OpEnter, Val: v}
}

func remove(name string) types.PropertyChange {
	return types.PropertyChange{Name: name, Op: types.OpRemove}
}

// countingCollector counts every Destroy call on its filters, including
// repeated ones.
type countingCollector struct {
	collector.PropertyCollector
	destroys atomic.Int32
}

type countingFilter struct {
	collector.Filter
	owner *countingCollector
}

func (c *countingCollector) CreateFilter(ctx context.Context, spec types.FilterSpec, partial bool) (collector.Filter, error) {
	f, err := c.PropertyCollector.CreateFilter(ctx, spec, partial)
	if err != nil {
		return nil, err
	}
	return &countingFilter{Filter: f, owner: c}, nil
}

func (f *countingFilter) Destroy(ctx context.Context) error {
	f.owner.destroys.Add(1)
	return f.Filter.Destroy(ctx)
}

// stubAdapter records published events.
type stubAdapter struct {
	mu     sync.Mutex
	events []*adapter.WatchCompletedEvent
	err    error
}

func (a *stubAdapter) Publish(_ context.Context, e *adapter.WatchCompletedEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return a.err
}

func (a *stubAdapter) Close() error { return nil }

func (a *stubAdapter) last(t *testing.T) *adapter.WatchCompletedEvent {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(a.events))
	}
	return a.events[0]
}

func mustNewWatcher(t *testing.T, cfg Config) *Watcher {
	t.Helper()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	return w
}

var untilDone = []Until{{Path: "info.state", Values: []any{"success", "error"}}}

func TestWaitForValues_EndsOnThirdBatch(t *testing.T) {
	rc := replay.New(
		replay.Step{Batch: batch("1", types.ObjectEnter, enter("info.state", state("queued")))},
		replay.Step{Batch: batch("2", types.ObjectModify, set("info.state", state("running")), set("info.progress", int32(50)))},
		replay.Step{Batch: batch("3", types.ObjectModify, set("info.progress", int32(100)), set("info.state", state("success")))},
		replay.Step{Batch: batch("4", types.ObjectModify, set("info.state", state("error")))},
	)
	cc := &countingCollector{PropertyCollector: rc}
	m := metrics.NewCollector("replay", "s1")
	pub := &stubAdapter{}
	w := mustNewWatcher(t, Config{Collector: cc, Metrics: m, Adapter: pub})

	res, err := w.WaitForValues(t.Context(), taskRef, []string{"info.progress"}, untilDone)
	if err != nil {
		t.Fatalf("WaitForValues: %v", err)
	}

	if got := rc.Polls(); len(got) != 3 || got[0] != "" || got[1] != "1" || got[2] != "2" {
		t.Errorf("polls = %q, want [\"\" 1 2]", got)
	}
	if rc.Remaining() != 1 {
		t.Errorf("expected 1 unconsumed step, got %d", rc.Remaining())
	}
	if got := cc.destroys.Load(); got != 1 {
		t.Errorf("expected filter destroyed once, got %d", got)
	}
	if res.Matched != "info.state" || res.Version != "3" || res.Batches != 3 {
		t.Errorf("result = matched %q version %q batches %d", res.Matched, res.Version, res.Batches)
	}
	if len(res.Slots) != 1 || !types.Equal(res.Slots[0].Value, int32(100)) {
		t.Errorf("filter slots = %+v", res.Slots)
	}
	if len(res.End) != 1 || !types.Equal(res.End[0].Value, state("success")) {
		t.Errorf("end slots = %+v", res.End)
	}

	snap := m.Snapshot()
	if snap.FiltersCreated != 1 || snap.FiltersDestroyed != 1 {
		t.Errorf("filters created/destroyed = %d/%d", snap.FiltersCreated, snap.FiltersDestroyed)
	}
	if snap.UpdatesReceived != 3 || snap.WaitsCompleted != 1 {
		t.Errorf("updates %d, completed %d", snap.UpdatesReceived, snap.WaitsCompleted)
	}

	ev := pub.last(t)
	if ev.Outcome != adapter.OutcomeSuccess || ev.Matched != "info.state" || ev.Batches != 3 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Values["info.state"] != "success" || ev.Values["info.progress"] != "100" {
		t.Errorf("event values = %v", ev.Values)
	}
}

func TestWaitForValues_FaultDestroysFilterOnce(t *testing.T) {
	transport := fault.Transport("waitForUpdates", errors.New("connection reset"))
	rc := replay.New(
		replay.Step{Batch: batch("1", types.ObjectEnter, enter("info.state", state("running")))},
		replay.Step{Err: transport},
		replay.Step{Batch: batch("2", types.ObjectModify, set("info.state", state("success")))},
	)
	cc := &countingCollector{PropertyCollector: rc}
	pub := &stubAdapter{}
	m := metrics.NewCollector("replay", "s1")
	w := mustNewWatcher(t, Config{Collector: cc, Adapter: pub, Metrics: m})

	res, err := w.WaitForValues(t.Context(), taskRef, nil, untilDone)
	if err == nil {
		t.Fatalf("expected error, got result %+v", res)
	}
	if !errors.Is(err, fault.ErrTransportFault) {
		t.Errorf("expected transport fault, got %v", err)
	}
	if got := cc.destroys.Load(); got != 1 {
		t.Errorf("expected filter destroyed once, got %d", got)
	}
	if rc.Remaining() != 1 {
		t.Errorf("poll failure must not be retried; remaining = %d", rc.Remaining())
	}

	ev := pub.last(t)
	if ev.Outcome != adapter.OutcomeError || ev.ErrorCode != "transport" {
		t.Errorf("event outcome %q code %q", ev.Outcome, ev.ErrorCode)
	}
	if ev.Version != "1" {
		t.Errorf("event version = %q, want 1", ev.Version)
	}
	if m.Snapshot().WaitsFailed != 1 {
		t.Errorf("expected 1 failed wait, got %d", m.Snapshot().WaitsFailed)
	}
}

func TestWaitForValues_NilBatchRepolls(t *testing.T) {
	rc := replay.New(
		replay.Step{Batch: batch("1", types.ObjectEnter, enter("info.state", state("running")))},
		replay.Step{},
		replay.Step{},
		replay.Step{Batch: batch("2", types.ObjectModify, set("info.state", state("error")))},
	)
	m := metrics.NewCollector("replay", "s1")
	w := mustNewWatcher(t, Config{Collector: rc, Metrics: m})

	res, err := w.WaitForValues(t.Context(), taskRef, nil, untilDone)
	if err != nil {
		t.Fatalf("WaitForValues: %v", err)
	}
	if got := rc.Polls(); len(got) != 4 || got[1] != "1" || got[2] != "1" || got[3] != "1" {
		t.Errorf("polls = %q, want version 1 repeated", got)
	}
	if res.Batches != 2 {
		t.Errorf("batches = %d, want 2", res.Batches)
	}
	if m.Snapshot().EmptyPolls != 2 {
		t.Errorf("empty polls = %d, want 2", m.Snapshot().EmptyPolls)
	}
}

func TestWaitForValues_RemoveIsDistinctFromUnset(t *testing.T) {
	rc := replay.New(
		replay.Step{Batch: batch("1", types.ObjectEnter,
			enter("info.state", state("running")),
			enter("info.error", types.NewObject("LocalizedMethodFault").With("localizedMessage", "boom")))},
		replay.Step{Batch: batch("2", types.ObjectModify, remove("info.error"), set("info.state", state("success")))},
	)
	w := mustNewWatcher(t, Config{Collector: rc})

	res, err := w.WaitForValues(t.Context(), taskRef, []string{"info.error", "info.result"}, untilDone)
	if err != nil {
		t.Fatalf("WaitForValues: %v", err)
	}
	errSlot, _ := res.Slot("info.error")
	if !errSlot.IsRemoved() || errSlot.Value != nil {
		t.Errorf("info.error = %+v, want removed", errSlot)
	}
	resultSlot, _ := res.Slot("info.result")
	if resultSlot.Observed() {
		t.Errorf("info.result = %+v, want unset", resultSlot)
	}
}

func TestWaitForValues_StaleVersionPropagates(t *testing.T) {
	stale := fault.New(fault.ErrStaleVersion, "waitForUpdates", "5")
	rc := replay.New(
		replay.Step{Batch: batch("5", types.ObjectEnter, enter("info.state", state("running")))},
		replay.Step{Err: stale},
	)
	m := metrics.NewCollector("replay", "s1")
	w := mustNewWatcher(t, Config{Collector: rc, Metrics: m})

	_, err := w.WaitForValues(t.Context(), taskRef, nil, untilDone)
	if !errors.Is(err, fault.ErrStaleVersion) {
		t.Fatalf("expected stale version, got %v", err)
	}
	if m.Snapshot().StaleVersions != 1 {
		t.Errorf("stale versions = %d, want 1", m.Snapshot().StaleVersions)
	}
	if rc.Destroyed() != 1 {
		t.Errorf("expected filter destroyed, got %d", rc.Destroyed())
	}
}

func TestWaitForValues_AgainstMemoryCollector(t *testing.T) {
	st := memory.NewStore(nil)
	task := types.NewObject("Task").With("info", types.NewObject("TaskInfo").With("state", state("queued")))
	if err := st.Put(taskRef, task); err != nil {
		t.Fatalf("Put: %v", err)
	}
	sess := st.Session()
	t.Cleanup(sess.Close)
	w := mustNewWatcher(t, Config{Collector: sess})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = st.Set(taskRef, "info.state", state("running"))
		_ = st.Set(taskRef, "info.progress", int32(40))
		time.Sleep(20 * time.Millisecond)
		_ = st.Set(taskRef, "info.state", state("success"))
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	res, err := w.WaitForValues(ctx, taskRef, []string{"info.progress"}, untilDone)
	if err != nil {
		t.Fatalf("WaitForValues: %v", err)
	}
	if !types.Equal(res.End[0].Value, state("success")) {
		t.Errorf("info.state = %v", res.End[0].Value)
	}
	if !types.Equal(res.Slots[0].Value, int32(40)) {
		t.Errorf("info.progress = %v", res.Slots[0].Value)
	}
	filters, _ := sess.Filters(t.Context())
	if len(filters) != 0 {
		t.Errorf("expected no live filters, got %d", len(filters))
	}
}

func TestWaitForValues_CancelReleasesWait(t *testing.T) {
	st := memory.NewStore(nil)
	task := types.NewObject("Task").With("info", types.NewObject("TaskInfo").With("state", state("queued")))
	if err := st.Put(taskRef, task); err != nil {
		t.Fatalf("Put: %v", err)
	}
	sess := st.Session()
	t.Cleanup(sess.Close)
	pub := &stubAdapter{}
	w := mustNewWatcher(t, Config{Collector: sess, Adapter: pub})

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = sess.CancelWaitForUpdates(context.Background())
	}()

	_, err := w.WaitForValues(t.Context(), taskRef, nil, untilDone)
	if !errors.Is(err, fault.ErrCanceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if ev := pub.last(t); ev.Outcome != adapter.OutcomeCanceled || ev.ErrorCode != "canceled" {
		t.Errorf("event outcome %q code %q", ev.Outcome, ev.ErrorCode)
	}
	filters, _ := sess.Filters(t.Context())
	if len(filters) != 0 {
		t.Errorf("expected filter destroyed after cancel, got %d live", len(filters))
	}
}

// A filter destroyed behind the watcher's back ends the wait at the next
// empty poll instead of polling forever.
func TestWaitForValues_ExternallyDestroyedFilter(t *testing.T) {
	st := memory.NewStore(nil, memory.WithMaxWait(10*time.Millisecond))
	task := types.NewObject("Task").With("info", types.NewObject("TaskInfo").With("state", state("queued")))
	if err := st.Put(taskRef, task); err != nil {
		t.Fatalf("Put: %v", err)
	}
	sess := st.Session()
	t.Cleanup(sess.Close)
	w := mustNewWatcher(t, Config{Collector: sess})

	go func() {
		for {
			filters, _ := sess.Filters(context.Background())
			if len(filters) == 1 {
				_ = filters[0].Destroy(context.Background())
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, err := w.WaitForValues(ctx, taskRef, nil, untilDone)
	if !errors.Is(err, fault.ErrFilterDestroyed) {
		t.Fatalf("expected filter destroyed, got %v", err)
	}
}

func TestWaitForValues_JournalsEveryPoll(t *testing.T) {
	rc := replay.New(
		replay.Step{Batch: batch("1", types.ObjectEnter, enter("info.state", state("running")))},
		replay.Step{},
		replay.Step{Batch: batch("2", types.ObjectModify, set("info.state", state("success")))},
	)
	sink := &policy.MemorySink{}
	w := mustNewWatcher(t, Config{Collector: rc, Policy: policy.NewStrictPolicy(sink)})

	if _, err := w.WaitForValues(t.Context(), taskRef, nil, untilDone); err != nil {
		t.Fatalf("WaitForValues: %v", err)
	}

	want := []journal.Kind{journal.KindHeader, journal.KindBatch, journal.KindEmpty, journal.KindBatch, journal.KindResult}
	got := sink.Kinds()
	if len(got) != len(want) {
		t.Fatalf("journal kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d kind = %s, want %s", i, got[i], want[i])
		}
	}
	if w.PolicyStats().RecordsPersisted != int64(len(want)) {
		t.Errorf("persisted = %d", w.PolicyStats().RecordsPersisted)
	}
}

func TestWaitForValues_JournalFailureEndsWatch(t *testing.T) {
	rc := replay.New(
		replay.Step{Batch: batch("1", types.ObjectEnter, enter("info.state", state("running")))},
	)
	sink := &policy.MemorySink{}
	w := mustNewWatcher(t, Config{Collector: rc, Policy: policy.NewStrictPolicy(sink)})
	sink.FailWith(errors.New("disk full"))

	if _, err := w.WaitForValues(t.Context(), taskRef, nil, untilDone); err == nil {
		t.Fatal("expected journal failure to end the watch")
	}
	if rc.Remaining() != 1 {
		t.Errorf("no poll expected before the header is journaled, remaining = %d", rc.Remaining())
	}
}

func TestWaitForValues_PublishFailureKeepsResult(t *testing.T) {
	rc := replay.New(
		replay.Step{Batch: batch("1", types.ObjectEnter, enter("info.state", state("success")))},
	)
	m := metrics.NewCollector("replay", "s1")
	w := mustNewWatcher(t, Config{Collector: rc, Adapter: &stubAdapter{err: errors.New("down")}, Metrics: m})

	if _, err := w.WaitForValues(t.Context(), taskRef, nil, untilDone); err != nil {
		t.Fatalf("publish failure must not fail the watch: %v", err)
	}
	if m.Snapshot().PublishFailure != 1 {
		t.Errorf("publish failures = %d, want 1", m.Snapshot().PublishFailure)
	}
}

func TestWaitForValues_RejectsBadInput(t *testing.T) {
	w := mustNewWatcher(t, Config{Collector: replay.New()})
	tests := []struct {
		name  string
		obj   types.Reference
		until []Until
	}{
		{"zero object", types.Reference{}, untilDone},
		{"no until", taskRef, nil},
		{"no values", taskRef, []Until{{Path: "info.state"}}},
		{"empty path", taskRef, []Until{{Values: []any{"x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := w.WaitForValues(t.Context(), tt.obj, nil, tt.until); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_RequiresCollector(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without collector")
	}
}

var vmRef = types.NewReference("VirtualMachine", "vm-12")

// vmStore serves a schema the builtin registry does not know.
func vmStore(t *testing.T) *memory.Store {
	t.Helper()
	reg, err := schema.NewRegistry([]*schema.Type{
		{Name: "PowerState", Kind: schema.KindEnum, Values: []string{"on", "off", "suspended"}},
		{Name: "VirtualHardware", Kind: schema.KindComposite, Base: schema.TypeDynamicData, Fields: []schema.Field{
			{Name: "numCPU", Type: schema.TypeInt},
			{Name: "device", Type: schema.TypeString, Array: true},
		}},
		{Name: "VirtualMachine", Kind: schema.KindComposite, Fields: []schema.Field{
			{Name: "power", Type: "PowerState"},
			{Name: "hardware", Type: "VirtualHardware"},
		}},
	}, schema.Builtin())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	st := memory.NewStore(schema.NewResolver(reg))
	vm := types.NewObject("VirtualMachine").
		With("power", types.Enum{Type: "PowerState", Value: "off"}).
		With("hardware", types.NewObject("VirtualHardware").
			With("numCPU", int32(2)).
			With("device", types.Array{ItemType: schema.TypeString, Items: []any{"disk-0", "nic-0"}}))
	if err := st.Put(vmRef, vm); err != nil {
		t.Fatalf("Put: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = st.Set(vmRef, "power", types.Enum{Type: "PowerState", Value: "on"})
	}()
	return st
}

func TestWaitForValues_CustomSchemaWithoutCodec(t *testing.T) {
	st := vmStore(t)
	sess := st.Session()
	t.Cleanup(sess.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	res, err := WaitForValues(ctx, sess, vmRef, []string{"hardware"}, []Until{{Path: "power", Values: []any{"on"}}})
	if err != nil {
		t.Fatalf("WaitForValues: %v", err)
	}
	if !types.Equal(res.End[0].Value, types.Enum{Type: "PowerState", Value: "on"}) {
		t.Errorf("power = %v", res.End[0].Value)
	}
	hw, ok := res.Slots[0].Value.(*types.Object)
	if !ok || hw.Type != "VirtualHardware" {
		t.Fatalf("hardware slot = %+v", res.Slots[0])
	}
}

// A journaled watch with no codec configured encodes with the
// collector's own schema.
func TestWaitForValues_CustomSchemaJournaled(t *testing.T) {
	st := vmStore(t)
	sess := st.Session()
	t.Cleanup(sess.Close)
	sink := &policy.MemorySink{}
	w := mustNewWatcher(t, Config{Collector: sess, Policy: policy.NewStrictPolicy(sink)})

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if _, err := w.WaitForValues(ctx, vmRef, []string{"hardware"}, []Until{{Path: "power", Values: []any{"on"}}}); err != nil {
		t.Fatalf("WaitForValues: %v", err)
	}

	c := codec.NewWithResolver(st.Resolver())
	var power any
	for _, rec := range sink.Records() {
		if rec.Kind != journal.KindBatch {
			continue
		}
		b, err := rec.UpdateBatch(c)
		if err != nil {
			t.Fatalf("decode journaled batch: %v", err)
		}
		for _, d := range b.Changes {
			for _, ch := range d.Changes {
				if ch.Name == "power" {
					power = ch.Val
				}
			}
		}
	}
	if !types.Equal(power, types.Enum{Type: "PowerState", Value: "on"}) {
		t.Errorf("journaled power = %#v", power)
	}
}
