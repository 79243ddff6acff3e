// Package watch drives property collector filters to completion.
//
// WaitForValues registers one partial-update filter on a single object,
// folds every update batch into per-path slots, and ends once a termination
// path holds an accepted value. The filter is destroyed on every exit path.
// The snapshot and task helpers build on the same collector surface.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/propwatch/adapter"
	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/collector"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/journal"
	"github.com/pithecene-io/propwatch/log"
	"github.com/pithecene-io/propwatch/metrics"
	"github.com/pithecene-io/propwatch/policy"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
)

// cleanupTimeout bounds filter destruction, journal flush and publishing
// once the watch itself has ended.
const cleanupTimeout = 30 * time.Second

// Config configures a Watcher.
type Config struct {
	// Collector is the property collector session (required).
	Collector collector.PropertyCollector
	// Codec encodes journal values. If nil, the collector's schema is used
	// when it exposes one (memory sessions, soap clients), else the
	// builtin namespace.
	Codec *codec.Codec
	// Policy receives journal records. If nil, records are counted and
	// discarded without encoding their values.
	Policy policy.Policy
	// Adapter publishes a WatchCompletedEvent when a watch ends. Optional.
	Adapter adapter.Adapter
	// Retry bounds snapshot reads. The zero value means policy.DefaultRetry().
	Retry policy.Retry
	// PollRunning and PollQueued are the PollTask intervals
	// (default 500ms and 1s).
	PollRunning time.Duration
	PollQueued  time.Duration
	// Endpoint names the collector for journal headers and logs.
	Endpoint string
	// Logger receives lifecycle logs. If nil, logs are discarded.
	Logger *log.Logger
	// Metrics records counters. If nil, nothing is recorded.
	Metrics *metrics.Collector
}

// Result is the outcome of a successful WaitForValues.
type Result struct {
	// WatchID identifies the watch in logs, journals and events.
	WatchID string
	// Object is the watched object.
	Object types.Reference
	// Slots are the filter path slots, in the order requested.
	Slots []types.Slot
	// End are the termination path slots, in the order requested.
	End []types.Slot
	// Matched is the termination path whose value ended the watch.
	Matched string
	// Version is the collector version after the last folded batch.
	Version string
	// Batches is the number of non-empty batches folded.
	Batches int64
	// Duration is the wall time of the watch.
	Duration time.Duration
}

// Slot returns the filter or termination slot for path.
func (r *Result) Slot(path string) (types.Slot, bool) {
	for _, s := range r.Slots {
		if s.Path == path {
			return s, true
		}
	}
	for _, s := range r.End {
		if s.Path == path {
			return s, true
		}
	}
	return types.Slot{}, false
}

// Watcher runs watches against one collector session. A session's filters
// and version cursor are not safe for concurrent watches; use one Watcher
// per session and one watch at a time.
type Watcher struct {
	config Config
	codec  *codec.Codec
	// encode is false when records are discarded, so values of types the
	// codec does not know never fail a watch.
	encode bool
	policy policy.Policy
	retry  policy.Retry
	logger *log.Logger
}

// New creates a Watcher. Returns an error if no collector is configured.
func New(cfg Config) (*Watcher, error) {
	if cfg.Collector == nil {
		return nil, errors.New("watch: collector is required")
	}
	if cfg.PollRunning <= 0 {
		cfg.PollRunning = 500 * time.Millisecond
	}
	if cfg.PollQueued <= 0 {
		cfg.PollQueued = time.Second
	}

	w := &Watcher{
		config: cfg,
		codec:  cfg.Codec,
		policy: cfg.Policy,
		retry:  cfg.Retry,
		logger: cfg.Logger,
	}
	if w.codec == nil {
		w.codec = codecOf(cfg.Collector)
	}
	if w.policy == nil {
		w.policy = policy.NewNoopPolicy()
	}
	_, discard := w.policy.(*policy.NoopPolicy)
	w.encode = !discard
	if w.retry.Attempts == 0 {
		w.retry = policy.DefaultRetry()
	}
	w.logger = w.logger.Named("watch")
	return w, nil
}

// WaitForValues watches obj until one of the termination conditions holds
// and returns the final slot values.
//
// Every path of filterPaths and of until is tracked by one partial filter.
// A nil batch from the collector is treated as a spurious wake and the
// poll is repeated with the same version. Poll failures are not retried.
// The filter is destroyed before WaitForValues returns, whatever the outcome.
func (w *Watcher) WaitForValues(ctx context.Context, obj types.Reference, filterPaths []string, until []Until) (*Result, error) {
	if obj.IsZero() {
		return nil, errors.New("watch: object reference is required")
	}
	if len(until) == 0 {
		return nil, errors.New("watch: at least one termination path is required")
	}
	for _, u := range until {
		if u.Path == "" || len(u.Values) == 0 {
			return nil, fmt.Errorf("watch: termination path %q needs accepted values", u.Path)
		}
	}

	res := &Result{WatchID: uuid.NewString(), Object: obj}
	logger := w.logger.With("watch_id", res.WatchID)
	start := time.Now()

	t := newTracker(obj, filterPaths, until)
	err := w.run(ctx, logger, t, res)
	res.Duration = time.Since(start)

	w.finish(ctx, logger, t, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// run owns the filter. Its deferred destroy runs before run returns.
func (w *Watcher) run(ctx context.Context, logger *log.Logger, t *tracker, res *Result) error {
	endPaths := make([]string, len(t.until))
	for i, u := range t.until {
		endPaths[i] = u.Path
	}
	if err := w.ingest(ctx, journal.NewHeader(res.Object, t.filter, endPaths, w.config.Endpoint)); err != nil {
		return err
	}

	filter, err := w.config.Collector.CreateFilter(ctx, types.NewFilterSpec(res.Object, t.paths()...), true)
	if err != nil {
		return fmt.Errorf("create filter on %s: %w", res.Object, err)
	}
	w.config.Metrics.IncFilterCreated()
	logger.Debug("filter created", map[string]any{
		"filter": filter.Handle(),
		"object": res.Object.String(),
		"paths":  t.paths(),
	})
	defer w.destroy(ctx, logger, filter)

	version := ""
	for {
		batch, err := w.config.Collector.WaitForUpdates(ctx, version)
		if err != nil {
			w.observe(err)
			if ingestErr := w.ingest(ctx, journal.NewFault(err)); ingestErr != nil {
				logger.Warn("journal fault record failed", map[string]any{"error": ingestErr.Error()})
			}
			return fmt.Errorf("wait for updates at version %q: %w", version, err)
		}

		rec, err := w.batchRecord(batch)
		if err != nil {
			return fmt.Errorf("journal batch: %w", err)
		}
		if err := w.ingest(ctx, rec); err != nil {
			return err
		}

		if batch == nil {
			w.config.Metrics.IncEmptyPoll()
			if err := ctx.Err(); err != nil {
				return fault.Wrap(fault.ErrCanceled, "waitForValues", err)
			}
			if filter.State() == collector.FilterDestroyed {
				return fault.New(fault.ErrFilterDestroyed, "waitForValues", filter.Handle())
			}
			continue
		}

		w.config.Metrics.IncUpdateReceived()
		res.Batches++
		version = batch.Version
		res.Version = version
		for _, op := range t.fold(batch) {
			w.config.Metrics.IncChangeApplied(string(op))
		}

		if path, ok := t.matched(); ok {
			res.Matched = path
			res.Slots = t.filterSlots()
			res.End = t.endSlots()
			logger.Debug("termination value reached", map[string]any{
				"path":    path,
				"version": version,
				"batches": res.Batches,
			})
			rec, err := w.resultRecord(t.allSlots())
			if err != nil {
				return fmt.Errorf("journal result: %w", err)
			}
			return w.ingest(ctx, rec)
		}
	}
}

// destroy releases the filter even when ctx is already canceled.
func (w *Watcher) destroy(ctx context.Context, logger *log.Logger, filter collector.Filter) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := filter.Destroy(dctx); err != nil {
		logger.Warn("filter destroy failed", map[string]any{
			"filter": filter.Handle(),
			"error":  err.Error(),
		})
		return
	}
	w.config.Metrics.IncFilterDestroyed()
	logger.Debug("filter destroyed", map[string]any{"filter": filter.Handle()})
}

// schemaSource is implemented by collectors that know the schema of the
// objects they serve.
type schemaSource interface {
	Resolver() *schema.Resolver
}

func codecOf(pc collector.PropertyCollector) *codec.Codec {
	if src, ok := pc.(schemaSource); ok {
		if r := src.Resolver(); r != nil {
			return codec.NewWithResolver(r)
		}
	}
	return codec.New(nil)
}

func (w *Watcher) batchRecord(b *types.UpdateBatch) (*journal.Record, error) {
	if !w.encode {
		if b == nil {
			return &journal.Record{Kind: journal.KindEmpty}, nil
		}
		return &journal.Record{Kind: journal.KindBatch}, nil
	}
	return journal.NewBatch(w.codec, b)
}

func (w *Watcher) resultRecord(slots []types.Slot) (*journal.Record, error) {
	if !w.encode {
		return &journal.Record{Kind: journal.KindResult}, nil
	}
	return journal.NewResult(w.codec, slots)
}

// observe counts poll failures by class.
func (w *Watcher) observe(err error) {
	switch {
	case errors.Is(err, fault.ErrStaleVersion):
		w.config.Metrics.IncStaleVersion()
	case errors.Is(err, fault.ErrMalformedDocument),
		errors.Is(err, fault.ErrUnknownType),
		errors.Is(err, fault.ErrInvalidEnumValue):
		w.config.Metrics.IncDecodeError()
	}
}

func (w *Watcher) ingest(ctx context.Context, rec *journal.Record) error {
	if err := w.policy.Ingest(ctx, rec); err != nil {
		w.config.Metrics.IncJournalFailure()
		return fmt.Errorf("journal %s record: %w", rec.Kind, err)
	}
	w.config.Metrics.IncJournalWrite()
	return nil
}

// finish flushes the journal and publishes the completion event. Failures
// here are logged; they never change the watch outcome.
func (w *Watcher) finish(ctx context.Context, logger *log.Logger, t *tracker, res *Result, err error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if flushErr := w.policy.Flush(cctx); flushErr != nil {
		w.config.Metrics.IncJournalFailure()
		logger.Warn("journal flush failed", map[string]any{"error": flushErr.Error()})
	}

	event := &adapter.WatchCompletedEvent{
		ContractVersion: types.Version,
		EventType:       adapter.EventTypeWatchCompleted,
		WatchID:         res.WatchID,
		Object:          res.Object.String(),
		Outcome:         adapter.OutcomeSuccess,
		Matched:         res.Matched,
		Values:          t.texts(),
		Version:         res.Version,
		Batches:         res.Batches,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		DurationMs:      res.Duration.Milliseconds(),
	}
	if err != nil {
		w.config.Metrics.IncWaitFailed()
		event.Outcome = adapter.OutcomeError
		if errors.Is(err, fault.ErrCanceled) || errors.Is(err, context.Canceled) {
			event.Outcome = adapter.OutcomeCanceled
		}
		event.ErrorCode = fault.Code(err)
		event.Error = err.Error()
		logger.Error("watch failed", map[string]any{
			"object":  res.Object.String(),
			"code":    event.ErrorCode,
			"error":   err.Error(),
			"batches": res.Batches,
		})
	} else {
		w.config.Metrics.IncWaitCompleted()
		logger.Info("watch completed", map[string]any{
			"object":      res.Object.String(),
			"matched":     res.Matched,
			"version":     res.Version,
			"batches":     res.Batches,
			"duration_ms": event.DurationMs,
		})
	}

	if w.config.Adapter == nil {
		return
	}
	if pubErr := w.config.Adapter.Publish(cctx, event); pubErr != nil {
		w.config.Metrics.IncPublishFailure()
		logger.Warn("publish watch event failed", map[string]any{"error": pubErr.Error()})
		return
	}
	w.config.Metrics.IncPublishSuccess()
}

// PolicyStats returns the journal policy counters.
func (w *Watcher) PolicyStats() policy.Stats {
	return w.policy.Stats()
}

// WaitForValues runs a single watch with default settings.
func WaitForValues(ctx context.Context, pc collector.PropertyCollector, obj types.Reference, filterPaths []string, until []Until) (*Result, error) {
	w, err := New(Config{Collector: pc})
	if err != nil {
		return nil, err
	}
	return w.WaitForValues(ctx, obj, filterPaths, until)
}
