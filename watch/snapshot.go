package watch

import (
	"context"
	"fmt"

	"github.com/pithecene-io/propwatch/types"
)

// PropertiesByPaths reads the current values of paths on obj with one
// RetrieveProperties call. Transient transport faults are retried under the
// configured policy. Paths without a value are absent from the result.
func (w *Watcher) PropertiesByPaths(ctx context.Context, obj types.Reference, paths ...string) (map[string]any, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("watch: no paths to read on %s", obj)
	}

	retry := w.retry
	retry.OnRetry = func(attempt int, err error) {
		w.config.Metrics.IncRetry()
		w.logger.Warn("snapshot read failed, retrying", map[string]any{
			"object":  obj.String(),
			"attempt": attempt,
			"error":   err.Error(),
		})
	}

	var contents []types.ObjectContent
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		contents, err = w.config.Collector.RetrieveProperties(ctx, []types.FilterSpec{types.NewFilterSpec(obj, paths...)})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve %v on %s: %w", paths, obj, err)
	}

	values := make(map[string]any, len(paths))
	for _, c := range contents {
		if c.Obj != obj {
			continue
		}
		for _, p := range c.PropSet {
			values[p.Name] = p.Val
		}
	}
	return values, nil
}

// CurrentProperty reads one property of obj. The boolean reports whether
// the property has a value.
func (w *Watcher) CurrentProperty(ctx context.Context, obj types.Reference, path string) (any, bool, error) {
	values, err := w.PropertiesByPaths(ctx, obj, path)
	if err != nil {
		return nil, false, err
	}
	v, ok := values[path]
	return v, ok, nil
}
