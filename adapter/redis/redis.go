// Package redis publishes watch completion events to Redis.
//
// Events go to a pub/sub channel, or are appended to a stream when one is
// configured so consumers that were offline can catch up. With a key
// prefix the latest event of each watch is also kept under
// KeyPrefix+WatchID for late readers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/propwatch/adapter"
	"github.com/pithecene-io/propwatch/policy"
)

const (
	// DefaultChannel is the default pub/sub channel name.
	DefaultChannel = "propwatch:watch_completed"
	// DefaultTimeout is the default per-publish timeout.
	DefaultTimeout = 5 * time.Second
	// DefaultRetries is the default number of retry attempts.
	DefaultRetries = 3
	// DefaultRetain is the default lifetime of a retained event.
	DefaultRetain = 24 * time.Hour
	// DefaultStreamMaxLen bounds stream length (approximate trimming).
	DefaultStreamMaxLen = 10000
)

// Stream entry fields.
const (
	FieldEventType = "event_type"
	FieldWatchID   = "watch_id"
	FieldObject    = "object"
	FieldOutcome   = "outcome"
	FieldPayload   = "payload"
)

// ErrNotRetained indicates no retained event exists for a watch.
var ErrNotRetained = errors.New("no retained event")

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel (default propwatch:watch_completed).
	// Ignored when Stream is set.
	Channel string
	// Stream, when set, appends events to this stream with XADD instead
	// of publishing them.
	Stream string
	// StreamMaxLen caps the stream length (default 10000).
	StreamMaxLen int64
	// KeyPrefix, when set, also stores each event at KeyPrefix+WatchID.
	KeyPrefix string
	// Retain is the expiry of retained events (default 24h).
	Retain time.Duration
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Backoff is the delay before the first retry (default adapter.DefaultBackoff).
	Backoff time.Duration
}

// Adapter writes watch completion events to Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter. It does not connect until the first publish.
func New(cfg Config) (*Adapter, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("redis adapter requires a URL")
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.DefaultBackoff
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish writes the event, retrying every failure until attempts run out.
func (a *Adapter) Publish(ctx context.Context, event *adapter.WatchCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	retry := policy.Retry{
		Attempts: 1 + a.config.Retries,
		Delay:    a.config.Backoff,
		Backoff:  true,
		Fn:       func(error) (bool, time.Duration) { return true, 0 },
	}
	err = retry.Do(ctx, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.write(wctx, event, body)
	})
	if err != nil {
		return fmt.Errorf("redis: failed after %d attempts: %w", retry.Attempts, err)
	}
	return nil
}

// write runs the retain and delivery commands in one transaction.
func (a *Adapter) write(ctx context.Context, event *adapter.WatchCompletedEvent, body []byte) error {
	_, err := a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if a.config.KeyPrefix != "" && event.WatchID != "" {
			pipe.Set(ctx, a.config.KeyPrefix+event.WatchID, body, a.config.Retain)
		}
		if a.config.Stream == "" {
			pipe.Publish(ctx, a.config.Channel, body)
			return nil
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: a.config.Stream,
			MaxLen: a.config.StreamMaxLen,
			Approx: true,
			Values: map[string]any{
				FieldEventType: event.EventType,
				FieldWatchID:   event.WatchID,
				FieldObject:    event.Object,
				FieldOutcome:   event.Outcome,
				FieldPayload:   string(body),
			},
		})
		return nil
	})
	return err
}

// Retained returns the event kept for watchID. It fails with
// ErrNotRetained when nothing is kept or no key prefix is configured.
func (a *Adapter) Retained(ctx context.Context, watchID string) (*adapter.WatchCompletedEvent, error) {
	if a.config.KeyPrefix == "" {
		return nil, ErrNotRetained
	}
	body, err := a.client.Get(ctx, a.config.KeyPrefix+watchID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotRetained, watchID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get retained event: %w", err)
	}
	var event adapter.WatchCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("redis: decode retained event: %w", err)
	}
	return &event, nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
