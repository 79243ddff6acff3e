package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/propwatch/adapter"
	"github.com/pithecene-io/propwatch/adapter/redis"
	"github.com/pithecene-io/propwatch/adapter/webhook"
	"github.com/pithecene-io/propwatch/cli/config"
	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/journal"
	"github.com/pithecene-io/propwatch/journal/archive"
	"github.com/pithecene-io/propwatch/log"
	"github.com/pithecene-io/propwatch/policy"
	"github.com/pithecene-io/propwatch/soap"
)

// Exit codes.
const (
	exitSuccess  = 0
	exitFailed   = 1
	exitCanceled = 2
	exitUsage    = 3
)

// resolveEndpoint returns the collector URL from flags or config.
func resolveEndpoint(c *cli.Context, cfg *config.Config) (string, error) {
	endpoint := resolveString(c, "endpoint", configVal(cfg, func(c *config.Config) string { return c.Endpoint }))
	if endpoint == "" {
		return "", cli.Exit("an endpoint is required (--endpoint or config endpoint)", exitUsage)
	}
	return endpoint, nil
}

// newClient builds a SOAP client from flags and config.
func newClient(c *cli.Context, cfg *config.Config, endpoint string, cd *codec.Codec, logger *log.Logger) (*soap.Client, error) {
	headers, err := parseHeaders(c.StringSlice("header"), configVal(cfg, func(c *config.Config) map[string]string { return c.Headers }))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	client, err := soap.NewClient(soap.ClientConfig{
		URL:       endpoint,
		Collector: resolveString(c, "collector", configVal(cfg, func(c *config.Config) string { return c.Collector })),
		Timeout:   resolveDuration(c, "timeout", configVal(cfg, func(c *config.Config) config.Duration { return c.Timeout }).Duration),
		Headers:   headers,
		Codec:     cd,
		Logger:    logger,
	})
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	return client, nil
}

// newLogger writes JSON logs to stderr at the --log-level threshold.
func newLogger(c *cli.Context, sessionID, endpoint string) *log.Logger {
	return log.NewLogger(log.Meta{
		SessionID: sessionID,
		Endpoint:  endpoint,
		Level:     c.String("log-level"),
	})
}

// policyChoice holds parsed journal policy configuration.
type policyChoice struct {
	journal       string
	name          string
	bufferRecords int
}

func resolvePolicy(c *cli.Context, cfg *config.Config) policyChoice {
	return policyChoice{
		journal:       resolveString(c, "journal", configVal(cfg, func(c *config.Config) string { return c.Journal })),
		name:          resolveString(c, "policy", configVal(cfg, func(c *config.Config) string { return c.Policy.Name })),
		bufferRecords: resolveInt(c, "buffer-records", configVal(cfg, func(c *config.Config) int { return c.Policy.BufferRecords })),
	}
}

func validatePolicyConfig(choice policyChoice) error {
	switch choice.name {
	case "", "strict":
		if choice.bufferRecords > 0 {
			fmt.Fprintf(os.Stderr, "Warning: --buffer-records ignored for strict policy\n")
		}
		return nil
	case "buffered":
		if choice.bufferRecords < 0 {
			return fmt.Errorf("invalid --buffer-records: %d", choice.bufferRecords)
		}
		return nil
	default:
		return fmt.Errorf("invalid --policy: %s (must be strict or buffered)", choice.name)
	}
}

// buildPolicy opens the journal and wraps it in the chosen policy. Without
// a journal path every record is discarded.
func buildPolicy(choice policyChoice, logger *log.Logger) (policy.Policy, error) {
	if err := validatePolicyConfig(choice); err != nil {
		return nil, err
	}
	if choice.journal == "" {
		return policy.NewNoopPolicy(), nil
	}

	sink, err := journal.Create(choice.journal)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal: %w", err)
	}

	if choice.name == "buffered" {
		bc := policy.DefaultBufferedConfig()
		if choice.bufferRecords > 0 {
			bc.MaxBufferRecords = choice.bufferRecords
		}
		bc.Logger = logger
		p, err := policy.NewBufferedPolicy(sink, bc)
		if err != nil {
			_ = sink.Close()
			return nil, err
		}
		return p, nil
	}
	return policy.NewStrictPolicy(sink), nil
}

// adapterChoice holds parsed adapter configuration.
type adapterChoice struct {
	kind      string
	url       string
	channel   string
	stream    string
	keyPrefix string
	headers   map[string]string
	secret    string
	timeout   config.Duration
	retries   *int
}

func resolveAdapter(c *cli.Context, cfg *config.Config) adapterChoice {
	ac := configVal(cfg, func(c *config.Config) config.AdapterConfig { return c.Adapter })
	choice := adapterChoice{
		kind:      resolveString(c, "adapter", ac.Type),
		url:       resolveString(c, "adapter-url", ac.URL),
		channel:   resolveString(c, "adapter-channel", ac.Channel),
		stream:    resolveString(c, "adapter-stream", ac.Stream),
		keyPrefix: ac.KeyPrefix,
		headers:   ac.Headers,
		secret:    resolveString(c, "adapter-secret", ac.Secret),
		timeout:   config.Duration{Duration: resolveDuration(c, "adapter-timeout", ac.Timeout.Duration)},
		retries:   ac.Retries,
	}
	if c.IsSet("adapter-retries") {
		n := c.Int("adapter-retries")
		choice.retries = &n
	}
	return choice
}

// buildAdapter returns nil when no adapter is configured.
func buildAdapter(choice adapterChoice) (adapter.Adapter, error) {
	retries := -1
	if choice.retries != nil {
		retries = *choice.retries
	}

	switch choice.kind {
	case "":
		return nil, nil
	case "webhook":
		if retries < 0 {
			retries = webhook.DefaultRetries
		}
		return webhook.New(webhook.Config{
			URL:     choice.url,
			Headers: choice.headers,
			Secret:  choice.secret,
			Timeout: choice.timeout.Duration,
			Retries: retries,
		})
	case "redis":
		if retries < 0 {
			retries = redis.DefaultRetries
		}
		return redis.New(redis.Config{
			URL:       choice.url,
			Channel:   choice.channel,
			Stream:    choice.stream,
			KeyPrefix: choice.keyPrefix,
			Timeout:   choice.timeout.Duration,
			Retries:   retries,
		})
	default:
		return nil, fmt.Errorf("invalid --adapter: %s (must be webhook or redis)", choice.kind)
	}
}

// archiveTarget is where watch uploads its journal; zero when unset.
type archiveTarget struct {
	loc    archive.Location
	config archive.Config
}

// resolveArchive layers the archive flags over the config file.
func resolveArchive(c *cli.Context, cfg *config.Config) archive.Config {
	ac := configVal(cfg, func(c *config.Config) config.ArchiveConfig { return c.Archive })
	return archive.Config{
		Region:       resolveString(c, "archive-region", ac.Region),
		Endpoint:     resolveString(c, "archive-endpoint", ac.Endpoint),
		UsePathStyle: resolveBool(c, "archive-path-style", ac.S3PathStyle),
	}
}

// resolveArchiveTarget validates --archive against the journal choice.
func resolveArchiveTarget(c *cli.Context, cfg *config.Config, choice policyChoice) (*archiveTarget, error) {
	raw := resolveString(c, "archive", configVal(cfg, func(c *config.Config) string { return c.Archive.URL }))
	if raw == "" {
		return nil, nil
	}
	if choice.journal == "" {
		return nil, fmt.Errorf("--archive needs --journal")
	}
	loc, err := archive.ParseURL(raw)
	if err != nil {
		return nil, err
	}
	return &archiveTarget{loc: loc, config: resolveArchive(c, cfg)}, nil
}

// openArchive connects to the journal archive. Tests replace it.
var openArchive = func(ctx context.Context, cfg archive.Config) (*archive.Archive, error) {
	client, err := archive.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return archive.New(client), nil
}

// readJournal reads a journal file, or an archived journal when ref is
// an s3:// location.
func readJournal(c *cli.Context, cfg *config.Config, ref string) ([]*journal.Record, error) {
	if !archive.IsURL(ref) {
		return journal.ReadFile(ref)
	}
	loc, err := archive.ParseURL(ref)
	if err != nil {
		return nil, err
	}
	a, err := openArchive(c.Context, resolveArchive(c, cfg))
	if err != nil {
		return nil, err
	}
	return a.Records(c.Context, loc)
}
