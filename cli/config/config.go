package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/propwatch/policy"
)

// Config represents a propwatch.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Endpoint     string            `yaml:"endpoint"`
	Collector    string            `yaml:"collector"`
	Timeout      Duration          `yaml:"timeout"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	Retry        RetryConfig       `yaml:"retry"`
	HistoryLimit int               `yaml:"history_limit"`
	Journal      string            `yaml:"journal"`
	Policy       PolicyConfig      `yaml:"policy"`
	Archive      ArchiveConfig     `yaml:"archive"`
	Adapter      AdapterConfig     `yaml:"adapter"`
	Format       string            `yaml:"format"`
}

// RetryConfig bounds snapshot retries.
type RetryConfig struct {
	Attempts int      `yaml:"attempts"`
	Delay    Duration `yaml:"delay"`
	Backoff  bool     `yaml:"backoff"`
}

// Policy converts the config into a policy.Retry, falling back to
// policy.DefaultRetry for unset fields.
func (r RetryConfig) Policy() policy.Retry {
	p := policy.DefaultRetry()
	if r.Attempts > 0 {
		p.Attempts = r.Attempts
	}
	if r.Delay.Duration > 0 {
		p.Delay = r.Delay.Duration
	}
	if r.Backoff {
		p.Backoff = true
	}
	return p
}

// PolicyConfig selects how journal records reach the journal file.
type PolicyConfig struct {
	Name          string `yaml:"name"`
	BufferRecords int    `yaml:"buffer_records"`
}

// ArchiveConfig locates S3-compatible storage for journals.
type ArchiveConfig struct {
	URL         string `yaml:"url"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type      string            `yaml:"type"`
	URL       string            `yaml:"url"`
	Channel   string            `yaml:"channel,omitempty"`
	Stream    string            `yaml:"stream,omitempty"`
	KeyPrefix string            `yaml:"key_prefix,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Secret    string            `yaml:"secret,omitempty"`
	Timeout   Duration          `yaml:"timeout,omitempty"`
	Retries   *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
