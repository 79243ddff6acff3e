package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/propwatch/policy"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `endpoint: https://vc.example.com/sdk
collector: propertyCollector
timeout: 45s
headers:
  X-Tenant: blue
retry:
  attempts: 5
  delay: 2s
  backoff: true
history_limit: 128
journal: ./session.journal
policy:
  name: buffered
  buffer_records: 500
format: yaml
archive:
  url: s3://journals/prod/
  region: us-east-2
  endpoint: http://minio:9000
  s3_path_style: true

adapter:
  type: webhook
  url: https://hooks.example.com/propwatch
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3
`
	cfg := mustLoad(t, yaml)

	assertEqual(t, "endpoint", cfg.Endpoint, "https://vc.example.com/sdk")
	assertEqual(t, "collector", cfg.Collector, "propertyCollector")
	assertEqual(t, "journal", cfg.Journal, "./session.journal")
	assertEqual(t, "format", cfg.Format, "yaml")
	assertEqual(t, "headers", cfg.Headers["X-Tenant"], "blue")
	if cfg.Timeout.Duration != 45*time.Second {
		t.Errorf("timeout: got %v", cfg.Timeout.Duration)
	}
	if cfg.HistoryLimit != 128 {
		t.Errorf("history_limit: got %d", cfg.HistoryLimit)
	}

	if cfg.Retry.Attempts != 5 || cfg.Retry.Delay.Duration != 2*time.Second || !cfg.Retry.Backoff {
		t.Errorf("retry: got %+v", cfg.Retry)
	}

	assertEqual(t, "policy.name", cfg.Policy.Name, "buffered")
	if cfg.Policy.BufferRecords != 500 {
		t.Errorf("policy.buffer_records: got %d", cfg.Policy.BufferRecords)
	}

	assertEqual(t, "archive.url", cfg.Archive.URL, "s3://journals/prod/")
	assertEqual(t, "archive.region", cfg.Archive.Region, "us-east-2")
	assertEqual(t, "archive.endpoint", cfg.Archive.Endpoint, "http://minio:9000")
	if !cfg.Archive.S3PathStyle {
		t.Error("archive.s3_path_style: expected true")
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/propwatch")
	assertEqual(t, "adapter.headers", cfg.Adapter.Headers["Authorization"], "Bearer token123")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter.timeout: got %v", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("adapter.retries: expected 3")
	}
}

func TestLoad_BlankFiles(t *testing.T) {
	for name, content := range map[string]string{
		"empty":      "",
		"whitespace": "   \n  \n  \n",
		"comments":   "# propwatch defaults\n# nothing set yet\n",
	} {
		t.Run(name, func(t *testing.T) {
			cfg := mustLoad(t, content)
			if cfg.Endpoint != "" || cfg.Adapter.Type != "" || cfg.Adapter.Retries != nil {
				t.Errorf("blank file produced %+v", cfg)
			}
		})
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed", content: "endpoint: [unclosed\n", wantErr: "invalid YAML"},
		{name: "unknown top-level key", content: "endpoint: https://vc/sdk\nbogus_key: 1\n", wantErr: "bogus_key"},
		{name: "unknown nested key", content: "retry:\n  attempts: 3\n  jitter: 2\n", wantErr: "jitter"},
		{name: "bad duration", content: "adapter:\n  timeout: soon\n", wantErr: "invalid duration"},
		{name: "missing required env", content: "endpoint: ${PROPWATCH_TEST_UNSET:?endpoint required}\n", wantErr: "endpoint required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		if err == nil || !strings.Contains(err.Error(), "config file not found") {
			t.Errorf("Load error = %v", err)
		}
	})
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("PROPWATCH_TEST_ENDPOINT", "https://lab.example.com/sdk")
	cfg := mustLoad(t, "endpoint: ${PROPWATCH_TEST_ENDPOINT}\ncollector: ${PROPWATCH_TEST_COLLECTOR:-propertyCollector}\n")
	assertEqual(t, "endpoint", cfg.Endpoint, "https://lab.example.com/sdk")
	assertEqual(t, "collector", cfg.Collector, "propertyCollector")
}

// An explicit zero must survive decoding so it can override the
// adapter default of several retries.
func TestLoad_AdapterRetries(t *testing.T) {
	zero := mustLoad(t, "adapter:\n  type: redis\n  retries: 0\n")
	if zero.Adapter.Retries == nil || *zero.Adapter.Retries != 0 {
		t.Errorf("retries: 0 decoded as %v", zero.Adapter.Retries)
	}
	unset := mustLoad(t, "adapter:\n  type: redis\n")
	if unset.Adapter.Retries != nil {
		t.Errorf("omitted retries decoded as %d", *unset.Adapter.Retries)
	}
}

func TestLoad_EmptyDurationIsZero(t *testing.T) {
	cfg := mustLoad(t, "timeout: \"\"\nadapter:\n  timeout: \"\"\n")
	if cfg.Timeout.Duration != 0 || cfg.Adapter.Timeout.Duration != 0 {
		t.Errorf("durations = %v, %v", cfg.Timeout.Duration, cfg.Adapter.Timeout.Duration)
	}
}

func TestLoad_RedisAdapter(t *testing.T) {
	cfg := mustLoad(t, `adapter:
  type: redis
  url: redis://cache:6379/2
  channel: vc:tasks
  stream: vc:tasks:log
  key_prefix: "vc:watch:"
  timeout: 5s
`)
	assertEqual(t, "adapter.type", cfg.Adapter.Type, "redis")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "redis://cache:6379/2")
	assertEqual(t, "adapter.channel", cfg.Adapter.Channel, "vc:tasks")
	assertEqual(t, "adapter.stream", cfg.Adapter.Stream, "vc:tasks:log")
	assertEqual(t, "adapter.key_prefix", cfg.Adapter.KeyPrefix, "vc:watch:")
	if cfg.Adapter.Timeout.Duration != 5*time.Second {
		t.Errorf("adapter.timeout = %v", cfg.Adapter.Timeout.Duration)
	}
}

func TestRetryConfig_Policy(t *testing.T) {
	def := policy.DefaultRetry()

	got := RetryConfig{}.Policy()
	if got.Attempts != def.Attempts || got.Delay != def.Delay {
		t.Errorf("zero config: got %+v, want defaults %+v", got, def)
	}

	got = RetryConfig{Attempts: 7, Delay: Duration{250 * time.Millisecond}, Backoff: true}.Policy()
	if got.Attempts != 7 || got.Delay != 250*time.Millisecond || !got.Backoff {
		t.Errorf("overrides not applied: %+v", got)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "propwatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustLoad(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := Load(writeTemp(t, content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
