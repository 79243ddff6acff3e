package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/propwatch/cli/seed"
	"github.com/pithecene-io/propwatch/journal/archive"
	"github.com/pithecene-io/propwatch/log"
	"github.com/pithecene-io/propwatch/soap"
)

const taskSeed = `objects:
  - ref: Task:task-9
    fields:
      info: {state: queued, progress: 0, entity: "VirtualMachine:vm-1"}
changes:
  - after: 20ms
    ref: Task:task-9
    set: {info.state: running, info.progress: 50}
  - after: 20ms
    ref: Task:task-9
    set: {info.state: success, info.progress: 100}
`

// startCollector serves the seed over SOAP and plays its changes.
func startCollector(t *testing.T, doc string) string {
	t.Helper()
	f, err := seed.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	store, err := f.NewStore()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	srv := soap.NewServer(store, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	go func() { _ = f.Play(t.Context(), store, log.Nop()) }()
	return ts.URL
}

// runApp runs one command line and returns its stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:           "propwatch",
		Writer:         &out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(*cli.Context, error) {},
		Flags:          []cli.Flag{&cli.StringFlag{Name: "log-level", Value: "error"}},
		Commands: []*cli.Command{
			WatchCommand(),
			RetrieveCommand(),
			ReplayCommand(),
			InspectCommand(),
			VersionCommand("test"),
		},
		DisableSliceFlagSeparator: true,
	}
	err := app.Run(append([]string{"propwatch"}, args...))
	return out.String(), err
}

func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func decodeWatch(t *testing.T, out string) WatchView {
	t.Helper()
	var v WatchView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output is not a watch view: %v\n%s", err, out)
	}
	return v
}

func slotByPath(slots []SlotView, path string) SlotView {
	for _, s := range slots {
		if s.Path == path {
			return s
		}
	}
	return SlotView{}
}

func TestWatchCommand_RecordsAndReplays(t *testing.T) {
	url := startCollector(t, taskSeed)
	path := filepath.Join(t.TempDir(), "task.journal")

	out, err := runApp(t, "watch",
		"--endpoint", url,
		"--object", "Task:task-9",
		"--track", "info.progress",
		"--track", "info.entity",
		"--until", "info.state=success,error",
		"--journal", path,
		"--stats",
		"--format", "json")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	v := decodeWatch(t, out)
	if v.Object != "Task:task-9" || v.Matched != "info.state" {
		t.Errorf("view = %+v", v)
	}
	if got := slotByPath(v.End, "info.state"); got.Value != "success" || got.Type != "TaskInfoState" {
		t.Errorf("info.state = %+v", got)
	}
	if got := slotByPath(v.Slots, "info.progress"); got.Value != "100" {
		t.Errorf("info.progress = %+v", got)
	}
	if got := slotByPath(v.Slots, "info.entity"); got.Value != "VirtualMachine:vm-1" {
		t.Errorf("info.entity = %+v", got)
	}
	if v.Metrics == nil || v.Metrics.FiltersCreated != 1 || v.Metrics.FiltersDestroyed != 1 {
		t.Errorf("metrics = %+v", v.Metrics)
	}
	if v.Policy == nil || v.Policy.RecordsPersisted == 0 {
		t.Errorf("policy stats = %+v", v.Policy)
	}

	// The journal header supplies the object and tracked paths.
	out, err = runApp(t, "replay", "--journal", path, "--until", "info.state=success", "--format", "json")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	r := decodeWatch(t, out)
	if r.Matched != "info.state" || r.Version != v.Version || r.Batches != v.Batches {
		t.Errorf("replay = %+v, want version %s after %d batches", r, v.Version, v.Batches)
	}
	if got := slotByPath(r.Slots, "info.progress"); got.Value != "100" {
		t.Errorf("replayed info.progress = %+v", got)
	}

	out, err = runApp(t, "inspect", "journal", path, "--format", "json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var rows []JournalRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("inspect output: %v\n%s", err, out)
	}
	if len(rows) < 3 || rows[0].Kind != "header" || rows[len(rows)-1].Kind != "result" {
		t.Errorf("journal rows = %+v", rows)
	}
}

func TestReplayCommand_UnreachedValueIsCanceled(t *testing.T) {
	url := startCollector(t, taskSeed)
	path := filepath.Join(t.TempDir(), "task.journal")

	if _, err := runApp(t, "watch", "--endpoint", url, "--object", "Task:task-9",
		"--until", "info.state=success", "--journal", path); err != nil {
		t.Fatalf("watch: %v", err)
	}

	// The recording ends before the state can become error.
	_, err := runApp(t, "replay", "--journal", path, "--until", "info.state=error")
	if code := exitCode(err); code != exitCanceled {
		t.Errorf("exit code = %d (%v), want %d", code, err, exitCanceled)
	}
}

func TestWatchCommand_MaxDuration(t *testing.T) {
	url := startCollector(t, "objects:\n  - ref: Task:task-9\n    fields: {info: {state: running}}\n")

	_, err := runApp(t, "watch", "--endpoint", url, "--object", "Task:task-9",
		"--until", "info.state=success", "--max-duration", "100ms")
	if code := exitCode(err); code != exitCanceled {
		t.Errorf("exit code = %d (%v), want %d", code, err, exitCanceled)
	}
}

func TestWatchCommand_NotFound(t *testing.T) {
	url := startCollector(t, "")

	_, err := runApp(t, "watch", "--endpoint", url, "--object", "Task:missing",
		"--until", "info.state=success")
	if code := exitCode(err); code != exitFailed {
		t.Errorf("exit code = %d (%v), want %d", code, err, exitFailed)
	}
	if err == nil || !strings.Contains(err.Error(), "not_found") {
		t.Errorf("error should carry the fault code: %v", err)
	}
}

func TestWatchCommand_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no endpoint", []string{"--object", "Task:t", "--until", "info.state=success"}},
		{"bad object", []string{"--endpoint", "http://x", "--object", "task", "--until", "info.state=success"}},
		{"bad until", []string{"--endpoint", "http://x", "--object", "Task:t", "--until", "info.state"}},
		{"bad policy", []string{"--endpoint", "http://x", "--object", "Task:t", "--until", "a=b", "--policy", "lossy"}},
		{"bad adapter", []string{"--endpoint", "http://x", "--object", "Task:t", "--until", "a=b", "--adapter", "kafka"}},
		{"missing config", []string{"--config", "/nonexistent/propwatch.yaml", "--object", "Task:t", "--until", "a=b"}},
		{"missing until", []string{"--endpoint", "http://x", "--object", "Task:t"}},
		{"missing object", []string{"--endpoint", "http://x", "--until", "info.state=success"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, append([]string{"watch"}, tt.args...)...)
			if code := exitCode(err); code != exitUsage {
				t.Errorf("exit code = %d (%v), want %d", code, err, exitUsage)
			}
		})
	}
}

func TestCommands_MissingRequiredFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		missing string
	}{
		{"retrieve without path", []string{"retrieve", "--endpoint", "http://x", "--object", "Task:t"}, "--path"},
		{"retrieve without object", []string{"retrieve", "--endpoint", "http://x", "--path", "info"}, "--object"},
		{"replay without journal", []string{"replay", "--until", "info.state=success"}, "--journal"},
		{"replay without until", []string{"replay", "--journal", "x.journal"}, "--until"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)
			if code := exitCode(err); code != exitUsage {
				t.Fatalf("exit code = %d (%v), want %d", code, err, exitUsage)
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Errorf("error %q does not name %s", err, tt.missing)
			}
		})
	}
}

func TestRetrieveCommand(t *testing.T) {
	url := startCollector(t, "objects:\n  - ref: Task:task-9\n    fields: {info: {state: running, progress: 40}}\n")

	out, err := runApp(t, "retrieve", "--endpoint", url, "--object", "Task:task-9",
		"--path", "info.state", "--path", "info.error", "--path", "info.progress", "--format", "json")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	var rows []SlotView
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("output: %v\n%s", err, out)
	}
	want := []SlotView{
		{Path: "info.state", State: "set", Type: "TaskInfoState", Value: "running"},
		{Path: "info.error", State: "unset"},
		{Path: "info.progress", State: "set", Type: "int", Value: "40"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestRetrieveCommand_InvalidPath(t *testing.T) {
	url := startCollector(t, "objects:\n  - ref: Task:task-9\n")

	_, err := runApp(t, "retrieve", "--endpoint", url, "--object", "Task:task-9", "--path", "info.bogus")
	if code := exitCode(err); code != exitFailed {
		t.Errorf("exit code = %d (%v), want %d", code, err, exitFailed)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var v VersionResponse
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output: %v", err)
	}
	if v.Commit != "test" || v.Version == "" || v.JournalVersion == "" {
		t.Errorf("version = %+v", v)
	}
}

// memS3 is an in-memory bucket store for archive tests.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

// useMemArchive routes archive access to an in-memory store.
func useMemArchive(t *testing.T) (*memS3, *archive.Config) {
	t.Helper()
	store := &memS3{objects: map[string][]byte{}}
	var got archive.Config
	prev := openArchive
	openArchive = func(_ context.Context, cfg archive.Config) (*archive.Archive, error) {
		got = cfg
		return archive.New(store), nil
	}
	t.Cleanup(func() { openArchive = prev })
	return store, &got
}

func TestWatchCommand_ArchivesJournal(t *testing.T) {
	store, cfg := useMemArchive(t)
	url := startCollector(t, taskSeed)
	path := filepath.Join(t.TempDir(), "task-9.journal")

	out, err := runApp(t, "watch",
		"--endpoint", url,
		"--object", "Task:task-9",
		"--until", "info.state=success",
		"--journal", path,
		"--archive", "s3://journals/runs/",
		"--archive-region", "eu-west-1",
		"--archive-path-style",
		"--format", "json")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	v := decodeWatch(t, out)
	if v.Archive != "s3://journals/runs/task-9.journal" {
		t.Errorf("archive = %q", v.Archive)
	}
	if _, ok := store.objects["journals/runs/task-9.journal"]; !ok {
		t.Fatal("journal was not uploaded")
	}
	if cfg.Region != "eu-west-1" || !cfg.UsePathStyle {
		t.Errorf("archive config = %+v", *cfg)
	}

	out, err = runApp(t, "replay", "--journal", v.Archive, "--until", "info.state=success", "--format", "json")
	if err != nil {
		t.Fatalf("replay from archive: %v", err)
	}
	if r := decodeWatch(t, out); r.Version != v.Version {
		t.Errorf("replayed version = %s, want %s", r.Version, v.Version)
	}

	if _, err := runApp(t, "inspect", "journal", "s3://journals/runs/missing.journal"); exitCode(err) != exitFailed {
		t.Errorf("inspect missing archive: exit code %d (%v)", exitCode(err), err)
	}
}

func TestWatchCommand_ArchiveNeedsJournal(t *testing.T) {
	useMemArchive(t)
	_, err := runApp(t, "watch", "--endpoint", "http://x", "--object", "Task:t",
		"--until", "info.state=success", "--archive", "s3://journals/")
	if code := exitCode(err); code != exitUsage {
		t.Errorf("exit code = %d (%v), want %d", code, err, exitUsage)
	}
}
