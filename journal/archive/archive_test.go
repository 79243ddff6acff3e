package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pithecene-io/propwatch/journal"
	"github.com/pithecene-io/propwatch/types"
)

// fakeS3 keeps objects in memory, keyed by bucket/key.
type fakeS3 struct {
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = data
	f.contentTypes[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func writeJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "task-1.journal")
	w, err := journal.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	header := journal.NewHeader(types.NewReference("Task", "task-1"), []string{"info.progress"}, []string{"info.state"}, "https://vc/sdk")
	if err := w.WriteRecords(context.Background(), []*journal.Record{header}); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    Location
		prefix  bool
		wantErr bool
	}{
		{raw: "s3://journals", want: Location{Bucket: "journals"}, prefix: true},
		{raw: "s3://journals/prod/", want: Location{Bucket: "journals", Key: "prod/"}, prefix: true},
		{raw: "s3://journals/prod/task-1.journal", want: Location{Bucket: "journals", Key: "prod/task-1.journal"}},
		{raw: "s3:///key", wantErr: true},
		{raw: "/var/lib/task-1.journal", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.IsPrefix() != tt.prefix {
				t.Errorf("IsPrefix = %v, want %v", got.IsPrefix(), tt.prefix)
			}
		})
	}
}

func TestArchive_UploadThenRecords(t *testing.T) {
	fake := newFakeS3()
	a := New(fake)
	path := writeJournal(t)

	loc, err := a.Upload(context.Background(), path, Location{Bucket: "journals", Key: "prod/"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if loc.String() != "s3://journals/prod/task-1.journal" {
		t.Errorf("location = %s", loc)
	}
	if ct := fake.contentTypes["journals/prod/task-1.journal"]; ct != ContentType {
		t.Errorf("content type = %q", ct)
	}

	records, err := a.Records(context.Background(), loc)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 || records[0].Kind != journal.KindHeader {
		t.Fatalf("records = %+v", records)
	}
	if h := records[0].Header; h == nil || h.Object.String() != "Task:task-1" {
		t.Errorf("header = %+v", records[0].Header)
	}
}

func TestArchive_UploadExactKey(t *testing.T) {
	fake := newFakeS3()
	loc, err := New(fake).Upload(context.Background(), writeJournal(t), Location{Bucket: "b", Key: "runs/last.journal"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if loc.Key != "runs/last.journal" {
		t.Errorf("key = %q", loc.Key)
	}
	if _, ok := fake.objects["b/runs/last.journal"]; !ok {
		t.Error("object not stored under the exact key")
	}
}

func TestArchive_UploadFailure(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	_, err := New(fake).Upload(context.Background(), writeJournal(t), Location{Bucket: "b"})
	if err == nil || !errors.Is(err, fake.putErr) {
		t.Errorf("err = %v, want wrapped put error", err)
	}

	if _, err := New(fake).Upload(context.Background(), filepath.Join(t.TempDir(), "missing"), Location{Bucket: "b"}); err == nil {
		t.Error("expected error for missing journal file")
	}
}

func TestArchive_RecordsNotFound(t *testing.T) {
	_, err := New(newFakeS3()).Records(context.Background(), Location{Bucket: "b", Key: "nope.journal"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if _, err := New(newFakeS3()).Records(context.Background(), Location{Bucket: "b", Key: "prod/"}); err == nil {
		t.Error("expected error for a prefix location")
	}
}

func TestNewClient_Options(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	client, err := NewClient(context.Background(), Config{
		Region:       "eu-west-1",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	opts := client.Options()
	if opts.Region != "eu-west-1" {
		t.Errorf("region = %q", opts.Region)
	}
	if aws.ToString(opts.BaseEndpoint) != "http://localhost:9000" {
		t.Errorf("endpoint = %q", aws.ToString(opts.BaseEndpoint))
	}
	if !opts.UsePathStyle {
		t.Error("path-style addressing not set")
	}
}
