// Package archive copies journals to and from S3-compatible object storage.
//
// Locations are written as s3://bucket/key. A key ending in "/" is a
// prefix: uploads append the journal file name to it.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pithecene-io/propwatch/iox"
	"github.com/pithecene-io/propwatch/journal"
)

// ContentType is stored with uploaded journals.
const ContentType = "application/vnd.propwatch.journal+msgpack"

const scheme = "s3://"

// ErrNotFound indicates no journal exists at a location.
var ErrNotFound = errors.New("journal not found in archive")

// Location addresses one object or prefix in a bucket.
type Location struct {
	Bucket string
	Key    string
}

// IsURL reports whether s names an archive location rather than a file.
func IsURL(s string) bool {
	return strings.HasPrefix(s, scheme)
}

// ParseURL parses s3://bucket[/key].
func ParseURL(raw string) (Location, error) {
	if !IsURL(raw) {
		return Location{}, fmt.Errorf("archive location %q must start with %s", raw, scheme)
	}
	bucket, key, _ := strings.Cut(strings.TrimPrefix(raw, scheme), "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("archive location %q has no bucket", raw)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// IsPrefix reports whether l names a prefix rather than one object.
func (l Location) IsPrefix() bool {
	return l.Key == "" || strings.HasSuffix(l.Key, "/")
}

func (l Location) String() string {
	return scheme + l.Bucket + "/" + l.Key
}

// Config selects the S3 endpoint. Credentials come from the AWS default
// chain (env vars, shared config, IAM role).
type Config struct {
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint URL for S3-compatible providers
	// (e.g. MinIO, Cloudflare R2). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
}

// NewClient builds an S3 client from cfg.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// API is the part of *s3.Client the archive uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archive stores journal files in a bucket.
type Archive struct {
	api API
}

// New returns an archive over api.
func New(api API) *Archive {
	return &Archive{api: api}
}

// Upload copies the journal file at path to dst and returns the object
// location written.
func (a *Archive) Upload(ctx context.Context, path string, dst Location) (Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return Location{}, fmt.Errorf("open journal: %w", err)
	}
	defer iox.DiscardClose(f)
	info, err := f.Stat()
	if err != nil {
		return Location{}, fmt.Errorf("stat journal: %w", err)
	}

	if dst.IsPrefix() {
		dst.Key += filepath.Base(path)
	}
	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(dst.Bucket),
		Key:           aws.String(dst.Key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		return Location{}, fmt.Errorf("upload %s: %w", dst, err)
	}
	return dst, nil
}

// Records downloads and decodes the journal at src.
func (a *Archive) Records(ctx context.Context, src Location) ([]*journal.Record, error) {
	if src.IsPrefix() {
		return nil, fmt.Errorf("archive location %s names a prefix, not a journal", src)
	}
	out, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(src.Bucket),
		Key:    aws.String(src.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return nil, fmt.Errorf("download %s: %w", src, err)
	}
	defer iox.DrainClose(out.Body)

	records, err := journal.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", src, err)
	}
	return records, nil
}
