// Package storage uploads files to an S3-compatible bucket and maintains
// append-only JSON line logs there.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// API is the subset of the S3 client used by Bucket.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config locates a bucket.
type Config struct {
	Bucket string
	Region string
	// Endpoint selects an S3-compatible service (MinIO and similar) and
	// enables path-style addressing.
	Endpoint string
	// PublicURL overrides the base of returned links.
	PublicURL string
}

// Bucket is an object-storage bucket.
type Bucket struct {
	api    API
	cfg    Config
	logger *slog.Logger
}

// New connects to the bucket described by cfg using the default AWS
// credential chain.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return NewWithAPI(s3.NewFromConfig(awsCfg, s3opts...), cfg, logger), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, cfg Config, logger *slog.Logger) *Bucket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Bucket{api: api, cfg: cfg, logger: logger}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.cfg.Bucket }

// Link returns the public URL of an object.
func (b *Bucket) Link(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	switch {
	case b.cfg.PublicURL != "":
		return strings.TrimRight(b.cfg.PublicURL, "/") + "/" + escaped
	case b.cfg.Endpoint != "":
		return strings.TrimRight(b.cfg.Endpoint, "/") + "/" + b.cfg.Bucket + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.cfg.Bucket, b.cfg.Region, escaped)
}

// Upload stores the local file under its base name, makes it publicly
// readable and returns its link.
func (b *Bucket) Upload(ctx context.Context, localPath string) (string, error) {
	return b.UploadAs(ctx, localPath, filepath.Base(localPath))
}

// UploadAs is Upload with an explicit object key.
func (b *Bucket) UploadAs(ctx context.Context, localPath, key string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	if err := b.put(ctx, key, data, true); err != nil {
		return "", err
	}
	return b.Link(key), nil
}

// Put stores data under key with the bucket's default ACL.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) error {
	return b.put(ctx, key, data, false)
}

func (b *Bucket) put(ctx context.Context, key string, data []byte, public bool) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if ct := contentType(key); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if public {
		in.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := b.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	}
	return mime.TypeByExtension(path.Ext(key))
}

// Get reads an object. A missing object returns ErrNotFound.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3 get object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get object %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// ErrNotFound is returned by Get for a missing object.
var ErrNotFound = errors.New("object not found")

// AppendObjToFile appends obj as one JSON line to the log at bucketPath,
// keeping a local copy at localPath, and returns the new content. An object
// that cannot be downloaded starts a new log.
func (b *Bucket) AppendObjToFile(ctx context.Context, localPath, bucketPath string, obj any) (string, error) {
	line, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("encode log entry: %w", err)
	}

	var lines []string
	existing, err := b.Get(ctx, bucketPath)
	switch {
	case err == nil:
		if s := strings.TrimRight(string(existing), "\n"); s != "" {
			lines = strings.Split(s, "\n")
		}
	case errors.Is(err, ErrNotFound):
	default:
		b.logger.Warn("download log failed, starting a new one", "key", bucketPath, "err", err)
	}
	lines = append(lines, string(line))

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	content := sb.String()

	if err := os.WriteFile(localPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", localPath, err)
	}
	if err := b.put(ctx, bucketPath, []byte(content), false); err != nil {
		return "", err
	}
	return content, nil
}
