package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type putCall struct {
	key         string
	acl         types.ObjectCannedACL
	contentType string
}

// fakeS3 is an in-memory API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []putCall
	getErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.puts = append(f.puts, putCall{key: key, acl: in.ACL, contentType: aws.ToString(in.ContentType)})
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestUpload(t *testing.T) {
	api := newFakeS3()
	b := NewWithAPI(api, Config{Bucket: "media", Region: "eu-west-1"}, nil)

	local := filepath.Join(t.TempDir(), "photo.png")
	os.WriteFile(local, []byte("png"), 0o644)

	link, err := b.Upload(context.Background(), local)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if want := "https://media.s3.eu-west-1.amazonaws.com/photo.png"; link != want {
		t.Errorf("link = %q, want %q", link, want)
	}
	if string(api.objects["photo.png"]) != "png" {
		t.Errorf("stored = %q", api.objects["photo.png"])
	}
	if len(api.puts) != 1 || api.puts[0].acl != types.ObjectCannedACLPublicRead || api.puts[0].contentType != "image/png" {
		t.Errorf("put = %+v, want public-read image/png", api.puts)
	}

	if _, err := b.Upload(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Upload(missing file) = nil error")
	}
}

func TestLink(t *testing.T) {
	for _, tc := range []struct {
		cfg  Config
		key  string
		want string
	}{
		{Config{Bucket: "b"}, "a b.txt", "https://b.s3.us-east-1.amazonaws.com/a%20b.txt"},
		{Config{Bucket: "b", Endpoint: "http://minio:9000/"}, "x/y.txt", "http://minio:9000/b/x/y.txt"},
		{Config{Bucket: "b", Endpoint: "http://minio:9000", PublicURL: "https://cdn.example.com/"}, "y.txt", "https://cdn.example.com/y.txt"},
	} {
		if got := NewWithAPI(newFakeS3(), tc.cfg, nil).Link(tc.key); got != tc.want {
			t.Errorf("Link(%q) with %+v = %q, want %q", tc.key, tc.cfg, got, tc.want)
		}
	}
}

func TestAppendObjToFile(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	b := NewWithAPI(api, Config{Bucket: "logs"}, nil)
	local := filepath.Join(t.TempDir(), "log.jsonl")

	content, err := b.AppendObjToFile(ctx, local, "audit/log.jsonl", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if content != "{\"n\":1}\n" {
		t.Errorf("content = %q", content)
	}

	content, err = b.AppendObjToFile(ctx, local, "audit/log.jsonl", map[string]any{"n": 2})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if want := "{\"n\":1}\n{\"n\":2}\n"; content != want {
		t.Errorf("content = %q, want %q", content, want)
	}
	if got, _ := os.ReadFile(local); string(got) != content {
		t.Errorf("local copy = %q", got)
	}
	if string(api.objects["audit/log.jsonl"]) != content {
		t.Errorf("remote copy = %q", api.objects["audit/log.jsonl"])
	}
	last := api.puts[len(api.puts)-1]
	if last.acl != "" || last.contentType != "application/x-ndjson" {
		t.Errorf("log put = %+v", last)
	}
}

func TestAppendObjToFileDownloadFailureStartsNewLog(t *testing.T) {
	api := newFakeS3()
	api.objects["log.jsonl"] = []byte("{\"old\":true}\n")
	api.getErr = errors.New("access denied")
	b := NewWithAPI(api, Config{Bucket: "logs"}, nil)

	content, err := b.AppendObjToFile(context.Background(), filepath.Join(t.TempDir(), "l"), "log.jsonl", "x")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if content != "\"x\"\n" || strings.Contains(content, "old") {
		t.Errorf("content = %q, want only the new line", content)
	}
}

func TestGetMissing(t *testing.T) {
	b := NewWithAPI(newFakeS3(), Config{Bucket: "b"}, nil)
	if _, err := b.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}
