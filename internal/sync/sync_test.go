package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Krajiyah/firebase-admin-util/internal/storage"
)

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return d.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	reg := newRegistry(t)
	seed(t, reg)

	dest := &mockDestination{}
	sched := NewScheduler(reg, []Destination{dest}, 50*time.Millisecond, testLogger())
	sched.Start()

	// Wait for at least the initial sync + one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}

	data, ok := dest.last.Load().([]byte)
	if !ok || len(data) == 0 {
		t.Fatal("expected non-empty data")
	}
	// 1 header + 3 records
	if lines := nonEmptyLines(string(data)); len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(newRegistry(t), nil, time.Minute, testLogger())
	// Stop without Start should not panic.
	sched.Stop()
}

func TestSyncOnceReportsFailedDestinations(t *testing.T) {
	ok := &mockDestination{}
	bad := &mockDestination{err: errors.New("disk full")}
	sched := NewScheduler(newRegistry(t), []Destination{bad, ok}, time.Minute, testLogger())

	if err := sched.SyncOnce(context.Background()); err == nil {
		t.Error("SyncOnce = nil error, want destination failure")
	}
	if ok.writes.Load() != 1 {
		t.Error("healthy destination skipped after a failure")
	}
}

func TestFileDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "backup.jsonl")
	d := NewFileDestination(path)
	for _, payload := range []string{"first\n", "second\n"} {
		if err := d.Write(context.Background(), []byte(payload)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "second\n" {
		t.Errorf("backup = %q, %v", got, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

type putRecorder struct {
	key  string
	body []byte
}

func (p *putRecorder) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	p.key = aws.ToString(in.Key)
	p.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (p *putRecorder) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errors.New("not used")
}

func TestS3Destination(t *testing.T) {
	api := &putRecorder{}
	d := NewS3Destination(storage.NewWithAPI(api, storage.Config{Bucket: "backups"}, nil), "fbutil/backup.jsonl")
	if err := d.Write(context.Background(), []byte("data\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if api.key != "fbutil/backup.jsonl" || !bytes.Equal(api.body, []byte("data\n")) {
		t.Errorf("put key=%q body=%q", api.key, api.body)
	}
}
