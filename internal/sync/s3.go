package sync

import (
	"context"

	"github.com/Krajiyah/firebase-admin-util/internal/storage"
)

// S3Destination writes the backup to one object of a bucket.
type S3Destination struct {
	bucket *storage.Bucket
	key    string
}

// NewS3Destination creates an S3 destination writing to key.
func NewS3Destination(bucket *storage.Bucket, key string) *S3Destination {
	return &S3Destination{bucket: bucket, key: key}
}

// Write replaces the backup object.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	return d.bucket.Put(ctx, d.key, data)
}
