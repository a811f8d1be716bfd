package storage

import (
	"context"
	"errors"
	"time"
)

// ErrBucketNotFound is returned by CheckBucket when the bucket does not exist.
var ErrBucketNotFound = errors.New("bucket not found")

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key     string
	Size    int64
	Updated time.Time
}

// ObjectStorage captures the object-store operations the transfer pipeline needs.
// Uploads replace any existing object with the same key.
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	UploadFile(ctx context.Context, key string, localPath string) error
	UploadObject(ctx context.Context, key string, data []byte) error
	CheckBucket(ctx context.Context) error
	Bucket() string
	Close() error
}
