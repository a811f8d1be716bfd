package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig encapsulates the connection info for a Google Cloud Storage bucket.
type GCSConfig struct {
	ProjectID       string
	Bucket          string
	CredentialsFile string
}

// GCSClient implements ObjectStorage for Google Cloud Storage.
type GCSClient struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCSClient builds a client from a service account file, or from application
// default credentials when no file is configured. STORAGE_EMULATOR_HOST is
// honored by the underlying client.
func NewGCSClient(ctx context.Context, cfg GCSConfig) (*GCSClient, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket must be provided")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, storage.ScopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("unable to parse credentials file: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	if cfg.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(cfg.ProjectID))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create GCS client: %w", err)
	}

	return newGCSClient(client, cfg.Bucket), nil
}

func newGCSClient(client *storage.Client, bucket string) *GCSClient {
	return &GCSClient{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
	}
}

func (c *GCSClient) Bucket() string {
	return c.name
}

// ListObjects lists all objects for a given prefix.
func (c *GCSClient) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	query := &storage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name", "Size", "Updated"}); err != nil {
		return nil, fmt.Errorf("gcs query: %w", err)
	}

	results := make([]ObjectInfo, 0)
	it := c.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list failed: %w", err)
		}
		results = append(results, ObjectInfo{
			Key:     attrs.Name,
			Size:    attrs.Size,
			Updated: attrs.Updated,
		})
	}
	return results, nil
}

// UploadFile streams a local file into key, replacing any previous object.
func (c *GCSClient) UploadFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	return c.write(ctx, key, contentTypeFor(localPath), f)
}

// UploadObject writes data into key, replacing any previous object.
func (c *GCSClient) UploadObject(ctx context.Context, key string, data []byte) error {
	return c.write(ctx, key, contentTypeFor(key), bytes.NewReader(data))
}

func (c *GCSClient) write(ctx context.Context, key, contentType string, r io.Reader) error {
	// Cancelling the writer's context aborts the upload, so a failed copy never
	// finalizes a truncated object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := c.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("gcs write %s failed: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs finalize %s failed: %w", key, err)
	}
	return nil
}

// CheckBucket reloads the bucket metadata.
func (c *GCSClient) CheckBucket(ctx context.Context) error {
	_, err := c.bucket.Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, c.name)
	}
	if err != nil {
		return fmt.Errorf("gcs bucket attrs failed: %w", err)
	}
	return nil
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}

func contentTypeFor(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		return "text/csv"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ ObjectStorage = (*GCSClient)(nil)
