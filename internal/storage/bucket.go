package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob" // S3 driver
	"gocloud.dev/gcerrors"
)

// BucketStore implements Store on a gocloud.dev bucket.
type BucketStore struct {
	bucket  *blob.Bucket
	baseURI string // e.g. gs://name, file:///abs/dir, mem://
	prefix  string
}

var _ Store = (*BucketStore)(nil)

// NewBucketStore wraps an already opened bucket. The store takes ownership
// and closes it on Close.
func NewBucketStore(bucket *blob.Bucket, baseURI, prefix string) *BucketStore {
	return &BucketStore{
		bucket:  bucket,
		baseURI: baseURI,
		prefix:  prefix,
	}
}

// OpenLocal creates a store rooted at a local directory.
func OpenLocal(baseDir, prefix string) (*BucketStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", baseDir, err)
	}

	bucket, err := fileblob.OpenBucket(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open local bucket %s: %w", abs, err)
	}

	return NewBucketStore(bucket, "file://"+filepath.ToSlash(abs), prefix), nil
}

// OpenMemory creates a process-local store. Contents are lost on Close.
func OpenMemory(prefix string) *BucketStore {
	return NewBucketStore(memblob.OpenBucket(nil), "mem://", prefix)
}

// OpenGCS creates a store on a Google Cloud Storage bucket.
func OpenGCS(ctx context.Context, bucketName, prefix string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}
	return NewBucketStore(bucket, "gs://"+bucketName, prefix), nil
}

// OpenS3 creates a store on S3-compatible storage.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func OpenS3(ctx context.Context, bucketName, prefix, endpoint, region string) (*BucketStore, error) {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("use_path_style", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}
	return NewBucketStore(bucket, "s3://"+bucketName, prefix), nil
}

func (s *BucketStore) path(key string) string {
	return s.prefix + key
}

// Write writes data to key. The blob writer only publishes the object on a
// successful Close.
func (s *BucketStore) Write(ctx context.Context, key string, data []byte) error {
	path := s.path(key)

	w, err := s.bucket.NewWriter(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", path, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", path, err)
	}

	return nil
}

// Read returns the bytes stored at key.
func (s *BucketStore) Read(ctx context.Context, key string) ([]byte, error) {
	path := s.path(key)

	data, err := s.bucket.ReadAll(ctx, path)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("read %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Delete removes key.
func (s *BucketStore) Delete(ctx context.Context, key string) error {
	path := s.path(key)
	if err := s.bucket.Delete(ctx, path); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Head returns metadata about a stored object.
func (s *BucketStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	path := s.path(key)

	attrs, err := s.bucket.Attributes(ctx, path)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("get attributes for %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("get attributes for %s: %w", path, err)
	}

	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

// List returns all keys with the given prefix.
func (s *BucketStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: s.path(prefix),
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, s.prefix))
	}

	return keys, nil
}

// URI returns the canonical URI for the given key.
func (s *BucketStore) URI(key string) string {
	if strings.HasSuffix(s.baseURI, "/") {
		return s.baseURI + s.path(key)
	}
	return s.baseURI + "/" + s.path(key)
}

// Close releases the bucket connection.
func (s *BucketStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
