// Package storage gives the job config, staged data and output files a
// home in a blob bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local filesystem driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // in-memory driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"

	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

// Store is a bucket addressed by slash separated paths.
type Store struct {
	bucket *blob.Bucket
	url    string
}

// Object describes a stored file.
type Object struct {
	Key  string
	Size int64
}

// Open opens the bucket behind bucketURL (file://, mem://, s3://, gs://).
// The directory of a file:// bucket is created when missing.
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("parse storage url %s: %w", bucketURL, err)
	}
	if u.Scheme == "file" {
		if err := os.MkdirAll(u.Path, 0755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", u.Path, err)
		}
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	loadlog.Zero.Debug().Str("url", bucketURL).Msg("storage: bucket opened")
	return &Store{bucket: bucket, url: strings.TrimSuffix(bucketURL, "/")}, nil
}

// NewStore wraps an already opened bucket.
func NewStore(bucket *blob.Bucket, bucketURL string) *Store {
	return &Store{bucket: bucket, url: bucketURL}
}

// Key turns a path into a bucket key.
func Key(path string) string {
	return strings.TrimLeft(path, "/")
}

// URI returns the location of a path for logging and manifests.
func (s *Store) URI(path string) string {
	return s.url + "/" + Key(path)
}

func (s *Store) WriteAll(ctx context.Context, path string, data []byte) error {
	key := Key(path)
	if err := s.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) ReadAll(ctx context.Context, path string) ([]byte, error) {
	key := Key(path)
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "object %s not found", key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) NewWriter(ctx context.Context, path string) (io.WriteCloser, error) {
	key := Key(path)
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", key, err)
	}
	return w, nil
}

func (s *Store) NewReader(ctx context.Context, path string) (io.ReadCloser, error) {
	key := Key(path)
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, loaderror.Newf(loaderror.LOAD_NOT_FOUND, "object %s not found", key)
		}
		return nil, fmt.Errorf("create reader for %s: %w", key, err)
	}
	return r, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	return s.bucket.Exists(ctx, Key(path))
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.bucket.Delete(ctx, Key(path))
}

// List returns every object below prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var ret []Object
	it := s.bucket.List(&blob.ListOptions{Prefix: Key(prefix)})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		ret = append(ret, Object{Key: obj.Key, Size: obj.Size})
	}
	return ret, nil
}

// Close releases the bucket connection.
func (s *Store) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

type bucketReader struct {
	io.ReadCloser
	store *Store
}

func (r *bucketReader) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// NewURLReader reads p from the bucket its URL names, or from s when p
// is a plain path.
func (s *Store) NewURLReader(ctx context.Context, p string) (io.ReadCloser, error) {
	u, err := url.Parse(p)
	if err != nil || u.Scheme == "" {
		return s.NewReader(ctx, p)
	}

	var bucketURL, key string
	switch u.Scheme {
	case "file":
		bucketURL, key = "file://"+path.Dir(u.Path), path.Base(u.Path)
	default:
		bucketURL, key = u.Scheme+"://"+u.Host, u.Path
		if u.RawQuery != "" {
			bucketURL += "?" + u.RawQuery
		}
	}

	other, err := Open(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	r, err := other.NewReader(ctx, key)
	if err != nil {
		_ = other.Close()
		return nil, err
	}
	return &bucketReader{ReadCloser: r, store: other}, nil
}
