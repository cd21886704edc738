// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package sourcecache

import (
	"context"
	"errors"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// bucketHandle and objectHandle are the parts of the GCS client used by
// gcsCache.
type bucketHandle interface {
	Object(name string) objectHandle
}

type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

type gcsBucket struct{ *storage.BucketHandle }

func (b gcsBucket) Object(name string) objectHandle {
	return gcsObject{b.BucketHandle.Object(name)}
}

type gcsObject struct{ *storage.ObjectHandle }

func (o gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.ObjectHandle.NewReader(ctx)
}

func (o gcsObject) NewWriter(ctx context.Context) io.WriteCloser {
	return o.ObjectHandle.NewWriter(ctx)
}

// gcsCache stores entries on Google Cloud Storage.
type gcsCache struct {
	bucket bucketHandle
	prefix string
	logger *zap.Logger
}

func (c *gcsCache) object(key string) objectHandle {
	return c.bucket.Object(path.Join(c.prefix, keyToFilename(key)))
}

func (c *gcsCache) Get(key string) ([]byte, bool) {
	r, err := c.object(key).NewReader(context.Background())
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			c.logger.Warn("error reading from gcs", zap.Error(err))
		}
		return nil, false
	}
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		c.logger.Warn("error reading from gcs", zap.Error(err))
		return nil, false
	}
	// an empty object is a failed write, not a cached response
	if len(value) == 0 {
		return nil, false
	}
	return value, true
}

func (c *gcsCache) Set(key string, value []byte) {
	w := c.object(key).NewWriter(context.Background())
	if _, err := w.Write(value); err != nil {
		c.logger.Warn("error writing to gcs", zap.Error(err))
	}
	if err := w.Close(); err != nil {
		c.logger.Warn("error closing gcs object writer", zap.Error(err))
	}
}

func (c *gcsCache) Delete(key string) {
	if err := c.object(key).Delete(context.Background()); err != nil {
		c.logger.Warn("error deleting gcs object", zap.Error(err))
	}
}

// newGCS constructs a cache storing objects in the named bucket.  If prefix
// is not empty, object names are prefixed with it.  Credentials come from
// Application Default Credentials.
func newGCS(bucket, prefix string, logger *zap.Logger) (*gcsCache, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, err
	}
	return &gcsCache{
		bucket: gcsBucket{client.Bucket(bucket)},
		prefix: prefix,
		logger: logger,
	}, nil
}
