// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package sourcecache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"
)

// s3Entry is the JSON document stored for each S3 object.
type s3Entry struct {
	Data       []byte    `json:"data"`
	ExpiryTime time.Time `json:"expiry_time,omitempty"`
}

// s3Cache stores entries on Amazon S3 or an S3 compatible service.
type s3Cache struct {
	s3iface.S3API
	bucket, prefix string
	ttl            time.Duration

	logger *zap.Logger
	now    func() time.Time
}

func (c *s3Cache) key(key string) string {
	return path.Join(c.prefix, keyToFilename(key))
}

func (c *s3Cache) Get(key string) ([]byte, bool) {
	k := c.key(key)
	resp, err := c.GetObject(&s3.GetObjectInput{Bucket: &c.bucket, Key: &k})
	if err != nil {
		var aerr awserr.Error
		if !errors.As(err, &aerr) || aerr.Code() != s3.ErrCodeNoSuchKey {
			c.logger.Warn("error fetching from s3", zap.String("key", k), zap.Error(err))
		}
		return nil, false
	}
	defer resp.Body.Close()

	var entry s3Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		c.logger.Warn("error decoding s3 cache entry", zap.String("key", k), zap.Error(err))
		return nil, false
	}

	if !entry.ExpiryTime.IsZero() && c.now().After(entry.ExpiryTime) {
		c.Delete(key)
		return nil, false
	}
	return entry.Data, true
}

func (c *s3Cache) Set(key string, value []byte) {
	k := c.key(key)
	entry := s3Entry{Data: value}
	if c.ttl > 0 {
		entry.ExpiryTime = c.now().Add(c.ttl)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("error encoding s3 cache entry", zap.Error(err))
		return
	}

	_, err = c.PutObject(&s3.PutObjectInput{
		Body:   aws.ReadSeekCloser(bytes.NewReader(data)),
		Bucket: &c.bucket,
		Key:    &k,
	})
	if err != nil {
		c.logger.Warn("error writing to s3", zap.String("key", k), zap.Error(err))
	}
}

func (c *s3Cache) Delete(key string) {
	k := c.key(key)
	if _, err := c.DeleteObject(&s3.DeleteObjectInput{Bucket: &c.bucket, Key: &k}); err != nil {
		c.logger.Warn("error deleting from s3", zap.String("key", k), zap.Error(err))
	}
}

// newS3 constructs an S3 cache from a URL of the form
// "s3://region/bucket/optional-path-prefix".  The query parameters
// "endpoint", "disableSSL", "s3ForcePathStyle" and "ttl" are recognized.
func newS3(u *url.URL, logger *zap.Logger) (*s3Cache, error) {
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("s3 cache location %q has no bucket", u)
	}
	c := &s3Cache{
		bucket: parts[0],
		logger: logger,
		now:    time.Now,
	}
	if len(parts) > 1 {
		c.prefix = parts[1]
	}

	q := u.Query()
	if v := q.Get("ttl"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid s3 cache ttl %q: %w", v, err)
		}
		c.ttl = ttl
	}

	config := aws.NewConfig().WithRegion(u.Host)
	if v := q.Get("endpoint"); v != "" {
		config = config.WithEndpoint(v)
	}
	if q.Get("disableSSL") == "1" {
		config = config.WithDisableSSL(true)
	}
	if q.Get("s3ForcePathStyle") == "1" {
		config = config.WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, err
	}
	c.S3API = s3.New(sess)
	return c, nil
}
