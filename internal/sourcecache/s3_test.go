// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package sourcecache

import (
	"bytes"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"
)

func zapNop() *zap.Logger { return zap.NewNop() }

// mockS3Client is a mock implementation of the S3 client interface
type mockS3Client struct {
	s3iface.S3API
	storage map[string][]byte
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		storage: make(map[string][]byte),
	}
}

func (m *mockS3Client) GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	if data, ok := m.storage[*input.Key]; ok {
		return &s3.GetObjectOutput{
			Body: aws.ReadSeekCloser(bytes.NewReader(data)),
		}, nil
	}
	return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
}

func (m *mockS3Client) PutObject(input *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.storage[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	delete(m.storage, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Cache(t *testing.T) {
	now := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := newMockS3Client()
	c := &s3Cache{
		S3API:  mock,
		bucket: "test-bucket",
		prefix: "test-prefix",
		ttl:    time.Hour,
		logger: zapNop(),
		now:    func() time.Time { return now },
	}

	t.Run("Basic Set and Get", func(t *testing.T) {
		c.Set("test-key", []byte("test-data"))
		got, exists := c.Get("test-key")
		if !exists {
			t.Error("expected data to exist in cache")
		}
		if string(got) != "test-data" {
			t.Errorf("got %q, want %q", got, "test-data")
		}
		if _, ok := mock.storage["test-prefix/"+keyToFilename("test-key")]; !ok {
			t.Errorf("object not stored under hashed key, have %v", mock.storage)
		}
	})

	t.Run("Expiration", func(t *testing.T) {
		c.Set("expiring-key", []byte("expiring-data"))
		now = now.Add(2 * time.Hour)

		if _, exists := c.Get("expiring-key"); exists {
			t.Error("expected data to be expired")
		}
		if _, ok := mock.storage["test-prefix/"+keyToFilename("expiring-key")]; ok {
			t.Error("expected expired object to be deleted")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set("delete-key", []byte("delete-data"))
		c.Delete("delete-key")

		if _, exists := c.Get("delete-key"); exists {
			t.Error("expected data to be deleted")
		}
	})

	t.Run("No TTL", func(t *testing.T) {
		noTTL := &s3Cache{
			S3API:  newMockS3Client(),
			bucket: "test-bucket",
			logger: zapNop(),
			now:    func() time.Time { return now },
		}
		noTTL.Set("no-ttl-key", []byte("no-ttl-data"))
		now = now.Add(24 * time.Hour)

		got, exists := noTTL.Get("no-ttl-key")
		if !exists || string(got) != "no-ttl-data" {
			t.Errorf("Get returned %q, %v, want %q, true", got, exists, "no-ttl-data")
		}
	})
}

func TestNewS3(t *testing.T) {
	u, _ := url.Parse("s3://us-west-2/test-bucket/test-prefix?ttl=24h&endpoint=http://localhost:9000&s3ForcePathStyle=1")
	c, err := newS3(u, zapNop())
	if err != nil {
		t.Fatalf("newS3 returned error: %v", err)
	}

	if got, want := c.ttl, 24*time.Hour; got != want {
		t.Errorf("got TTL %v, want %v", got, want)
	}
	if c.bucket != "test-bucket" {
		t.Errorf("got bucket %q, want %q", c.bucket, "test-bucket")
	}
	if c.prefix != "test-prefix" {
		t.Errorf("got prefix %q, want %q", c.prefix, "test-prefix")
	}
}
