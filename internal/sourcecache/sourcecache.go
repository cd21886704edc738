// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package sourcecache builds the optional HTTP cache used for fetched
// original images.  A cache is described by a space separated list of
// locations; when more than one is given they are combined into a tiered
// cache, with the first location consulted first.
//
// Supported locations:
//
//	memory[:maxSizeMB[:maxAge]]     in-memory LRU cache
//	/path or file:///path[?ttl=1h]   on-disk cache
//	redis://host:port               Redis (password from REDIS_PASSWORD)
//	s3://region/bucket/prefix[?ttl=1h]
//	gcs://bucket/prefix
//	azure://container
package sourcecache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaulARoy/azurestoragecache"
	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/peterbourgon/diskv"
	"go.uber.org/zap"
	"willnorris.com/go/transformproxy"
)

// defaultMemorySize is the size in megabytes of a bare "memory" cache.
const defaultMemorySize = 100

// minCleanupInterval bounds how often a ttl disk cache scans for expired
// entries.
const minCleanupInterval = time.Minute

// Parse returns the cache described by spec, or nil if spec is empty.
func Parse(spec string, logger *zap.Logger) (httpcache.Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var cache httpcache.Cache
	for _, v := range strings.Fields(spec) {
		c, err := parseOne(v, logger)
		if err != nil {
			return nil, err
		}

		if cache == nil {
			cache = c
		} else {
			cache = twotier.New(cache, c)
		}
	}
	return cache, nil
}

// parseOne returns the cache for a single location.
func parseOne(c string, logger *zap.Logger) (httpcache.Cache, error) {
	if c == "memory" {
		c = fmt.Sprintf("memory:%d", defaultMemorySize)
	}

	u, err := url.Parse(c)
	if err != nil {
		return nil, fmt.Errorf("error parsing cache location %q: %w", c, err)
	}

	switch u.Scheme {
	case "azure":
		return azurestoragecache.New("", "", u.Host)
	case "gcs":
		return newGCS(u.Host, strings.TrimPrefix(u.Path, "/"), logger)
	case "memory":
		return lruCache(u.Opaque)
	case "redis":
		return newRedis(u.String(), logger), nil
	case "s3":
		return newS3(u, logger)
	case "file":
		return fileCache(u.Path, u.Query().Get("ttl"), logger)
	case "":
		return fileCache(c, "", logger)
	default:
		return nil, fmt.Errorf("unsupported cache location %q", c)
	}
}

// lruCache creates an LRU Cache with the specified options of the form
// "maxSize:maxAge".  maxSize is specified in megabytes, maxAge is a duration.
func lruCache(options string) (*lrucache.LruCache, error) {
	parts := strings.SplitN(options, ":", 2)
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid memory cache size %q: %w", parts[0], err)
	}

	var age time.Duration
	if len(parts) > 1 {
		age, err = time.ParseDuration(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid memory cache age %q: %w", parts[1], err)
		}
	}

	return lrucache.New(size*1e6, int64(age.Seconds())), nil
}

// fileCache returns an on-disk cache rooted at path.  Entries expire after
// ttl when it is set.
func fileCache(path, ttl string, logger *zap.Logger) (httpcache.Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("file cache requires a path")
	}
	if ttl == "" {
		return diskcache.NewWithDiskv(newDiskv(path)), nil
	}
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return nil, fmt.Errorf("invalid file cache ttl %q: %w", ttl, err)
	}
	c := newTTLDisk(path, d, logger)
	go c.cleanupEvery(cleanupInterval(d), nil)
	return c, nil
}

// cleanupInterval returns how often expired entries are removed from a disk
// cache with the given ttl.
func cleanupInterval(ttl time.Duration) time.Duration {
	return max(ttl, minCleanupInterval)
}

func newDiskv(path string) *diskv.Diskv {
	return diskv.New(diskv.Options{
		BasePath: path,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
}

// keyToFilename maps a cache key, usually a URL, to a name safe for use in
// object stores and file systems.
func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// NewTransport returns a caching transport for fetching original images,
// backed by the cache described by spec and wrapping the proxy's default
// transport.  It returns nil if spec is empty, so that the proxy uses its
// default transport directly.
func NewTransport(spec string, logger *zap.Logger) (http.RoundTripper, error) {
	cache, err := Parse(spec, logger)
	if err != nil || cache == nil {
		return nil, err
	}
	return &httpcache.Transport{
		Transport:           transformproxy.DefaultTransport(logger),
		Cache:               cache,
		MarkCachedResponses: true,
	}, nil
}
