// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package sourcecache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gregjones/httpcache/diskcache"
	"github.com/peterbourgon/diskv"
	"go.uber.org/zap"
)

// ttlMeta records when a disk entry expires.
type ttlMeta struct {
	ExpiryTime time.Time
}

// ttlDiskCache is a disk cache whose entries expire after a fixed duration.
// Expiry times are kept in a side directory, one small file per key.
type ttlDiskCache struct {
	*diskcache.Cache
	d           *diskv.Diskv
	ttl         time.Duration
	metadataDir string
	logger      *zap.Logger
	now         func() time.Time

	mu sync.RWMutex
}

func newTTLDisk(basePath string, ttl time.Duration, logger *zap.Logger) *ttlDiskCache {
	metadataDir := filepath.Join(basePath, "_metadata")
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		logger.Warn("error creating metadata directory", zap.String("dir", metadataDir), zap.Error(err))
	}

	d := newDiskv(basePath)
	return &ttlDiskCache{
		Cache:       diskcache.NewWithDiskv(d),
		d:           d,
		ttl:         ttl,
		metadataDir: metadataDir,
		logger:      logger,
		now:         time.Now,
	}
}

func (c *ttlDiskCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	meta, err := c.loadMetadata(key)
	c.mu.RUnlock()
	if err != nil {
		return nil, false
	}
	if c.now().After(meta.ExpiryTime) {
		c.Delete(key)
		return nil, false
	}
	return c.Cache.Get(key)
}

func (c *ttlDiskCache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.saveMetadata(key, ttlMeta{ExpiryTime: c.now().Add(c.ttl)}); err != nil {
		c.logger.Warn("error saving cache metadata", zap.Error(err))
		return
	}
	c.Cache.Set(key, data)
}

func (c *ttlDiskCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Cache.Delete(key)
	c.deleteMetadata(keyToFilename(key))
}

// CleanupExpired removes all expired entries.
func (c *ttlDiskCache) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.metadataDir)
	if err != nil {
		c.logger.Warn("error reading metadata directory", zap.Error(err))
		return
	}

	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".meta")
		if entry.IsDir() || !ok {
			continue
		}
		meta, err := c.readMetadata(c.metadataPath(name))
		if err != nil || !c.now().After(meta.ExpiryTime) {
			continue
		}
		// diskcache names data files with the same md5 hash
		if err := c.d.Erase(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("error deleting expired entry", zap.String("name", name), zap.Error(err))
		}
		c.deleteMetadata(name)
	}
}

// cleanupEvery runs CleanupExpired every interval until stop is closed.
func (c *ttlDiskCache) cleanupEvery(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stop:
			return
		}
	}
}

func (c *ttlDiskCache) metadataPath(name string) string {
	return filepath.Join(c.metadataDir, name+".meta")
}

func (c *ttlDiskCache) saveMetadata(key string, meta ttlMeta) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		return err
	}
	return os.WriteFile(c.metadataPath(keyToFilename(key)), buf.Bytes(), 0o644)
}

func (c *ttlDiskCache) loadMetadata(key string) (ttlMeta, error) {
	return c.readMetadata(c.metadataPath(keyToFilename(key)))
}

func (c *ttlDiskCache) readMetadata(path string) (ttlMeta, error) {
	var meta ttlMeta
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("error reading cache metadata", zap.Error(err))
		}
		return meta, err
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		c.logger.Warn("error decoding cache metadata", zap.Error(err))
		return meta, err
	}
	return meta, nil
}

func (c *ttlDiskCache) deleteMetadata(name string) {
	if err := os.Remove(c.metadataPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("error deleting cache metadata", zap.Error(err))
	}
}
