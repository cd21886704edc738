// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package transformproxy

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterbourgon/diskv"
	"go.uber.org/zap"
)

// tempDirName is the directory inside the cache where entries are staged
// before being renamed into place.
const tempDirName = ".incoming"

// Store keeps transformed images on local disk.  Each entry is a single file
// directly under Dir named by the fingerprint of its source; the file
// modification time mirrors the Last-Modified header of the stored response.
//
// Store never deletes entries.  It is safe for concurrent use: writes are
// staged in a temporary file and renamed, so readers see either the old
// entry or the new one.
type Store struct {
	Dir    string
	Logger *zap.Logger

	d *diskv.Diskv
}

// NewStore returns a Store rooted at dir.  The directory is created lazily on
// the first write.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		Dir:    dir,
		Logger: logger,
		d: diskv.New(diskv.Options{
			BasePath: dir,
			TempDir:  filepath.Join(dir, tempDirName),

			// entries are stored flat: "<sha1><ext>"
			Transform:    func(string) []string { return []string{} },
			CacheSizeMax: 0,
		}),
	}
}

// PathFor returns the cache file path for src.  The path depends only on the
// source path, protocol, transform params and Last-Modified of src, and is
// memoized on src.
func (s *Store) PathFor(src *Source) string {
	if src.cachePath == "" {
		src.cachePath = filepath.Join(s.Dir, cacheKey(src))
	}
	return src.cachePath
}

// cacheKey returns the file name of the cache entry for src.
func cacheKey(src *Source) string {
	req := src.Request
	fingerprint := strings.Join([]string{
		req.SourcePath,
		string(req.Protocol),
		req.TransformParams,
		src.LastModified,
	}, "-")

	sum := sha1.Sum([]byte(fingerprint))
	return hex.EncodeToString(sum[:]) + extension(req.SourcePath)
}

// extension returns the file extension of p, including the leading dot.  Any
// query or fragment is ignored.  If p has no usable extension (no dot in the
// last path segment, or non-alphanumeric characters after it) the empty
// string is returned.
func extension(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	i := strings.LastIndexByte(p, '.')
	if i < 0 || i == len(p)-1 {
		return ""
	}
	ext := p[i:]
	for _, c := range ext[1:] {
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return ""
		}
	}
	return ext
}

// Exists reports whether a cache entry for src is present.
func (s *Store) Exists(src *Source) bool {
	has := s.d.Has(cacheKey(src))
	if has {
		s.Logger.Info("got valid local cache entry", zap.String("path", s.PathFor(src)))
	} else {
		s.Logger.Info("no up to date local cache for image", zap.String("path", s.PathFor(src)))
	}
	return has
}

// Read returns the cached response for src.  The response is described by
// the cache file itself: its content, size and modification time.  An entry
// that disappeared after Exists returned true is reported as a
// *CacheReadError.
func (s *Store) Read(src *Source) (*Response, error) {
	path := s.PathFor(src)
	b, err := s.d.Read(cacheKey(src))
	if err != nil {
		return nil, &CacheReadError{Path: path, Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &CacheReadError{Path: path, Err: err}
	}

	h := make(http.Header)
	h.Set("Content-Type", sniffContentType(b))
	h.Set("Content-Length", strconv.Itoa(len(b)))
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	return &Response{
		StatusCode: http.StatusOK,
		Header:     h,
		Body:       b,
	}, nil
}

// Write stores the body of resp as the cache entry for src.  If resp has a
// Last-Modified header, the file modification time is set to it.
func (s *Store) Write(src *Source, resp *Response) error {
	path := s.PathFor(src)
	if err := s.ensureDir(); err != nil {
		return err
	}
	if err := checkWritable(path); err != nil {
		s.Logger.Warn("cannot write to path", zap.String("path", path))
		return &CacheWriteError{Path: path, Err: err}
	}

	s.Logger.Info("writing transformed image data", zap.String("path", path))
	if err := s.d.Write(cacheKey(src), resp.Body); err != nil {
		return &CacheWriteError{Path: path, Err: err}
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		t, err := http.ParseTime(lm)
		if err != nil {
			s.Logger.Debug("ignoring unparseable Last-Modified", zap.String("value", lm))
			return nil
		}
		if err := os.Chtimes(path, t, t); err != nil {
			return &CacheWriteError{Path: path, Err: err}
		}
	}
	return nil
}

// ensureDir creates the cache directory and its staging directory.  A
// creation failure is only reported if the directory still does not exist
// afterwards, since a concurrent request may have created it.
func (s *Store) ensureDir() error {
	for _, dir := range []string{s.Dir, filepath.Join(s.Dir, tempDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
				continue
			}
			s.Logger.Warn("could not create cache directory", zap.String("dir", dir), zap.Error(err))
			return &CacheDirectoryError{Dir: dir, Err: err}
		}
	}
	return nil
}

// checkWritable returns an error if path exists but cannot be opened for
// writing.  A missing file is fine.
func checkWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return f.Close()
}
