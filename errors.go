// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package transformproxy

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
)

// MalformedRequestError reports a request path that does not name a
// protocol and source.
type MalformedRequestError struct {
	URI string
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("The input string [%s] does not appear to be valid", e.URI)
}

// SourceUnavailableError reports an original image that could not be read.
// StatusCode is set when a remote host answered with a non-success status.
type SourceUnavailableError struct {
	Location   string
	StatusCode int
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source %q unavailable: remote returned status %d", e.Location, e.StatusCode)
	}
	return fmt.Sprintf("source %q unavailable: %v", e.Location, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// UpstreamError reports a failure talking to the transformation API.  Phase
// is either "preflight" or "full".
type UpstreamError struct {
	Phase string
	URL   string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s request to %s failed: %v", e.Phase, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// CacheReadError reports a cache entry that existed but could not be read.
type CacheReadError struct {
	Path string
	Err  error
}

func (e *CacheReadError) Error() string {
	return fmt.Sprintf("error reading cache file [%s]: %v", e.Path, e.Err)
}

func (e *CacheReadError) Unwrap() error { return e.Err }

// CacheWriteError reports a cache file that could not be written.
type CacheWriteError struct {
	Path string
	Err  error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("error writing cache file [%s]: %v", e.Path, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// CacheDirectoryError reports a cache directory that does not exist and
// could not be created.
type CacheDirectoryError struct {
	Dir string
	Err error
}

func (e *CacheDirectoryError) Error() string {
	return fmt.Sprintf("cache directory [%s] is not writable: %v", e.Dir, e.Err)
}

func (e *CacheDirectoryError) Unwrap() error { return e.Err }

// errorKind returns the diagnostic label and HTTP status code used when err
// terminates a request.
func errorKind(err error) (string, int) {
	var (
		malformed *MalformedRequestError
		source    *SourceUnavailableError
		upstream  *UpstreamError
		cacheRead *CacheReadError
		cacheWr   *CacheWriteError
		cacheDir  *CacheDirectoryError
	)
	switch {
	case errors.As(err, &malformed):
		return "MalformedRequest", http.StatusBadRequest
	case errors.As(err, &source):
		if source.StatusCode == http.StatusNotFound || errors.Is(source.Err, fs.ErrNotExist) {
			return "SourceUnavailable", http.StatusNotFound
		}
		return "SourceUnavailable", http.StatusBadGateway
	case errors.As(err, &upstream):
		return "UpstreamError", http.StatusBadGateway
	case errors.As(err, &cacheRead):
		return "CacheReadError", http.StatusInternalServerError
	case errors.As(err, &cacheWr):
		return "CacheWriteError", http.StatusInternalServerError
	case errors.As(err, &cacheDir):
		return "CacheDirectoryError", http.StatusInternalServerError
	}
	return "InternalError", http.StatusInternalServerError
}
