// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package transformproxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// Source is an original image together with the metadata used to fingerprint
// it and to describe it to the transformation API.  A Source belongs to a
// single request.
type Source struct {
	Request *Request

	// Data holds the raw image bytes.
	Data []byte

	ContentType   string
	ContentLength int64 // -1 if unknown

	// LastModified is an HTTP-date, or empty if the origin did not say.
	LastModified string

	cachePath string // memoized by Store.PathFor
}

// Resolver fetches original images from the local filesystem or from remote
// hosts.
type Resolver struct {
	Client *http.Client // client used to fetch remote URLs
	Logger *zap.Logger
}

// NewResolver constructs a Resolver that fetches remote images with the
// provided transport.  If nil is provided, http.DefaultTransport will be
// used.
func NewResolver(transport http.RoundTripper, logger *zap.Logger) *Resolver {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		Client: &http.Client{Transport: transport},
		Logger: logger,
	}
}

// Resolve reads the original image named by req.
func (r *Resolver) Resolve(ctx context.Context, req *Request) (*Source, error) {
	loc := req.Location()
	if req.Protocol.Remote() {
		r.Logger.Info("reading remote path", zap.String("path", loc))
		src, err := r.fetchRemote(ctx, loc)
		if err != nil {
			remoteImageFetchErrors.Inc()
			return nil, err
		}
		src.Request = req
		return src, nil
	}

	r.Logger.Info("reading local filesystem path", zap.String("path", loc))
	src, err := readLocal(loc)
	if err != nil {
		return nil, err
	}
	src.Request = req
	return src, nil
}

func (r *Resolver) fetchRemote(ctx context.Context, u string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &SourceUnavailableError{Location: u, Err: err}
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, &SourceUnavailableError{Location: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SourceUnavailableError{Location: u, StatusCode: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SourceUnavailableError{Location: u, Err: fmt.Errorf("reading body: %w", err)}
	}

	src := &Source{
		Data:          b,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: -1,
		LastModified:  resp.Header.Get("Last-Modified"),
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			src.ContentLength = n
		}
	}
	return src, nil
}

func readLocal(path string) (*Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceUnavailableError{Location: path, Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &SourceUnavailableError{Location: path, Err: err}
	}

	return &Source{
		Data:          b,
		ContentType:   sniffContentType(b),
		ContentLength: int64(len(b)),
		LastModified:  info.ModTime().UTC().Format(http.TimeFormat),
	}, nil
}

// sniffContentType returns the media type of b based on its content, without
// any parameters.
func sniffContentType(b []byte) string {
	mt, _, _ := strings.Cut(mimetype.Detect(b).String(), ";")
	return strings.TrimSpace(mt)
}
