// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package transformproxy provides a caching proxy for a remote image
// transformation API.  For typical use of creating and using a Proxy, see
// cmd/transformproxy/main.go.
package transformproxy // import "willnorris.com/go/transformproxy"

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	aia "github.com/fcjr/aia-transport-go"
	"go.uber.org/zap"
)

// Proxy serves image requests of the form
//
//	/<transform params>/<protocol>://<source path>
//
// Original images are read from the local filesystem (file://) or fetched
// from remote hosts (http://, https://).  Transformed images are obtained
// from the transformation API and cached on local disk, so that repeated
// requests for the same source and params are served without contacting the
// API again.
//
// Note that a Proxy should not be run behind a http.ServeMux, since the
// ServeMux aggressively cleans URLs and removes the double slash in the
// embedded request URL.
type Proxy struct {
	Resolver *Resolver // reads original images
	Store    *Store    // local cache of transformed images
	Upstream *Upstream // transformation API client
	Logger   *zap.Logger
}

// NewProxy constructs a new proxy from cfg.  The provided http RoundTripper
// will be used to fetch remote original images.  If nil is provided, a
// transport that completes missing intermediate certificates is used.
func NewProxy(cfg Config, transport http.RoundTripper) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	if transport == nil {
		transport = DefaultTransport(logger)
	}

	resolver := NewResolver(transport, logger)
	resolver.Client.Timeout = cfg.Timeout

	return &Proxy{
		Resolver: resolver,
		Store:    NewStore(cfg.CacheDir, logger),
		Upstream: &Upstream{
			Client: &http.Client{Timeout: cfg.Timeout},
			Scheme: cfg.Protocol,
			Host:   cfg.Host,
			Token:  cfg.Token,
			Logger: logger,
		},
		Logger: logger,
	}, nil
}

// DefaultTransport returns the transport used to fetch remote original
// images.  It completes missing intermediate certificates through AIA, and
// falls back to http.DefaultTransport if that transport cannot be built.
func DefaultTransport(logger *zap.Logger) http.RoundTripper {
	tr, err := aia.NewTransport()
	if err != nil {
		if logger != nil {
			logger.Warn("falling back to default transport", zap.Error(err))
		}
		return http.DefaultTransport
	}
	return tr
}

// SetLogger replaces the logger of p and all of its components.
func (p *Proxy) SetLogger(logger *zap.Logger) {
	p.Logger = logger
	p.Resolver.Logger = logger
	p.Store.Logger = logger
	p.Upstream.Logger = logger
}

// ServeHTTP handles image requests.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/favicon.ico" {
		return // ignore favicon requests
	}

	start := time.Now()
	defer func() {
		httpRequestsResponseTime.Observe(time.Since(start).Seconds())
	}()

	resp, err := p.serve(r)
	if err != nil {
		kind, code := errorKind(err)
		msg := fmt.Sprintf("[%s]: %v", kind, err)
		p.Logger.Error("request failed", zap.String("kind", kind), zap.Error(err))
		http.Error(w, msg, code)
		return
	}

	if should304(r, resp) {
		p.Logger.Info("last modified match; returning 304")
	} else {
		p.Logger.Info("outputting image data", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(resp.Body)))
		p.Logger.Debug("response headers", zap.Any("headers", resp.Header))
	}
	writeResponse(w, r, resp)
}

// serve runs the request pipeline: parse the request, read the original
// image, then answer from the local cache or the transformation API.
func (p *Proxy) serve(r *http.Request) (*Response, error) {
	uri := requestURI(r)
	p.Logger.Info("parsing input string", zap.String("uri", uri))

	req, err := ParseRequest(uri)
	if err != nil {
		return nil, err
	}

	src, err := p.Resolver.Resolve(r.Context(), req)
	if err != nil {
		return nil, err
	}

	if p.Store.Exists(src) {
		requestServedFromCacheCount.Inc()
		return p.Store.Read(src)
	}

	resp, err := p.Upstream.Transform(r.Context(), src)
	if err != nil {
		return nil, err
	}

	if resp.Cacheable() {
		p.Logger.Info("response is cacheable, writing to disk")
		if err := p.Store.Write(src, resp); err != nil {
			// the client still gets the transformed image
			cacheWriteErrors.Inc()
			p.Logger.Error("error caching transformed image", zap.Error(err))
		}
	}
	return resp, nil
}

// requestURI returns the raw request path, without its leading slash, and
// query string.  Nothing is decoded.
func requestURI(r *http.Request) string {
	uri := strings.TrimPrefix(r.URL.EscapedPath(), "/")
	if r.URL.RawQuery != "" {
		uri += "?" + r.URL.RawQuery
	}
	return uri
}
