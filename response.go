// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package transformproxy

import (
	"net/http"
	"net/textproto"

	"willnorris.com/go/transformproxy/third_party/httpcache"
)

// Response is a complete HTTP response produced either by the transformation
// API or synthesized from a cache file.  It is built once and then written
// to the client by writeResponse.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Cacheable reports whether r may be stored in the local cache: only 200
// responses with no "max-age=0" directive in any Cache-Control header.
func (r *Response) Cacheable() bool {
	if r.StatusCode != http.StatusOK {
		return false
	}
	return !httpcache.ParseCacheControl(r.Header).Has("max-age", "0")
}

// hopHeaders are stripped when relaying a response to the client.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// copyHeader copies values for specified header keys from src to dst.  If no
// keys are specified, all end-to-end headers are copied.
func copyHeader(dst, src http.Header, keys ...string) {
	if len(keys) == 0 {
		for k := range src {
			if !hopHeaders[textproto.CanonicalMIMEHeaderKey(k)] {
				keys = append(keys, k)
			}
		}
	}
	for _, key := range keys {
		k := http.CanonicalHeaderKey(key)
		for _, v := range src[k] {
			dst.Add(k, v)
		}
	}
}

// should304 reports whether req may be answered with 304 Not Modified.  The
// If-Modified-Since value must be byte-identical to the Last-Modified header
// of resp; no date parsing is involved.
func should304(req *http.Request, resp *Response) bool {
	ims, ok := req.Header["If-Modified-Since"]
	if !ok || len(ims) == 0 {
		return false
	}
	lastModified := resp.Header.Get("Last-Modified")
	return lastModified != "" && ims[0] == lastModified
}

// writeResponse emits resp to w, or a bare 304 if the client already holds
// the current representation.
func writeResponse(w http.ResponseWriter, req *http.Request, resp *Response) {
	if should304(req, resp) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
