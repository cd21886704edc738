// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// The transformproxy-path tool prints the cache file that transformproxy
// uses for a request, which is useful when inspecting or purging the cache
// by hand.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"willnorris.com/go/transformproxy"
)

var cacheDir = flag.String("cacheDir", transformproxy.DefaultCacheDir, "cache directory")
var lastModified = flag.String("lastModified", "", "Last-Modified value of the original image")

func main() {
	flag.Parse()

	p, err := cachePath(*cacheDir, flag.Arg(0), *lastModified)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Printf("request: %v\n", flag.Arg(0))
	fmt.Printf("path: %v\n", p)
}

// cachePath returns the cache file for the request s.  s may be a bare
// request ("S=W400/http://example.com/a.jpg") or a full proxy URL.
func cachePath(dir, s, lastModified string) (string, error) {
	if s == "" {
		return "", errors.New("transformproxy-path [-lastModified date] request")
	}

	req, err := transformproxy.ParseRequest(requestString(s))
	if err != nil {
		return "", err
	}

	src := &transformproxy.Source{
		Request:       req,
		LastModified:  lastModified,
		ContentLength: -1,
	}
	return transformproxy.NewStore(dir, nil).PathFor(src), nil
}

// requestString strips the proxy scheme and host from s if s is a proxy URL,
// that is an absolute URL whose path is itself a valid request.
func requestString(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}
	r := strings.TrimPrefix(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		r += "?" + u.RawQuery
	}
	if _, err := transformproxy.ParseRequest(r); err != nil {
		return s
	}
	return r
}
