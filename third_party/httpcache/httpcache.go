// Package httpcache parses Cache-Control headers.  It is derived from the
// unexported helpers of github.com/gregjones/httpcache.
package httpcache

import (
	"net/http"
	"strings"
)

// CacheControl maps lower-cased directive names to their (unquoted) values,
// in the order they appear.  A directive may repeat, within one header value
// or across several.  Directives without a value record the empty string.
type CacheControl map[string][]string

// ParseCacheControl parses all Cache-Control values present in headers.
func ParseCacheControl(headers http.Header) CacheControl {
	cc := CacheControl{}
	for _, ccHeader := range headers.Values("Cache-Control") {
		for _, part := range strings.Split(ccHeader, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, _ := strings.Cut(part, "=")
			name = strings.ToLower(strings.TrimSpace(name))
			value = strings.Trim(strings.TrimSpace(value), `"`)
			cc[name] = append(cc[name], value)
		}
	}
	return cc
}

// Has reports whether any occurrence of directive carries the given value.
func (cc CacheControl) Has(directive, value string) bool {
	for _, v := range cc[strings.ToLower(directive)] {
		if v == value {
			return true
		}
	}
	return false
}
