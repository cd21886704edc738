// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package transformproxy

import (
	"regexp"
)

// Protocol identifies where the original image lives.  Its value is the
// literal marker used in request URLs.
type Protocol string

const (
	ProtocolFile  Protocol = "file://"
	ProtocolHTTP  Protocol = "http://"
	ProtocolHTTPS Protocol = "https://"
)

// Remote reports whether p refers to a remote (http or https) source.
func (p Protocol) Remote() bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}

// requestPattern matches "[<params>/]<protocol><source>".  The optional
// params group is lazy so that the first protocol marker wins and the source
// path consumes everything after it.
var requestPattern = regexp.MustCompile(`^(?:(.*?)/)??(file://|https?://)(.+)$`)

// Request is a parsed image transformation request.  It is never modified
// after ParseRequest returns.
type Request struct {
	// TransformParams are passed to the transformation API untouched,
	// for example "S=W400/O=90".  May be empty.
	TransformParams string

	Protocol Protocol

	// SourcePath is everything after the protocol marker, verbatim.
	SourcePath string
}

// ParseRequest parses a request path of the form
// "[<params>/](file|http|https)://<source>".  A single leading slash is
// tolerated when no params are given.
func ParseRequest(uri string) (*Request, error) {
	m := requestPattern.FindStringSubmatch(uri)
	if m == nil {
		return nil, &MalformedRequestError{URI: uri}
	}
	return &Request{
		TransformParams: m[1],
		Protocol:        Protocol(m[2]),
		SourcePath:      m[3],
	}, nil
}

// Location returns the fetchable location of the original image: a full URL
// for remote sources and a plain filesystem path for local ones.
func (r Request) Location() string {
	if r.Protocol.Remote() {
		return string(r.Protocol) + r.SourcePath
	}
	return r.SourcePath
}

// String returns the request in the form accepted by ParseRequest.
func (r Request) String() string {
	if r.TransformParams == "" {
		return string(r.Protocol) + r.SourcePath
	}
	return r.TransformParams + "/" + string(r.Protocol) + r.SourcePath
}
