// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package transformproxy

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// directPath is the transformation API endpoint on every upstream host.
const directPath = "/direct"

const (
	phasePreflight = "preflight"
	phaseFull      = "full"
)

// Upstream talks to the remote transformation API.
//
// Transform first sends a preflight request that describes the source image
// without its bytes.  Only if the API answers 404 (it has no transformation
// cached) is the full request, including the image bytes, sent.  The full
// request goes to the host named in the preflight's Host response header,
// which lets the API route uploads to a different backend.
type Upstream struct {
	Client *http.Client

	Scheme string // "http" or "https"
	Host   string // default API host
	Token  string // sent as "Authorization: Basic <Token>"

	Logger *zap.Logger
}

// Transform asks the API for the transformation of src described by its
// request params.  Any response the API returns is passed back, whatever its
// status; only transport failures are reported as errors.  Nothing is
// retried.
func (u *Upstream) Transform(ctx context.Context, src *Source) (*Response, error) {
	resp, err := u.do(ctx, phasePreflight, u.Host, src)
	if err != nil {
		return nil, err
	}
	u.Logger.Info("received preflight response", zap.Int("status", resp.StatusCode))

	if resp.StatusCode == http.StatusNotFound {
		host := resp.Header.Get("Host")
		if host == "" {
			host = u.Host
		}
		u.Logger.Info("preflight cache miss, issuing full request", zap.String("host", host))

		resp, err = u.do(ctx, phaseFull, host, src)
		if err != nil {
			return nil, err
		}
		u.Logger.Info("received full response", zap.Int("status", resp.StatusCode))
	}

	if resp.StatusCode != http.StatusOK {
		u.Logger.Warn("non 200 response code received from API", zap.Int("status", resp.StatusCode))
	}
	return resp, nil
}

// do sends one request of the given phase to host and reads the complete
// response.
func (u *Upstream) do(ctx context.Context, phase, host string, src *Source) (*Response, error) {
	url := u.Scheme + "://" + host + directPath

	body, contentType, err := u.form(phase, src)
	if err != nil {
		return nil, &UpstreamError{Phase: phase, URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, &UpstreamError{Phase: phase, URL: url, Err: err}
	}
	req.Header.Set("Authorization", "Basic "+u.Token)
	req.Header.Set("Content-Type", contentType)

	u.Logger.Info("sending request", zap.String("phase", phase), zap.String("url", url))
	upstreamRequestCount.WithLabelValues(phase).Inc()

	resp, err := u.Client.Do(req)
	if err != nil {
		upstreamErrors.Inc()
		return nil, &UpstreamError{Phase: phase, URL: url, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		upstreamErrors.Inc()
		return nil, &UpstreamError{Phase: phase, URL: url, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       b,
	}, nil
}

// form encodes the request fields as multipart/form-data.  The image bytes
// are only included in the full phase.
func (u *Upstream) form(phase string, src *Source) (io.Reader, string, error) {
	var length string
	if src.ContentLength >= 0 {
		length = strconv.FormatInt(src.ContentLength, 10)
	}
	fields := []struct{ name, value string }{
		{"Parameters", src.Request.TransformParams},
		{"LastModified", src.LastModified},
		{"ContentType", src.ContentType},
		{"ContentLength", length},
		{"RemotePath", src.Request.Location()},
	}

	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}
	if ce := u.Logger.Check(zap.DebugLevel, "request params"); ce != nil {
		params := make([]zap.Field, 0, len(fields))
		for _, f := range fields {
			params = append(params, zap.String(f.name, f.value))
		}
		ce.Write(params...)
	}

	if phase == phaseFull {
		w, err := mw.CreateFormField("Image")
		if err != nil {
			return nil, "", err
		}
		if _, err := w.Write(src.Data); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}
