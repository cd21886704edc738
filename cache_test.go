// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package transformproxy

import (
	"bytes"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func testSource(params string, protocol Protocol, path, lastModified string) *Source {
	return &Source{
		Request:       &Request{TransformParams: params, Protocol: protocol, SourcePath: path},
		LastModified:  lastModified,
		ContentLength: -1,
	}
}

func TestStore_PathFor(t *testing.T) {
	s := NewStore("/cache", nil)

	// sha1("foo.com/bar.jpg-http://-S=W400-Sat, 01 Jan 2000 00:00:00 GMT")
	src := testSource("S=W400", ProtocolHTTP, "foo.com/bar.jpg", "Sat, 01 Jan 2000 00:00:00 GMT")
	got := s.PathFor(src)
	if !strings.HasPrefix(got, "/cache/") || !strings.HasSuffix(got, ".jpg") {
		t.Errorf("PathFor returned %q, want /cache/<sha1>.jpg", got)
	}
	if name := strings.TrimSuffix(filepath.Base(got), ".jpg"); len(name) != 40 {
		t.Errorf("PathFor returned name %q, want 40 hex characters", name)
	}

	// same inputs, different bytes: same path
	other := testSource("S=W400", ProtocolHTTP, "foo.com/bar.jpg", "Sat, 01 Jan 2000 00:00:00 GMT")
	other.Data = []byte("different content")
	if got2 := s.PathFor(other); got2 != got {
		t.Errorf("PathFor of identical inputs returned %q and %q", got, got2)
	}

	// changing any one input changes the path
	variants := []*Source{
		testSource("S=W400", ProtocolHTTP, "foo.com/baz.jpg", "Sat, 01 Jan 2000 00:00:00 GMT"),
		testSource("S=W400", ProtocolHTTPS, "foo.com/bar.jpg", "Sat, 01 Jan 2000 00:00:00 GMT"),
		testSource("S=W401", ProtocolHTTP, "foo.com/bar.jpg", "Sat, 01 Jan 2000 00:00:00 GMT"),
		testSource("S=W400", ProtocolHTTP, "foo.com/bar.jpg", "Sun, 02 Jan 2000 00:00:00 GMT"),
		testSource("S=W400", ProtocolHTTP, "foo.com/bar.jpg", ""),
	}
	seen := map[string]bool{got: true}
	for i, v := range variants {
		p := s.PathFor(v)
		if seen[p] {
			t.Errorf("%d. PathFor(%#v) returned duplicate path %q", i, v.Request, p)
		}
		seen[p] = true
	}
}

func TestStore_PathFor_Memoized(t *testing.T) {
	s := NewStore("/cache", nil)
	src := testSource("", ProtocolHTTP, "foo.com/bar.jpg", "")
	first := s.PathFor(src)

	// metadata changes after the first call do not move the entry
	src.LastModified = "Sat, 01 Jan 2000 00:00:00 GMT"
	if got := s.PathFor(src); got != first {
		t.Errorf("PathFor returned %q after memoization, want %q", got, first)
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"foo.com/bar.jpg", ".jpg"},
		{"/var/www/bar.PNG", ".PNG"},
		{"foo.com/bar.tar.gz", ".gz"},
		{"foo.com/bar.jpg?w=100", ".jpg"},
		{"foo.com/bar.jpg#frag", ".jpg"},
		{"foo.com/bar", ""},
		{"foo.com/bar.", ""},
		{"localhost/image", ""},
		{"bar", ""},
		{"foo.com/bar.j-g", ""},
	}

	for _, tt := range tests {
		if got := extension(tt.path); got != tt.want {
			t.Errorf("extension(%q) returned %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestStore_WriteRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	s := NewStore(dir, nil)
	src := testSource("S=W400", ProtocolHTTP, "foo.com/bar.png", "Sat, 01 Jan 2000 00:00:00 GMT")

	if s.Exists(src) {
		t.Fatalf("Exists returned true for empty store")
	}

	body := pngBytes(t)
	resp := &Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Last-Modified": {"Mon, 03 Jan 2000 10:00:00 GMT"}},
		Body:       body,
	}
	if err := s.Write(src, resp); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	info, err := os.Stat(s.PathFor(src))
	if err != nil {
		t.Fatalf("cache file missing after Write: %v", err)
	}
	if got, want := info.Mode().Perm()&0o400, os.FileMode(0o400); got != want {
		t.Errorf("cache file mode %v is not owner readable", info.Mode())
	}
	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("cache dir missing after Write: %v", err)
	}
	if !dirInfo.IsDir() {
		t.Errorf("cache dir %q is not a directory", dir)
	}
	wantTime := time.Date(2000, 1, 3, 10, 0, 0, 0, time.UTC)
	if !info.ModTime().Equal(wantTime) {
		t.Errorf("cache file mtime = %v, want %v", info.ModTime(), wantTime)
	}

	if !s.Exists(src) {
		t.Fatalf("Exists returned false after Write")
	}

	got, err := s.Read(src)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if got.StatusCode != http.StatusOK {
		t.Errorf("Read returned status %d, want 200", got.StatusCode)
	}
	if !bytes.Equal(got.Body, body) {
		t.Errorf("Read returned body %q, want %q", got.Body, body)
	}
	wantHeader := http.Header{
		"Content-Type":   {"image/png"},
		"Content-Length": {strconv.Itoa(len(body))},
		"Last-Modified":  {"Mon, 03 Jan 2000 10:00:00 GMT"},
	}
	for k := range wantHeader {
		if got, want := got.Header.Get(k), wantHeader.Get(k); got != want {
			t.Errorf("Read returned header %s = %q, want %q", k, got, want)
		}
	}
}

func TestStore_Write_Overwrite(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	src := testSource("", ProtocolHTTP, "foo.com/bar.jpg", "")

	for _, body := range []string{"first", "second"} {
		if err := s.Write(src, &Response{StatusCode: 200, Header: http.Header{}, Body: []byte(body)}); err != nil {
			t.Fatalf("Write(%q) returned error: %v", body, err)
		}
	}

	got, err := s.Read(src)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if string(got.Body) != "second" {
		t.Errorf("Read returned body %q, want %q", got.Body, "second")
	}
}

func TestStore_Read_Vanished(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	src := testSource("", ProtocolHTTP, "foo.com/bar.jpg", "")
	if err := s.Write(src, &Response{StatusCode: 200, Header: http.Header{}, Body: []byte("x")}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if !s.Exists(src) {
		t.Fatalf("Exists returned false after Write")
	}
	if err := os.Remove(s.PathFor(src)); err != nil {
		t.Fatal(err)
	}

	_, err := s.Read(src)
	var rerr *CacheReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("Read returned error %v, want *CacheReadError", err)
	}
	if rerr.Path != s.PathFor(src) {
		t.Errorf("CacheReadError.Path = %q, want %q", rerr.Path, s.PathFor(src))
	}
}

func TestStore_Write_DirectoryError(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(filepath.Join(blocker, "cache"), nil)
	src := testSource("", ProtocolHTTP, "foo.com/bar.jpg", "")
	err := s.Write(src, &Response{StatusCode: 200, Header: http.Header{}, Body: []byte("x")})

	var derr *CacheDirectoryError
	if !errors.As(err, &derr) {
		t.Fatalf("Write returned error %v, want *CacheDirectoryError", err)
	}
}

func TestStore_Write_NotWritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}

	s := NewStore(t.TempDir(), nil)
	src := testSource("", ProtocolHTTP, "foo.com/bar.jpg", "")
	if err := os.WriteFile(s.PathFor(src), []byte("old"), 0o444); err != nil {
		t.Fatal(err)
	}

	err := s.Write(src, &Response{StatusCode: 200, Header: http.Header{}, Body: []byte("new")})
	var werr *CacheWriteError
	if !errors.As(err, &werr) {
		t.Fatalf("Write returned error %v, want *CacheWriteError", err)
	}
}

func TestStore_ConcurrentWrites(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	body := bytes.Repeat([]byte("abcdefgh"), 64*1024)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := testSource("S=W400", ProtocolHTTP, "foo.com/bar.jpg", "")
			if err := s.Write(src, &Response{StatusCode: 200, Header: http.Header{}, Body: body}); err != nil {
				t.Errorf("Write returned error: %v", err)
			}
			if s.Exists(src) {
				got, err := s.Read(src)
				if err != nil {
					t.Errorf("Read returned error: %v", err)
				} else if !bytes.Equal(got.Body, body) {
					t.Errorf("Read returned %d bytes, want %d", len(got.Body), len(body))
				}
			}
		}()
	}
	wg.Wait()
}
