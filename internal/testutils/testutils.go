// Package testutils provides shared test infrastructure: range-capable
// origins backed by memory, and containers for integration tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	fshttp "github.com/whitebrick/fileslide-streamer/internal/http"
	"github.com/whitebrick/fileslide-streamer/internal/origin"
)

// TestFile defines a test file with size and data.
type TestFile struct {
	Name string
	Size int64
	Data []byte
}

// ModTime is the Last-Modified time served for test files.
var ModTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// GenerateTestData generates test data of the given size.
// For files <= 10MB, uses deterministic pattern. For larger files, uses random data.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 256)
		}
	} else {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	}
	return data
}

// TestServer serves test files over HTTP with range request support and
// counts the requests it receives per path.
type TestServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests map[string][]string
}

// Requests returns the Range headers of the requests made for name, in
// order. Unranged requests appear as "".
func (s *TestServer) Requests(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests["/"+name]...)
}

// FileURL returns the URL of the named file.
func (s *TestServer) FileURL(name string) string {
	return s.Server.URL + "/" + name
}

// StartTestHTTPServer starts an HTTP server that serves test files with range request support.
func StartTestHTTPServer(t *testing.T, files []TestFile) *TestServer {
	t.Helper()

	fileMap := make(map[string][]byte)
	for _, f := range files {
		fileMap["/"+f.Name] = f.Data
	}

	ts := &TestServer{requests: make(map[string][]string)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.requests[r.URL.Path] = append(ts.requests[r.URL.Path], r.Header.Get("Range"))
		ts.mu.Unlock()

		data, ok := fileMap[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		size := int64(len(data))
		w.Header().Set("ETag", fmt.Sprintf(`"%s"`, r.URL.Path))
		w.Header().Set("Last-Modified", ModTime.Format(http.TimeFormat))
		w.Header().Set("Accept-Ranges", "bytes")

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			w.Write(data)
			return
		}

		// Parse range header: bytes=start-end or bytes=start-
		rangeHeader = strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.Split(rangeHeader, "-")
		start, _ := strconv.ParseInt(parts[0], 10, 64)
		end := size - 1
		if parts[1] != "" {
			end, _ = strconv.ParseInt(parts[1], 10, 64)
		}

		if start >= size {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end >= size {
			end = size - 1
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
	t.Cleanup(ts.Close)
	return ts
}

// MemoryOrigin is an origin.Origin serving files from memory. It counts
// opens per URI and can hold opens until released.
type MemoryOrigin struct {
	mu    sync.Mutex
	files map[string][]byte
	etags map[string]string
	opens map[string][]origin.Range
	gate  chan struct{}
}

// NewMemoryOrigin creates an empty MemoryOrigin.
func NewMemoryOrigin() *MemoryOrigin {
	return &MemoryOrigin{
		files: make(map[string][]byte),
		etags: make(map[string]string),
		opens: make(map[string][]origin.Range),
	}
}

// Put stores data under uri with the given ETag.
func (o *MemoryOrigin) Put(uri string, data []byte, etag string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[uri] = data
	o.etags[uri] = etag
}

// Hold makes Open block until the returned function is called.
func (o *MemoryOrigin) Hold() (release func()) {
	gate := make(chan struct{})
	o.mu.Lock()
	o.gate = gate
	o.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Opens returns the ranges opened for uri, in order.
func (o *MemoryOrigin) Opens(uri string) []origin.Range {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]origin.Range(nil), o.opens[uri]...)
}

// TotalOpens returns the number of opens across all URIs.
func (o *MemoryOrigin) TotalOpens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.opens {
		n += len(r)
	}
	return n
}

func (o *MemoryOrigin) Probe(ctx context.Context, uri string) (*origin.FileInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.files[uri]
	if !ok {
		return nil, &fshttp.StatusError{Code: http.StatusNotFound, Status: "404 Not Found"}
	}
	return &origin.FileInfo{Size: int64(len(data)), ETag: o.etags[uri], ModTime: ModTime}, nil
}

func (o *MemoryOrigin) Open(ctx context.Context, uri string, r origin.Range) (*origin.Content, error) {
	o.mu.Lock()
	o.opens[uri] = append(o.opens[uri], r)
	data, ok := o.files[uri]
	etag := o.etags[uri]
	gate := o.gate
	o.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return nil, &fshttp.StatusError{Code: http.StatusNotFound, Status: "404 Not Found"}
	}
	end := r.End
	if end < 0 || end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}
	if r.Start > end+1 {
		return nil, fshttp.ErrRangeNotSupported
	}
	return &origin.Content{
		ReadCloser: io.NopCloser(bytes.NewReader(data[r.Start : end+1])),
		ETag:       etag,
	}, nil
}

// CompareReaderToData compares reader output with expected data in chunks.
// This is memory-efficient for large files.
func CompareReaderToData(t *testing.T, reader io.Reader, expected []byte) {
	t.Helper()

	chunkSize := 1024 * 1024 // 1MB
	buf := make([]byte, chunkSize)
	offset := 0

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read more data than expected: offset=%d, n=%d, expected len=%d",
					offset, n, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
