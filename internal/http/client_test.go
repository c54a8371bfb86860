package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryBackoff = 10 * time.Millisecond
	opts.RetryMaxBackoff = 50 * time.Millisecond
	return opts
}

// rangeServer serves data with support for bytes=N-M and bytes=N- ranges.
func rangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"test-etag"`)
		w.Header().Set("Content-Disposition", `attachment; filename="data.bin"`)
		w.Header().Set("Last-Modified", "Wed, 01 Jan 2025 00:00:00 GMT")

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
			return
		}

		rangeHeader = strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.Split(rangeHeader, "-")
		start, _ := strconv.ParseInt(parts[0], 10, 64)
		end := int64(len(data)) - 1
		if parts[1] != "" {
			end, _ = strconv.ParseInt(parts[1], 10, 64)
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}

		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.Itoa(len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(int(end-start+1)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
}

func TestProbe(t *testing.T) {
	data := []byte("Hello, World! This is test data for range requests.")
	server := rangeServer(t, data)
	defer server.Close()

	client := NewClient(DefaultOptions())
	info, err := client.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if info.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), info.Size)
	}
	if info.ETag != "test-etag" {
		t.Errorf("expected ETag 'test-etag', got %s", info.ETag)
	}
	if !info.AcceptsRanges {
		t.Error("expected AcceptsRanges to be true")
	}
	if info.ContentDisposition != `attachment; filename="data.bin"` {
		t.Errorf("unexpected Content-Disposition %q", info.ContentDisposition)
	}
	if !info.LastModified.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected Last-Modified %v", info.LastModified)
	}
}

func TestProbeWithoutRangeSupport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 100))
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	info, err := client.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Size != 100 {
		t.Errorf("expected size 100, got %d", info.Size)
	}
	if info.AcceptsRanges {
		t.Error("expected AcceptsRanges to be false")
	}
}

func TestProbeEmptyFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "empty.bin", time.Time{}, strings.NewReader(""))
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	info, err := client.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Size != 0 {
		t.Errorf("expected size 0, got %d", info.Size)
	}
}

func TestProbeNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.Probe(context.Background(), server.URL)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("expected *StatusError with code 404, got %v", err)
	}
}

func TestProbeFollowsLimitedRedirects(t *testing.T) {
	data := []byte("redirected")
	target := rangeServer(t, data)
	defer target.Close()

	var hops atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hops.Add(1)
		if r.URL.Path == "/loop" {
			http.Redirect(w, r, "/loop", http.StatusFound)
			return
		}
		if n == 1 {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer server.Close()

	client := NewClient(fastOptions())
	info, err := client.Probe(context.Background(), server.URL+"/start")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), info.Size)
	}

	_, err = client.Probe(context.Background(), server.URL+"/loop")
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Errorf("expected ErrTooManyRedirects, got %v", err)
	}
}

func TestGetRange(t *testing.T) {
	data := []byte("Hello, World! This is test data for range requests.")
	server := rangeServer(t, data)
	defer server.Close()

	client := NewClient(DefaultOptions())
	resp, err := client.GetRange(context.Background(), server.URL, 0, 4)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if string(body) != "Hello" {
		t.Errorf("expected 'Hello', got '%s'", string(body))
	}

	if resp.ETag != "test-etag" {
		t.Errorf("expected ETag 'test-etag', got %s", resp.ETag)
	}
}

func TestGetFrom(t *testing.T) {
	data := []byte("Hello, World!")
	server := rangeServer(t, data)
	defer server.Close()

	client := NewClient(DefaultOptions())
	resp, err := client.GetFrom(context.Background(), server.URL, 7)
	if err != nil {
		t.Fatalf("GetFrom: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "World!" {
		t.Errorf("expected 'World!', got '%s'", string(body))
	}
}

func TestGet(t *testing.T) {
	data := []byte("whole file")
	server := rangeServer(t, data)
	defer server.Close()

	client := NewClient(DefaultOptions())
	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "whole file" {
		t.Errorf("expected 'whole file', got '%s'", string(body))
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGetRangeNotSupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Server ignores Range header and returns full content
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.GetRange(context.Background(), server.URL, 0, 10)
	if err != ErrRangeNotSupported {
		t.Errorf("expected ErrRangeNotSupported, got %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer server.Close()

	client := NewClient(fastOptions())
	info, err := client.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if info.Size != 10 {
		t.Errorf("expected size 10, got %d", info.Size)
	}
}

func TestRetryExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	opts := fastOptions()
	opts.RetryAttempts = 1
	client := NewClient(opts)

	_, err := client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Errorf("expected status 502 to be preserved, got %v", err)
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		start  int64
		end    int64
		total  int64
	}{
		{"bytes 0-99/1000", 0, 99, 1000},
		{"bytes 100-199/1000", 100, 199, 1000},
		{"bytes 0-99/*", 0, 99, -1},
	}

	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.header)
		if err != nil {
			t.Errorf("ParseContentRange(%q): %v", tt.header, err)
			continue
		}
		if start != tt.start || end != tt.end || total != tt.total {
			t.Errorf("ParseContentRange(%q) = (%d, %d, %d), want (%d, %d, %d)",
				tt.header, start, end, total, tt.start, tt.end, tt.total)
		}
	}
}

func TestCleanETag(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`"abc123"`, "abc123"},
		{`W/"abc123"`, "abc123"},
		{"abc123", "abc123"},
		{`""`, ""},
	}

	for _, tt := range tests {
		result := cleanETag(tt.input)
		if result != tt.expected {
			t.Errorf("cleanETag(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(DefaultOptions())
	_, err := client.Probe(ctx, server.URL)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}
