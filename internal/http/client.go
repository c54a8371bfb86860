package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Common errors. A *StatusError matches the sentinel for its status code
// under errors.Is.
var (
	ErrRangeNotSupported = errors.New("http: server does not support range requests")
	ErrNotFound          = errors.New("http: resource not found")
	ErrForbidden         = errors.New("http: access forbidden")
	ErrUnauthorized      = errors.New("http: unauthorized")
	ErrServerError       = errors.New("http: server error")
	ErrSizeUnknown       = errors.New("http: resource size unknown")
	ErrTooManyRedirects  = errors.New("http: too many redirects")
)

// StatusError reports an unsuccessful HTTP status from an origin.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Is maps well-known status codes to the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrServerError:
		return e.Code >= 500
	}
	return false
}

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout bounds connecting and waiting for response headers. Bodies
	// may take as long as they need.
	// Default: 10s
	Timeout time.Duration

	// MaxRedirects is the number of redirects followed per request.
	// Default: 2
	MaxRedirects int

	// RetryAttempts is the maximum number of retry attempts.
	// Default: 5
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		Timeout:             10 * time.Second,
		MaxRedirects:        2,
		RetryAttempts:       5,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size               int64
	ETag               string
	AcceptsRanges      bool
	ContentType        string
	ContentDisposition string
	LastModified       time.Time
}

// Response is a successful GET whose body the caller must close.
type Response struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentLength int64
	ETag          string
}

// Client is an HTTP client for fetching remote files whole or by range.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		DisableCompression:    true, // We want raw bytes for range requests
	}

	maxRedirects := opts.MaxRedirects
	return &Client{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		opts: opts,
	}
}

// Probe checks that a file can be fetched and returns its metadata.
//
// It requests the first byte with GET rather than issuing HEAD, because
// presigned object-store URLs are usually only valid for GET.
func (c *Client) Probe(ctx context.Context, url string) (*FileInfo, error) {
	resp, err := c.do(ctx, url, "bytes=0-0")
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	info := &FileInfo{
		ETag:               cleanETag(resp.Header.Get("ETag")),
		AcceptsRanges:      resp.StatusCode == http.StatusPartialContent || resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:        resp.Header.Get("Content-Type"),
		ContentDisposition: resp.Header.Get("Content-Disposition"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", url, err)
		}
		if total < 0 {
			return nil, ErrSizeUnknown
		}
		info.Size = total
	case http.StatusRequestedRangeNotSatisfiable:
		// Only an empty file cannot satisfy bytes=0-0.
		if resp.Header.Get("Content-Range") != "bytes */0" {
			return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
		}
		info.Size = 0
		info.AcceptsRanges = true
	default:
		if resp.ContentLength < 0 {
			return nil, ErrSizeUnknown
		}
		info.Size = resp.ContentLength
	}
	return info, nil
}

// Get fetches the whole file.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.get(ctx, url, "")
}

// GetFrom fetches the file from startByte to the end.
func (c *Client) GetFrom(ctx context.Context, url string, startByte int64) (*Response, error) {
	return c.get(ctx, url, fmt.Sprintf("bytes=%d-", startByte))
}

// GetRange performs a range request to download a portion of the file.
// startByte and endByte are inclusive (like HTTP Range header).
func (c *Client) GetRange(ctx context.Context, url string, startByte, endByte int64) (*Response, error) {
	return c.get(ctx, url, fmt.Sprintf("bytes=%d-%d", startByte, endByte))
}

func (c *Client) get(ctx context.Context, url, rangeHeader string) (*Response, error) {
	resp, err := c.do(ctx, url, rangeHeader)
	if err != nil {
		return nil, err
	}

	if rangeHeader != "" {
		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			resp.Body.Close()
			return nil, ErrRangeNotSupported
		}
		// A 200 without Content-Range means the whole file is coming back.
		if resp.StatusCode != http.StatusPartialContent && resp.Header.Get("Content-Range") == "" {
			resp.Body.Close()
			return nil, ErrRangeNotSupported
		}
	}

	return &Response{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}, nil
}

// do performs a GET, retrying connection failures and server errors. Any
// other non-2xx status is returned as a *StatusError, except that 416 is
// handed back to the caller with its body closed.
func (c *Client) do(ctx context.Context, url, rangeHeader string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, ErrTooManyRedirects) {
				return nil, err
			}
			lastErr = err
			continue
		}

		// Server errors are retryable
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode, Status: resp.Status}
			continue
		}

		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			resp.Body.Close()
			return resp, nil
		}

		if err := checkStatusCode(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}

		return resp, nil
	}

	return nil, fmt.Errorf("get %s failed after %d attempts: %w", url, c.opts.RetryAttempts+1, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// checkStatusCode returns a *StatusError for non-success status codes.
func checkStatusCode(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{Code: resp.StatusCode, Status: resp.Status}
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
