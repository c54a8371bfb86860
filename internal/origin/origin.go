// Package origin opens remote files named by URI.
//
// An Origin reports a file's metadata and streams its content, whole or by
// byte range. HTTP(S) URLs are served by HTTP, object-store URLs by Blob,
// and Router picks between them by scheme.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"
)

// ErrUnsupportedScheme is returned for URIs no registered origin serves.
var ErrUnsupportedScheme = errors.New("origin: unsupported URI scheme")

// ErrETagMismatch is returned when content was served for a different
// version of the file than the one probed.
var ErrETagMismatch = errors.New("origin: etag changed")

// FileInfo is the metadata of a remote file.
type FileInfo struct {
	Size               int64
	ETag               string
	ContentDisposition string
	ModTime            time.Time
}

// Range selects bytes [Start, End] of a file. A negative End reads to the
// end of the file.
type Range struct {
	Start int64
	End   int64
}

// Whole selects the entire file.
func Whole() Range { return Range{Start: 0, End: -1} }

// From selects the file from start to its end.
func From(start int64) Range { return Range{Start: start, End: -1} }

// Between selects bytes start through end inclusive.
func Between(start, end int64) Range { return Range{Start: start, End: end} }

// IsWhole reports whether r selects the entire file.
func (r Range) IsWhole() bool { return r.Start == 0 && r.End < 0 }

// Length returns the number of bytes selected, or -1 when r is open ended.
func (r Range) Length() int64 {
	if r.End < 0 {
		return -1
	}
	return r.End - r.Start + 1
}

func (r Range) String() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Content is an open file body. ETag is empty when the origin does not
// report one.
type Content struct {
	io.ReadCloser
	ETag string
}

// Origin fetches remote files.
type Origin interface {
	Probe(ctx context.Context, uri string) (*FileInfo, error)
	Open(ctx context.Context, uri string, r Range) (*Content, error)
}

// Router dispatches to an Origin by URI scheme.
type Router struct {
	routes map[string]Origin
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Origin)}
}

// Handle routes URIs with the given schemes to o.
func (r *Router) Handle(o Origin, schemes ...string) {
	for _, s := range schemes {
		r.routes[s] = o
	}
}

func (r *Router) route(uri string) (Origin, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", uri, err)
	}
	o, ok := r.routes[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return o, nil
}

func (r *Router) Probe(ctx context.Context, uri string) (*FileInfo, error) {
	o, err := r.route(uri)
	if err != nil {
		return nil, err
	}
	return o.Probe(ctx, uri)
}

func (r *Router) Open(ctx context.Context, uri string, rng Range) (*Content, error) {
	o, err := r.route(uri)
	if err != nil {
		return nil, err
	}
	return o.Open(ctx, uri, rng)
}
