package origin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	fshttp "github.com/whitebrick/fileslide-streamer/internal/http"
)

// BlobSchemes are the URI schemes Blob serves by default.
var BlobSchemes = []string{"s3", "gs", "file", "mem"}

// Blob serves object-store URIs such as s3://bucket/key through gocloud.
// Buckets are opened on first use and kept open until Close.
type Blob struct {
	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// NewBlob creates a Blob origin.
func NewBlob() *Blob {
	return &Blob{buckets: make(map[string]*blob.Bucket)}
}

// Register serves bucketURL (scheme://host) from an already open bucket.
func (b *Blob) Register(bucketURL string, bucket *blob.Bucket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buckets[bucketURL] = bucket
}

// Close closes every bucket the origin holds.
func (b *Blob) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for k, bucket := range b.buckets {
		if err := bucket.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.buckets, k)
	}
	return firstErr
}

func (b *Blob) Probe(ctx context.Context, uri string) (*FileInfo, error) {
	bucket, key, err := b.resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, blobError(uri, err)
	}
	return &FileInfo{
		Size:               attrs.Size,
		ETag:               strings.Trim(strings.TrimPrefix(attrs.ETag, "W/"), `"`),
		ContentDisposition: attrs.ContentDisposition,
		ModTime:            attrs.ModTime,
	}, nil
}

func (b *Blob) Open(ctx context.Context, uri string, r Range) (*Content, error) {
	bucket, key, err := b.resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	rd, err := bucket.NewRangeReader(ctx, key, r.Start, r.Length(), nil)
	if err != nil {
		return nil, blobError(uri, err)
	}
	return &Content{ReadCloser: rd}, nil
}

// resolve splits uri into its bucket and key, opening the bucket if needed.
// file URIs use the filesystem root as the bucket.
func (b *Blob) resolve(ctx context.Context, uri string) (*blob.Bucket, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", fmt.Errorf("parse %q: %w", uri, err)
	}
	bucketURL := u.Scheme + "://" + u.Host
	if u.Scheme == "file" {
		bucketURL = "file:///"
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return nil, "", &fshttp.StatusError{Code: http.StatusNotFound, Status: "404 Not Found"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if bucket, ok := b.buckets[bucketURL]; ok {
		return bucket, key, nil
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, "", fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	b.buckets[bucketURL] = bucket
	return bucket, key, nil
}

// blobError maps gocloud error codes onto HTTP status errors so callers
// handle both origins alike.
func blobError(uri string, err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return &fshttp.StatusError{Code: http.StatusNotFound, Status: "404 Not Found"}
	case gcerrors.PermissionDenied:
		return &fshttp.StatusError{Code: http.StatusForbidden, Status: "403 Forbidden"}
	}
	return fmt.Errorf("blob %s: %w", uri, err)
}
