package origin

import (
	"context"

	fshttp "github.com/whitebrick/fileslide-streamer/internal/http"
)

// HTTP serves http and https URLs.
type HTTP struct {
	client *fshttp.Client
}

// NewHTTP creates an HTTP origin using client.
func NewHTTP(client *fshttp.Client) *HTTP {
	return &HTTP{client: client}
}

func (h *HTTP) Probe(ctx context.Context, uri string) (*FileInfo, error) {
	info, err := h.client.Probe(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &FileInfo{
		Size:               info.Size,
		ETag:               info.ETag,
		ContentDisposition: info.ContentDisposition,
		ModTime:            info.LastModified,
	}, nil
}

func (h *HTTP) Open(ctx context.Context, uri string, r Range) (*Content, error) {
	var (
		resp *fshttp.Response
		err  error
	)
	switch {
	case r.IsWhole():
		resp, err = h.client.Get(ctx, uri)
	case r.End < 0:
		resp, err = h.client.GetFrom(ctx, uri, r.Start)
	default:
		resp, err = h.client.GetRange(ctx, uri, r.Start, r.End)
	}
	if err != nil {
		return nil, err
	}
	return &Content{ReadCloser: resp.Body, ETag: resp.ETag}, nil
}
