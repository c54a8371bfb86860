// Package upstream talks to the service that authorizes downloads and
// receives accounting reports for them.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable is returned when the authorization service cannot be
// reached or answers with an unexpected status.
var ErrUnavailable = errors.New("upstream: service unavailable")

// Verdict is the authorization service's answer.
type Verdict struct {
	Authorized       bool   `json:"authorized"`
	UnauthorizedHTML string `json:"unauthorized_html,omitempty"`
}

// Report is the accounting record sent after a stream ends.
type Report struct {
	RequestID      string    `json:"request_id"`
	URIList        []string  `json:"uri_list"`
	WrittenURIList []string  `json:"written_uri_list"`
	StartTime      time.Time `json:"start_time"`
	StopTime       time.Time `json:"stop_time"`
	BytesSent      int64     `json:"bytes_sent"`
	Complete       bool      `json:"complete"`
}

// Authorizer decides whether a download may proceed.
type Authorizer interface {
	Verify(ctx context.Context, uris []string, fileName string) (*Verdict, error)
}

// Reporter receives accounting reports. Delivery is best effort.
type Reporter interface {
	Report(ctx context.Context, r Report)
}

// Client is an Authorizer and Reporter backed by the upstream HTTP API.
type Client struct {
	base   string
	client *http.Client
	log    *slog.Logger
}

// NewClient creates a Client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base:   strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

type verifyRequest struct {
	URIList  []string `json:"fs_uri_list"`
	FileName string   `json:"file_name"`
}

// Verify asks POST /authorize whether uris may be downloaded as fileName.
func (c *Client) Verify(ctx context.Context, uris []string, fileName string) (*Verdict, error) {
	resp, err := c.post(ctx, "/authorize", verifyRequest{URIList: uris, FileName: fileName})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: authorize returned %s", ErrUnavailable, resp.Status)
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: decode verdict: %v", ErrUnavailable, err)
	}
	return &v, nil
}

// Report posts r to POST /report. Failures are logged and dropped.
func (c *Client) Report(ctx context.Context, r Report) {
	resp, err := c.post(ctx, "/report", r)
	if err != nil {
		c.log.Warn("accounting report failed", "request_id", r.RequestID, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.log.Warn("accounting report rejected", "request_id", r.RequestID, "status", resp.StatusCode)
	}
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// AllowAll authorizes everything.
type AllowAll struct{}

func (AllowAll) Verify(context.Context, []string, string) (*Verdict, error) {
	return &Verdict{Authorized: true}, nil
}

// LogReporter writes reports to a logger instead of an upstream service.
type LogReporter struct {
	Logger *slog.Logger
}

func (l LogReporter) Report(_ context.Context, r Report) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("stream finished",
		"request_id", r.RequestID,
		"files", len(r.URIList),
		"written", len(r.WrittenURIList),
		"bytes", r.BytesSent,
		"duration", r.StopTime.Sub(r.StartTime),
		"complete", r.Complete,
	)
}
