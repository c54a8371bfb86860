// Package server is the HTTP front end of the streamer.
//
// Routes:
//
//	GET  /             redirect to the home page
//	GET  /healthcheck  liveness probe
//	GET  /metrics      Prometheus metrics
//	POST /download     stream a ZIP of the posted uri_list, honoring Range
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/whitebrick/fileslide-streamer/internal/checksum"
	"github.com/whitebrick/fileslide-streamer/internal/metrics"
	"github.com/whitebrick/fileslide-streamer/internal/streamer"
	"github.com/whitebrick/fileslide-streamer/internal/upstream"
)

// Response bodies for rejected requests.
const (
	msgMissingParams    = "Request must include non-empty file_name and uri_list parameters"
	msgInvalidURIList   = "uri_list is not a valid JSON array"
	msgDuplicateURIs    = "Duplicate URIs found"
	msgInvalidRange     = "Invalid Range header"
	msgMultipartRange   = "Multipart ranges are not supported"
	msgUpstreamError    = "Error connecting to upstream"
	msgChecksumError    = "Error computing checksums"
	msgChecksumTimeout  = "Timed out computing checksums"
	msgUnsatisfiable    = "Requested range not satisfiable"
	msgPrepareError     = "Error preparing download"
	healthcheckResponse = "All good\n"
)

// Options configures a Server.
type Options struct {
	Streamer   *streamer.Streamer
	Authorizer upstream.Authorizer
	Metrics    *metrics.Collector
	HomeURL    string
	Logger     *slog.Logger
}

// Server handles download requests.
type Server struct {
	opts Options
	log  *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Authorizer == nil {
		opts.Authorizer = upstream.AllowAll{}
	}
	return &Server{opts: opts, log: log}
}

// Handler returns the gin engine serving all routes.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)

	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, s.opts.HomeURL)
	})
	r.GET("/healthcheck", func(c *gin.Context) {
		c.String(http.StatusOK, healthcheckResponse)
	})
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}
	r.POST("/download", s.download)
	return r
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Info("request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"bytes", c.Writer.Size(),
		"duration", time.Since(start),
	)
}

func (s *Server) download(c *gin.Context) {
	switch err := streamer.ValidateRange(c.GetHeader("Range")); {
	case errors.Is(err, streamer.ErrMultipartRange):
		c.String(http.StatusRequestedRangeNotSatisfiable, msgMultipartRange)
		return
	case err != nil:
		c.String(http.StatusBadRequest, msgInvalidRange)
		return
	}

	fileName := c.PostForm("file_name")
	rawList := c.PostForm("uri_list")
	if fileName == "" || rawList == "" {
		c.String(http.StatusBadRequest, msgMissingParams)
		return
	}

	uris, err := parseURIList(rawList)
	if err != nil {
		c.String(http.StatusBadRequest, msgInvalidURIList)
		return
	}
	if hasDuplicates(uris) {
		c.String(http.StatusBadRequest, msgDuplicateURIs)
		return
	}

	ctx := c.Request.Context()
	verdict, err := s.opts.Authorizer.Verify(ctx, uris, fileName)
	if err != nil {
		s.log.Error("authorize", "error", err)
		c.String(http.StatusInternalServerError, msgUpstreamError)
		return
	}
	if !verdict.Authorized {
		c.Data(http.StatusForbidden, "text/html; charset=utf-8", []byte(verdict.UnauthorizedHTML))
		return
	}

	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := s.log.With("request_id", requestID)

	z, err := s.opts.Streamer.Prepare(ctx, requestID, uris)
	if err != nil {
		var fe *streamer.FetchError
		if errors.As(err, &fe) {
			c.String(http.StatusBadGateway, fe.Body())
			return
		}
		log.Error("prepare archive", "error", err)
		c.String(http.StatusInternalServerError, msgPrepareError)
		return
	}

	rng, partial, err := streamer.ParseRange(c.GetHeader("Range"), z.Size())
	switch {
	case errors.Is(err, streamer.ErrMultipartRange):
		c.String(http.StatusRequestedRangeNotSatisfiable, msgMultipartRange)
		return
	case errors.Is(err, streamer.ErrRangeUnsatisfiable):
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", z.Size()))
		c.String(http.StatusRequestedRangeNotSatisfiable, msgUnsatisfiable)
		return
	case err != nil:
		c.String(http.StatusBadRequest, msgInvalidRange)
		return
	}

	if partial {
		if err := z.Resolve(ctx); err != nil {
			log.Error("resolve checksums", "error", err)
			if errors.Is(err, checksum.ErrChecksumTimeout) {
				c.String(http.StatusGatewayTimeout, msgChecksumTimeout)
				return
			}
			c.String(http.StatusInternalServerError, msgChecksumError)
			return
		}
	}

	h := c.Writer.Header()
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	h.Set("Content-Type", "binary/octet-stream")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Accept-Ranges", "bytes")

	if partial {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.Stop, z.Size()))
		h.Set("Content-Length", strconv.FormatInt(rng.Len(), 10))
		c.Status(http.StatusPartialContent)
		c.Writer.WriteHeaderNow()
		err = z.WriteRange(ctx, c.Writer, rng)
	} else {
		h.Set("Content-Length", strconv.FormatInt(z.Size(), 10))
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
		err = z.WriteFull(ctx, c.Writer)
	}
	if err != nil {
		// Headers are gone; the client sees a short body.
		log.Error("stream aborted", "error", err, "partial", partial)
		c.Abort()
	}
}

// parseURIList decodes a JSON array of strings, ignoring whitespace.
func parseURIList(raw string) ([]string, error) {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	var uris []string
	if err := json.Unmarshal([]byte(stripped), &uris); err != nil {
		return nil, err
	}
	return uris, nil
}

func hasDuplicates(uris []string) bool {
	seen := make(map[string]struct{}, len(uris))
	for _, u := range uris {
		if _, ok := seen[u]; ok {
			return true
		}
		seen[u] = struct{}{}
	}
	return false
}
