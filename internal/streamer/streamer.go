// Package streamer assembles remote files into a ZIP archive streamed to a
// client, whole or as a byte range.
//
// Prepare probes every file and fixes the archive layout. The resulting
// Zip is then written with WriteFull, or with Resolve followed by
// WriteRange for partial content. Both writers send an accounting report
// when they return, however they return.
package streamer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whitebrick/fileslide-streamer/internal/checksum"
	"github.com/whitebrick/fileslide-streamer/internal/metrics"
	"github.com/whitebrick/fileslide-streamer/internal/origin"
	"github.com/whitebrick/fileslide-streamer/internal/progress"
	"github.com/whitebrick/fileslide-streamer/internal/upstream"
	"github.com/whitebrick/fileslide-streamer/pkg/archive"
)

// Options configures a Streamer.
type Options struct {
	// Origin fetches remote files. Required.
	Origin origin.Origin

	// Cache receives checksums computed while streaming whole archives.
	// Optional.
	Cache *checksum.Cache

	// Resolver computes checksums for partial content. Required for
	// Resolve.
	Resolver *checksum.Resolver

	// Reporter receives accounting reports.
	// Default: upstream.LogReporter
	Reporter upstream.Reporter

	// ProbeWorkers bounds concurrent availability checks.
	// Default: 16
	ProbeWorkers int

	// ReportTimeout bounds delivery of one accounting report.
	// Default: 10s
	ReportTimeout time.Duration

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Streamer builds archives from remote files.
type Streamer struct {
	opts Options
	log  *slog.Logger
}

// New creates a Streamer.
func New(opts Options) *Streamer {
	if opts.ProbeWorkers <= 0 {
		opts.ProbeWorkers = 16
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = upstream.LogReporter{Logger: log}
	}
	return &Streamer{opts: opts, log: log}
}

// Zip is the archive of one request, with its layout fixed.
type Zip struct {
	s         *Streamer
	requestID string
	uris      []string
	files     []*archive.File
	size      int64
}

// Prepare checks that every URI can be fetched and lays out the archive.
// Failures are collected for all URIs and returned together as a
// *FetchError.
func (s *Streamer) Prepare(ctx context.Context, requestID string, uris []string) (*Zip, error) {
	infos := make([]*origin.FileInfo, len(uris))
	errs := make([]error, len(uris))

	var g errgroup.Group
	g.SetLimit(s.opts.ProbeWorkers)
	for i, uri := range uris {
		g.Go(func() error {
			infos[i], errs[i] = s.opts.Origin.Probe(ctx, uri)
			return nil
		})
	}
	g.Wait()

	var fetchErr FetchError
	files := make([]*archive.File, 0, len(uris))
	for i, uri := range uris {
		if errs[i] != nil {
			failure := failedURI(uri, errs[i])
			s.log.Warn("file not available", "uri", uri, "status", failure.StatusCode, "error", errs[i])
			fetchErr.Failures = append(fetchErr.Failures, failure)
			continue
		}
		f := archive.NewFile(uri, infos[i].ContentDisposition, infos[i].Size, infos[i].ETag)
		f.ModTime = infos[i].ModTime
		files = append(files, f)
	}
	if len(fetchErr.Failures) > 0 {
		return nil, &fetchErr
	}

	if numbered := archive.Disambiguate(files); len(numbered) > 0 {
		s.log.Warn("archive names numbered to avoid collisions", "request_id", requestID, "paths", numbered)
	}
	return &Zip{
		s:         s,
		requestID: requestID,
		uris:      uris,
		files:     files,
		size:      archive.EstimateSize(files),
	}, nil
}

// Size returns the exact length of the whole archive.
func (z *Zip) Size() int64 {
	return z.size
}

// Files returns the archive entries in order.
func (z *Zip) Files() []*archive.File {
	return z.files
}

// Resolve computes the checksum of every file, which WriteRange needs.
func (z *Zip) Resolve(ctx context.Context) error {
	if z.s.opts.Resolver == nil {
		return fmt.Errorf("%w: no resolver configured", checksum.ErrChecksumming)
	}
	return z.s.opts.Resolver.Resolve(ctx, z.files)
}

// WriteFull streams the whole archive to w, hashing each file on the way
// and caching its checksum.
func (z *Zip) WriteFull(ctx context.Context, w io.Writer) error {
	tracker := progress.NewTracker()
	complete := false
	defer func() { z.report(ctx, tracker, metrics.ModeFull, complete) }()

	zw := archive.NewWriter(tracker.Writer(w))
	for _, f := range z.files {
		content, err := z.s.opts.Origin.Open(ctx, f.URI, origin.Whole())
		if err != nil {
			z.s.log.Error("fetch failed mid-stream", "uri", f.URI, "error", err)
			return fmt.Errorf("fetch %s: %w", f.URI, err)
		}
		tracker.Touch(f.URI)

		crc, err := zw.WriteFile(f, content)
		content.Close()
		if err != nil {
			z.s.log.Error("stream failed", "uri", f.URI, "bytes", tracker.Bytes(), "error", err)
			return fmt.Errorf("stream %s: %w", f.URI, err)
		}

		if content.ETag == "" || content.ETag == f.ETag {
			z.storeChecksum(ctx, f, crc)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("write trailer: %w", err)
	}
	complete = true
	return nil
}

func (z *Zip) storeChecksum(ctx context.Context, f *archive.File, crc uint32) {
	if z.s.opts.Cache == nil {
		return
	}
	if err := z.s.opts.Cache.Done(ctx, f.URI, f.ETag, crc); err != nil {
		z.s.log.Warn("cache checksum", "uri", f.URI, "error", err)
	}
}

// WriteRange streams bytes r.Start through r.Stop of the archive to w.
// Every checksum must be known, see Resolve. File content is fetched only
// for the parts of files the window covers.
func (z *Zip) WriteRange(ctx context.Context, w io.Writer, r Range) error {
	segments, err := archive.Segments(z.files)
	if err != nil {
		return err
	}

	tracker := progress.NewTracker()
	complete := false
	defer func() { z.report(ctx, tracker, metrics.ModePartial, complete) }()

	out := tracker.Writer(w)
	start, stop := r.Start, r.Stop
	for _, seg := range segments {
		if stop < 0 {
			break
		}
		n := seg.Len()

		var err error
		switch {
		case n <= start:
			// Entirely before the window.
			start -= n
			stop -= n
			continue
		case start == 0 && n <= stop+1:
			err = z.emit(ctx, out, tracker, seg, 0, -1)
			stop -= n
		case n <= stop+1:
			err = z.emit(ctx, out, tracker, seg, start, -1)
			stop -= n
			start = 0
		default:
			err = z.emit(ctx, out, tracker, seg, start, stop)
			stop = -1
		}
		if err != nil {
			z.s.log.Error("partial stream failed", "segment", seg.Kind, "bytes", tracker.Bytes(), "error", err)
			return err
		}
	}

	complete = true
	return nil
}

// emit writes bytes start through stop of seg; a negative stop means the
// end of the segment.
func (z *Zip) emit(ctx context.Context, w io.Writer, tracker *progress.Tracker, seg archive.Segment, start, stop int64) error {
	if seg.Kind != archive.ContentSegment {
		_, err := w.Write(seg.Slice(start, stop))
		return err
	}

	f := seg.File
	rng := origin.Between(start, stop)
	switch {
	case start == 0 && stop < 0:
		rng = origin.Whole()
	case stop < 0:
		rng = origin.From(start)
	}
	want := rng.Length()
	if want < 0 {
		want = f.Size - start
	}

	content, err := z.s.opts.Origin.Open(ctx, f.URI, rng)
	if err != nil {
		return fmt.Errorf("fetch %s %s: %w", f.URI, rng, err)
	}
	defer content.Close()
	if content.ETag != "" && f.ETag != "" && content.ETag != f.ETag {
		return fmt.Errorf("fetch %s: %w", f.URI, origin.ErrETagMismatch)
	}
	tracker.Touch(f.URI)

	n, err := io.CopyN(w, content, want)
	if err != nil {
		return fmt.Errorf("stream %s: %w (%d of %d bytes)", f.URI, err, n, want)
	}
	return nil
}

func (z *Zip) report(ctx context.Context, tracker *progress.Tracker, mode string, complete bool) {
	sum := tracker.Finish(complete)
	z.s.opts.Metrics.StreamFinished(mode, sum.Bytes, complete)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), z.s.opts.ReportTimeout)
	defer cancel()
	z.s.opts.Reporter.Report(ctx, upstream.Report{
		RequestID:      z.requestID,
		URIList:        z.uris,
		WrittenURIList: sum.URIs,
		StartTime:      sum.Start,
		StopTime:       sum.Stop,
		BytesSent:      sum.Bytes,
		Complete:       complete,
	})
}
