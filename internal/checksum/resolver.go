package checksum

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whitebrick/fileslide-streamer/internal/metrics"
	"github.com/whitebrick/fileslide-streamer/internal/origin"
	"github.com/whitebrick/fileslide-streamer/internal/progress"
	"github.com/whitebrick/fileslide-streamer/pkg/archive"
)

// Options configures a Resolver.
type Options struct {
	// ChunkSize is the size of each ranged fetch when hashing a file.
	// Default: 512 MiB
	ChunkSize int64

	// Timeout bounds a whole Resolve call.
	// Default: 10m
	Timeout time.Duration

	// PollInterval is the delay between reads of a pending entry.
	// Default: 1s
	PollInterval time.Duration

	// PollAttempts bounds how many times a pending entry is read.
	// Default: 900
	PollAttempts int

	// Workers bounds concurrent chunk fetches per file.
	// Default: 8
	Workers int

	// Logger receives cache transitions. Default: slog.Default()
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Collector

	// Progress is an optional chunk progress reporter.
	Progress *progress.Reporter
}

// DefaultOptions returns options with the service defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    512 << 20,
		Timeout:      10 * time.Minute,
		PollInterval: time.Second,
		PollAttempts: 900,
		Workers:      8,
	}
}

// Resolver fills in the CRC32 of archive files, computing each checksum at
// most once across every process sharing the cache.
type Resolver struct {
	cache  *Cache
	origin origin.Origin
	opts   Options
	log    *slog.Logger
}

// NewResolver creates a Resolver. Zero options take their defaults.
func NewResolver(cache *Cache, src origin.Origin, opts Options) *Resolver {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = def.PollAttempts
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cache: cache, origin: src, opts: opts, log: log}
}

type task struct {
	file  *archive.File
	claim bool
}

// Resolve sets the CRC32 of every file or fails. Checksums already cached
// for the file's current ETag are adopted, stale ones are dropped and
// recomputed, and files another caller is computing are waited for.
//
// When the timeout elapses Resolve returns ErrChecksumTimeout; computations
// still running are left to finish in the background, bounded by the claim
// TTL, so their results still reach the cache.
func (r *Resolver) Resolve(ctx context.Context, files []*archive.File) error {
	start := time.Now()
	defer func() { r.opts.Metrics.ResolveDuration(time.Since(start)) }()

	if len(files) == 0 {
		return nil
	}

	tasks, err := r.plan(ctx, files)
	if err != nil {
		return err
	}

	if len(tasks) > 0 {
		if err := r.run(ctx, tasks); err != nil {
			return err
		}
	}

	return r.verify(ctx, files)
}

// plan classifies each file against the cache and claims those that need
// computing.
func (r *Resolver) plan(ctx context.Context, files []*archive.File) ([]task, error) {
	entries, err := r.cache.Lookup(ctx, uris(files))
	if err != nil {
		return nil, fmt.Errorf("lookup checksums: %w", err)
	}

	var tasks []task
	for i, f := range files {
		e := entries[i]
		switch {
		case e == nil:
			r.opts.Metrics.ChecksumLookup(metrics.LookupMiss)
		case e.Matches(f.ETag):
			r.opts.Metrics.ChecksumLookup(metrics.LookupHit)
			r.log.Debug("checksum cache hit", "uri", f.URI, "etag", f.ETag)
			f.SetCRC32(e.CRC32)
			continue
		case e.State == StatePending:
			r.opts.Metrics.ChecksumLookup(metrics.LookupPending)
			r.log.Debug("checksum pending elsewhere", "uri", f.URI)
			tasks = append(tasks, task{file: f})
			continue
		default:
			r.opts.Metrics.ChecksumLookup(metrics.LookupStale)
			r.log.Info("dropping stale checksum", "uri", f.URI, "cached_etag", e.ETag, "etag", f.ETag)
			if err := r.cache.Release(ctx, f.URI); err != nil {
				return nil, fmt.Errorf("drop stale checksum: %w", err)
			}
		}

		ok, err := r.cache.Claim(ctx, f.URI)
		if err != nil {
			return nil, fmt.Errorf("claim checksum: %w", err)
		}
		if ok {
			r.log.Debug("checksum claimed", "uri", f.URI)
		} else {
			r.log.Debug("checksum claimed elsewhere", "uri", f.URI)
		}
		tasks = append(tasks, task{file: f, claim: ok})
	}
	return tasks, nil
}

// run executes tasks concurrently until they finish or the timeout fires.
func (r *Resolver) run(ctx context.Context, tasks []task) error {
	// Tasks outlive the caller on timeout, so they get their own deadline.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cache.ClaimTTL())

	var g errgroup.Group
	for _, t := range tasks {
		g.Go(func() error {
			if t.claim {
				return r.compute(taskCtx, t.file)
			}
			return r.wait(taskCtx, t.file)
		})
	}

	finished := make(chan error, 1)
	go func() {
		defer cancel()
		finished <- g.Wait()
	}()

	timer := time.NewTimer(r.opts.Timeout)
	defer timer.Stop()

	select {
	case err := <-finished:
		if err != nil {
			r.log.Warn("checksum task failed", "error", err)
		}
		return nil
	case <-timer.C:
		return ErrChecksumTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// verify re-reads the cache and adopts every checksum, failing if any file
// is still without one.
func (r *Resolver) verify(ctx context.Context, files []*archive.File) error {
	entries, err := r.cache.Lookup(ctx, uris(files))
	if err != nil {
		return fmt.Errorf("lookup checksums: %w", err)
	}

	var missing []string
	for i, f := range files {
		if !entries[i].Matches(f.ETag) {
			f.ClearCRC32()
			missing = append(missing, f.URI)
			continue
		}
		f.SetCRC32(entries[i].CRC32)
	}
	if len(missing) > 0 {
		return &Error{URIs: missing}
	}
	return nil
}

// compute hashes a claimed file and stores the result, releasing the claim
// on failure.
func (r *Resolver) compute(ctx context.Context, f *archive.File) error {
	crc, err := r.Checksum(ctx, f)
	r.opts.Metrics.ChecksumComputed(err)
	if err != nil {
		if rerr := r.cache.Release(ctx, f.URI); rerr != nil {
			r.log.Error("release checksum claim", "uri", f.URI, "error", rerr)
		}
		return fmt.Errorf("checksum %s: %w", f.URI, err)
	}

	r.log.Debug("checksum computed", "uri", f.URI, "etag", f.ETag, "crc32", crc)
	return r.cache.Done(ctx, f.URI, f.ETag, crc)
}

// Checksum fetches f in chunks and returns its CRC32. It does not touch the
// cache.
func (r *Resolver) Checksum(ctx context.Context, f *archive.File) (uint32, error) {
	chunks := Split(f.Size, r.opts.ChunkSize)
	crcs := make([]uint32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, c := range chunks {
		g.Go(func() error {
			crc, err := r.chunkCRC(gctx, f, c)
			if err != nil {
				return err
			}
			crcs[i] = crc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var crc uint32
	for i, c := range chunks {
		crc = Combine(crc, crcs[i], c.Length)
	}
	return crc, nil
}

func (r *Resolver) chunkCRC(ctx context.Context, f *archive.File, c Chunk) (uint32, error) {
	r.opts.Progress.ChunkStarted()

	content, err := r.origin.Open(ctx, f.URI, origin.Between(c.Offset, c.End()))
	if err != nil {
		r.opts.Progress.ChunkFailed()
		return 0, fmt.Errorf("fetch chunk at %d: %w", c.Offset, err)
	}
	defer content.Close()

	if content.ETag != "" && f.ETag != "" && content.ETag != f.ETag {
		r.opts.Progress.ChunkFailed()
		return 0, fmt.Errorf("chunk at %d: %w (want %s, got %s)", c.Offset, origin.ErrETagMismatch, f.ETag, content.ETag)
	}

	h := crc32.NewIEEE()
	n, err := io.Copy(h, io.LimitReader(content, c.Length))
	if err == nil && n != c.Length {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		r.opts.Progress.ChunkFailed()
		return 0, fmt.Errorf("read chunk at %d: %w", c.Offset, err)
	}

	r.opts.Progress.ChunkCompleted(n)
	return h.Sum32(), nil
}

// wait polls the entry for f until it leaves the pending state. A missing
// entry means its owner gave up, so waiting stops.
func (r *Resolver) wait(ctx context.Context, f *archive.File) error {
	for attempt := 0; attempt < r.opts.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}

		e, err := r.cache.Get(ctx, f.URI)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("%s: %w", f.URI, errClaimVanished)
		}
		if e.State != StatePending {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", f.URI, errWaitExhausted)
}

func uris(files []*archive.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.URI
	}
	return out
}
