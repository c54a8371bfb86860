package streamer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/klauspost/compress/zip"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whitebrick/fileslide-streamer/internal/checksum"
	fshttp "github.com/whitebrick/fileslide-streamer/internal/http"
	"github.com/whitebrick/fileslide-streamer/internal/origin"
	"github.com/whitebrick/fileslide-streamer/internal/testutils"
	"github.com/whitebrick/fileslide-streamer/internal/upstream"
	"github.com/whitebrick/fileslide-streamer/pkg/archive"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []upstream.Report
}

func (r *recordingReporter) Report(_ context.Context, rep upstream.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *recordingReporter) last(t *testing.T) upstream.Report {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.reports)
	return r.reports[len(r.reports)-1]
}

type fixture struct {
	streamer *Streamer
	origin   *testutils.MemoryOrigin
	cache    *checksum.Cache
	reporter *recordingReporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := checksum.NewCache(checksum.NewRedisStore(client, ""), time.Minute, time.Hour)
	src := testutils.NewMemoryOrigin()
	rep := &recordingReporter{}
	resolver := checksum.NewResolver(cache, src, checksum.Options{
		ChunkSize:    64,
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	return &fixture{
		streamer: New(Options{Origin: src, Cache: cache, Resolver: resolver, Reporter: rep}),
		origin:   src,
		cache:    cache,
		reporter: rep,
	}
}

func (fx *fixture) put(t *testing.T, files map[string]int) []string {
	t.Helper()
	var uris []string
	seed := byte(0)
	for _, uri := range []string{"mem://b/one/photo.jpg", "mem://b/two/photo.jpg", "mem://b/empty.txt", "mem://b/notes.txt"} {
		size, ok := files[uri]
		if !ok {
			continue
		}
		data := testutils.GenerateTestData(t, int64(size))
		for i := range data {
			data[i] ^= seed
		}
		seed++
		fx.origin.Put(uri, data, "v1")
		uris = append(uris, uri)
	}
	return uris
}

var sampleSizes = map[string]int{
	"mem://b/one/photo.jpg": 300,
	"mem://b/two/photo.jpg": 129,
	"mem://b/empty.txt":     0,
	"mem://b/notes.txt":     77,
}

func TestPrepareAggregatesFailures(t *testing.T) {
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "ok.bin", Data: []byte("ok")}})
	dead := testutils.StartTestHTTPServer(t, nil)
	deadURL := dead.FileURL("gone.bin")
	dead.Close()

	opts := fshttp.DefaultOptions()
	opts.RetryAttempts = 0
	s := New(Options{Origin: origin.NewHTTP(fshttp.NewClient(opts))})

	uris := []string{server.FileURL("missing.bin"), server.FileURL("ok.bin"), deadURL}
	_, err := s.Prepare(context.Background(), "req", uris)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Len(t, fe.Failures, 2)
	assert.Equal(t, http.StatusNotFound, fe.Failures[0].StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, fe.Failures[1].StatusCode)
	assert.Equal(t,
		"502 Bad Gateway\nThe following files could not be fetched:\n"+
			uris[0]+" [404 Not Found]\n"+
			uris[2]+" [503 Service Unavailable]\n",
		fe.Body())
}

func TestPrepareLaysOutArchive(t *testing.T) {
	fx := newFixture(t)
	uris := fx.put(t, sampleSizes)

	z, err := fx.streamer.Prepare(context.Background(), "req", uris)
	require.NoError(t, err)

	var paths []string
	for _, f := range z.Files() {
		paths = append(paths, f.Path())
		assert.True(t, f.ModTime.Equal(testutils.ModTime))
	}
	assert.Equal(t, []string{"one/photo.jpg", "two/photo.jpg", "empty.txt", "notes.txt"}, paths)
	assert.Equal(t, archive.EstimateSize(z.Files()), z.Size())
}

func TestPrepareWarnsAboutNumberedNames(t *testing.T) {
	fx := newFixture(t)
	var logs bytes.Buffer
	fx.streamer = New(Options{
		Origin:   fx.origin,
		Cache:    fx.cache,
		Resolver: fx.streamer.opts.Resolver,
		Reporter: fx.reporter,
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	})

	uris := []string{"mem://b/x.jpg?v=1", "mem://b/x.jpg?v=2"}
	for _, uri := range uris {
		fx.origin.Put(uri, testutils.GenerateTestData(t, 40), "v1")
	}

	z, err := fx.streamer.Prepare(context.Background(), "req-dup", uris)
	require.NoError(t, err)
	require.Len(t, z.Files(), 2)
	assert.NotEqual(t, z.Files()[0].Path(), z.Files()[1].Path())

	out := logs.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "archive names numbered to avoid collisions")
	assert.Contains(t, out, "request_id=req-dup")
	assert.Contains(t, out, z.Files()[1].Path())
}

func TestPrepareQuietWithoutCollisions(t *testing.T) {
	fx := newFixture(t)
	var logs bytes.Buffer
	fx.streamer = New(Options{
		Origin:   fx.origin,
		Cache:    fx.cache,
		Resolver: fx.streamer.opts.Resolver,
		Reporter: fx.reporter,
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	})
	uris := fx.put(t, sampleSizes)

	_, err := fx.streamer.Prepare(context.Background(), "req", uris)
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "numbered")
}

func TestWriteFull(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	uris := fx.put(t, sampleSizes)

	z, err := fx.streamer.Prepare(ctx, "req-full", uris)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, z.WriteFull(ctx, &buf))
	assert.Equal(t, z.Size(), int64(buf.Len()))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, len(uris))
	for i, zf := range zr.File {
		assert.Equal(t, z.Files()[i].Path(), zf.Name)
		want := originData(t, fx.origin, z.Files()[i].URI)
		rc, err := zf.Open()
		require.NoError(t, err)
		testutils.CompareReaderToData(t, rc, want)
		rc.Close()
	}

	rep := fx.reporter.last(t)
	assert.True(t, rep.Complete)
	assert.Equal(t, "req-full", rep.RequestID)
	assert.Equal(t, uris, rep.URIList)
	assert.Equal(t, uris, rep.WrittenURIList)
	assert.Equal(t, int64(buf.Len()), rep.BytesSent)

	// Checksums were cached on the way, so resolving needs no fetches.
	opens := fx.origin.TotalOpens()
	again, err := fx.streamer.Prepare(ctx, "req-2", uris)
	require.NoError(t, err)
	require.NoError(t, again.Resolve(ctx))
	assert.Equal(t, opens, fx.origin.TotalOpens())
}

func originData(t *testing.T, o *testutils.MemoryOrigin, uri string) []byte {
	t.Helper()
	content, err := o.Open(context.Background(), uri, origin.Whole())
	require.NoError(t, err)
	defer content.Close()
	var b bytes.Buffer
	_, err = b.ReadFrom(content)
	require.NoError(t, err)
	return b.Bytes()
}

func TestWriteFullReportsFailure(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	uris := fx.put(t, sampleSizes)

	z, err := fx.streamer.Prepare(ctx, "req-fail", uris)
	require.NoError(t, err)

	// The second file shrinks after the availability check.
	fx.origin.Put(uris[1], []byte("short"), "v1")

	var buf bytes.Buffer
	err = z.WriteFull(ctx, &buf)
	assert.ErrorIs(t, err, archive.ErrSizeMismatch)

	rep := fx.reporter.last(t)
	assert.False(t, rep.Complete)
	assert.Equal(t, uris[:2], rep.WrittenURIList)
	assert.Equal(t, int64(buf.Len()), rep.BytesSent)
}

func fullArchive(t *testing.T, fx *fixture, uris []string) []byte {
	t.Helper()
	z, err := fx.streamer.Prepare(context.Background(), "full", uris)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, z.WriteFull(context.Background(), &buf))
	return buf.Bytes()
}

func writeRange(t *testing.T, fx *fixture, uris []string, r Range) []byte {
	t.Helper()
	ctx := context.Background()
	z, err := fx.streamer.Prepare(ctx, "partial", uris)
	require.NoError(t, err)
	require.NoError(t, z.Resolve(ctx))
	var buf bytes.Buffer
	require.NoError(t, z.WriteRange(ctx, &buf, r))
	return buf.Bytes()
}

func TestWriteRangeAdditivity(t *testing.T) {
	fx := newFixture(t)
	uris := fx.put(t, sampleSizes)

	// Compute checksums through the resolver before the full stream caches them.
	z, err := fx.streamer.Prepare(context.Background(), "resolve", uris)
	require.NoError(t, err)
	require.NoError(t, z.Resolve(context.Background()))

	full := fullArchive(t, fx, uris)
	end := int64(len(full)) - 1

	for _, p := range []int64{0, 1, 29, 30, 31, 200, 329, 400, 500, end - 23, end - 1} {
		head := writeRange(t, fx, uris, Range{0, p})
		tail := writeRange(t, fx, uris, Range{p + 1, end})
		assert.True(t, bytes.Equal(full, append(head, tail...)), "split at %d", p)
	}
}

func TestWriteRangeWindows(t *testing.T) {
	fx := newFixture(t)
	uris := fx.put(t, sampleSizes)
	full := fullArchive(t, fx, uris)
	total := int64(len(full))

	for _, header := range []string{"bytes=0-0", "bytes=10-20", "bytes=35-100", "bytes=100-", "bytes=-22", "bytes=5-999999"} {
		r, partial, err := ParseRange(header, total)
		require.NoError(t, err)
		require.True(t, partial)
		got := writeRange(t, fx, uris, r)
		assert.Equal(t, r.Len(), int64(len(got)), header)
		assert.True(t, bytes.Equal(full[r.Start:r.Stop+1], got), header)
	}
}

func TestWriteRangeFetchesOnlyCoveredContent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	uris := fx.put(t, sampleSizes)

	z, err := fx.streamer.Prepare(ctx, "req", uris)
	require.NoError(t, err)
	require.NoError(t, z.Resolve(ctx))
	before := len(fx.origin.Opens(uris[0]))

	// The trailer is precomputed, so the last bytes need no fetch.
	var buf bytes.Buffer
	require.NoError(t, z.WriteRange(ctx, &buf, Range{z.Size() - 22, z.Size() - 1}))
	assert.Equal(t, before, len(fx.origin.Opens(uris[0])))
	assert.Empty(t, fx.reporter.last(t).WrittenURIList)

	// A window inside the first file's content issues one bounded fetch.
	header := int64(30 + len("one/photo.jpg"))
	buf.Reset()
	require.NoError(t, z.WriteRange(ctx, &buf, Range{header + 10, header + 19}))
	opens := fx.origin.Opens(uris[0])
	require.Len(t, opens, before+1)
	assert.Equal(t, origin.Between(10, 19), opens[len(opens)-1])

	rep := fx.reporter.last(t)
	assert.True(t, rep.Complete)
	assert.Equal(t, []string{uris[0]}, rep.WrittenURIList)
	assert.Equal(t, int64(10), rep.BytesSent)
}

func TestWriteRangeRequiresChecksums(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	uris := fx.put(t, sampleSizes)

	z, err := fx.streamer.Prepare(ctx, "req", uris)
	require.NoError(t, err)
	err = z.WriteRange(ctx, &bytes.Buffer{}, Range{0, 10})
	assert.ErrorIs(t, err, archive.ErrMissingChecksum)
}

func TestWriteRangeReportsFailure(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	uris := fx.put(t, sampleSizes)

	z, err := fx.streamer.Prepare(ctx, "req", uris)
	require.NoError(t, err)
	require.NoError(t, z.Resolve(ctx))

	fx.origin.Put(uris[0], testutils.GenerateTestData(t, 300), "v2")
	err = z.WriteRange(ctx, &bytes.Buffer{}, Range{0, z.Size() - 1})
	assert.True(t, errors.Is(err, origin.ErrETagMismatch), "got %v", err)
	assert.False(t, fx.reporter.last(t).Complete)
}
