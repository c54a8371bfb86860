package progress

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Summary is the accounting record of one archive stream.
type Summary struct {
	Start    time.Time
	Stop     time.Time
	Bytes    int64
	URIs     []string
	Complete bool
}

// Tracker accounts for the bytes and files sent by one stream.
type Tracker struct {
	start time.Time
	bytes atomic.Int64

	mu   sync.Mutex
	uris []string
	seen map[string]bool
}

// NewTracker starts tracking a stream now.
func NewTracker() *Tracker {
	return &Tracker{start: time.Now(), seen: make(map[string]bool)}
}

// Writer returns a writer that forwards to w and counts what it accepts.
func (t *Tracker) Writer(w io.Writer) io.Writer {
	return &countingWriter{w: w, t: t}
}

// Touch records that content of uri was sent. Repeats are ignored.
func (t *Tracker) Touch(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[uri] {
		return
	}
	t.seen[uri] = true
	t.uris = append(t.uris, uri)
}

// Bytes returns the number of bytes written so far.
func (t *Tracker) Bytes() int64 {
	return t.bytes.Load()
}

// Finish stops the clock and returns the summary.
func (t *Tracker) Finish(complete bool) Summary {
	t.mu.Lock()
	uris := make([]string, len(t.uris))
	copy(uris, t.uris)
	t.mu.Unlock()

	return Summary{
		Start:    t.start,
		Stop:     time.Now(),
		Bytes:    t.bytes.Load(),
		URIs:     uris,
		Complete: complete,
	}
}

type countingWriter struct {
	w io.Writer
	t *Tracker
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.t.bytes.Add(int64(n))
	return n, err
}
