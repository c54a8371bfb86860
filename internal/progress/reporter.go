package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures a Reporter.
type Options struct {
	// Label heads the output, e.g. "Checksumming 3 files".
	Label string

	// TotalSize and TotalChunks describe the whole run.
	TotalSize   int64
	TotalChunks int

	// ChunkSize and Workers are only displayed.
	ChunkSize int64
	Workers   int

	// Output defaults to os.Stderr.
	Output io.Writer

	// UpdateInterval defaults to 500ms.
	UpdateInterval time.Duration
}

// Snapshot is the state of a run at one instant.
type Snapshot struct {
	Bytes   int64
	Chunks  int
	Active  int
	Failed  int
	Elapsed time.Duration
}

// Pending returns the number of chunks neither finished nor running.
func (s Snapshot) Pending(total int) int {
	return max(total-s.Chunks-s.Active, 0)
}

// Reporter prints the progress of chunked work, such as checksumming files
// by ranged fetches. A nil *Reporter accepts every call and prints nothing.
type Reporter struct {
	opts Options

	bytes  atomic.Int64
	chunks atomic.Int64
	active atomic.Int64
	failed atomic.Int64

	start    time.Time
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewReporter creates a Reporter. Nothing is printed until Start.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	return &Reporter{
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	r.start = time.Now()
	fmt.Fprintf(r.opts.Output, "[fileslide] %s\n", r.opts.Label)
	fmt.Fprintf(r.opts.Output, "[fileslide] Total size: %s | Chunks: %d x %s | Workers: %d\n",
		FormatBytes(r.opts.TotalSize), r.opts.TotalChunks, FormatBytes(r.opts.ChunkSize), r.opts.Workers)
	go r.loop()
}

// Stop ends updates and prints a summary. It is safe to call more than
// once, and without Start.
func (r *Reporter) Stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() {
		close(r.stop)
		if !r.start.IsZero() {
			<-r.done
		}
	})
}

func (r *Reporter) ChunkStarted() {
	if r != nil {
		r.active.Add(1)
	}
}

// ChunkCompleted records a finished chunk of size bytes.
func (r *Reporter) ChunkCompleted(size int64) {
	if r != nil {
		r.bytes.Add(size)
		r.chunks.Add(1)
		r.active.Add(-1)
	}
}

func (r *Reporter) ChunkFailed() {
	if r != nil {
		r.failed.Add(1)
		r.active.Add(-1)
	}
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	s := Snapshot{
		Bytes:  r.bytes.Load(),
		Chunks: int(r.chunks.Load()),
		Active: int(r.active.Load()),
		Failed: int(r.failed.Load()),
	}
	if !r.start.IsZero() {
		s.Elapsed = time.Since(r.start)
	}
	return s
}

func (r *Reporter) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	prev := r.Snapshot()
	for {
		select {
		case <-r.stop:
			r.summary(r.Snapshot())
			return
		case <-ticker.C:
			cur := r.Snapshot()
			fmt.Fprint(r.opts.Output, r.line(prev, cur))
			prev = cur
		}
	}
}

// line renders cur, with the rate measured since prev.
func (r *Reporter) line(prev, cur Snapshot) string {
	dt := max((cur.Elapsed - prev.Elapsed).Seconds(), 0.1)
	rate := float64(cur.Bytes-prev.Bytes) / dt

	var percent float64
	eta := "calculating..."
	if total := r.opts.TotalSize; total > 0 {
		percent = float64(cur.Bytes) / float64(total) * 100
		if rate > 0 {
			eta = formatDuration(time.Duration(float64(total-cur.Bytes) / rate * float64(time.Second)))
		}
	}

	return fmt.Sprintf("\r[fileslide] %.1f%% | %s / %s | %s/s | ETA %s | chunks %d done, %d running, %d pending, %d failed    ",
		percent, FormatBytes(cur.Bytes), FormatBytes(r.opts.TotalSize), FormatBytes(int64(rate)), eta,
		cur.Chunks, cur.Active, cur.Pending(r.opts.TotalChunks), cur.Failed)
}

func (r *Reporter) summary(s Snapshot) {
	avg := float64(s.Bytes) / max(s.Elapsed.Seconds(), 0.001)
	fmt.Fprintf(r.opts.Output, "\r[fileslide] Processed: %s / %s | Chunks: %d | Failed: %d    \n",
		FormatBytes(s.Bytes), FormatBytes(r.opts.TotalSize), s.Chunks, s.Failed)
	fmt.Fprintf(r.opts.Output, "[fileslide] Total time: %s | Average speed: %s/s\n",
		formatDuration(s.Elapsed), FormatBytes(int64(avg)))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
