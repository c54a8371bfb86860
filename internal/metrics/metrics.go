// Package metrics defines the Prometheus collectors exported by the streamer.
//
// A nil *Collector is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fileslide"

// Stream modes.
const (
	ModeFull    = "full"
	ModePartial = "partial"
)

// Checksum cache lookup results.
const (
	LookupHit     = "hit"
	LookupStale   = "stale"
	LookupMiss    = "miss"
	LookupPending = "pending"
)

// Collector holds the collectors and the registry they are registered with.
type Collector struct {
	registry *prometheus.Registry

	streams          *prometheus.CounterVec
	streamBytes      *prometheus.CounterVec
	checksumLookups  *prometheus.CounterVec
	checksumComputes *prometheus.CounterVec
	resolveDuration  prometheus.Histogram
}

// New creates a Collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Archive streams finished, by mode and whether they completed",
		}, []string{"mode", "complete"}),
		streamBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Archive bytes written to clients",
		}, []string{"mode"}),
		checksumLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_lookups_total",
			Help:      "Checksum cache lookups by result",
		}, []string{"result"}),
		checksumComputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_computations_total",
			Help:      "Checksums computed by this process, by outcome",
		}, []string{"outcome"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checksum_resolve_seconds",
			Help:      "Time spent resolving checksums for a request",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	reg.MustRegister(c.streams, c.streamBytes, c.checksumLookups, c.checksumComputes, c.resolveDuration)
	return c
}

// Registry returns the registry the collectors are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StreamFinished records one finished stream.
func (c *Collector) StreamFinished(mode string, bytes int64, complete bool) {
	if c == nil {
		return
	}
	c.streams.WithLabelValues(mode, strconv.FormatBool(complete)).Inc()
	c.streamBytes.WithLabelValues(mode).Add(float64(bytes))
}

// ChecksumLookup records the classification of one cache entry.
func (c *Collector) ChecksumLookup(result string) {
	if c == nil {
		return
	}
	c.checksumLookups.WithLabelValues(result).Inc()
}

// ChecksumComputed records the outcome of one checksum computation.
func (c *Collector) ChecksumComputed(err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.checksumComputes.WithLabelValues(outcome).Inc()
}

// ResolveDuration records how long a checksum resolution took.
func (c *Collector) ResolveDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.resolveDuration.Observe(d.Seconds())
}
