// Package telemetry provides observability primitives for Streamgate.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveStreams    prometheus.Gauge
	BytesStreamed    prometheus.Counter
	ChunkFetches     prometheus.Counter
	UpstreamErrors   *prometheus.CounterVec
	FloodWaits       prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	RateLimitRejects prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "streamgate",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamgate",
			Name:      "active_streams",
			Help:      "Number of byte streams currently in flight.",
		}),

		BytesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "bytes_streamed_total",
			Help:      "Total body bytes delivered to clients.",
		}),

		ChunkFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "chunk_fetches_total",
			Help:      "Total upstream chunk reads issued.",
		}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "upstream_errors_total",
			Help:      "Total upstream errors by kind.",
		}, []string{"kind"}),

		FloodWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "flood_waits_total",
			Help:      "Total upstream flood waits honored.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "descriptor_cache_hits_total",
			Help:      "Total descriptor cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "descriptor_cache_misses_total",
			Help:      "Total descriptor cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Name:      "ratelimit_rejects_total",
			Help:      "Total download API calls rejected by the per-IP limiter.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveStreams,
		m.BytesStreamed,
		m.ChunkFetches,
		m.UpstreamErrors,
		m.FloodWaits,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
	)

	return m
}
