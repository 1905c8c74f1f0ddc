// Package server implements the HTTP transport layer for Streamgate:
// link resolution, range parsing, and the byte-stream endpoints.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nextpulse/streamgate/internal/cache"
	"github.com/nextpulse/streamgate/internal/config"
	"github.com/nextpulse/streamgate/internal/linkstore"
	"github.com/nextpulse/streamgate/internal/pool"
	"github.com/nextpulse/streamgate/internal/ratelimit"
	"github.com/nextpulse/streamgate/internal/telemetry"
)

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Links       linkstore.Store
	Pool        *pool.Pool
	Descriptors *cache.Descriptors
	Limiter     *ratelimit.PerIP     // nil = download API unthrottled
	Metrics     *telemetry.Metrics   // nil = no metrics
	Registry    *prometheus.Registry // nil = no /metrics endpoint
	Domains     config.DomainConfig
	Version     string
	StartTime   time.Time
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(cors)

	r.Get("/", s.handleRoot)
	r.Get("/robots.txt", s.handleRobots)
	r.Get("/favicon.ico", s.handleFavicon)
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/prepare/{token}", s.handlePrepare)
	r.Get("/api/generate/{token}", s.handleGenerate)
	r.Get("/api/download/{token}", s.handleDownload)

	// Watch pages and the raw byte stream accept two path forms:
	// compact /HHHHHH123 and split /123/name?hash=HHHHHH.
	r.Route("/watch", func(r chi.Router) {
		r.Get("/{path}", s.handleWatch)
		r.Head("/{path}", s.handleWatch)
		r.Get("/{path}/*", s.handleWatch)
		r.Head("/{path}/*", s.handleWatch)
	})
	r.Get("/{path}", s.handleStream)
	r.Head("/{path}", s.handleStream)
	r.Get("/{path}/*", s.handleStream)
	r.Head("/{path}/*", s.handleStream)

	return r
}

type server struct {
	deps Deps
}
