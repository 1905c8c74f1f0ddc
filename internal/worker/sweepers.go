package worker

import (
	"context"
	"log/slog"
	"time"
)

// Flusher is anything with a full flush, i.e. the descriptor cache.
type Flusher interface {
	Flush()
}

// CacheFlusher clears the descriptor cache on a fixed interval to cap
// memory and pick up upstream mutations.
type CacheFlusher struct {
	Cache    Flusher
	Interval time.Duration
}

// Name returns the worker identifier.
func (c *CacheFlusher) Name() string { return "cache_flusher" }

// Run flushes the cache every interval until ctx is cancelled.
func (c *CacheFlusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Cache.Flush()
			slog.Debug("descriptor cache flushed")
		}
	}
}

// Refresher re-resolves cached DNS entries, i.e. *dnscache.Resolver.
type Refresher interface {
	Refresh(clearUnused bool)
}

// DNSRefresher keeps the shared DNS cache warm so upstream dials never
// block on resolution.
type DNSRefresher struct {
	Resolver Refresher
	Interval time.Duration
}

// Name returns the worker identifier.
func (d *DNSRefresher) Name() string { return "dns_refresher" }

// Run refreshes the resolver cache every interval until ctx is
// cancelled. Unused entries are dropped on each pass.
func (d *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Resolver.Refresh(true)
		}
	}
}

// Sweeper is anything with stale-entry eviction, i.e. the per-IP
// limiter.
type Sweeper interface {
	Sweep() int
}

// LimiterSweeper evicts idle per-IP limiter entries.
type LimiterSweeper struct {
	Limiter  Sweeper
	Interval time.Duration
}

// Name returns the worker identifier.
func (s *LimiterSweeper) Name() string { return "limiter_sweeper" }

// Run sweeps the limiter every interval until ctx is cancelled.
func (s *LimiterSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Limiter.Sweep(); n > 0 {
				slog.Debug("limiter entries swept", "count", n)
			}
		}
	}
}
