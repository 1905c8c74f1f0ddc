// Package ratelimit implements the coarse per-IP throttle on the
// download API: a sliding window of recent requests with a minimum gap
// between successive calls from the same address.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the limiter parameters.
type Config struct {
	MaxConcurrent int           // max requests per IP inside the window
	Window        time.Duration // sliding window length
	MinGap        time.Duration // minimum gap between successive calls
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 2,
		Window:        60 * time.Second,
		MinGap:        5 * time.Second,
	}
}

// PerIP tracks request timestamps per source IP.
type PerIP struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string][]time.Time
	now     func() time.Time // swapped in tests
}

// New creates a PerIP limiter with the given config.
func New(cfg Config) *PerIP {
	return &PerIP{
		cfg:     cfg,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether a request from ip may proceed and records it if
// so. On rejection it returns a human-readable message naming the wait.
func (l *PerIP) Allow(ip string) (ok bool, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(ip, now)

	if n := len(recent); n > 0 {
		if since := now.Sub(recent[n-1]); since < l.cfg.MinGap {
			wait := (l.cfg.MinGap - since).Round(time.Second)
			if wait < time.Second {
				wait = time.Second
			}
			return false, fmt.Sprintf("Please wait %d seconds before next request", int(wait.Seconds()))
		}
	}

	if len(recent) >= l.cfg.MaxConcurrent {
		return false, "Too many active downloads. Please wait for current downloads to finish."
	}

	l.entries[ip] = append(recent, now)
	return true, ""
}

// Done removes the most recent request recorded for ip, freeing a slot
// before the window expires it.
func (l *PerIP) Done(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if recent := l.entries[ip]; len(recent) > 0 {
		l.entries[ip] = recent[:len(recent)-1]
	}
}

// Sweep drops IPs with no requests inside the window. Run periodically
// to cap memory.
func (l *PerIP) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	swept := 0
	for ip := range l.entries {
		if len(l.prune(ip, now)) == 0 {
			delete(l.entries, ip)
			swept++
		}
	}
	return swept
}

// prune drops entries older than the window and stores the remainder.
// Caller holds the lock.
func (l *PerIP) prune(ip string, now time.Time) []time.Time {
	recent := l.entries[ip][:0:0]
	for _, t := range l.entries[ip] {
		if now.Sub(t) < l.cfg.Window {
			recent = append(recent, t)
		}
	}
	if len(recent) > 0 {
		l.entries[ip] = recent
	}
	return recent
}
