// Package cache provides the descriptor cache: object ID to upstream
// descriptor, with a periodic full flush to bound staleness and memory.
package cache

import (
	"context"
	"fmt"

	"github.com/maypok86/otter/v2"

	gateway "github.com/nextpulse/streamgate/internal"
	"github.com/nextpulse/streamgate/internal/telemetry"
)

// Locator resolves an object ID to a descriptor on cache miss.
type Locator interface {
	Locate(ctx context.Context, objectID int64) (*gateway.ObjectDescriptor, error)
}

// Descriptors is an in-memory W-TinyLFU descriptor cache backed by
// otter. Values are immutable, so concurrent lookups for the same ID
// may race harmlessly; the last writer wins.
type Descriptors struct {
	cache   *otter.Cache[int64, *gateway.ObjectDescriptor]
	locator Locator
	metrics *telemetry.Metrics // nil = no metrics
}

// New creates a descriptor cache with the given max entry count.
func New(locator Locator, maxSize int, m *telemetry.Metrics) (*Descriptors, error) {
	c, err := otter.New[int64, *gateway.ObjectDescriptor](&otter.Options[int64, *gateway.ObjectDescriptor]{
		MaximumSize: maxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create descriptor cache: %w", err)
	}
	return &Descriptors{cache: c, locator: locator, metrics: m}, nil
}

// Locate returns the cached descriptor for objectID, consulting the
// upstream on miss. Missing objects yield gateway.ErrFileNotFound.
func (d *Descriptors) Locate(ctx context.Context, objectID int64) (*gateway.ObjectDescriptor, error) {
	if desc, ok := d.cache.GetIfPresent(objectID); ok {
		if d.metrics != nil {
			d.metrics.CacheHits.Inc()
		}
		return desc, nil
	}
	if d.metrics != nil {
		d.metrics.CacheMisses.Inc()
	}
	desc, err := d.locator.Locate(ctx, objectID)
	if err != nil {
		return nil, err
	}
	d.cache.Set(objectID, desc)
	return desc, nil
}

// Flush clears every cached descriptor. Called periodically by the
// flush worker; no LRU pressure is needed at this scale.
func (d *Descriptors) Flush() {
	d.cache.InvalidateAll()
}
