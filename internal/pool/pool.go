// Package pool holds the upstream identity pool and its load balancer.
// Each new stream is assigned the identity with the fewest in-flight
// streams; counters are maintained atomically by the stream lifecycle.
package pool

import (
	"context"
	"sync/atomic"

	gateway "github.com/nextpulse/streamgate/internal"
	"github.com/nextpulse/streamgate/internal/upstream"
)

// Pool is a fixed set of upstream client identities with per-identity
// in-flight stream counters.
type Pool struct {
	clients  []upstream.Capability
	inflight []atomic.Int64
}

// New creates a Pool over the given clients. At least one is required.
func New(clients ...upstream.Capability) *Pool {
	return &Pool{
		clients:  clients,
		inflight: make([]atomic.Int64, len(clients)),
	}
}

// Size returns the number of identities in the pool.
func (p *Pool) Size() int { return len(p.clients) }

// Client returns the identity at index i.
func (p *Pool) Client(i int) upstream.Capability { return p.clients[i] }

// Least returns the index of the identity with the fewest in-flight
// streams. Ties break to the lowest index.
func (p *Pool) Least() int {
	best := 0
	bestLoad := p.inflight[0].Load()
	for i := 1; i < len(p.inflight); i++ {
		if load := p.inflight[i].Load(); load < bestLoad {
			best, bestLoad = i, load
		}
	}
	return best
}

// Acquire increments the in-flight counter for identity i.
func (p *Pool) Acquire(i int) { p.inflight[i].Add(1) }

// Release decrements the in-flight counter for identity i.
func (p *Pool) Release(i int) { p.inflight[i].Add(-1) }

// Loads returns a snapshot of the in-flight counters.
func (p *Pool) Loads() []int64 {
	loads := make([]int64, len(p.inflight))
	for i := range p.inflight {
		loads[i] = p.inflight[i].Load()
	}
	return loads
}

// Locate resolves an object descriptor through the least-busy identity.
// It satisfies the descriptor cache's Locator dependency.
func (p *Pool) Locate(ctx context.Context, objectID int64) (*gateway.ObjectDescriptor, error) {
	return p.clients[p.Least()].Locate(ctx, objectID)
}

// Close closes every identity client.
func (p *Pool) Close() error {
	var first error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
