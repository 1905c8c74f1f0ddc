package pool

import (
	"context"
	"errors"
	"testing"

	gateway "github.com/nextpulse/streamgate/internal"
	"github.com/nextpulse/streamgate/internal/testutil"
	"github.com/nextpulse/streamgate/internal/upstream"
)

func newTestPool(n int) (*Pool, []*testutil.FakeUpstream) {
	fakes := make([]*testutil.FakeUpstream, n)
	clients := make([]upstream.Capability, n)
	for i := range fakes {
		fakes[i] = testutil.NewFakeUpstream(testutil.Descriptor(int64(i+1), 100), testutil.Body(100))
		clients[i] = fakes[i]
	}
	return New(clients...), fakes
}

func TestLeastPicksIdlest(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(3)

	p.Acquire(0)
	p.Acquire(0)
	p.Acquire(1)

	if got := p.Least(); got != 2 {
		t.Fatalf("Least() = %d, want 2", got)
	}
}

func TestLeastTieBreaksLowest(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(3)

	if got := p.Least(); got != 0 {
		t.Fatalf("Least() on idle pool = %d, want 0", got)
	}

	p.Acquire(0)
	p.Acquire(1)
	p.Acquire(2)
	if got := p.Least(); got != 0 {
		t.Fatalf("Least() on even load = %d, want 0", got)
	}
}

func TestAcquireReleaseCounters(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(2)

	p.Acquire(1)
	p.Acquire(1)
	p.Release(1)

	loads := p.Loads()
	if loads[0] != 0 || loads[1] != 1 {
		t.Fatalf("loads %v, want [0 1]", loads)
	}
}

func TestLocateUsesLeastBusy(t *testing.T) {
	t.Parallel()
	p, fakes := newTestPool(2)
	fakes[1].Objects[7] = testutil.Descriptor(7, 50)

	// Identity 0 is busy and does not hold object 7; success proves
	// the lookup landed on identity 1.
	p.Acquire(0)
	if _, err := p.Locate(context.Background(), 7); err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if _, err := p.Locate(context.Background(), 404); !errors.Is(err, gateway.ErrFileNotFound) {
		t.Fatalf("got %v, want ErrFileNotFound", err)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	p, fakes := newTestPool(2)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, f := range fakes {
		if !f.Closed {
			t.Fatalf("client %d not closed", i)
		}
	}
}
