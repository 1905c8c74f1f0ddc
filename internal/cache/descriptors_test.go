package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	gateway "github.com/nextpulse/streamgate/internal"
)

// countingLocator counts upstream hits per object ID.
type countingLocator struct {
	mu    sync.Mutex
	calls map[int64]int
	descs map[int64]*gateway.ObjectDescriptor
}

func newCountingLocator(descs ...*gateway.ObjectDescriptor) *countingLocator {
	l := &countingLocator{calls: make(map[int64]int), descs: make(map[int64]*gateway.ObjectDescriptor)}
	for _, d := range descs {
		l.descs[d.ObjectID] = d
	}
	return l
}

func (l *countingLocator) Locate(_ context.Context, objectID int64) (*gateway.ObjectDescriptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[objectID]++
	desc, ok := l.descs[objectID]
	if !ok {
		return nil, gateway.ErrFileNotFound
	}
	return desc, nil
}

func TestLocateCachesHits(t *testing.T) {
	t.Parallel()
	desc := &gateway.ObjectDescriptor{ObjectID: 42, UniqueID: "abcdef99", FileSize: 10}
	locator := newCountingLocator(desc)
	cache, err := New(locator, 100, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for range 3 {
		got, err := cache.Locate(ctx, 42)
		if err != nil {
			t.Fatalf("Locate: %v", err)
		}
		if got != desc {
			t.Fatal("descriptor identity changed")
		}
	}
	if locator.calls[42] != 1 {
		t.Fatalf("upstream called %d times, want 1", locator.calls[42])
	}
}

func TestLocateNotFoundPassthrough(t *testing.T) {
	t.Parallel()
	cache, err := New(newCountingLocator(), 100, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := cache.Locate(context.Background(), 7); !errors.Is(err, gateway.ErrFileNotFound) {
		t.Fatalf("got %v, want ErrFileNotFound", err)
	}
}

func TestLocateErrorNotCached(t *testing.T) {
	t.Parallel()
	locator := newCountingLocator()
	cache, _ := New(locator, 100, nil)
	ctx := context.Background()

	cache.Locate(ctx, 7)
	cache.Locate(ctx, 7)
	if locator.calls[7] != 2 {
		t.Fatalf("upstream called %d times, want 2 (failures are not cached)", locator.calls[7])
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()
	desc := &gateway.ObjectDescriptor{ObjectID: 42, UniqueID: "abcdef99", FileSize: 10}
	locator := newCountingLocator(desc)
	cache, _ := New(locator, 100, nil)
	ctx := context.Background()

	cache.Locate(ctx, 42)
	cache.Flush()
	cache.Locate(ctx, 42)

	if locator.calls[42] != 2 {
		t.Fatalf("upstream called %d times after flush, want 2", locator.calls[42])
	}
}
