package linkstore

import (
	"context"
	"errors"
	"testing"

	gateway "github.com/nextpulse/streamgate/internal"
)

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	token, err := store.Put(ctx, Record{
		ObjectID:     42,
		SourceChatID: -100555,
		Display: gateway.Display{
			FileName: "clip.mp4",
			FileSize: 1024,
			MimeType: "video/mp4",
			Caption:  "hello",
		},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(token) != gateway.TokenLength {
		t.Fatalf("token %q has length %d, want %d", token, len(token), gateway.TokenLength)
	}

	rec, err := store.Get(ctx, token, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.ObjectID != 42 || rec.Display.FileName != "clip.mp4" || rec.SourceChatID != -100555 {
		t.Fatalf("record mismatch: %+v", rec)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}

	if err := store.Delete(ctx, token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, token, ""); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("after delete: %v, want ErrNotFound", err)
	}
	// Idempotent.
	if err := store.Delete(ctx, token); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestMemoryUnknownToken(t *testing.T) {
	t.Parallel()
	store := NewMemory()

	if _, err := store.Get(context.Background(), "nope", ""); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryTokenUniqueness(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	seen := make(map[string]bool)
	for range 200 {
		token, err := store.Put(ctx, Record{ObjectID: 1})
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}

func TestMemoryDomainTags(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	webToken, _ := store.Put(ctx, Record{ObjectID: 1, DomainTag: "web"})
	plainToken, _ := store.Put(ctx, Record{ObjectID: 2})

	// A web instance sees its own tokens and untagged ones.
	if _, err := store.Get(ctx, webToken, "web"); err != nil {
		t.Fatalf("web token on web domain: %v", err)
	}
	if _, err := store.Get(ctx, plainToken, "web"); err != nil {
		t.Fatalf("untagged token on web domain: %v", err)
	}

	// The other domain refuses the tagged token.
	if _, err := store.Get(ctx, webToken, "webx"); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("web token on webx domain: %v, want ErrNotFound", err)
	}

	// An untagged instance serves everything.
	if _, err := store.Get(ctx, webToken, ""); err != nil {
		t.Fatalf("web token with no domain filter: %v", err)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	token, _ := store.Put(ctx, Record{ObjectID: 1, Display: gateway.Display{FileName: "a"}})
	rec, _ := store.Get(ctx, token, "")
	rec.Display.FileName = "mutated"

	again, _ := store.Get(ctx, token, "")
	if again.Display.FileName != "a" {
		t.Fatal("Get must return a copy, not the stored record")
	}
}
