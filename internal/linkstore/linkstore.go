// Package linkstore persists the indirection from short public tokens
// to stored objects. Two backends exist: a durable SQLite store and an
// in-process map for development; they behave identically apart from
// durability.
package linkstore

import (
	"context"

	gateway "github.com/nextpulse/streamgate/internal"
)

// Record is the input to Put: everything about a link except the token
// and creation time, which the store assigns.
type Record struct {
	ObjectID     int64
	SourceChatID int64
	Display      gateway.Display
	DomainTag    string
	ThumbnailURL string
}

// Store manages link records. Tokens are globally unique and records
// are never modified after insert; there is no expiry.
type Store interface {
	// Put mints a fresh token and inserts the record exactly once.
	Put(ctx context.Context, rec Record) (token string, err error)

	// Get returns the record for token, or gateway.ErrNotFound. When
	// requireDomain is non-empty and the stored record carries a
	// different non-empty domain tag, the record is treated as not
	// found; this keeps two front domains' tokens independent over a
	// shared store.
	Get(ctx context.Context, token, requireDomain string) (*gateway.LinkRecord, error)

	// Delete removes a record. Unused in steady state; links are
	// permanent.
	Delete(ctx context.Context, token string) error

	Close() error
}
