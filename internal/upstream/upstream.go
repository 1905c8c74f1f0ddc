// Package upstream defines the contract the streaming engine holds
// against the message-store backend: descriptor lookup, chunked reads
// through per-data-center sessions, and copy-to-archive.
package upstream

import (
	"context"

	gateway "github.com/nextpulse/streamgate/internal"
)

// Session is an authorized connection to one data center. Sessions are
// created lazily, reused across streams, and owned by their Capability.
type Session interface {
	// Read returns up to limit bytes of the object starting at offset.
	// offset must be aligned to gateway.ChunkSize and limit must not
	// exceed it. Fewer bytes may be returned at EOF.
	Read(ctx context.Context, desc *gateway.ObjectDescriptor, offset, limit int64) ([]byte, error)
}

// Capability is one upstream client identity. The gateway holds a pool
// of these for load balancing; each maintains its own session table
// keyed by data center.
type Capability interface {
	// Locate resolves an object ID in the archive channel to a
	// descriptor. Missing objects yield gateway.ErrFileNotFound.
	Locate(ctx context.Context, objectID int64) (*gateway.ObjectDescriptor, error)

	// Session returns the cached session for dc, creating and
	// authorizing one if needed. Cross-DC creation performs the
	// export/import handshake; repeated rejection of the imported
	// bytes yields gateway.ErrAuthInvalid.
	Session(ctx context.Context, dc int) (Session, error)

	// InvalidateSession tears down the session for dc so the next
	// Session call rebuilds it. Safe to call when none exists.
	InvalidateSession(dc int)

	// CopyToArchive copies a source message into the archive channel
	// and returns the copy's descriptor. The caption is truncated to
	// 1024 characters.
	CopyToArchive(ctx context.Context, sourceChatID, messageID int64, caption string) (*gateway.ObjectDescriptor, error)

	// Close releases all sessions.
	Close() error
}
