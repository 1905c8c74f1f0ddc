// Package gateway defines domain types and interfaces for the Streamgate
// media gateway. This package has no project imports -- it is the
// dependency root.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"
)

// ChunkSize is the fixed upstream read unit. Every read issued against
// the upstream store is aligned to and bounded by this size.
const ChunkSize int64 = 1024 * 1024

// MaxStreamSize is the largest object the gateway will stream.
const MaxStreamSize int64 = 1 << 30

// HashLength is the number of leading characters of an object's unique
// ID that authorize a link. 36 bits of entropy: tamper deterrence, not
// a security boundary.
const HashLength = 6

// LocationKind selects which upstream read variant a descriptor uses.
type LocationKind int

const (
	KindDocument LocationKind = iota
	KindPhoto
	KindChatPhoto
)

// String returns the wire name of the location kind.
func (k LocationKind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindChatPhoto:
		return "chat_photo"
	default:
		return "document"
	}
}

// LocationKey is the opaque bag of fields the upstream store needs to
// address an object's bytes. Which fields are meaningful depends on the
// location kind.
type LocationKey struct {
	MediaID        int64  `json:"media_id,omitempty"`
	AccessHash     int64  `json:"access_hash,omitempty"`
	FileReference  []byte `json:"file_reference,omitempty"`
	ThumbSize      string `json:"thumb_size,omitempty"`
	ChatID         int64  `json:"chat_id,omitempty"`
	ChatAccessHash int64  `json:"chat_access_hash,omitempty"`
	VolumeID       int64  `json:"volume_id,omitempty"`
	LocalID        int    `json:"local_id,omitempty"`
	Big            bool   `json:"big,omitempty"`
}

// ObjectDescriptor is an immutable snapshot of everything needed to
// read one stored object: shard, size, identity, and the location bag
// for the upstream read call. Never mutated after construction.
type ObjectDescriptor struct {
	ObjectID int64
	DCID     int
	UniqueID string // >= HashLength chars
	FileSize int64
	MimeType string // may be empty
	FileName string // may be empty
	Kind     LocationKind
	Location LocationKey
}

// Hash returns the link-authorization hash for the descriptor: the
// first HashLength characters of the unique ID.
func (d *ObjectDescriptor) Hash() string {
	if len(d.UniqueID) < HashLength {
		return d.UniqueID
	}
	return d.UniqueID[:HashLength]
}

// Display is the presentation metadata carried by a link record.
type Display struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// LinkRecord is the indirection from a short public token to a stored
// object. Records are never modified after insert and never expire.
type LinkRecord struct {
	Token        string    `json:"token"`
	ObjectID     int64     `json:"object_id"`
	SourceChatID int64     `json:"source_chat_id"`
	Display      Display   `json:"display"`
	DomainTag    string    `json:"domain_tag,omitempty"` // "web" / "webx" / ""
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// StreamRequest is the per-hit view of one byte-range request.
// Invariant: 0 <= From <= To < FileSize.
type StreamRequest struct {
	ObjectID     int64
	ProvidedHash string
	From         int64
	To           int64 // inclusive
	IsDownload   bool
}

// TokenLength is the length of a minted link token: 16 random bytes in
// unpadded URL-safe base64.
const TokenLength = 22

// MintToken returns a fresh 128-bit URL-safe link token.
func MintToken() string {
	var b [16]byte
	rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
