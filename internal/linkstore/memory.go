package linkstore

import (
	"context"
	"sync"
	"time"

	gateway "github.com/nextpulse/streamgate/internal"
)

// Memory is the in-process fallback store, selected when no database
// DSN is configured.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*gateway.LinkRecord
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*gateway.LinkRecord)}
}

// Put mints a token and inserts the record.
func (m *Memory) Put(_ context.Context, rec Record) (string, error) {
	token := gateway.MintToken()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[token] = &gateway.LinkRecord{
		Token:        token,
		ObjectID:     rec.ObjectID,
		SourceChatID: rec.SourceChatID,
		Display:      rec.Display,
		DomainTag:    rec.DomainTag,
		ThumbnailURL: rec.ThumbnailURL,
		CreatedAt:    time.Now().UTC(),
	}
	return token, nil
}

// Get returns the record for token, honoring domain tag filtering.
func (m *Memory) Get(_ context.Context, token, requireDomain string) (*gateway.LinkRecord, error) {
	m.mu.RLock()
	rec, ok := m.records[token]
	m.mu.RUnlock()
	if !ok {
		return nil, gateway.ErrNotFound
	}
	if requireDomain != "" && rec.DomainTag != "" && rec.DomainTag != requireDomain {
		return nil, gateway.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Delete removes a record; deleting an absent token is not an error.
func (m *Memory) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.records, token)
	m.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }
