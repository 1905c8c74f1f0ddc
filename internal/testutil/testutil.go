// Package testutil holds hand-written fakes shared by the package
// tests: an in-memory upstream backend with scriptable failures.
package testutil

import (
	"context"
	"fmt"
	"sync"

	gateway "github.com/nextpulse/streamgate/internal"
	"github.com/nextpulse/streamgate/internal/upstream"
)

// FakeUpstream implements upstream.Capability over in-memory objects.
// Failures are injected per read call through ReadErrs; each entry is
// consumed by one Read in order, with nil meaning success.
type FakeUpstream struct {
	mu sync.Mutex

	Objects map[int64]*gateway.ObjectDescriptor
	Data    map[int64][]byte

	// ReadErrs is a queue of errors returned by successive Read calls.
	// A nil entry lets that call through. Once drained, reads succeed.
	ReadErrs []error

	// SessionErr fails every Session call when set.
	SessionErr error

	// CopyErrs is the same queue mechanism for CopyToArchive.
	CopyErrs []error
	// CopyResult is returned by a successful CopyToArchive.
	CopyResult *gateway.ObjectDescriptor

	ReadCalls    []ReadCall
	SessionCalls int
	Invalidated  int
	CopyCalls    int
	Closed       bool
}

// ReadCall records one Read invocation.
type ReadCall struct {
	ObjectID int64
	Offset   int64
	Limit    int64
}

// NewFakeUpstream creates a fake holding a single object with the given
// body.
func NewFakeUpstream(desc *gateway.ObjectDescriptor, body []byte) *FakeUpstream {
	return &FakeUpstream{
		Objects: map[int64]*gateway.ObjectDescriptor{desc.ObjectID: desc},
		Data:    map[int64][]byte{desc.ObjectID: body},
	}
}

// Descriptor returns a document descriptor for a body of the given
// size, with a deterministic unique ID.
func Descriptor(objectID int64, size int64) *gateway.ObjectDescriptor {
	return &gateway.ObjectDescriptor{
		ObjectID: objectID,
		DCID:     2,
		UniqueID: fmt.Sprintf("UQ%06d", objectID),
		FileSize: size,
		MimeType: "video/mp4",
		FileName: fmt.Sprintf("clip-%d.mp4", objectID),
		Kind:     gateway.KindDocument,
	}
}

// Body returns size bytes with a position-dependent pattern, so any
// misaligned slice shows up as a content mismatch.
func Body(size int64) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func (f *FakeUpstream) Locate(_ context.Context, objectID int64) (*gateway.ObjectDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	desc, ok := f.Objects[objectID]
	if !ok {
		return nil, gateway.ErrFileNotFound
	}
	return desc, nil
}

func (f *FakeUpstream) Session(_ context.Context, dc int) (upstream.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SessionCalls++
	if f.SessionErr != nil {
		return nil, f.SessionErr
	}
	return &fakeSession{f: f}, nil
}

func (f *FakeUpstream) InvalidateSession(int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Invalidated++
}

func (f *FakeUpstream) CopyToArchive(_ context.Context, _, _ int64, _ string) (*gateway.ObjectDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CopyCalls++
	if len(f.CopyErrs) > 0 {
		err := f.CopyErrs[0]
		f.CopyErrs = f.CopyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.CopyResult, nil
}

func (f *FakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

type fakeSession struct {
	f *FakeUpstream
}

func (s *fakeSession) Read(_ context.Context, desc *gateway.ObjectDescriptor, offset, limit int64) ([]byte, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.ReadCalls = append(s.f.ReadCalls, ReadCall{ObjectID: desc.ObjectID, Offset: offset, Limit: limit})
	if len(s.f.ReadErrs) > 0 {
		err := s.f.ReadErrs[0]
		s.f.ReadErrs = s.f.ReadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	body, ok := s.f.Data[desc.ObjectID]
	if !ok {
		return nil, gateway.ErrFileNotFound
	}
	if offset >= int64(len(body)) {
		return nil, nil
	}
	end := min(offset+limit, int64(len(body)))
	chunk := make([]byte, end-offset)
	copy(chunk, body[offset:end])
	return chunk, nil
}
