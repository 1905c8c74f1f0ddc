// Package stream implements the byte-range streaming engine: it
// translates an HTTP range into a sequence of aligned chunk reads
// against the upstream store, trims head and tail, and recovers from
// transport failures and flood waits without breaking the response.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	gateway "github.com/nextpulse/streamgate/internal"
	"github.com/nextpulse/streamgate/internal/pool"
	"github.com/nextpulse/streamgate/internal/telemetry"
	"github.com/nextpulse/streamgate/internal/upstream"
)

const (
	// maxTransportRetries bounds session rebuilds per chunk fetch.
	maxTransportRetries = 5
	// pacingInterval spaces consecutive chunk fetches within one
	// stream to stay under the upstream flood detector.
	pacingInterval = 100 * time.Millisecond
)

// backoffUnit scales the exponential retry backoff; swapped in tests.
var backoffUnit = time.Second

// Align computes the chunk-aligned fetch plan for an inclusive byte
// range. offset is the aligned start, headTrim/tailTrim bound the first
// and last chunk, parts is the number of chunk fetches.
func Align(from, to int64) (offset, headTrim, tailTrim, parts int64) {
	cs := gateway.ChunkSize
	offset = from - from%cs
	headTrim = from - offset
	tailTrim = to%cs + 1
	parts = (to+cs)/cs - offset/cs // ceil((to+1)/cs) - floor(offset/cs)
	return offset, headTrim, tailTrim, parts
}

// Stream is one finite, non-restartable byte-range transfer. It borrows
// a pool identity for its lifetime; the in-flight counter is released
// exactly once on every exit path of Copy.
type Stream struct {
	pool     *pool.Pool
	identity int
	desc     *gateway.ObjectDescriptor

	offset   int64
	headTrim int64
	tailTrim int64
	parts    int64
	length   int64

	metrics *telemetry.Metrics // nil = no metrics
}

// New plans a stream of bytes [from, to] of desc through the given
// pool identity. The caller must have validated the range against the
// descriptor's file size.
func New(p *pool.Pool, identity int, desc *gateway.ObjectDescriptor, from, to int64, m *telemetry.Metrics) *Stream {
	offset, head, tail, parts := Align(from, to)
	return &Stream{
		pool:     p,
		identity: identity,
		desc:     desc,
		offset:   offset,
		headTrim: head,
		tailTrim: tail,
		parts:    parts,
		length:   to - from + 1,
		metrics:  m,
	}
}

// Length returns the exact number of body bytes Copy will deliver.
func (s *Stream) Length() int64 { return s.length }

// Parts returns the number of upstream chunk fetches planned.
func (s *Stream) Parts() int64 { return s.parts }

// Copy streams the planned range into dst, in strictly increasing
// offset order, one chunk in flight at a time. On any error the body is
// truncated at the bytes already written; errors after the first write
// cannot be turned into an HTTP status.
func (s *Stream) Copy(ctx context.Context, dst io.Writer) (written int64, err error) {
	s.pool.Acquire(s.identity)
	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
	}
	defer func() {
		s.pool.Release(s.identity)
		if s.metrics != nil {
			s.metrics.ActiveStreams.Dec()
		}
		if written != s.length {
			slog.Warn("incomplete stream",
				"object_id", s.desc.ObjectID,
				"written", written,
				"expected", s.length,
			)
		}
	}()

	client := s.pool.Client(s.identity)
	pacer := rate.NewLimiter(rate.Every(pacingInterval), 1)

	offset := s.offset
	for part := int64(1); part <= s.parts; part++ {
		// The first wait consumes the initial token immediately;
		// later waits space fetches by the pacing interval. Nothing
		// waits after the final part.
		if err := pacer.Wait(ctx); err != nil {
			return written, err
		}

		chunk, err := s.fetch(ctx, client, offset)
		if err != nil {
			return written, err
		}
		if len(chunk) == 0 {
			return written, fmt.Errorf("part %d/%d at offset %d: %w",
				part, s.parts, offset, gateway.ErrEmptyChunk)
		}

		piece := trim(chunk, part, s.parts, s.headTrim, s.tailTrim)
		n, err := dst.Write(piece)
		written += int64(n)
		if err != nil {
			// Client gone; nothing to salvage.
			return written, err
		}
		if s.metrics != nil {
			s.metrics.BytesStreamed.Add(float64(n))
		}
		offset += gateway.ChunkSize
	}
	return written, nil
}

// trim cuts the served window out of a raw chunk. Bounds are clamped so
// a short final chunk at EOF never panics.
func trim(chunk []byte, part, parts, headTrim, tailTrim int64) []byte {
	n := int64(len(chunk))
	head := min(headTrim, n)
	tail := min(tailTrim, n)
	switch {
	case parts == 1:
		return chunk[head:max(head, tail)]
	case part == 1:
		return chunk[head:]
	case part == parts:
		return chunk[:tail]
	default:
		return chunk
	}
}

// fetch reads one aligned chunk, honoring flood waits in place and
// rebuilding the session with exponential backoff on transport errors.
func (s *Stream) fetch(ctx context.Context, client upstream.Capability, offset int64) ([]byte, error) {
	attempts := 0
	for {
		sess, err := client.Session(ctx, s.desc.DCID)
		if err == nil {
			var chunk []byte
			chunk, err = sess.Read(ctx, s.desc, offset, gateway.ChunkSize)
			if err == nil {
				if s.metrics != nil {
					s.metrics.ChunkFetches.Inc()
				}
				return chunk, nil
			}
		}

		// Flood waits carry their own duration and do not burn a
		// retry or tear the session down.
		if wait, ok := gateway.AsFloodWait(err); ok {
			if s.metrics != nil {
				s.metrics.FloodWaits.Inc()
			}
			slog.Warn("upstream flood, sleeping",
				"wait", wait, "object_id", s.desc.ObjectID)
			if serr := sleepCtx(ctx, wait); serr != nil {
				return nil, serr
			}
			continue
		}

		if !errors.Is(err, gateway.ErrTransport) {
			return nil, err
		}

		attempts++
		if s.metrics != nil {
			s.metrics.UpstreamErrors.WithLabelValues("transport").Inc()
		}
		client.InvalidateSession(s.desc.DCID)
		if attempts > maxTransportRetries {
			return nil, fmt.Errorf("chunk at offset %d after %d attempts: %w", offset, attempts, err)
		}
		slog.Warn("transport error, rebuilding session",
			"error", err, "attempt", attempts, "dc", s.desc.DCID)
		if serr := sleepCtx(ctx, time.Duration(1<<attempts)*backoffUnit); serr != nil {
			return nil, serr
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, so backoff aborts
// promptly when the client disconnects.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
