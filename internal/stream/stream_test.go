package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	gateway "github.com/nextpulse/streamgate/internal"
	"github.com/nextpulse/streamgate/internal/pool"
	"github.com/nextpulse/streamgate/internal/testutil"
	"github.com/nextpulse/streamgate/internal/upstream"
)

const mib = 1024 * 1024

func TestMain(m *testing.M) {
	backoffUnit = time.Millisecond
	os.Exit(m.Run())
}

func TestAlign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from, to int64
		offset   int64
		headTrim int64
		tailTrim int64
		parts    int64
	}{
		{"single byte at zero", 0, 0, 0, 0, 1, 1},
		{"whole first chunk", 0, mib - 1, 0, 0, mib, 1},
		{"aligned second chunk", mib, 2*mib - 1, mib, 0, mib, 1},
		{"straddling two chunks", 1000000, 2000000, 0, 1000000, 951425, 2},
		{"last byte of 3MiB", 3*mib - 1, 3*mib - 1, 2 * mib, mib - 1, mib, 1},
		{"full 3MiB object", 0, 3*mib - 1, 0, 0, mib, 3},
		{"one byte over boundary", mib - 1, mib, 0, mib - 1, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			offset, head, tail, parts := Align(tt.from, tt.to)
			if offset != tt.offset || head != tt.headTrim || tail != tt.tailTrim || parts != tt.parts {
				t.Fatalf("Align(%d, %d) = (%d, %d, %d, %d), want (%d, %d, %d, %d)",
					tt.from, tt.to, offset, head, tail, parts,
					tt.offset, tt.headTrim, tt.tailTrim, tt.parts)
			}
		})
	}
}

func TestAlignLengthMatchesRange(t *testing.T) {
	t.Parallel()

	// The trimmed parts must add up to exactly to-from+1 for any range.
	ranges := [][2]int64{
		{0, 0}, {0, 1}, {5, 5}, {0, mib}, {mib - 1, mib + 1},
		{1000000, 2000000}, {123, 3*mib - 1}, {2 * mib, 2*mib + 7},
	}
	for _, r := range ranges {
		from, to := r[0], r[1]
		offset, head, tail, parts := Align(from, to)
		var total int64
		if parts == 1 {
			total = tail - head
		} else {
			total = (mib - head) + (parts-2)*mib + tail
		}
		if want := to - from + 1; total != want {
			t.Errorf("range %d-%d: offset=%d parts=%d delivers %d bytes, want %d",
				from, to, offset, parts, total, want)
		}
	}
}

func newTestStream(t *testing.T, size, from, to int64) (*Stream, *testutil.FakeUpstream, *pool.Pool) {
	t.Helper()
	desc := testutil.Descriptor(42, size)
	fake := testutil.NewFakeUpstream(desc, testutil.Body(size))
	p := pool.New(fake)
	return New(p, 0, desc, from, to, nil), fake, p
}

func TestCopyByteIdentity(t *testing.T) {
	t.Parallel()

	size := int64(3 * mib)
	body := testutil.Body(size)

	ranges := [][2]int64{
		{0, size - 1},
		{0, 0},
		{size - 1, size - 1},
		{mib, 2*mib - 1},
		{1000000, 2000000},
	}
	for _, r := range ranges {
		from, to := r[0], r[1]
		t.Run(fmt.Sprintf("%d-%d", from, to), func(t *testing.T) {
			t.Parallel()
			st, _, _ := newTestStream(t, size, from, to)

			var buf bytes.Buffer
			n, err := st.Copy(context.Background(), &buf)
			if err != nil {
				t.Fatalf("Copy: %v", err)
			}
			if n != to-from+1 {
				t.Fatalf("wrote %d bytes, want %d", n, to-from+1)
			}
			if !bytes.Equal(buf.Bytes(), body[from:to+1]) {
				t.Fatal("body mismatch against source slice")
			}
		})
	}
}

func TestCopyStraddlingReads(t *testing.T) {
	t.Parallel()

	st, fake, _ := newTestStream(t, 3*mib, 1000000, 2000000)
	var buf bytes.Buffer
	if _, err := st.Copy(context.Background(), &buf); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if len(fake.ReadCalls) != 2 {
		t.Fatalf("got %d reads, want 2", len(fake.ReadCalls))
	}
	if fake.ReadCalls[0].Offset != 0 || fake.ReadCalls[1].Offset != mib {
		t.Fatalf("read offsets %d, %d, want 0, %d",
			fake.ReadCalls[0].Offset, fake.ReadCalls[1].Offset, int64(mib))
	}
}

func TestCopyFloodWaitResumes(t *testing.T) {
	t.Parallel()

	st, fake, _ := newTestStream(t, 2*mib, 0, 2*mib-1)
	fake.ReadErrs = []error{&gateway.FloodWaitError{Wait: time.Millisecond}}

	var buf bytes.Buffer
	n, err := st.Copy(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != 2*mib {
		t.Fatalf("wrote %d bytes, want %d", n, 2*mib)
	}
	// The flooded read is retried at the same offset.
	if len(fake.ReadCalls) != 3 {
		t.Fatalf("got %d reads, want 3", len(fake.ReadCalls))
	}
	if fake.ReadCalls[0].Offset != fake.ReadCalls[1].Offset {
		t.Fatal("flood retry moved to a different offset")
	}
	if fake.Invalidated != 0 {
		t.Fatal("flood wait must not tear down the session")
	}
}

func TestCopyTransportRetryRebuildsSession(t *testing.T) {
	t.Parallel()

	st, fake, _ := newTestStream(t, mib, 0, mib-1)
	fake.ReadErrs = []error{
		fmt.Errorf("read chunk: %w", gateway.ErrTransport),
		fmt.Errorf("read chunk: %w", gateway.ErrTransport),
	}

	var buf bytes.Buffer
	if _, err := st.Copy(context.Background(), &buf); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if fake.Invalidated != 2 {
		t.Fatalf("invalidated %d sessions, want 2", fake.Invalidated)
	}
}

func TestCopyTransportRetriesExhausted(t *testing.T) {
	t.Parallel()

	st, fake, _ := newTestStream(t, mib, 0, mib-1)
	for range maxTransportRetries + 1 {
		fake.ReadErrs = append(fake.ReadErrs, fmt.Errorf("read chunk: %w", gateway.ErrTransport))
	}

	var buf bytes.Buffer
	_, err := st.Copy(context.Background(), &buf)
	if !errors.Is(err, gateway.ErrTransport) {
		t.Fatalf("got %v, want ErrTransport", err)
	}
}

func TestCopyEmptyChunkMidStream(t *testing.T) {
	t.Parallel()

	// Claim 2 MiB but store only 1 MiB; the second read comes back empty.
	desc := testutil.Descriptor(42, 2*mib)
	fake := testutil.NewFakeUpstream(desc, testutil.Body(mib))
	p := pool.New(fake)
	st := New(p, 0, desc, 0, 2*mib-1, nil)

	var buf bytes.Buffer
	n, err := st.Copy(context.Background(), &buf)
	if !errors.Is(err, gateway.ErrEmptyChunk) {
		t.Fatalf("got %v, want ErrEmptyChunk", err)
	}
	if n != mib {
		t.Fatalf("wrote %d bytes before the failure, want %d", n, mib)
	}
}

func TestCopyReleasesCounter(t *testing.T) {
	t.Parallel()

	cases := map[string][]error{
		"success":   nil,
		"transport": repeatErr(fmt.Errorf("x: %w", gateway.ErrTransport), maxTransportRetries+1),
		"fatal":     {errors.New("boom")},
	}
	for name, readErrs := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st, fake, p := newTestStream(t, mib, 0, mib-1)
			fake.ReadErrs = readErrs

			var buf bytes.Buffer
			st.Copy(context.Background(), &buf)
			if loads := p.Loads(); loads[0] != 0 {
				t.Fatalf("in-flight counter %d after Copy, want 0", loads[0])
			}
		})
	}
}

func TestCopyContextCancelled(t *testing.T) {
	t.Parallel()

	st, _, p := newTestStream(t, 3*mib, 0, 3*mib-1)
	ctx, cancel := context.WithCancel(context.Background())

	var got int
	w := writerFunc(func(b []byte) (int, error) {
		got += len(b)
		cancel()
		return len(b), nil
	})
	_, err := st.Copy(ctx, w)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if loads := p.Loads(); loads[0] != 0 {
		t.Fatalf("in-flight counter %d after cancel, want 0", loads[0])
	}
}

func repeatErr(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }

var _ upstream.Capability = (*testutil.FakeUpstream)(nil)
