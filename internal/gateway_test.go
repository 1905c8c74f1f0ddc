package gateway

import (
	"testing"
	"time"
)

func TestMintToken(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 100 {
		tok := MintToken()
		if len(tok) != TokenLength {
			t.Fatalf("token %q has length %d, want %d", tok, len(tok), TokenLength)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestDescriptorHash(t *testing.T) {
	t.Parallel()

	d := &ObjectDescriptor{UniqueID: "abcdef1234"}
	if got := d.Hash(); got != "abcdef" {
		t.Fatalf("Hash() = %q, want abcdef", got)
	}
	short := &ObjectDescriptor{UniqueID: "ab"}
	if got := short.Hash(); got != "ab" {
		t.Fatalf("short Hash() = %q, want ab", got)
	}
}

func TestHumanBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{3 * 1024 * 1024, "3.00 MiB"},
		{5 << 30, "5.00 GiB"},
	}
	for _, tt := range tests {
		if got := HumanBytes(tt.n); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestHumanDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{time.Minute + 2*time.Second, "1m 2s"},
		{3*time.Hour + 4*time.Minute, "3h 4m 0s"},
		{26*time.Hour + 5*time.Second, "1d 2h 0m 5s"},
	}
	for _, tt := range tests {
		if got := HumanDuration(tt.d); got != tt.want {
			t.Errorf("HumanDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFloodWaitError(t *testing.T) {
	t.Parallel()

	err := &FloodWaitError{Wait: 3 * time.Second}
	if wait, ok := AsFloodWait(err); !ok || wait != 3*time.Second {
		t.Fatalf("AsFloodWait = (%v, %v)", wait, ok)
	}
	if _, ok := AsFloodWait(ErrTransport); ok {
		t.Fatal("plain error mistaken for flood wait")
	}
}
