package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the gateway domain.
var (
	ErrNotFound     = errors.New("not found")            // unknown token
	ErrFileNotFound = errors.New("file not found")       // object missing upstream
	ErrInvalidHash  = errors.New("invalid hash")         // link hash mismatch
	ErrBadRange     = errors.New("range not satisfiable")
	ErrRateLimited  = errors.New("rate limited")
	ErrTooLarge     = errors.New("file too large to stream")
	ErrAuthInvalid  = errors.New("authorization invalid")
	ErrTransport    = errors.New("transport error")
	ErrEmptyChunk   = errors.New("empty chunk mid-stream")
)

// FloodWaitError is returned when the upstream store imposes a backoff.
// The caller must wait at least Wait before retrying the same call.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("upstream flood: wait %s", e.Wait)
}

// AsFloodWait returns the flood-wait duration carried by err, if any.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}
