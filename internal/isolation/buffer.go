package isolation

import (
	"bytes"
	"sync"
)

const (
	// DefaultMaxOutputBytes caps stdout/stderr to prevent memory exhaustion.
	DefaultMaxOutputBytes = 64 * 1024

	// TruncatedNotice is appended when output exceeds the limit.
	TruncatedNotice = "\n... output truncated ..."
)

// LimitedBuffer is a bytes.Buffer that stops accepting writes after a limit.
// Writes past the limit are discarded but reported as successful so the
// producer never blocks or fails.
type LimitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

// NewLimitedBuffer returns a buffer capped at limit bytes (DefaultMaxOutputBytes if <= 0).
func NewLimitedBuffer(limit int) *LimitedBuffer {
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	return &LimitedBuffer{limit: limit}
}

func (lb *LimitedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	n := len(p)
	if lb.truncated {
		return n, nil
	}

	remaining := lb.limit - lb.buf.Len()
	if remaining <= 0 {
		lb.truncated = true
		return n, nil
	}
	if len(p) > remaining {
		lb.truncated = true
		p = p[:remaining]
	}
	lb.buf.Write(p)
	return n, nil
}

// String returns the captured bytes.
func (lb *LimitedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// Truncated reports whether any write was cut.
func (lb *LimitedBuffer) Truncated() bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.truncated
}

// WithNotice returns the captured text, marking truncation if it happened.
func (lb *LimitedBuffer) WithNotice() string {
	if lb.Truncated() {
		return lb.String() + TruncatedNotice
	}
	return lb.String()
}
