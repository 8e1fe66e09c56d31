// Package joblog provides a bounded, FIFO-eviction log buffer for a single
// job's output lines.
package joblog

import "sync"

const (
	// DefaultMaxLines is the default cap on the number of retained lines.
	DefaultMaxLines = 5000
	// DefaultMaxBytes is the default cap on the combined byte length of
	// retained lines (5 MiB).
	DefaultMaxBytes = 5 * 1024 * 1024
)

// RingLog is a mutex-guarded, append-only sequence of output lines capped by
// both line count and total byte length. On overflow of either cap, the
// oldest entries are evicted until both caps hold again.
type RingLog struct {
	maxLines int
	maxBytes int

	mu    sync.Mutex
	lines []string
	bytes int
}

// New returns a RingLog with the given caps. A non-positive cap falls back
// to the package default.
func New(maxLines, maxBytes int) *RingLog {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &RingLog{maxLines: maxLines, maxBytes: maxBytes}
}

// Push appends line, evicting the oldest lines first-in-first-out until both
// caps are satisfied. A single line longer than maxBytes is kept whole and
// never truncated; evicting every other line still leaves it in the buffer.
func (r *RingLog) Push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, line)
	r.bytes += len(line)

	for (len(r.lines) > r.maxLines || r.bytes > r.maxBytes) && len(r.lines) > 1 {
		r.bytes -= len(r.lines[0])
		r.lines = r.lines[1:]
	}
}

// Len returns the number of lines currently retained.
func (r *RingLog) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

// Bytes returns the combined byte length of lines currently retained.
func (r *RingLog) Bytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// GetLines returns a copy of all retained lines in insertion order, or (when
// lastN is non-nil) only the last *lastN of them.
func (r *RingLog) GetLines(lastN *int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lastN == nil || *lastN >= len(r.lines) {
		out := make([]string, len(r.lines))
		copy(out, r.lines)
		return out
	}

	n := *lastN
	if n < 0 {
		n = 0
	}
	start := len(r.lines) - n
	out := make([]string, n)
	copy(out, r.lines[start:])
	return out
}
