package jobs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/neurobench/runtime/internal/cancel"
	"github.com/neurobench/runtime/internal/joblog"
)

// Record is a job's immutable identity plus its mutable log, status, and
// cancellation state. Records are created once by the Manager and mutated
// only by their owning worker and its Emitter.
type Record struct {
	ID        ID
	Kind      Kind
	StartedAt time.Time
	Cancel    cancel.Token

	terminalSent atomic.Bool
	seq          atomic.Uint64

	log *joblog.RingLog

	mu     sync.RWMutex
	status Status
}

// NewRecord allocates a Record for a freshly created job. maxLines/maxBytes
// of 0 select the Ring Log package defaults.
func NewRecord(kind Kind, maxLines, maxBytes int) *Record {
	return &Record{
		ID:        NewID(kind),
		Kind:      kind,
		StartedAt: time.Now(),
		Cancel:    cancel.New(),
		log:       joblog.New(maxLines, maxBytes),
	}
}

// ElapsedMs returns milliseconds since the record's StartedAt.
func (r *Record) ElapsedMs() int64 {
	return time.Since(r.StartedAt).Milliseconds()
}

// Status returns a copy of the job's current live status snapshot.
func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// setStatus overwrites the status snapshot. Only the owning Emitter calls
// this.
func (r *Record) setStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

// GetLines returns the job's retained log lines.
func (r *Record) GetLines(lastN *int) []string {
	return r.log.GetLines(lastN)
}

// pushLine appends a line to the job's Ring Log.
func (r *Record) pushLine(line string) {
	r.log.Push(line)
}

// nextSeq returns the next monotonic sequence number for this job's events,
// starting at 0.
func (r *Record) nextSeq() uint64 {
	return r.seq.Add(1) - 1
}

// tryClaimTerminal reports whether this call is the first to claim the
// terminal slot for this job. Only the first caller should emit a terminal
// event; every subsequent call (concurrent or not) must no-op.
func (r *Record) tryClaimTerminal() bool {
	return r.terminalSent.CompareAndSwap(false, true)
}
