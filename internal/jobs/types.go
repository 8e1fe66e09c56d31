// Package jobs implements the Job Runtime: job identity and records, the
// per-job event Emitter, the device mutual-exclusion lock, and the Job
// Manager registry that ties them together.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ID is an opaque job identifier, unique per process lifetime, of the form
// "{kind_prefix}_{short-random}".
type ID string

// Kind is one of the job kinds the runtime coordinates.
type Kind string

const (
	KindBuild Kind = "build"
	KindFlash Kind = "flash"
	KindRTT   Kind = "rtt"
	KindAgent Kind = "agent"
	KindIndex Kind = "index"
)

// RequiresDevice reports whether jobs of this kind must hold the device
// lock (the {probe, target} resource) while running.
func (k Kind) RequiresDevice() bool {
	return k == KindFlash || k == KindRTT
}

// EventPrefix is the namespace used when naming this kind's emitted events,
// e.g. "flash:progress".
func (k Kind) EventPrefix() string {
	return string(k)
}

// NewID allocates a fresh ID for a job of the given kind.
func NewID(kind Kind) ID {
	return ID(fmt.Sprintf("%s_%s", kind.EventPrefix(), uuid.NewString()[:8]))
}

// ProtocolVersion is the event envelope's protocol_version field.
const ProtocolVersion = 1

// EventHeader is embedded in every event payload.
type EventHeader struct {
	ProtocolVersion int    `json:"protocol_version"`
	JobID           ID     `json:"job_id"`
	Seq             uint64 `json:"seq"`
	TimestampMs     int64  `json:"timestamp_ms"`
}

// Event is a fully addressed, ready-to-sink event: a name of the form
// "{prefix}:{suffix}" plus a payload that embeds an EventHeader under the
// "header" key (or at top level, for Log/Progress/Terminal payloads — see
// the concrete payload types in emitter.go).
type Event struct {
	Name    string
	Payload any
}

// HeaderOf extracts the EventHeader embedded in e's payload, regardless of
// which payload shape produced it: top-level for Log/Progress/Terminal
// payloads, nested under a "header" key for EmitCustom payloads. Hosts that
// fan a shared Sink out to multiple jobs (e.g. an HTTP server routing
// events by job id) use this instead of depending on emitter.go's
// unexported payload types.
func HeaderOf(e Event) (EventHeader, bool) {
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return EventHeader{}, false
	}

	var shape struct {
		EventHeader
		Header *EventHeader `json:"header"`
	}
	if err := json.Unmarshal(b, &shape); err != nil {
		return EventHeader{}, false
	}

	if shape.Header != nil {
		return *shape.Header, true
	}
	if shape.JobID != "" {
		return shape.EventHeader, true
	}
	return EventHeader{}, false
}

// CancelReason names why a job was cancelled.
type CancelReason string

const (
	CancelUserRequest CancelReason = "user_request"
	CancelSuperseded  CancelReason = "superseded"
	CancelShutdown    CancelReason = "shutdown"
	CancelTimeout     CancelReason = "timeout"
)

// InternalErrorCode is the closed set of machine-readable internal error
// codes a job's terminal InternalError may carry.
type InternalErrorCode string

const (
	ErrSpawnFailed         InternalErrorCode = "SPAWN_FAILED"
	ErrWorkdirMissing      InternalErrorCode = "WORKDIR_MISSING"
	ErrPermissionDenied    InternalErrorCode = "PERMISSION_DENIED"
	ErrToolchainNotFound   InternalErrorCode = "TOOLCHAIN_NOT_FOUND"
	ErrProbeNotFound       InternalErrorCode = "PROBE_NOT_FOUND"
	ErrProbeConnectionFail InternalErrorCode = "PROBE_CONNECTION_FAILED"
	ErrFlashFailed         InternalErrorCode = "FLASH_FAILED"
	ErrRttStartFailed      InternalErrorCode = "RTT_START_FAILED"
	ErrIOError             InternalErrorCode = "IO_ERROR"
	ErrUnknown             InternalErrorCode = "UNKNOWN"
)

// Completed is the terminal outcome of a job that ran to completion,
// successfully or not.
type Completed struct {
	Success    bool  `json:"success"`
	ExitCode   *int  `json:"exit_code,omitempty"`
	DurationMs int64 `json:"duration_ms"`
}

// Cancelled is the terminal outcome of a job that was cancelled before it
// ran to completion.
type Cancelled struct {
	Reason CancelReason `json:"reason"`
}

// InternalError is the terminal outcome of a job that failed for an
// internal, non-cancellation reason.
type InternalError struct {
	ErrorCode   InternalErrorCode `json:"error_code"`
	Message     string            `json:"message"`
	Retryable   bool              `json:"retryable"`
	Details     any               `json:"details,omitempty"`
	OSErrorCode *int              `json:"os_error_code,omitempty"`
}

// Terminal is the closed set of terminal outcomes; exactly one kind is
// populated per job.
type Terminal struct {
	Completed     *Completed
	Cancelled     *Cancelled
	InternalError *InternalError
}

// Suffix returns the event suffix this terminal corresponds to:
// "completed", "cancelled", or "internal_error".
func (t Terminal) Suffix() string {
	switch {
	case t.Completed != nil:
		return "completed"
	case t.Cancelled != nil:
		return "cancelled"
	case t.InternalError != nil:
		return "internal_error"
	default:
		return ""
	}
}

// Status is a job's live, read-only snapshot.
type Status struct {
	Phase    string    `json:"phase,omitempty"`
	Percent  *float64  `json:"percent,omitempty"`
	Message  string    `json:"message,omitempty"`
	Terminal *Terminal `json:"terminal,omitempty"`
}

// Info is a summary row returned by Manager.List.
type Info struct {
	ID        ID     `json:"id"`
	Kind      Kind   `json:"kind"`
	StartedAt int64  `json:"started_at_ms"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Status    Status `json:"status"`
}

// DeviceStatus is a read-only snapshot of the device lock and live
// device-touching jobs.
type DeviceStatus struct {
	DeviceLocked    bool   `json:"device_locked"`
	LockHolderID    ID     `json:"lock_holder_id,omitempty"`
	RTTActive       bool   `json:"rtt_active"`
	ActiveRTTID     ID     `json:"active_rtt_id,omitempty"`
	ActiveFlashID   ID     `json:"active_flash_id,omitempty"`
	ActiveJobsCount int    `json:"active_jobs_count"`
}
