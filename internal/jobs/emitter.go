package jobs

import (
	"encoding/json"
	"time"
)

// Sink receives every event emitted for a job, in seq order. Sink
// implementations must not block for long: the Emitter calls it inline on
// whichever goroutine produced the event.
type Sink func(Event)

// Emitter is the single producer of externally visible events for one job.
// It stamps monotonic seq numbers, updates the job's live status, and
// enforces the exactly-one-terminal invariant. A job's worker owns exactly
// one Emitter.
type Emitter struct {
	record *Record
	sink   Sink
}

// NewEmitter binds an Emitter to a job record and a sink function.
func NewEmitter(record *Record, sink Sink) *Emitter {
	return &Emitter{record: record, sink: sink}
}

func (e *Emitter) header() EventHeader {
	return EventHeader{
		ProtocolVersion: ProtocolVersion,
		JobID:           e.record.ID,
		Seq:             e.record.nextSeq(),
		TimestampMs:     time.Since(e.record.StartedAt).Milliseconds(),
	}
}

// terminalAlreadySent reports whether this Emitter has already emitted a
// terminal event, without claiming anything.
func (e *Emitter) terminalAlreadySent() bool {
	return e.record.terminalSent.Load()
}

func (e *Emitter) emit(suffix string, payload any) {
	if e.terminalAlreadySent() {
		return
	}
	e.sink(Event{
		Name:    e.record.Kind.EventPrefix() + ":" + suffix,
		Payload: payload,
	})
}

// logPayload is the payload of a "{prefix}:output" event.
type logPayload struct {
	EventHeader
	Line string `json:"line"`
}

// EmitLog appends line to the job's Ring Log and emits an "output" event
// carrying it.
func (e *Emitter) EmitLog(line string) {
	if e.terminalAlreadySent() {
		return
	}
	e.record.pushLine(line)
	e.emit("output", logPayload{EventHeader: e.header(), Line: line})
}

// progressPayload is the payload of a "{prefix}:progress" event.
type progressPayload struct {
	EventHeader
	Phase   string  `json:"phase"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// EmitProgress overwrites the job's live {phase,percent,message} and emits
// a "progress" event with the new values.
func (e *Emitter) EmitProgress(phase string, percent float64, message string) {
	if e.terminalAlreadySent() {
		return
	}

	p := percent
	e.record.setStatus(Status{Phase: phase, Percent: &p, Message: message})

	e.emit("progress", progressPayload{
		EventHeader: e.header(),
		Phase:       phase,
		Percent:     percent,
		Message:     message,
	})
}

// terminalPayload is the payload of a "{prefix}:{completed|cancelled|
// internal_error}" event. Extra carries domain-specific fields (e.g.
// bytes_written for flash, total_messages for rtt) flattened alongside the
// terminal's own fields.
type terminalPayload struct {
	EventHeader
	Terminal
	Extra map[string]any `json:"-"`
}

// MarshalJSON flattens the header, whichever terminal variant is set, and
// Extra into one JSON object, so e.g. a flash completion reads
// {"protocol_version":1,...,"success":true,"bytes_written":1024,...}
// rather than nesting the domain-specific fields under their own key.
func (p terminalPayload) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"protocol_version": p.ProtocolVersion,
		"job_id":           p.JobID,
		"seq":              p.Seq,
		"timestamp_ms":     p.TimestampMs,
	}

	switch {
	case p.Completed != nil:
		out["success"] = p.Completed.Success
		if p.Completed.ExitCode != nil {
			out["exit_code"] = *p.Completed.ExitCode
		}
		out["duration_ms"] = p.Completed.DurationMs
	case p.Cancelled != nil:
		out["reason"] = p.Cancelled.Reason
	case p.InternalError != nil:
		out["error_code"] = p.InternalError.ErrorCode
		out["message"] = p.InternalError.Message
		out["retryable"] = p.InternalError.Retryable
		if p.InternalError.Details != nil {
			out["details"] = p.InternalError.Details
		}
		if p.InternalError.OSErrorCode != nil {
			out["os_error_code"] = *p.InternalError.OSErrorCode
		}
	}

	for k, v := range p.Extra {
		out[k] = v
	}

	return json.Marshal(out)
}

// EmitTerminal attempts to emit term as this job's terminal event. Only the
// first call across however many goroutines race to call it wins; every
// other call, including further calls with a different terminal, is a
// no-op. extra may be nil; its entries are merged into the emitted JSON
// object (via MarshalJSON) alongside the terminal's own fields.
func (e *Emitter) EmitTerminal(term Terminal, extra map[string]any) {
	if !e.record.tryClaimTerminal() {
		return
	}

	e.record.setStatus(Status{Terminal: &term})

	e.sink(Event{
		Name: e.record.Kind.EventPrefix() + ":" + term.Suffix(),
		Payload: terminalPayload{
			EventHeader: e.header(),
			Terminal:    term,
			Extra:       extra,
		},
	})
}

// customPayload is the payload of a domain-specific "{prefix}:{suffix}"
// event, e.g. "rtt:message" or "build:diagnostic".
type customPayload struct {
	Header  EventHeader `json:"header"`
	Payload any         `json:"payload"`
}

// EmitCustom wraps payload with the event header under the "header" key
// and emits it as "{prefix}:{suffix}".
func (e *Emitter) EmitCustom(suffix string, payload any) {
	if e.terminalAlreadySent() {
		return
	}
	e.emit(suffix, customPayload{Header: e.header(), Payload: payload})
}
