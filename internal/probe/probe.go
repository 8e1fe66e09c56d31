// Package probe defines the debug-probe backend abstraction the Flash and
// RTT job runners drive, plus a deterministic mock implementation used by
// default and for tests.
package probe

import (
	"context"
	"time"

	"github.com/neurobench/runtime/internal/cancel"
)

// FlashConfig describes a single flash operation.
type FlashConfig struct {
	ElfPath     string
	Verify      bool
	Chip        string
	SpeedKHz    int
	ProbeSerial string // optional; pins a specific attached probe
}

// FlashResult is returned by a successful Flash call.
type FlashResult struct {
	BytesWritten int64
	Verified     bool
	ChipResolved string
}

// FlashErrorCode is the closed set of domain-specific flash failure codes
// a Backend.Flash may return, before the Flash Job Runner maps it onto the
// shared jobs.InternalErrorCode taxonomy.
type FlashErrorCode string

const (
	FlashNoProbeFound    FlashErrorCode = "NoProbeFound"
	FlashProbeOpenFailed FlashErrorCode = "ProbeOpenFailed"
	FlashAttachFailed    FlashErrorCode = "AttachFailed"
	FlashTargetNotFound  FlashErrorCode = "TargetNotFound"
	FlashFailed          FlashErrorCode = "FlashFailed"
	FlashVerifyFailed    FlashErrorCode = "VerifyFailed"
	FlashElfNotFound     FlashErrorCode = "ElfNotFound"
	FlashInvalidElf      FlashErrorCode = "InvalidElf"
	FlashIOError         FlashErrorCode = "IoError"
	FlashCancelled       FlashErrorCode = "Cancelled"
)

// FlashError is the error type returned by Backend.Flash.
type FlashError struct {
	Code      FlashErrorCode
	Message   string
	Retryable bool
}

func (e *FlashError) Error() string { return string(e.Code) + ": " + e.Message }

// Progress is sent on the progress channel during Flash and reports which
// phase is active and how far through it the backend is. Phases proceed in
// order: connecting, erasing, programming, verifying (only if requested),
// resetting. Percent never decreases within a phase.
type Progress struct {
	Phase   string
	Percent float64
	Message string
}

// RttConfig describes an RTT stream to start.
type RttConfig struct {
	Chip           string
	Channels       []int
	PollIntervalMs int
	ProbeSerial    string
}

// RttErrorCode is the closed set of domain-specific RTT failure codes.
type RttErrorCode string

const (
	RttNoProbeFound   RttErrorCode = "NoProbeFound"
	RttTargetNotFound RttErrorCode = "TargetNotFound"
	RttChannelInvalid RttErrorCode = "ChannelInvalid"
	RttStartFailed    RttErrorCode = "StartFailed"
	RttCancelled      RttErrorCode = "Cancelled"
)

// RttError is the error type returned by Backend.StartRTT.
type RttError struct {
	Code      RttErrorCode
	Message   string
	Retryable bool
}

func (e *RttError) Error() string { return string(e.Code) + ": " + e.Message }

// Message is one line read from an RTT channel.
type Message struct {
	Channel     int
	Text        string
	TimestampMs int64
}

// Backend is the debug-probe abstraction the Flash and RTT job runners
// drive. Implementations must poll tok at every phase boundary and at
// least once per ~100ms while running a long operation, returning a
// Cancelled-coded error as soon as cancellation is observed.
type Backend interface {
	// Flash programs the target and optionally verifies it, reporting
	// progress on progressCh. Percent values are non-decreasing, start at
	// 0 in "connecting", and reach 100 just before a successful return.
	Flash(ctx context.Context, cfg FlashConfig, progressCh chan<- Progress, tok cancel.Token) (FlashResult, *FlashError)

	// StartRTT validates the target and channel configuration, then
	// starts a background stream of Messages onto dataCh that continues
	// until tok is cancelled or StopRTT is called. It returns promptly
	// after validation.
	StartRTT(ctx context.Context, cfg RttConfig, dataCh chan<- Message, tok cancel.Token) *RttError

	// StopRTT cooperatively and idempotently stops any stream started by
	// StartRTT.
	StopRTT()
}

// pollInterval is how often Mock.Flash checks the cancel token while
// sleeping between phases, well within the ~100ms bound documented on Backend.
const pollInterval = 20 * time.Millisecond
