// Package rttrun drives a probe.Backend RTT stream as a job: it batches
// incoming messages by size or time, tracks a cumulative drop count, and
// funnels everything through the job's Emitter.
package rttrun

import (
	"context"
	"fmt"
	"time"

	"github.com/neurobench/runtime/internal/jobs"
	"github.com/neurobench/runtime/internal/probe"
	"github.com/neurobench/runtime/logger"
	"github.com/neurobench/runtime/metrics"
)

// noopScope is used whenever Start is called with a nil scope, so call sites
// never need to nil-check before recording.
var noopScope = metrics.NewCollector(logger.Discard, metrics.CollectorConfig{}).Scope(nil)

const (
	// DefaultMaxBatchLines flushes a batch once it holds this many messages.
	DefaultMaxBatchLines = 100
	// DefaultMaxBatchBytes flushes a batch once its messages' combined text
	// reaches this many bytes.
	DefaultMaxBatchBytes = 4096
	// DefaultMaxBatchIntervalMs flushes a non-empty batch after this long
	// since the last flush, regardless of size.
	DefaultMaxBatchIntervalMs = 100

	// pendingCap bounds the local batch; once full, incoming messages are
	// dropped and counted rather than grown without bound.
	pendingCap = DefaultMaxBatchLines * 4
)

// Config is one RTT job's parameters, as given to Start.
type Config struct {
	Chip           string
	Channels       []int
	PollIntervalMs int
	ProbeSerial    string

	MaxBatchLines      int
	MaxBatchBytes      int
	MaxBatchIntervalMs int
}

func (c Config) maxBatchLines() int {
	if c.MaxBatchLines > 0 {
		return c.MaxBatchLines
	}
	return DefaultMaxBatchLines
}

func (c Config) maxBatchBytes() int {
	if c.MaxBatchBytes > 0 {
		return c.MaxBatchBytes
	}
	return DefaultMaxBatchBytes
}

func (c Config) maxBatchInterval() time.Duration {
	if c.MaxBatchIntervalMs > 0 {
		return time.Duration(c.MaxBatchIntervalMs) * time.Millisecond
	}
	return DefaultMaxBatchIntervalMs * time.Millisecond
}

// rttMessage mirrors probe.Message with JSON tags for emission.
type rttMessage struct {
	Channel     int    `json:"channel"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// batchPayload is the payload of an "rtt:message" custom event.
type batchPayload struct {
	Messages     []rttMessage `json:"messages"`
	DroppedCount uint64       `json:"dropped_count"`
	MessageCount int          `json:"message_count"`
	TotalBytes   int          `json:"total_bytes"`
}

// Start creates an RTT job, tries to acquire the device lock, and spawns the
// poller goroutine that drives backend. It returns the job's id immediately.
func Start(mgr *jobs.Manager, backend probe.Backend, cfg Config, sink jobs.Sink, scope *metrics.Scope) jobs.ID {
	if scope == nil {
		scope = noopScope
	}

	record := mgr.CreateJob(jobs.KindRTT)
	emitter := jobs.NewEmitter(record, sink)
	scope.Count("jobs_started", 1)

	if err := mgr.TryAcquireDevice(record.ID); err != nil {
		emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
			ErrorCode: jobs.ErrProbeConnectionFail,
			Message:   err.Error(),
			Retryable: true,
		}}, nil)
		scope.Count("jobs_internal_error", 1)
		mgr.FinishJob(record.ID)
		return record.ID
	}

	bcfg := probe.RttConfig{
		Chip:           cfg.Chip,
		Channels:       cfg.Channels,
		PollIntervalMs: cfg.PollIntervalMs,
		ProbeSerial:    cfg.ProbeSerial,
	}
	dataCh := make(chan probe.Message)

	if rerr := backend.StartRTT(context.Background(), bcfg, dataCh, record.Cancel); rerr != nil {
		emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
			ErrorCode: mapRttErrorCode(rerr.Code),
			Message:   rerr.Message,
			Retryable: rerr.Retryable,
		}}, nil)
		scope.Count("jobs_internal_error", 1)
		mgr.FinishJob(record.ID)
		return record.ID
	}

	emitter.EmitCustom("started", map[string]any{
		"chip":     cfg.Chip,
		"channels": cfg.Channels,
	})

	go run(mgr, backend, record, emitter, cfg, dataCh, scope)

	return record.ID
}

func run(mgr *jobs.Manager, backend probe.Backend, record *jobs.Record, emitter *jobs.Emitter, cfg Config, dataCh chan probe.Message, scope *metrics.Scope) {
	defer mgr.FinishJob(record.ID)
	defer func() {
		if r := recover(); r != nil {
			emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
				ErrorCode: jobs.ErrUnknown,
				Message:   fmt.Sprintf("rtt worker panicked: %v", r),
				Retryable: true,
			}}, nil)
			scope.Count("jobs_internal_error", 1)
		}
	}()

	var pending []rttMessage
	var pendingBytes int
	var totalMessages, totalDropped uint64
	lastFlush := time.Now()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		emitter.EmitCustom("message", batchPayload{
			Messages:     pending,
			DroppedCount: totalDropped,
			MessageCount: len(pending),
			TotalBytes:   pendingBytes,
		})
		pending = nil
		pendingBytes = 0
		lastFlush = time.Now()
	}

	tick := time.NewTicker(cfg.maxBatchInterval())
	defer tick.Stop()

	cancelPoll := time.NewTicker(20 * time.Millisecond)
	defer cancelPoll.Stop()

loop:
	for {
		select {
		case msg, ok := <-dataCh:
			if !ok {
				break loop
			}
			if len(pending) >= pendingCap {
				totalDropped++
				continue
			}
			pending = append(pending, rttMessage{Channel: msg.Channel, Text: msg.Text, TimestampMs: msg.TimestampMs})
			pendingBytes += len(msg.Text)
			totalMessages++
			if len(pending) >= cfg.maxBatchLines() || pendingBytes >= cfg.maxBatchBytes() {
				flush()
			}
		case <-tick.C:
			if time.Since(lastFlush) >= cfg.maxBatchInterval() {
				flush()
			}
		case <-cancelPoll.C:
		}

		if record.Cancel.IsCancelled() {
			break loop
		}
	}

	flush()
	backend.StopRTT()

	scope.Count("messages", int64(totalMessages))
	scope.Count("dropped", int64(totalDropped))

	extra := map[string]any{
		"total_messages": totalMessages,
		"total_dropped":  totalDropped,
	}

	if record.Cancel.IsCancelled() {
		extra["terminated_by"] = "cancelled"
		emitter.EmitTerminal(jobs.Terminal{Cancelled: &jobs.Cancelled{Reason: jobs.CancelUserRequest}}, extra)
		scope.Count("jobs_cancelled", 1)
		return
	}

	emitter.EmitTerminal(jobs.Terminal{Completed: &jobs.Completed{Success: true}}, extra)
	scope.Count("jobs_completed", 1)
}

// mapRttErrorCode maps a probe.RttErrorCode onto the shared
// jobs.InternalErrorCode taxonomy used by every job kind's terminal.
func mapRttErrorCode(code probe.RttErrorCode) jobs.InternalErrorCode {
	switch code {
	case probe.RttNoProbeFound:
		return jobs.ErrProbeNotFound
	case probe.RttTargetNotFound, probe.RttChannelInvalid, probe.RttStartFailed:
		return jobs.ErrRttStartFailed
	default:
		return jobs.ErrUnknown
	}
}
