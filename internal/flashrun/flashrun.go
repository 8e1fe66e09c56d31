// Package flashrun drives a probe.Backend flash operation as a job: it owns
// the device lock for the run, funnels backend progress into the job's
// Emitter, and maps every backend outcome onto the shared terminal taxonomy.
package flashrun

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

// Config is one flash job's parameters, as given to Start.
type Config struct {
	ElfPath     string
	Chip        string
	Verify      bool
	SpeedKHz    int
	ProbeSerial string
}

// Start creates a flash job, tries to acquire the device lock, and spawns
// the worker goroutine that drives backend. It returns the job's id
// immediately; the job's lifecycle is entirely observable through sink.
func Start(mgr *jobs.Manager, backend probe.Backend, cfg Config, sink jobs.Sink, scope *metrics.Scope) jobs.ID {
	if scope == nil {
		scope = noopScope
	}

	record := mgr.CreateJob(jobs.KindFlash)
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

	emitter.EmitCustom("started", map[string]any{
		"chip":   cfg.Chip,
		"elf":    cfg.ElfPath,
		"verify": cfg.Verify,
	})

	go run(mgr, backend, record, emitter, cfg, scope)

	return record.ID
}

func run(mgr *jobs.Manager, backend probe.Backend, record *jobs.Record, emitter *jobs.Emitter, cfg Config, scope *metrics.Scope) {
	defer mgr.FinishJob(record.ID)
	defer func() {
		if r := recover(); r != nil {
			emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
				ErrorCode: jobs.ErrUnknown,
				Message:   fmt.Sprintf("flash worker panicked: %v", r),
				Retryable: true,
			}}, nil)
			scope.Count("jobs_internal_error", 1)
		}
	}()

	started := time.Now()
	progressCh := make(chan probe.Progress)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for p := range progressCh {
			emitter.EmitProgress(p.Phase, p.Percent, p.Message)
		}
	}()

	bcfg := probe.FlashConfig{
		ElfPath:     cfg.ElfPath,
		Verify:      cfg.Verify,
		Chip:        cfg.Chip,
		SpeedKHz:    cfg.SpeedKHz,
		ProbeSerial: cfg.ProbeSerial,
	}
	result, ferr := backend.Flash(context.Background(), bcfg, progressCh, record.Cancel)
	close(progressCh)
	<-done

	duration := time.Since(started).Milliseconds()

	if ferr == nil {
		exitCode := 0
		emitter.EmitTerminal(jobs.Terminal{Completed: &jobs.Completed{
			Success:    true,
			ExitCode:   &exitCode,
			DurationMs: duration,
		}}, map[string]any{
			"bytes_written": result.BytesWritten,
			"verified":      result.Verified,
			"chip_resolved": result.ChipResolved,
		})
		scope.Count("jobs_completed", 1)
		scope.Count("bytes_written", result.BytesWritten)
		return
	}

	if ferr.Code == probe.FlashCancelled {
		emitter.EmitTerminal(jobs.Terminal{Cancelled: &jobs.Cancelled{
			Reason: jobs.CancelUserRequest,
		}}, map[string]any{"terminated_by": "cancelled"})
		scope.Count("jobs_cancelled", 1)
		return
	}

	emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
		ErrorCode: mapFlashErrorCode(ferr.Code),
		Message:   ferr.Message,
		Retryable: ferr.Retryable,
	}}, nil)
	scope.Count("jobs_internal_error", 1)
}

// mapFlashErrorCode maps a probe.FlashErrorCode onto the shared
// jobs.InternalErrorCode taxonomy used by every job kind's terminal.
func mapFlashErrorCode(code probe.FlashErrorCode) jobs.InternalErrorCode {
	switch code {
	case probe.FlashNoProbeFound:
		return jobs.ErrProbeNotFound
	case probe.FlashProbeOpenFailed, probe.FlashAttachFailed:
		return jobs.ErrProbeConnectionFail
	case probe.FlashTargetNotFound, probe.FlashFailed, probe.FlashVerifyFailed,
		probe.FlashElfNotFound, probe.FlashInvalidElf:
		return jobs.ErrFlashFailed
	case probe.FlashIOError:
		return jobs.ErrIOError
	default:
		return jobs.ErrUnknown
	}
}
