//go:build probe_real

// This file implements the real Backend, built only with the probe_real
// tag since it shells out to a vendor probe CLI that isn't available in a
// default build or CI environment. The Mock backend is the default.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neurobench/runtime/internal/cancel"
	"github.com/neurobench/runtime/logger"
	"github.com/neurobench/runtime/process"
	"github.com/neurobench/runtime/retry"
)

// Real is a Backend that drives an attached probe through the probe-rs CLI
// (https://probe.rs), the same debug-probe abstraction the original
// toolchain/probe.rs bound to directly as a library. Shelling out keeps
// this module free of a cgo dependency on the probe-rs Rust crate.
type Real struct {
	Log logger.Logger
	// BinaryPath overrides the "probe-rs" lookup, e.g. for vendored
	// installs. Empty selects "probe-rs" from PATH.
	BinaryPath string

	stopCh chan struct{}
}

var _ Backend = (*Real)(nil)

func (r *Real) binary() string {
	if r.BinaryPath != "" {
		return r.BinaryPath
	}
	return "probe-rs"
}

// Flash implements Backend by invoking `probe-rs download`. A failed attempt
// (a spawn error, a nonzero exit, or "Probe not found" in the output) is
// retried, up to 3 attempts in all, 500ms apart; the last failure is mapped
// onto a FlashError by classifyFlashError from probe-rs's output.
func (r *Real) Flash(ctx context.Context, cfg FlashConfig, progressCh chan<- Progress, tok cancel.Token) (FlashResult, *FlashError) {
	args := []string{"download", "--chip", cfg.Chip}
	if cfg.ProbeSerial != "" {
		args = append(args, "--probe", cfg.ProbeSerial)
	}
	if cfg.SpeedKHz > 0 {
		args = append(args, "--speed", strconv.Itoa(cfg.SpeedKHz))
	}
	args = append(args, cfg.ElfPath)

	progressCh <- Progress{Phase: "connecting", Percent: 0}

	retrier := retry.NewRetrier(
		retry.WithMaxAttempts(3),
		retry.WithStrategy(retry.Constant(500*time.Millisecond)),
	)

	var out bytes.Buffer
	err := retrier.Do(func(*retry.Retrier) error {
		if tok.IsCancelled() {
			retrier.Break()
			return nil
		}
		out.Reset()
		p := process.New(r.Log, process.Config{
			Path:   r.binary(),
			Args:   args,
			Stdout: &out,
			Stderr: &out,
		})
		runErr := p.Run(ctx)
		if runErr == nil && p.WaitStatus().ExitStatus() != 0 {
			return fmt.Errorf("probe-rs exited with status %d", p.WaitStatus().ExitStatus())
		}
		if runErr == nil && strings.Contains(out.String(), "Probe not found") {
			return fmt.Errorf("probe not found")
		}
		return runErr
	})

	if tok.IsCancelled() {
		return FlashResult{}, &FlashError{Code: FlashCancelled, Message: "cancelled during flash"}
	}
	if err != nil {
		return FlashResult{}, classifyFlashError(err, out.String())
	}

	progressCh <- Progress{Phase: "resetting", Percent: 100}

	return FlashResult{
		BytesWritten: int64(len(out.Bytes())),
		Verified:     cfg.Verify,
		ChipResolved: cfg.Chip,
	}, nil
}

// classifyFlashError maps probe-rs's human-readable output onto the closed
// FlashErrorCode enum.
func classifyFlashError(err error, output string) *FlashError {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "probe not found") || strings.Contains(lower, "no probes"):
		return &FlashError{Code: FlashNoProbeFound, Message: output, Retryable: true}
	case strings.Contains(lower, "could not attach"):
		return &FlashError{Code: FlashAttachFailed, Message: output, Retryable: true}
	case strings.Contains(lower, "chip") && strings.Contains(lower, "not found"):
		return &FlashError{Code: FlashTargetNotFound, Message: output}
	case strings.Contains(lower, "verif"):
		return &FlashError{Code: FlashVerifyFailed, Message: output}
	default:
		return &FlashError{Code: FlashFailed, Message: err.Error() + ": " + output, Retryable: true}
	}
}

// StartRTT implements Backend by invoking `probe-rs rtt` and streaming its
// stdout as RTT messages until stopped or cancelled.
func (r *Real) StartRTT(ctx context.Context, cfg RttConfig, dataCh chan<- Message, tok cancel.Token) *RttError {
	if len(cfg.Channels) == 0 {
		return &RttError{Code: RttChannelInvalid, Message: "no channels requested"}
	}

	args := []string{"rtt", "--chip", cfg.Chip}
	if cfg.ProbeSerial != "" {
		args = append(args, "--probe", cfg.ProbeSerial)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return &RttError{Code: RttStartFailed, Message: err.Error()}
	}
	p := process.New(r.Log, process.Config{Path: r.binary(), Args: args, Stdout: pw})

	r.stopCh = make(chan struct{})

	runCtx, cancelRun := context.WithCancel(ctx)
	go func() {
		<-r.stopCh
		cancelRun()
	}()
	go func() {
		defer pw.Close()
		_ = p.Run(runCtx)
	}()

	go func() {
		started := time.Now()
		_ = process.ScanLines(pr, func(line string) {
			if tok.IsCancelled() {
				return
			}
			select {
			case dataCh <- Message{Channel: cfg.Channels[0], Text: line, TimestampMs: time.Since(started).Milliseconds()}:
			default:
			}
		})
	}()

	return nil
}

// StopRTT implements Backend.
func (r *Real) StopRTT() {
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
}

