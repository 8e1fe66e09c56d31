package probe

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/neurobench/runtime/internal/cancel"
)

// Mock is a deterministic Backend with parameterizable per-phase delay and
// failure point. Its progress trajectory is identical across runs for
// identical inputs, which is what makes it suitable for CI and as the
// default backend when no hardware feature is compiled in.
type Mock struct {
	// PhaseDelay is slept between each reported phase step.
	PhaseDelay time.Duration
	// Disconnected simulates no attached probe: Flash fails immediately
	// with FlashNoProbeFound, before any progress is reported.
	Disconnected bool
	// FailAt, if non-empty, makes Flash fail with FlashFailed as soon as
	// that phase would start (e.g. "programming").
	FailAt string

	// MessageInterval is the delay between RTT messages. Zero selects a
	// 10ms default.
	MessageInterval time.Duration

	mu      sync.Mutex
	stopped bool
}

var _ Backend = (*Mock)(nil)

func (m *Mock) sleep(tok cancel.Token) bool {
	d := m.PhaseDelay
	if d <= 0 {
		d = 5 * time.Millisecond
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if tok.IsCancelled() {
			return false
		}
		time.Sleep(pollInterval)
	}
	return !tok.IsCancelled()
}

// Flash implements Backend.
func (m *Mock) Flash(ctx context.Context, cfg FlashConfig, progressCh chan<- Progress, tok cancel.Token) (FlashResult, *FlashError) {
	if tok.IsCancelled() {
		return FlashResult{}, &FlashError{Code: FlashCancelled, Message: "cancelled before connecting"}
	}

	info, err := os.Stat(cfg.ElfPath)
	if err != nil {
		return FlashResult{}, &FlashError{Code: FlashElfNotFound, Message: "elf not found: " + cfg.ElfPath}
	}
	if cfg.Chip == "" {
		return FlashResult{}, &FlashError{Code: FlashTargetNotFound, Message: "no chip specified"}
	}
	if m.Disconnected {
		return FlashResult{}, &FlashError{Code: FlashNoProbeFound, Message: "no probe attached", Retryable: true}
	}

	steps := []struct {
		phase   string
		percent float64
	}{
		{"connecting", 0},
		{"erasing", 15},
		{"programming", 40},
		{"programming", 70},
	}
	if cfg.Verify {
		steps = append(steps, struct {
			phase   string
			percent float64
		}{"verifying", 90})
	}

	for _, s := range steps {
		if m.FailAt != "" && s.phase == m.FailAt {
			return FlashResult{}, &FlashError{Code: FlashFailed, Message: "simulated failure at " + s.phase, Retryable: true}
		}
		progressCh <- Progress{Phase: s.phase, Percent: s.percent}
		if !m.sleep(tok) {
			return FlashResult{}, &FlashError{Code: FlashCancelled, Message: "cancelled during " + s.phase}
		}
	}

	if m.FailAt == "resetting" {
		return FlashResult{}, &FlashError{Code: FlashFailed, Message: "simulated failure at resetting", Retryable: true}
	}
	progressCh <- Progress{Phase: "resetting", Percent: 100}
	if !m.sleep(tok) {
		return FlashResult{}, &FlashError{Code: FlashCancelled, Message: "cancelled during resetting"}
	}

	return FlashResult{
		BytesWritten: info.Size(),
		Verified:     cfg.Verify,
		ChipResolved: cfg.Chip,
	}, nil
}

// StartRTT implements Backend.
func (m *Mock) StartRTT(ctx context.Context, cfg RttConfig, dataCh chan<- Message, tok cancel.Token) *RttError {
	if cfg.Chip == "" {
		return &RttError{Code: RttTargetNotFound, Message: "no chip specified"}
	}
	if len(cfg.Channels) == 0 {
		return &RttError{Code: RttChannelInvalid, Message: "no channels requested"}
	}
	if m.Disconnected {
		return &RttError{Code: RttNoProbeFound, Message: "no probe attached", Retryable: true}
	}

	interval := m.MessageInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	m.mu.Lock()
	m.stopped = false
	m.mu.Unlock()

	channel := cfg.Channels[0]
	started := time.Now()

	go func() {
		n := 0
		for {
			if tok.IsCancelled() {
				return
			}
			m.mu.Lock()
			stopped := m.stopped
			m.mu.Unlock()
			if stopped {
				return
			}

			select {
			case dataCh <- Message{
				Channel:     channel,
				Text:        "rtt line",
				TimestampMs: time.Since(started).Milliseconds(),
			}:
			default:
				// dataCh consumer isn't ready: the message is discarded here
				// and is not counted in the RTT runner's drop total; this
				// avoids blocking the mock's producer goroutine forever.
			}

			n++
			time.Sleep(interval)
		}
	}()

	return nil
}

// StopRTT implements Backend.
func (m *Mock) StopRTT() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}
