package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/neurobench/runtime/internal/jobs"
	"github.com/neurobench/runtime/logger"
	"github.com/neurobench/runtime/metrics"
	"github.com/neurobench/runtime/process"
)

// noopScope is used whenever Start is called with a nil scope, so call sites
// never need to nil-check before recording.
var noopScope = metrics.NewCollector(logger.Discard, metrics.CollectorConfig{}).Scope(nil)

// outputPayload is the payload of a "build:output" custom event.
type outputPayload struct {
	Stream string `json:"stream"`
	Tool   string `json:"tool"`
	Line   string `json:"line"`
}

// Start creates a build job and spawns the worker goroutine that drives the
// toolchain described by cfg. Successful builds are registered in reg.
func Start(mgr *jobs.Manager, reg *Registry, log logger.Logger, cfg Config, sink jobs.Sink, scope *metrics.Scope) jobs.ID {
	if scope == nil {
		scope = noopScope
	}

	record := mgr.CreateJob(jobs.KindBuild)
	emitter := jobs.NewEmitter(record, sink)
	scope.Count("jobs_started", 1)

	emitter.EmitCustom("started", map[string]any{
		"project_id":  cfg.ProjectID,
		"config_hash": cfg.Hash(),
	})

	go run(mgr, reg, log, record, emitter, cfg, scope)

	return record.ID
}

func run(mgr *jobs.Manager, reg *Registry, log logger.Logger, record *jobs.Record, emitter *jobs.Emitter, cfg Config, scope *metrics.Scope) {
	defer mgr.FinishJob(record.ID)
	defer func() {
		if r := recover(); r != nil {
			emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
				ErrorCode: jobs.ErrUnknown,
				Message:   fmt.Sprintf("build worker panicked: %v", r),
				Retryable: true,
			}}, nil)
			scope.Count("jobs_internal_error", 1)
		}
	}()

	started := time.Now()

	if _, err := os.Stat(cfg.ProjectPath); err != nil {
		emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
			ErrorCode: jobs.ErrWorkdirMissing,
			Message:   fmt.Sprintf("project path %q does not exist", cfg.ProjectPath),
			Retryable: false,
		}}, nil)
		scope.Count("jobs_internal_error", 1)
		return
	}

	objDir := filepath.Join(cfg.ProjectPath, "build")
	if err := os.MkdirAll(objDir, 0o755); err != nil {
		emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
			ErrorCode: jobs.ErrIOError,
			Message:   err.Error(),
			Retryable: true,
		}}, nil)
		scope.Count("jobs_internal_error", 1)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchCancel(ctx, cancel, record.Cancel)

	emitter.EmitProgress("preparing", 0, "")

	var diagnostics []EnhancedDiagnostic
	var objPaths []string

	compileStarted := time.Now()

	for i, src := range cfg.Sources {
		if record.Cancel.IsCancelled() {
			emitter.EmitTerminal(jobs.Terminal{Cancelled: &jobs.Cancelled{Reason: jobs.CancelUserRequest}}, nil)
			scope.Count("jobs_cancelled", 1)
			return
		}

		objPath := filepath.Join(objDir, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))+".o")
		objPaths = append(objPaths, objPath)

		percent := float64(i) / float64(max(len(cfg.Sources), 1)) * 70
		emitter.EmitProgress("compiling", percent, src)

		diags, code, err := compileOne(ctx, log, emitter, cfg, src, objPath)
		diagnostics = append(diagnostics, diags...)

		if err != nil {
			if record.Cancel.IsCancelled() {
				emitter.EmitTerminal(jobs.Terminal{Cancelled: &jobs.Cancelled{Reason: jobs.CancelUserRequest}}, nil)
				scope.Count("jobs_cancelled", 1)
				return
			}
			emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
				ErrorCode: mapSpawnError(err),
				Message:   err.Error(),
				Retryable: false,
			}}, nil)
			scope.Count("jobs_internal_error", 1)
			return
		}
		_ = code
	}

	compileDuration := time.Since(compileStarted)
	scope.Timing("compile_duration", compileDuration)

	if hasError(diagnostics) {
		errorCount, warningCount := countSeverities(diagnostics)
		duration := time.Since(started).Milliseconds()
		exitCode := 1
		emitter.EmitTerminal(jobs.Terminal{Completed: &jobs.Completed{
			Success:    false,
			ExitCode:   &exitCode,
			DurationMs: duration,
		}}, map[string]any{
			"diagnostics":   diagnostics,
			"error_count":   errorCount,
			"warning_count": warningCount,
		})
		scope.Count("jobs_completed", 1)
		scope.Count("diagnostics_error", int64(errorCount))
		scope.Count("diagnostics_warning", int64(warningCount))
		return
	}

	emitter.EmitProgress("linking", 80, "")

	elfPath := filepath.Join(objDir, "firmware.elf")
	mapPath := filepath.Join(objDir, "firmware.map")

	linkDiags, err := linkAll(ctx, log, emitter, cfg, objPaths, elfPath, mapPath)
	diagnostics = append(diagnostics, linkDiags...)
	if err != nil {
		if record.Cancel.IsCancelled() {
			emitter.EmitTerminal(jobs.Terminal{Cancelled: &jobs.Cancelled{Reason: jobs.CancelUserRequest}}, nil)
			scope.Count("jobs_cancelled", 1)
			return
		}
		emitter.EmitTerminal(jobs.Terminal{InternalError: &jobs.InternalError{
			ErrorCode: mapSpawnError(err),
			Message:   err.Error(),
			Retryable: false,
		}}, nil)
		scope.Count("jobs_internal_error", 1)
		return
	}
	if hasError(diagnostics) {
		errorCount, warningCount := countSeverities(diagnostics)
		duration := time.Since(started).Milliseconds()
		exitCode := 1
		emitter.EmitTerminal(jobs.Terminal{Completed: &jobs.Completed{
			Success:    false,
			ExitCode:   &exitCode,
			DurationMs: duration,
		}}, map[string]any{
			"diagnostics":   diagnostics,
			"error_count":   errorCount,
			"warning_count": warningCount,
		})
		scope.Count("jobs_completed", 1)
		scope.Count("diagnostics_error", int64(errorCount))
		scope.Count("diagnostics_warning", int64(warningCount))
		return
	}

	emitter.EmitProgress("post_processing", 95, "")

	binPath := filepath.Join(objDir, "firmware.bin")
	_ = runObjcopy(ctx, log, cfg, elfPath, binPath)

	artifacts := statArtifacts(Artifacts{
		ElfPath: elfPath,
		BinPath: binPath,
		MapPath: mapPath,
	})

	if out, err := runSizeTool(ctx, log, cfg, elfPath); err == nil {
		if si, ok := parseSizeReport(out); ok {
			artifacts.SizeInfo = &si
		}
	}

	if artifacts.ElfExists && reg != nil {
		reg.Register(record.ID, cfg.ProjectID, artifacts)
	}

	emitter.EmitProgress("done", 100, "")

	duration := time.Since(started).Milliseconds()
	exitCode := 0
	errorCount, warningCount := countSeverities(diagnostics)
	emitter.EmitTerminal(jobs.Terminal{Completed: &jobs.Completed{
		Success:    true,
		ExitCode:   &exitCode,
		DurationMs: duration,
	}}, map[string]any{
		"diagnostics":   diagnostics,
		"artifacts":     artifacts,
		"error_count":   errorCount,
		"warning_count": warningCount,
	})
	scope.Count("jobs_completed", 1)
	scope.Count("diagnostics_error", int64(errorCount))
	scope.Count("diagnostics_warning", int64(warningCount))
}

// watchCancel cancels ctx as soon as tok is observed cancelled, so spawned
// children are killed (process.Process.Run ties child lifetime to ctx).
func watchCancel(ctx context.Context, cancel context.CancelFunc, tok interface{ IsCancelled() bool }) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tok.IsCancelled() {
				cancel()
				return
			}
		}
	}
}

// compileOne spawns the compiler for one source file, streaming its stderr
// as output events and parsing diagnostics out of it.
func compileOne(ctx context.Context, log logger.Logger, emitter *jobs.Emitter, cfg Config, src, objPath string) ([]EnhancedDiagnostic, int, error) {
	var diagnostics []EnhancedDiagnostic
	var mu sync.Mutex

	pr, pw := os.Pipe()
	defer pr.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = process.ScanLines(pr, func(line string) {
			emitter.EmitCustom("output", outputPayload{Stream: "stderr", Tool: cfg.Toolchain.compiler(), Line: line})
			if d, ok := parseDiagnostic(line, cfg.ProjectPath, cfg.Toolchain.compiler(), CategoryCompile); ok {
				mu.Lock()
				diagnostics = append(diagnostics, d)
				mu.Unlock()
				emitter.EmitCustom("diagnostic", d)
			}
		})
	}()

	p := process.New(log, process.Config{
		Path:   cfg.Toolchain.compiler(),
		Args:   cfg.compileFlags(src, objPath),
		Dir:    cfg.ProjectPath,
		Stderr: pw,
	})
	err := p.Run(ctx)
	pw.Close()
	<-readDone

	exitCode := 0
	if p.WaitStatus() != nil {
		exitCode = p.WaitStatus().ExitStatus()
	}

	return diagnostics, exitCode, err
}

// linkAll spawns the linker with --gc-sections and -Map, streaming its
// output the same way compileOne does.
func linkAll(ctx context.Context, log logger.Logger, emitter *jobs.Emitter, cfg Config, objPaths []string, elfPath, mapPath string) ([]EnhancedDiagnostic, error) {
	var diagnostics []EnhancedDiagnostic
	var mu sync.Mutex

	pr, pw := os.Pipe()
	defer pr.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = process.ScanLines(pr, func(line string) {
			emitter.EmitCustom("output", outputPayload{Stream: "stderr", Tool: cfg.Toolchain.compiler(), Line: line})
			if d, ok := parseDiagnostic(line, cfg.ProjectPath, cfg.Toolchain.compiler(), CategoryLink); ok {
				mu.Lock()
				diagnostics = append(diagnostics, d)
				mu.Unlock()
				emitter.EmitCustom("diagnostic", d)
			}
		})
	}()

	p := process.New(log, process.Config{
		Path:   cfg.Toolchain.compiler(),
		Args:   cfg.linkFlags(objPaths, elfPath, mapPath),
		Dir:    cfg.ProjectPath,
		Stderr: pw,
	})
	err := p.Run(ctx)
	pw.Close()
	<-readDone

	return diagnostics, err
}

func runObjcopy(ctx context.Context, log logger.Logger, cfg Config, elfPath, binPath string) error {
	p := process.New(log, process.Config{
		Path: cfg.Toolchain.objcopy(),
		Args: []string{"-O", "binary", elfPath, binPath},
		Dir:  cfg.ProjectPath,
	})
	return p.Run(ctx)
}

func runSizeTool(ctx context.Context, log logger.Logger, cfg Config, elfPath string) (string, error) {
	var buf strings.Builder
	p := process.New(log, process.Config{
		Path:   cfg.Toolchain.size(),
		Args:   []string{elfPath},
		Dir:    cfg.ProjectPath,
		Stdout: &stringWriter{&buf},
	})
	err := p.Run(ctx)
	return buf.String(), err
}

// stringWriter adapts a strings.Builder to io.Writer for process.Config's
// Stdout field.
type stringWriter struct {
	b *strings.Builder
}

func (w *stringWriter) Write(p []byte) (int, error) {
	return w.b.Write(p)
}

func hasError(diagnostics []EnhancedDiagnostic) bool {
	for _, d := range diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// mapSpawnError maps a process spawn/run failure onto the shared
// InternalErrorCode taxonomy.
func mapSpawnError(err error) jobs.InternalErrorCode {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such file or directory") && strings.Contains(msg, "exec"):
		return jobs.ErrToolchainNotFound
	case strings.Contains(msg, "permission denied"):
		return jobs.ErrPermissionDenied
	case strings.Contains(msg, "doesn't exist"):
		return jobs.ErrWorkdirMissing
	case strings.Contains(msg, "error starting command"):
		return jobs.ErrSpawnFailed
	default:
		return jobs.ErrIOError
	}
}
