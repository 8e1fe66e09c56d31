package build

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/neurobench/runtime/internal/jobs"
	"github.com/neurobench/runtime/logger"
)

func fakeToolchain(t *testing.T) Toolchain {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd() error = %v", err)
	}
	return Toolchain{ID: "fake", Kind: ToolchainGCC, Prefix: filepath.Join(wd, "testdata", "fake-")}
}

func collectUntilTerminal(t *testing.T, timeout time.Duration) (jobs.Sink, func() []jobs.Event) {
	t.Helper()
	var mu sync.Mutex
	var events []jobs.Event
	done := make(chan struct{})
	var closeOnce sync.Once

	sink := func(e jobs.Event) {
		mu.Lock()
		events = append(events, e)
		terminal := hasSuffix(e.Name, "completed") || hasSuffix(e.Name, "cancelled") || hasSuffix(e.Name, "internal_error")
		mu.Unlock()
		if terminal {
			closeOnce.Do(func() { close(done) })
		}
	}

	wait := func() []jobs.Event {
		select {
		case <-done:
		case <-time.After(timeout):
			t.Fatal("timed out waiting for terminal event")
		}
		mu.Lock()
		defer mu.Unlock()
		out := make([]jobs.Event, len(events))
		copy(out, events)
		return out
	}

	return sink, wait
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func TestPipelineSuccessRegistersArtifacts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.c")
	if err := os.WriteFile(src, []byte("int main(void) { return 0; }\n"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}

	mgr := jobs.NewManager(jobs.Config{})
	reg := NewRegistry()
	sink, wait := collectUntilTerminal(t, 5*time.Second)

	cfg := Config{
		ProjectPath: dir,
		ProjectID:   "demo",
		Toolchain:   fakeToolchain(t),
		Sources:     []string{src},
	}
	id := Start(mgr, reg, logger.Discard, cfg, sink, nil)
	events := wait()

	if events[0].Name != "build:started" {
		t.Fatalf("events[0].Name = %q, want build:started", events[0].Name)
	}
	last := events[len(events)-1]
	if last.Name != "build:completed" {
		t.Fatalf("last event = %q, want build:completed", last.Name)
	}

	if _, ok := reg.GetLatest("demo"); !ok {
		t.Fatal("GetLatest(demo) not registered after a successful build")
	}
	if _, ok := mgr.GetStatus(id); !ok {
		t.Fatalf("GetStatus(%s) not found after finish", id)
	}
}

func TestPipelineCompileErrorEndsUnsuccessful(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "badsrc.c")
	if err := os.WriteFile(src, []byte("int main(void) { return missing_fn(); }\n"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}

	mgr := jobs.NewManager(jobs.Config{})
	reg := NewRegistry()
	sink, wait := collectUntilTerminal(t, 5*time.Second)

	cfg := Config{
		ProjectPath: dir,
		ProjectID:   "demo-err",
		Toolchain:   fakeToolchain(t),
		Sources:     []string{src},
	}
	Start(mgr, reg, logger.Discard, cfg, sink, nil)
	events := wait()

	last := events[len(events)-1]
	if last.Name != "build:completed" {
		t.Fatalf("last event = %q, want build:completed (success=false)", last.Name)
	}

	var sawDiagnostic bool
	for _, e := range events {
		if e.Name == "build:diagnostic" {
			sawDiagnostic = true
		}
	}
	if !sawDiagnostic {
		t.Fatal("no build:diagnostic event observed for the compile error")
	}

	b, err := json.Marshal(last.Payload)
	if err != nil {
		t.Fatalf("marshaling build:completed payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(b, &payload); err != nil {
		t.Fatalf("decoding build:completed payload: %v", err)
	}
	if payload["success"] != false {
		t.Fatalf("build:completed payload[success] = %v, want false", payload["success"])
	}
	errorCount, _ := payload["error_count"].(float64)
	if errorCount < 1 {
		t.Fatalf("build:completed payload[error_count] = %v, want >= 1", payload["error_count"])
	}
	if _, ok := payload["warning_count"]; !ok {
		t.Fatal("build:completed payload missing warning_count")
	}

	if _, ok := reg.GetLatest("demo-err"); ok {
		t.Fatal("GetLatest(demo-err) registered despite a failed build")
	}
}

func TestPipelineMissingProjectPathIsInternalError(t *testing.T) {
	mgr := jobs.NewManager(jobs.Config{})
	sink, wait := collectUntilTerminal(t, 5*time.Second)

	cfg := Config{
		ProjectPath: "/nonexistent/project",
		ProjectID:   "demo-missing",
		Toolchain:   fakeToolchain(t),
		Sources:     []string{"main.c"},
	}
	Start(mgr, nil, logger.Discard, cfg, sink, nil)
	events := wait()

	last := events[len(events)-1]
	if last.Name != "build:internal_error" {
		t.Fatalf("last event = %q, want build:internal_error", last.Name)
	}
}
