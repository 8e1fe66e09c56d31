package jobapi

import "github.com/neurobench/runtime/internal/jobs"

// ErrorResponse is the response body for any errors that occur.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JobListResponse is the response body for GET /jobs.
type JobListResponse struct {
	Jobs []jobs.Info `json:"jobs"`
}

// JobLogResponse is the response body for GET /jobs/{id}/log.
type JobLogResponse struct {
	Lines []string `json:"lines"`
}

// FlashRequest is the request body for POST /flash.
type FlashRequest struct {
	ElfPath     string `json:"elf_path"`
	Chip        string `json:"chip"`
	Verify      bool   `json:"verify"`
	SpeedKHz    int    `json:"speed_khz"`
	ProbeSerial string `json:"probe_serial"`
}

// RttRequest is the request body for POST /rtt.
type RttRequest struct {
	Chip               string `json:"chip"`
	Channels           []int  `json:"channels"`
	PollIntervalMs     int    `json:"poll_interval_ms"`
	ProbeSerial        string `json:"probe_serial"`
	MaxBatchLines      int    `json:"max_batch_lines,omitempty"`
	MaxBatchBytes      int    `json:"max_batch_bytes,omitempty"`
	MaxBatchIntervalMs int    `json:"max_batch_interval_ms,omitempty"`
}

// BuildRequest is the request body for POST /build.
type BuildRequest struct {
	ProjectPath  string            `json:"project_path"`
	ProjectID    string            `json:"project_id"`
	ToolchainID  string            `json:"toolchain_id"`
	Profile      string            `json:"profile"`
	MCUTarget    string            `json:"mcu_target"`
	Optimization string            `json:"optimization"`
	Defines      map[string]string `json:"defines"`
	IncludePaths []string          `json:"include_paths"`
	Sources      []string          `json:"sources"`
	LinkerScript string            `json:"linker_script"`
}

// JobStartedResponse is the response body for every job-starting POST
// endpoint (/flash, /rtt, /build).
type JobStartedResponse struct {
	JobID jobs.ID `json:"job_id"`
}

// DiagnosticsResponse is the response body for GET /build/{id}/diagnostics.
type DiagnosticsResponse struct {
	Diagnostics []any `json:"diagnostics"`
}

// ArtifactsResponse is the response body for GET /build/latest-artifacts.
type ArtifactsResponse struct {
	Artifacts any `json:"artifacts"`
}
