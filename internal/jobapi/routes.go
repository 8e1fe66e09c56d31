package jobapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/neurobench/runtime/internal/build"
	"github.com/neurobench/runtime/internal/flashrun"
	"github.com/neurobench/runtime/internal/jobs"
	"github.com/neurobench/runtime/internal/rttrun"
)

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var kind *jobs.Kind
	if q := r.URL.Query().Get("kind"); q != "" {
		k := jobs.Kind(q)
		kind = &k
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: s.Manager.List(kind)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := jobs.ID(chi.URLParam(r, "id"))
	status, ok := s.Manager.GetStatus(id)
	if !ok {
		writeError(w, fmt.Sprintf("job %q not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) getJobLog(w http.ResponseWriter, r *http.Request) {
	id := jobs.ID(chi.URLParam(r, "id"))

	var lastN *int
	if q := r.URL.Query().Get("last_n"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, "last_n must be an integer", http.StatusBadRequest)
			return
		}
		lastN = &n
	}

	lines, ok := s.Manager.GetLog(id, lastN)
	if !ok {
		writeError(w, fmt.Sprintf("job %q not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, JobLogResponse{Lines: lines})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := jobs.ID(chi.URLParam(r, "id"))
	if !s.Manager.CancelJob(id) {
		writeError(w, fmt.Sprintf("job %q not found or already finished", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) startFlash(w http.ResponseWriter, r *http.Request) {
	var req FlashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if req.ElfPath == "" || req.Chip == "" {
		writeError(w, "elf_path and chip are required", http.StatusBadRequest)
		return
	}

	id := flashrun.Start(s.Manager, s.Backend, flashrun.Config{
		ElfPath:     req.ElfPath,
		Chip:        req.Chip,
		Verify:      req.Verify,
		SpeedKHz:    req.SpeedKHz,
		ProbeSerial: req.ProbeSerial,
	}, s.sink, s.FlashScope)

	writeJSON(w, http.StatusAccepted, JobStartedResponse{JobID: id})
}

func (s *Server) startRTT(w http.ResponseWriter, r *http.Request) {
	var req RttRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if req.Chip == "" || len(req.Channels) == 0 {
		writeError(w, "chip and at least one channel are required", http.StatusBadRequest)
		return
	}

	id := rttrun.Start(s.Manager, s.Backend, rttrun.Config{
		Chip:               req.Chip,
		Channels:           req.Channels,
		PollIntervalMs:     req.PollIntervalMs,
		ProbeSerial:        req.ProbeSerial,
		MaxBatchLines:      req.MaxBatchLines,
		MaxBatchBytes:      req.MaxBatchBytes,
		MaxBatchIntervalMs: req.MaxBatchIntervalMs,
	}, s.sink, s.RTTScope)

	writeJSON(w, http.StatusAccepted, JobStartedResponse{JobID: id})
}

func (s *Server) startBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if req.ProjectPath == "" {
		writeError(w, "project_path is required", http.StatusBadRequest)
		return
	}

	id := build.Start(s.Manager, s.Registry, s.Log, build.Config{
		ProjectPath:  req.ProjectPath,
		ProjectID:    req.ProjectID,
		Toolchain:    s.toolchainFor(req.ToolchainID),
		Profile:      req.Profile,
		MCUTarget:    req.MCUTarget,
		Optimization: req.Optimization,
		Defines:      req.Defines,
		IncludePaths: req.IncludePaths,
		Sources:      req.Sources,
		LinkerScript: req.LinkerScript,
	}, s.sink, s.BuildScope)

	writeJSON(w, http.StatusAccepted, JobStartedResponse{JobID: id})
}

func (s *Server) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	id := jobs.ID(chi.URLParam(r, "id"))

	s.mu.Lock()
	raw := append([]json.RawMessage(nil), s.diagnostics[id]...)
	s.mu.Unlock()

	diags := make([]any, len(raw))
	for i, d := range raw {
		diags[i] = d
	}
	writeJSON(w, http.StatusOK, DiagnosticsResponse{Diagnostics: diags})
}

func (s *Server) getLatestArtifacts(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, "project_id is required", http.StatusBadRequest)
		return
	}

	artifacts, ok := s.Registry.GetLatest(projectID)
	if !ok {
		writeError(w, fmt.Sprintf("no artifacts for project %q", projectID), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ArtifactsResponse{Artifacts: artifacts})
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Manager.GetDeviceStatus())
}

// streamJobEvents streams the job's events as server-sent events, one per job event, until
// the job reaches a terminal event or the client disconnects.
func (s *Server) streamJobEvents(w http.ResponseWriter, r *http.Request) {
	id := jobs.ID(chi.URLParam(r, "id"))
	if _, ok := s.Manager.GetStatus(id); !ok {
		writeError(w, fmt.Sprintf("job %q not found", id), http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.subscribe(id)
	defer s.unsubscribe(id, ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			payload, err := json.Marshal(e.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, payload)
			flusher.Flush()

			if _, ok := jobs.HeaderOf(e); ok && suffixIsTerminal(e.Name) {
				return
			}
		}
	}
}

func suffixIsTerminal(name string) bool {
	return suffixIs(name, "completed") || suffixIs(name, "cancelled") || suffixIs(name, "internal_error")
}
