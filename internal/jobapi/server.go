// Package jobapi is a thin HTTP/SSE binding over the Job Runtime: every
// route is a transparent carrier of the same jobs.Event envelope the
// in-process Sink receives, not a new wire protocol.
package jobapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/neurobench/runtime/internal/build"
	"github.com/neurobench/runtime/internal/jobs"
	"github.com/neurobench/runtime/internal/probe"
	"github.com/neurobench/runtime/logger"
	"github.com/neurobench/runtime/metrics"
)

// Server is the HTTP/SSE host binding a jobs.Manager, a probe backend, and
// a build.Registry to a chi.Router.
type Server struct {
	Addr       string
	Log        logger.Logger
	Manager    *jobs.Manager
	Backend    probe.Backend
	Registry   *build.Registry
	Toolchains map[string]build.Toolchain
	// Token, if non-empty, requires a Bearer token on every request.
	Token string

	// FlashScope, RTTScope, and BuildScope record per-kind job metrics for
	// jobs started through this server. A nil scope is safe: each runner
	// falls back to a no-op scope, so these are optional to set.
	FlashScope *metrics.Scope
	RTTScope   *metrics.Scope
	BuildScope *metrics.Scope

	httpSvr *http.Server
	started bool

	mu          sync.Mutex
	diagnostics map[jobs.ID][]json.RawMessage
	subs        map[jobs.ID][]chan jobs.Event
}

// NewServer returns a Server ready to Start.
func NewServer(log logger.Logger, addr string, mgr *jobs.Manager, backend probe.Backend, reg *build.Registry) *Server {
	return &Server{
		Addr:        addr,
		Log:         log,
		Manager:     mgr,
		Backend:     backend,
		Registry:    reg,
		Toolchains:  map[string]build.Toolchain{},
		diagnostics: make(map[jobs.ID][]json.RawMessage),
		subs:        make(map[jobs.ID][]chan jobs.Event),
	}
}

// Start binds Addr and starts serving in a background goroutine. Addr may
// use port 0 to bind an ephemeral port; Start rewrites Addr to the actual
// bound address (host:port) before returning, for tests and for logging.
func (s *Server) Start() error {
	if s.started {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.Addr, err)
	}
	s.Addr = ln.Addr().String()

	s.httpSvr = &http.Server{Handler: s.router()}
	go func() {
		if err := s.httpSvr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error("[jobapi] Serve: %v", err)
		}
	}()
	s.started = true

	s.Log.Info("[jobapi] listening on %s", s.Addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if !s.started {
		return errors.New("server not started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSvr.Shutdown(ctx)
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(
		LoggerMiddleware(s.Log),
		chimiddleware.Recoverer,
		HeadersMiddleware,
		AuthMiddleware(s.Token),
	)

	r.Get("/jobs", s.listJobs)
	r.Get("/jobs/{id}", s.getJob)
	r.Get("/jobs/{id}/log", s.getJobLog)
	r.Get("/jobs/{id}/events", s.streamJobEvents)
	r.Post("/jobs/{id}/cancel", s.cancelJob)

	r.Post("/flash", s.startFlash)
	r.Post("/flash/{id}/cancel", s.cancelJob)

	r.Post("/rtt", s.startRTT)
	r.Post("/rtt/{id}/stop", s.cancelJob)

	r.Post("/build", s.startBuild)
	r.Post("/build/{id}/cancel", s.cancelJob)
	r.Get("/build/{id}/diagnostics", s.getDiagnostics)
	r.Get("/build/latest-artifacts", s.getLatestArtifacts)

	r.Get("/device", s.getDevice)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err any, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: fmt.Sprint(err)})
}

// sink is the single Sink every job-starting route binds its jobs to. It
// fans events out to per-job SSE subscribers and retains build diagnostics
// for the /build/{id}/diagnostics route.
func (s *Server) sink(e jobs.Event) {
	hdr, ok := jobs.HeaderOf(e)
	if !ok {
		return
	}

	if suffixIs(e.Name, "diagnostic") {
		var wrapper struct {
			Payload json.RawMessage `json:"payload"`
		}
		if b, err := json.Marshal(e.Payload); err == nil {
			if err := json.Unmarshal(b, &wrapper); err == nil && len(wrapper.Payload) > 0 {
				s.mu.Lock()
				s.diagnostics[hdr.JobID] = append(s.diagnostics[hdr.JobID], wrapper.Payload)
				s.mu.Unlock()
			}
		}
	}

	s.mu.Lock()
	subs := append([]chan jobs.Event(nil), s.subs[hdr.JobID]...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func suffixIs(name, suffix string) bool {
	return len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix
}

func (s *Server) subscribe(id jobs.ID) chan jobs.Event {
	ch := make(chan jobs.Event, 64)
	s.mu.Lock()
	s.subs[id] = append(s.subs[id], ch)
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(id jobs.ID, ch chan jobs.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.subs[id]
	for i, c := range chans {
		if c == ch {
			s.subs[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
}

// toolchainFor resolves a BuildRequest's toolchain_id against the known
// toolchain table, defaulting to a bare "gcc" with no cross prefix when the
// id is empty or unregistered.
func (s *Server) toolchainFor(id string) build.Toolchain {
	if tc, ok := s.Toolchains[id]; ok {
		return tc
	}
	return build.Toolchain{ID: id, Kind: build.ToolchainGCC}
}
