package build

import (
	"sync"

	"github.com/neurobench/runtime/internal/jobs"
)

// Registry is the Artifact Registry: keyed by job id, and tracking the
// latest successful build's artifacts per project. Entries stay until
// Forget is called; the Job Manager's GC does not call Forget, so evicting
// a job's log leaves its artifacts registered.
type Registry struct {
	mu            sync.RWMutex
	byJob         map[jobs.ID]Artifacts
	latestProject map[string]jobs.ID
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byJob:         make(map[jobs.ID]Artifacts),
		latestProject: make(map[string]jobs.ID),
	}
}

// Register records a successful build's artifacts under id and promotes
// them to the latest build for projectID.
func (r *Registry) Register(id jobs.ID, projectID string, a Artifacts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byJob[id] = a
	r.latestProject[projectID] = id
}

// Get returns the artifacts registered for id.
func (r *Registry) Get(id jobs.ID) (Artifacts, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byJob[id]
	return a, ok
}

// GetLatest returns the most recent successful build's artifacts for
// projectID.
func (r *Registry) GetLatest(projectID string) (Artifacts, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.latestProject[projectID]
	if !ok {
		return Artifacts{}, false
	}
	a, ok := r.byJob[id]
	return a, ok
}

// Forget removes id's artifacts. It does not touch latestProject, so once a
// project's latest job is forgotten GetLatest reports false for that project
// until a newer successful build is registered.
func (r *Registry) Forget(id jobs.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byJob, id)
}

// Lookup adapts Registry.Get to jobs.ArtifactsLookup, for wiring a Registry
// into a Manager.
func (r *Registry) Lookup(id jobs.ID) (any, bool) {
	a, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return a, true
}
