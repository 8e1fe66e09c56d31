package jobs

import "sync"

// DefaultMaxCompletedPerKind is the default retention count for completed
// job logs, per kind.
const DefaultMaxCompletedPerKind = 20

// ArtifactsLookup resolves a job id to its build artifacts, if any. The
// Manager itself carries no knowledge of the build domain; the host wires
// an internal/build.Registry through this hook.
type ArtifactsLookup func(id ID) (any, bool)

// Manager is the registry of live and completed jobs, the device lock's
// custodian, and the GC authority for old completed logs.
type Manager struct {
	ringMaxLines int
	ringMaxBytes int
	maxPerKind   int
	artifacts    ArtifactsLookup

	lock DeviceLock

	mu             sync.RWMutex
	live           map[ID]*Record
	completed      map[ID]*Record
	completedOrder map[Kind][]ID
	deviceHolder   map[Kind]map[ID]bool // live device-touching jobs, for DeviceStatus
}

// Config configures a Manager's defaults.
type Config struct {
	RingMaxLines        int
	RingMaxBytes        int
	MaxCompletedPerKind int
	Artifacts           ArtifactsLookup
}

// NewManager returns a Manager ready to create jobs.
func NewManager(c Config) *Manager {
	maxPerKind := c.MaxCompletedPerKind
	if maxPerKind <= 0 {
		maxPerKind = DefaultMaxCompletedPerKind
	}
	return &Manager{
		ringMaxLines:   c.RingMaxLines,
		ringMaxBytes:   c.RingMaxBytes,
		maxPerKind:     maxPerKind,
		artifacts:      c.Artifacts,
		live:           make(map[ID]*Record),
		completed:      make(map[ID]*Record),
		completedOrder: make(map[Kind][]ID),
	}
}

// CreateJob allocates and registers a Record for a new job of kind. The
// caller is responsible for constructing an Emitter bound to the returned
// Record and a sink of its choosing.
func (m *Manager) CreateJob(kind Kind) *Record {
	r := NewRecord(kind, m.ringMaxLines, m.ringMaxBytes)

	m.mu.Lock()
	m.live[r.ID] = r
	m.mu.Unlock()

	return r
}

// TryAcquireDevice attempts to claim the device lock for id.
func (m *Manager) TryAcquireDevice(id ID) error {
	return m.lock.TryAcquire(id)
}

// ReleaseDevice releases the device lock if held by id.
func (m *Manager) ReleaseDevice(id ID) {
	m.lock.Release(id)
}

// CancelJob sets the job's cancellation token. It does not block on
// cleanup and reports whether the job was found live.
func (m *Manager) CancelJob(id ID) bool {
	m.mu.RLock()
	r, ok := m.live[id]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	r.Cancel.Cancel()
	return true
}

// GetStatus returns a job's live status snapshot, looking at both live and
// completed jobs.
func (m *Manager) GetStatus(id ID) (Status, bool) {
	r, ok := m.find(id)
	if !ok {
		return Status{}, false
	}
	return r.Status(), true
}

// GetLog returns a job's retained log lines, looking at both live and
// completed jobs.
func (m *Manager) GetLog(id ID, lastN *int) ([]string, bool) {
	r, ok := m.find(id)
	if !ok {
		return nil, false
	}
	return r.GetLines(lastN), true
}

// GetArtifacts resolves a job's build artifacts, if the Manager was wired
// with an ArtifactsLookup and the job produced any.
func (m *Manager) GetArtifacts(id ID) (any, bool) {
	if m.artifacts == nil {
		return nil, false
	}
	return m.artifacts(id)
}

func (m *Manager) find(id ID) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.live[id]; ok {
		return r, true
	}
	if r, ok := m.completed[id]; ok {
		return r, true
	}
	return nil, false
}

// List returns a summary row for every live job, optionally filtered by
// kind.
func (m *Manager) List(kind *Kind) []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.live))
	for _, r := range m.live {
		if kind != nil && r.Kind != *kind {
			continue
		}
		out = append(out, Info{
			ID:        r.ID,
			Kind:      r.Kind,
			StartedAt: r.StartedAt.UnixMilli(),
			ElapsedMs: r.ElapsedMs(),
			Status:    r.Status(),
		})
	}
	return out
}

// GetDeviceStatus returns a snapshot of the lock holder and live
// device-touching jobs.
func (m *Manager) GetDeviceStatus() DeviceStatus {
	holder, held := m.lock.Holder()

	m.mu.RLock()
	defer m.mu.RUnlock()

	ds := DeviceStatus{DeviceLocked: held, LockHolderID: holder}
	for _, r := range m.live {
		if !r.Kind.RequiresDevice() {
			continue
		}
		ds.ActiveJobsCount++
		switch r.Kind {
		case KindRTT:
			ds.RTTActive = true
			ds.ActiveRTTID = r.ID
		case KindFlash:
			ds.ActiveFlashID = r.ID
		}
	}
	return ds
}

// FinishJob is called by a job's worker after it has emitted its terminal
// event. It migrates the job's Record to the completed store, releases the
// device lock if this job held it, and runs GC.
func (m *Manager) FinishJob(id ID) {
	m.lock.Release(id)

	m.mu.Lock()
	r, ok := m.live[id]
	if ok {
		delete(m.live, id)
		m.completed[id] = r
		m.completedOrder[r.Kind] = append(m.completedOrder[r.Kind], id)
	}
	m.gcLocked()
	m.mu.Unlock()
}

// gcLocked evicts oldest completed logs per kind until at most maxPerKind
// remain for that kind, once the total completed count exceeds
// maxPerKind * |kinds currently tracked|. Callers must hold m.mu.
func (m *Manager) gcLocked() {
	total := len(m.completed)
	threshold := m.maxPerKind * max(1, len(m.completedOrder))
	if total <= threshold {
		return
	}

	for kind, ids := range m.completedOrder {
		for len(ids) > m.maxPerKind {
			evict := ids[0]
			ids = ids[1:]
			delete(m.completed, evict)
		}
		m.completedOrder[kind] = ids
	}
}
