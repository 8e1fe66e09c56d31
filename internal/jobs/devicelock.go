package jobs

import (
	"errors"
	"sync"
)

// ErrDeviceInUse is returned by DeviceLock.TryAcquire when another job
// already holds the lock.
var ErrDeviceInUse = errors.New("device in use")

// DeviceLock is a mutually exclusive token for the {probe, target}
// resource. Only jobs whose Kind.RequiresDevice is true ever attempt to
// acquire it.
type DeviceLock struct {
	mu     sync.Mutex
	holder ID
	held   bool
}

// TryAcquire atomically claims the lock for id, or fails if already held.
func (d *DeviceLock) TryAcquire(id ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.held {
		return ErrDeviceInUse
	}
	d.held = true
	d.holder = id
	return nil
}

// Release is idempotent: it is a no-op unless id is the current holder.
func (d *DeviceLock) Release(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.held || d.holder != id {
		return
	}
	d.held = false
	d.holder = ""
}

// Holder returns the current holder and whether the lock is held.
func (d *DeviceLock) Holder() (ID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holder, d.held
}
