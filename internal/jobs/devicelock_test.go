package jobs_test

import (
	"errors"
	"testing"

	"github.com/neurobench/runtime/internal/jobs"
)

func TestDeviceLockTryAcquireExclusive(t *testing.T) {
	var d jobs.DeviceLock

	if err := d.TryAcquire("flash_1"); err != nil {
		t.Fatalf("first TryAcquire() error = %v", err)
	}
	if err := d.TryAcquire("rtt_1"); !errors.Is(err, jobs.ErrDeviceInUse) {
		t.Fatalf("second TryAcquire() error = %v, want ErrDeviceInUse", err)
	}
}

func TestDeviceLockReleaseByNonHolderIsNoop(t *testing.T) {
	var d jobs.DeviceLock

	if err := d.TryAcquire("flash_1"); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	d.Release("rtt_1")

	holder, held := d.Holder()
	if !held || holder != "flash_1" {
		t.Fatalf("Holder() = (%q, %t), want (flash_1, true)", holder, held)
	}
}

func TestDeviceLockReleaseByHolderFreesIt(t *testing.T) {
	var d jobs.DeviceLock

	if err := d.TryAcquire("flash_1"); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	d.Release("flash_1")

	if _, held := d.Holder(); held {
		t.Fatal("Holder() held = true after release by holder")
	}
	if err := d.TryAcquire("rtt_1"); err != nil {
		t.Fatalf("TryAcquire() after release error = %v", err)
	}
}
