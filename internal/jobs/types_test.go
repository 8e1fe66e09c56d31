package jobs_test

import (
	"testing"

	"github.com/neurobench/runtime/internal/jobs"
)

func TestHeaderOfTopLevelPayload(t *testing.T) {
	r := jobs.NewRecord(jobs.KindBuild, 0, 0)
	events, sink := collect()
	e := jobs.NewEmitter(r, sink)

	e.EmitLog("hello")

	hdr, ok := jobs.HeaderOf((*events)[0])
	if !ok || hdr.JobID != r.ID {
		t.Fatalf("HeaderOf() = (%+v, %t), want job id %s", hdr, ok, r.ID)
	}
}

func TestHeaderOfCustomPayload(t *testing.T) {
	r := jobs.NewRecord(jobs.KindRTT, 0, 0)
	events, sink := collect()
	e := jobs.NewEmitter(r, sink)

	e.EmitCustom("message", map[string]int{"count": 1})

	hdr, ok := jobs.HeaderOf((*events)[0])
	if !ok || hdr.JobID != r.ID {
		t.Fatalf("HeaderOf() = (%+v, %t), want job id %s", hdr, ok, r.ID)
	}
}
