package joblog_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/neurobench/runtime/internal/joblog"
)

func TestPushEvictsOldestByLineCount(t *testing.T) {
	r := joblog.New(3, 0)
	r.Push("a")
	r.Push("b")
	r.Push("c")
	r.Push("d")

	if got, want := r.Len(), 3; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got, want := r.GetLines(nil), []string{"b", "c", "d"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("GetLines(nil) = %v, want %v", got, want)
	}
}

func TestPushEvictsOldestByByteCap(t *testing.T) {
	r := joblog.New(0, 10)
	r.Push("12345")
	r.Push("12345")
	r.Push("12345")

	if got := r.Bytes(); got > 10 {
		t.Fatalf("Bytes() = %d, want <= 10", got)
	}
	if got, want := r.GetLines(nil), []string{"12345", "12345"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("GetLines(nil) = %v, want %v", got, want)
	}
}

func TestPushNeverTruncatesAnOverlongLine(t *testing.T) {
	r := joblog.New(0, 4)
	long := strings.Repeat("x", 100)
	r.Push(long)

	if got, want := r.Len(), 1; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got := r.GetLines(nil)[0]; got != long {
		t.Fatalf("GetLines(nil)[0] = %q, want the untruncated line", got)
	}
}

func TestGetLinesLastN(t *testing.T) {
	r := joblog.New(0, 0)
	for _, l := range []string{"1", "2", "3", "4", "5"} {
		r.Push(l)
	}

	n := 2
	if got, want := r.GetLines(&n), []string{"4", "5"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("GetLines(&2) = %v, want %v", got, want)
	}
}

func TestGetLinesInsertionOrderPreserved(t *testing.T) {
	r := joblog.New(100, 0)
	want := []string{"one", "two", "three"}
	for _, l := range want {
		r.Push(l)
	}
	if got := r.GetLines(nil); !reflect.DeepEqual(got, want) {
		t.Fatalf("GetLines(nil) = %v, want %v", got, want)
	}
}
