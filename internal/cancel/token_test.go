package cancel_test

import (
	"sync"
	"testing"

	"github.com/neurobench/runtime/internal/cancel"
)

func TestTokenStartsNotCancelled(t *testing.T) {
	tok := cancel.New()
	if tok.IsCancelled() {
		t.Fatal("fresh Token reports IsCancelled() = true")
	}
}

func TestCancelIsStickyAndIdempotent(t *testing.T) {
	tok := cancel.New()
	tok.Cancel()
	tok.Cancel()

	if !tok.IsCancelled() {
		t.Fatal("IsCancelled() = false after Cancel()")
	}
}

func TestCloneSharesState(t *testing.T) {
	tok := cancel.New()
	clone := tok.Clone()

	clone.Cancel()

	if !tok.IsCancelled() {
		t.Fatal("cancelling a clone did not cancel the original")
	}
}

func TestConcurrentCancelIsRaceFree(t *testing.T) {
	tok := cancel.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Cancel()
		}()
	}
	wg.Wait()

	if !tok.IsCancelled() {
		t.Fatal("IsCancelled() = false after concurrent Cancel()")
	}
}
