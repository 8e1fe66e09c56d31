// Package cancel provides a one-way cancellation latch: cheap to clone, and
// safe to poll from many goroutines without locking.
package cancel

import "sync/atomic"

// Token is a one-way cancellation latch. Once Cancel is called on a Token
// made by New (or a clone of one), IsCancelled returns true forever. The
// zero value has no underlying flag: Cancel on it does nothing and
// IsCancelled always reports false, so New is the way to get a usable token.
//
// A Token is a thin handle around a shared flag: Clone returns a handle
// sharing the same underlying state, so cancelling one clone cancels all of
// them.
type Token struct {
	flag *atomic.Bool
}

// New returns a fresh, not-yet-cancelled Token.
func New() Token {
	return Token{flag: &atomic.Bool{}}
}

// Cancel sets the latch. Safe to call more than once, from any goroutine.
func (t Token) Cancel() {
	if t.flag == nil {
		return
	}
	t.flag.Store(true)
}

// IsCancelled reports whether Cancel has ever been called on this Token or
// any of its clones.
func (t Token) IsCancelled() bool {
	if t.flag == nil {
		return false
	}
	return t.flag.Load()
}

// Clone returns a handle sharing this Token's underlying state.
func (t Token) Clone() Token {
	return t
}
