// Package cancel implements version-based cancellation for search and scan work.
//
// A Registry owns a single version cell. Issuing a token stores a new version
// into the cell, which implicitly cancels every token issued before it. Tokens
// are polled, never waited on: there is no notion of a deadline.
package cancel

import (
	"errors"
	"sync/atomic"
)

// ErrCancelled reports that an operation stopped because a newer request
// superseded it. It is a normal outcome, not a failure.
var ErrCancelled = errors.New("operation cancelled by a newer request")

// IdleVersion is the initial value of a registry's cell. It means no request
// is live.
const IdleVersion uint64 = 0

// Registry is the shared active-version cell. The zero value is ready to use.
// Pass it explicitly to whatever issues or checks tokens.
type Registry struct {
	active atomic.Uint64
}

// NewRegistry creates a registry in the idle state.
func NewRegistry() *Registry {
	return &Registry{}
}

// Issue makes version the active one and returns a token bound to it.
// Every token issued with a different version is cancelled from now on.
//
// The active version only moves forward. Issuing a version lower than the
// active one changes nothing and returns a token that is already cancelled.
// Use Next when no external version source exists.
func (r *Registry) Issue(version uint64) Token {
	for {
		cur := r.active.Load()
		if version <= cur || r.active.CompareAndSwap(cur, version) {
			break
		}
	}
	return Token{active: &r.active, version: version}
}

// Next atomically advances the active version by one and returns a token for
// it. Concurrent callers each get a distinct version and only the last one
// to run stays live.
func (r *Registry) Next() Token {
	version := r.active.Add(1)
	return Token{active: &r.active, version: version}
}

// Active returns the version currently considered live.
func (r *Registry) Active() uint64 {
	return r.active.Load()
}

// Token is a versioned capability polled by long-running work.
// Tokens are small values; copy them freely.
type Token struct {
	active  *atomic.Uint64
	version uint64
}

// Noop returns a token that can never be cancelled. It is bound to a private
// cell nobody else can reach, for background maintenance work.
func Noop() Token {
	return Token{active: new(atomic.Uint64), version: IdleVersion}
}

// Version returns the version the token was issued with.
func (t Token) Version() uint64 {
	return t.version
}

// IsCancelled reports whether a newer version has been issued since this
// token. It never blocks. A zero Token is treated as a no-op token.
func (t Token) IsCancelled() bool {
	if t.active == nil {
		return false
	}
	return t.active.Load() != t.version
}

// Err returns ErrCancelled once the token is cancelled and nil before.
func (t Token) Err() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// IsCancelled reports whether err is (or wraps) ErrCancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
