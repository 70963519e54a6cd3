// Package gate provides a manual-reset event: a latch that any number of
// goroutines can wait on, that is released with a value or an error, and
// that can be re-armed for the next epoch.
//
// The session uses one gate for "authenticated" and one for "hub running".
// Both are reset on every disconnect and signalled again after the next
// handshake.
package gate

import (
	"context"
	"sync"
)

// epoch is one arm/release cycle. Waiters capture the epoch current at the
// time they start waiting and return that epoch's outcome, so a Reset that
// races with Signal never strands a waiter.
type epoch struct {
	done chan struct{}
	err  error
}

// Gate is a re-armable one-shot latch.
//
// Thread Safety: All methods are safe for concurrent use.
type Gate struct {
	mu  sync.Mutex
	cur *epoch
	set bool
}

// New returns an unset gate.
func New() *Gate {
	return &Gate{cur: &epoch{done: make(chan struct{})}}
}

// Signal releases all current and future waiters of this epoch with a nil error.
// Signalling an already released gate is a no-op.
func (g *Gate) Signal() {
	g.release(nil)
}

// SignalError releases all current and future waiters of this epoch with err.
func (g *Gate) SignalError(err error) {
	g.release(err)
}

func (g *Gate) release(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		return
	}
	g.set = true
	g.cur.err = err
	close(g.cur.done)
}

// Reset re-arms a released gate. Waiters arriving after Reset block until
// the next Signal or SignalError. Resetting an unset gate is a no-op, so
// goroutines already waiting keep waiting on the same epoch.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		return
	}
	g.set = false
	g.cur = &epoch{done: make(chan struct{})}
}

// Wait blocks until the gate is released or ctx ends.
// It returns the error passed to SignalError, or ctx.Err().
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	e := g.cur
	g.mu.Unlock()

	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsSet reports whether the gate is currently released without error.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set && g.cur.err == nil
}

// Done returns a channel closed when the current epoch is released.
func (g *Gate) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur.done
}
