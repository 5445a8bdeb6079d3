package session

import (
	"context"
	"time"
)

// TurnMutex serializes text-submitted turns against voice-activity turns on
// one shared transport. It is a logical lock: operations span multiple
// awaited transport round-trips during which other callbacks legally run, so
// the flag must outlive any single critical section.
type TurnMutex struct {
	ch chan struct{}
}

// NewTurnMutex creates an unlocked turn mutex.
func NewTurnMutex() *TurnMutex {
	m := &TurnMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// TryAcquire attempts to take the lock, waiting at most wait if it is already
// held. Returns false if the lock could not be taken in time; callers are
// expected to fall back to out-of-band delivery rather than block voice.
func (m *TurnMutex) TryAcquire(ctx context.Context, wait time.Duration) bool {
	select {
	case <-m.ch:
		return true
	default:
	}
	if wait <= 0 {
		return false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-m.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Acquire blocks until the lock is taken or the context ends. Used by
// voice-activity turns, which must wait for an in-flight text turn to finish
// before the model is allowed to auto-respond.
func (m *TurnMutex) Acquire(ctx context.Context) bool {
	select {
	case <-m.ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release returns the lock. Releasing an unheld lock is a no-op.
func (m *TurnMutex) Release() {
	select {
	case m.ch <- struct{}{}:
	default:
	}
}

// Held reports whether the lock is currently taken. Advisory only; the value
// may be stale by the time the caller acts on it.
func (m *TurnMutex) Held() bool {
	return len(m.ch) == 0
}
