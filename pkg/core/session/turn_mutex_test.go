package session

import (
	"context"
	"testing"
	"time"
)

func TestTurnMutexImmediateAcquire(t *testing.T) {
	m := NewTurnMutex()
	if !m.TryAcquire(context.Background(), 0) {
		t.Fatal("expected immediate acquire on a free mutex")
	}
	if !m.Held() {
		t.Fatal("expected Held after acquire")
	}
	m.Release()
	if m.Held() {
		t.Fatal("expected not held after release")
	}
}

func TestTurnMutexBoundedWaitTimesOut(t *testing.T) {
	m := NewTurnMutex()
	if !m.TryAcquire(context.Background(), 0) {
		t.Fatal("setup acquire failed")
	}

	start := time.Now()
	if m.TryAcquire(context.Background(), 50*time.Millisecond) {
		t.Fatal("expected bounded acquire to fail while held")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("bounded acquire returned too early: %v", elapsed)
	}
}

func TestTurnMutexBoundedWaitSucceedsOnRelease(t *testing.T) {
	m := NewTurnMutex()
	if !m.TryAcquire(context.Background(), 0) {
		t.Fatal("setup acquire failed")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Release()
	}()

	if !m.TryAcquire(context.Background(), 500*time.Millisecond) {
		t.Fatal("expected acquire to succeed once the holder released")
	}
}

func TestTurnMutexDoubleReleaseIsSafe(t *testing.T) {
	m := NewTurnMutex()
	m.Release()
	m.Release()
	if !m.TryAcquire(context.Background(), 0) {
		t.Fatal("mutex should still be acquirable after spurious releases")
	}
	m.Release()
	m.Release()
}

func TestTurnMutexAcquireHonorsContext(t *testing.T) {
	m := NewTurnMutex()
	if !m.TryAcquire(context.Background(), 0) {
		t.Fatal("setup acquire failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if m.Acquire(ctx) {
		t.Fatal("expected Acquire to fail when the context is canceled")
	}
}
