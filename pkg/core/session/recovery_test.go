package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePlan struct {
	teardowns  int
	resets     int
	reconnects int

	resetErr     error
	reconnectErr error
}

func (p *fakePlan) Teardown() { p.teardowns++ }

func (p *fakePlan) ResetBackend(context.Context) error {
	p.resets++
	return p.resetErr
}

func (p *fakePlan) Reconnect(context.Context) error {
	p.reconnects++
	return p.reconnectErr
}

func fastRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxAttempts:     3,
		AttemptCooldown: time.Millisecond,
		SuccessReset:    time.Minute,
		ExhaustedReset:  time.Minute,
	}
}

func TestRecoverySuccessRunsFullPlan(t *testing.T) {
	plan := &fakePlan{}
	r := NewRecoveryController(fastRecoveryConfig(), plan, nil)

	if !r.TriggerRecoveryIfNeeded(context.Background()) {
		t.Fatal("expected recovery to succeed")
	}
	if plan.teardowns != 1 || plan.resets != 1 || plan.reconnects != 1 {
		t.Fatalf("plan steps = %d/%d/%d, want 1/1/1",
			plan.teardowns, plan.resets, plan.reconnects)
	}
	if r.Attempts() != 0 {
		t.Fatalf("successful recovery must not count as a failed attempt, got %d", r.Attempts())
	}
}

func TestRecoveryResetFailureIsNotFatal(t *testing.T) {
	plan := &fakePlan{resetErr: errors.New("coordinator unreachable")}
	r := NewRecoveryController(fastRecoveryConfig(), plan, nil)

	if !r.TriggerRecoveryIfNeeded(context.Background()) {
		t.Fatal("a reset failure alone must not fail the attempt")
	}
	if plan.reconnects != 1 {
		t.Fatalf("reconnect should still run, got %d", plan.reconnects)
	}
}

func TestRecoveryExhaustionStopsRunningThePlan(t *testing.T) {
	plan := &fakePlan{reconnectErr: errors.New("dial refused")}
	r := NewRecoveryController(fastRecoveryConfig(), plan, nil)

	exhausted := 0
	r.OnExhausted(func() { exhausted++ })

	for i := 0; i < 3; i++ {
		if r.TriggerRecoveryIfNeeded(context.Background()) {
			t.Fatalf("attempt %d unexpectedly succeeded", i)
		}
	}
	if exhausted != 1 {
		t.Fatalf("exhausted callback fired %d times, want 1", exhausted)
	}
	if r.Attempts() != 3 {
		t.Fatalf("attempts = %d, want 3", r.Attempts())
	}

	// While exhausted, triggers must short-circuit without touching the plan.
	before := plan.reconnects
	if r.TriggerRecoveryIfNeeded(context.Background()) {
		t.Fatal("exhausted trigger must return false")
	}
	if plan.reconnects != before {
		t.Fatal("exhausted trigger must not run the plan")
	}
}

func TestRecoveryExhaustedWindowElapses(t *testing.T) {
	plan := &fakePlan{reconnectErr: errors.New("dial refused")}
	r := NewRecoveryController(fastRecoveryConfig(), plan, nil)

	base := time.Now()
	r.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		r.TriggerRecoveryIfNeeded(context.Background())
	}
	before := plan.reconnects

	// Still inside the exhausted window: no plan activity.
	r.now = func() time.Time { return base.Add(30 * time.Second) }
	r.TriggerRecoveryIfNeeded(context.Background())
	if plan.reconnects != before {
		t.Fatal("trigger inside the exhausted window must not run the plan")
	}

	// Past the window the budget resets and attempts resume.
	plan.reconnectErr = nil
	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	if !r.TriggerRecoveryIfNeeded(context.Background()) {
		t.Fatal("expected recovery to resume after the exhausted window")
	}
}

func TestRecoverySuccessWindowClearsBudget(t *testing.T) {
	plan := &fakePlan{reconnectErr: errors.New("dial refused")}
	r := NewRecoveryController(fastRecoveryConfig(), plan, nil)

	base := time.Now()
	r.now = func() time.Time { return base }

	r.TriggerRecoveryIfNeeded(context.Background())
	r.TriggerRecoveryIfNeeded(context.Background())
	if r.Attempts() != 2 {
		t.Fatalf("attempts = %d, want 2", r.Attempts())
	}

	plan.reconnectErr = nil
	if !r.TriggerRecoveryIfNeeded(context.Background()) {
		t.Fatal("expected success")
	}

	// Long after the success the old failures are forgotten.
	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	plan.reconnectErr = errors.New("dial refused")
	r.TriggerRecoveryIfNeeded(context.Background())
	if r.Attempts() != 1 {
		t.Fatalf("attempts after stable window = %d, want 1", r.Attempts())
	}
}

func TestRecoveryCanceledContextDoesNotBurnAnAttempt(t *testing.T) {
	plan := &fakePlan{}
	r := NewRecoveryController(fastRecoveryConfig(), plan, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r.TriggerRecoveryIfNeeded(ctx) {
		t.Fatal("canceled context must not succeed")
	}
	if r.Attempts() != 0 {
		t.Fatalf("canceled context burned an attempt: %d", r.Attempts())
	}
}
