package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/visage-live/visage/pkg/core/realtime"
)

// RecoveryPlan is what one recovery attempt executes, in order. Teardown and
// the backend reset tolerate failure; a Reconnect failure aborts the attempt.
type RecoveryPlan interface {
	// Teardown closes and nulls the existing transport and session
	// references and releases any audio graph resources.
	Teardown()

	// ResetBackend clears the coordinator's session-scoped storage.
	ResetBackend(ctx context.Context) error

	// Reconnect negotiates and opens a replacement session.
	Reconnect(ctx context.Context) error
}

// RecoveryController performs bounded-retry teardown/reconnect of a dead
// transport. It is idempotent and self-deduplicating: a call made while a
// recovery is already in flight is a no-op returning false.
type RecoveryController struct {
	cfg    RecoveryConfig
	plan   RecoveryPlan
	logger *slog.Logger

	// now is injectable for tests.
	now func() time.Time

	mu          sync.Mutex
	inFlight    bool
	attempts    int
	lastFailure time.Time
	exhaustedAt time.Time
	successAt   time.Time

	onExhausted func()
	onResult    func(ok bool)
}

// NewRecoveryController creates a controller over the given plan.
func NewRecoveryController(cfg RecoveryConfig, plan RecoveryPlan, logger *slog.Logger) *RecoveryController {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryController{
		cfg:    cfg.withDefaults(),
		plan:   plan,
		logger: logger,
		now:    time.Now,
	}
}

// OnExhausted registers the callback fired when the attempt cap is reached.
// This is the terminal, user-visible failure; everything before it should be
// invisible when recovery succeeds.
func (r *RecoveryController) OnExhausted(fn func()) {
	r.mu.Lock()
	r.onExhausted = fn
	r.mu.Unlock()
}

// OnResult registers an observer invoked with the outcome of every completed
// attempt. Attempts aborted by context cancellation are not reported.
func (r *RecoveryController) OnResult(fn func(ok bool)) {
	r.mu.Lock()
	r.onResult = fn
	r.mu.Unlock()
}

// Attempts returns the consecutive failed attempt count.
func (r *RecoveryController) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// TriggerRecoveryIfNeeded performs at most one recovery attempt. It returns
// true only when the attempt fully succeeded. Calls made while exhausted
// return false immediately, without running any plan step, until the
// exhausted cooldown elapses. Calls made sooner than the attempt cooldown
// after a failure first wait out the remainder.
func (r *RecoveryController) TriggerRecoveryIfNeeded(ctx context.Context) bool {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return false
	}
	now := r.now()

	// A success long enough ago clears the budget so one old incident does
	// not penalize the next transient failure.
	if !r.successAt.IsZero() && now.Sub(r.successAt) >= r.cfg.SuccessReset {
		r.attempts = 0
		r.successAt = time.Time{}
	}

	if !r.exhaustedAt.IsZero() {
		if now.Sub(r.exhaustedAt) < r.cfg.ExhaustedReset {
			r.mu.Unlock()
			return false
		}
		r.attempts = 0
		r.exhaustedAt = time.Time{}
	}

	var waitRemainder time.Duration
	if !r.lastFailure.IsZero() {
		if elapsed := now.Sub(r.lastFailure); elapsed < r.cfg.AttemptCooldown {
			waitRemainder = r.cfg.AttemptCooldown - elapsed
		}
	}

	r.inFlight = true
	r.mu.Unlock()

	ok := r.attempt(ctx, waitRemainder)

	r.mu.Lock()
	r.inFlight = false
	var exhausted func()
	observer := r.onResult
	if ctx.Err() != nil {
		observer = nil
	}
	if ok {
		r.successAt = r.now()
		r.lastFailure = time.Time{}
	} else if ctx.Err() == nil {
		r.attempts++
		r.lastFailure = r.now()
		if r.attempts >= r.cfg.MaxAttempts {
			r.exhaustedAt = r.now()
			exhausted = r.onExhausted
		}
	}
	r.mu.Unlock()

	if observer != nil {
		observer(ok)
	}
	if exhausted != nil {
		r.logger.Error("recovery budget exhausted", "attempts", r.cfg.MaxAttempts)
		exhausted()
	}
	return ok
}

func (r *RecoveryController) attempt(ctx context.Context, wait time.Duration) bool {
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false
		}
	}
	if ctx.Err() != nil {
		return false
	}

	r.plan.Teardown()

	if err := r.plan.ResetBackend(ctx); err != nil {
		// A reset failure alone does not doom the attempt; the replacement
		// session can still come up against stale coordinator state.
		r.logger.Warn("backend reset failed during recovery", "err", err)
	}

	if err := r.plan.Reconnect(ctx); err != nil {
		r.logger.Warn("reconnect failed during recovery", "err", err)
		return false
	}
	return true
}

// HealthLoop polls transport health and triggers recovery when it degrades.
// The loop is gate-able: when disabled it returns immediately, leaving
// on-error recovery as the only path in.
func (r *RecoveryController) HealthLoop(ctx context.Context, interval time.Duration, disabled bool, health func() realtime.Health) {
	if disabled || interval <= 0 || health == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !health().Healthy() {
				r.TriggerRecoveryIfNeeded(ctx)
			}
		}
	}
}
