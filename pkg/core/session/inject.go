package session

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"sync"
)

// Injector deduplicates and queues out-of-band context text for delivery into
// the live conversation. Delivered content goes out as a silent system-role
// item that must not itself trigger a response.
type Injector struct {
	logger *slog.Logger

	// ready answers whether the transport can carry the item right now.
	ready func() bool

	// send delivers one silent system item.
	send func(ctx context.Context, text string) error

	mu         sync.Mutex
	lastHash   [sha256.Size]byte
	hasLast    bool
	pending    string
	hasPending bool
}

// NewInjector wires an injector to a readiness probe and a delivery function.
func NewInjector(ready func() bool, send func(ctx context.Context, text string) error, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{logger: logger, ready: ready, send: send}
}

// Inject delivers text into the conversation, returning whether it was
// delivered. While the transport is not ready the text is held as the sole
// pending item, superseding any previous one; delivery retries automatically
// the moment the transport becomes ready. Re-injecting content identical to
// the last delivered item reports true without sending again.
func (i *Injector) Inject(ctx context.Context, text string) bool {
	if i.ready == nil || !i.ready() {
		i.mu.Lock()
		i.pending = text
		i.hasPending = true
		i.mu.Unlock()
		i.logger.Debug("context injection queued, transport not ready")
		return false
	}
	return i.deliver(ctx, text)
}

// OnTransportReady replays the pending item, if any. Call whenever the
// session reaches the ready state, including after recovery replacement.
func (i *Injector) OnTransportReady(ctx context.Context) {
	i.mu.Lock()
	if !i.hasPending {
		i.mu.Unlock()
		return
	}
	text := i.pending
	i.pending = ""
	i.hasPending = false
	i.mu.Unlock()

	if !i.deliver(ctx, text) {
		// Delivery failed against a nominally-ready transport; requeue so
		// the next ready edge retries, unless newer content superseded it.
		i.mu.Lock()
		if !i.hasPending {
			i.pending = text
			i.hasPending = true
		}
		i.mu.Unlock()
	}
}

// Pending reports whether an item is queued awaiting a ready transport.
func (i *Injector) Pending() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.hasPending
}

// Reset clears the pending item and the delivered-content hash.
func (i *Injector) Reset() {
	i.mu.Lock()
	i.pending = ""
	i.hasPending = false
	i.hasLast = false
	i.mu.Unlock()
}

func (i *Injector) deliver(ctx context.Context, text string) bool {
	hash := sha256.Sum256([]byte(text))

	i.mu.Lock()
	if i.hasLast && hash == i.lastHash {
		i.mu.Unlock()
		return true
	}
	i.mu.Unlock()

	if i.send == nil {
		return false
	}
	if err := i.send(ctx, text); err != nil {
		i.logger.Warn("context injection failed", "err", err)
		return false
	}

	i.mu.Lock()
	i.lastHash = hash
	i.hasLast = true
	i.mu.Unlock()
	return true
}
