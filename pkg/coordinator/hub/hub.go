package hub

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/visage-live/visage/pkg/coordinator/metrics"
)

// Envelope is one event as delivered to a subscribed client. Every event
// published for a logical session carries that session's id; clients on the
// legacy untagged stream receive envelopes without one.
type Envelope struct {
	SessionID string `json:"session_id,omitempty"`
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
}

// ContextStatus describes the external context stored for a logical session.
type ContextStatus struct {
	HasContext bool      `json:"has_context"`
	Hash       string    `json:"hash,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	Injected   bool      `json:"injected"`
}

type subscriber struct {
	ch chan Envelope

	// closed is guarded by the hub mutex; both the slow-client drop path
	// and Subscription.Close can race to close ch.
	closed bool
}

func (s *subscriber) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// logicalSession is the per-session slot: its subscribers plus the storage
// that must never bleed into another session.
type logicalSession struct {
	id         string
	created    time.Time
	lastActive time.Time
	subs       []*subscriber

	externalContext  string
	contextHash      string
	contextUpdated   time.Time
	contextInjected  bool
	baseInstructions string
}

// Hub fans events out to event-stream clients, keyed by logical session id.
// Tagged events reach only subscribers of the matching session, so
// cross-session delivery is structurally impossible, not merely filtered.
// Untagged events are global and reach everyone.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	buffer  int

	mu       sync.Mutex
	sessions map[string]*logicalSession
	legacy   []*subscriber
}

// New creates a hub. buffer is the per-client channel depth; a client that
// falls that far behind is disconnected rather than allowed to stall the
// publisher.
func New(buffer int, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		metrics:  m,
		buffer:   buffer,
		sessions: make(map[string]*logicalSession),
	}
}

// Subscription is one client's live event feed.
type Subscription struct {
	C      <-chan Envelope
	cancel func()
}

// Close detaches the client and closes its channel.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe attaches a client to a logical session's stream, or to the
// legacy untagged stream when sessionID is empty.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &subscriber{ch: make(chan Envelope, h.buffer)}

	h.mu.Lock()
	if sessionID == "" {
		h.legacy = append(h.legacy, sub)
	} else {
		ls := h.ensureLocked(sessionID)
		ls.subs = append(ls.subs, sub)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SSEClientsActive.Inc()
	}

	var once sync.Once
	return &Subscription{
		C: sub.ch,
		cancel: func() {
			once.Do(func() { h.detach(sessionID, sub) })
		},
	}
}

func (h *Hub) detach(sessionID string, sub *subscriber) {
	h.mu.Lock()
	wasClosed := sub.closed
	if sessionID == "" {
		h.legacy = without(h.legacy, sub)
	} else if ls, ok := h.sessions[sessionID]; ok {
		ls.subs = without(ls.subs, sub)
	}
	sub.closeLocked()
	h.mu.Unlock()

	// The slow-client drop path already decremented for us.
	if !wasClosed && h.metrics != nil {
		h.metrics.SSEClientsActive.Dec()
	}
}

func without(subs []*subscriber, drop *subscriber) []*subscriber {
	out := subs[:0]
	for _, s := range subs {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers one event. A non-empty sessionID restricts delivery to
// that session's subscribers; an untagged event is global and goes to every
// subscriber, legacy and session-tagged alike.
func (h *Hub) Publish(sessionID, event string, data any) {
	if h.metrics != nil {
		h.metrics.EventsTotal.WithLabelValues(event).Inc()
	}
	env := Envelope{SessionID: sessionID, Event: event, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionID == "" {
		h.legacy = h.deliverLocked(h.legacy, env)
		for _, ls := range h.sessions {
			ls.subs = h.deliverLocked(ls.subs, env)
		}
		return
	}

	ls, ok := h.sessions[sessionID]
	if !ok || len(ls.subs) == 0 {
		if h.metrics != nil {
			h.metrics.EventsDroppedTotal.WithLabelValues("no_subscriber").Inc()
		}
		return
	}
	ls.lastActive = time.Now()
	ls.subs = h.deliverLocked(ls.subs, env)
}

// deliverLocked pushes the envelope to every subscriber, rebuilding the
// slice without clients whose buffers are full. A stalled client loses its
// stream instead of backing up every other client on the session.
func (h *Hub) deliverLocked(subs []*subscriber, env Envelope) []*subscriber {
	alive := subs[:0]
	for _, sub := range subs {
		select {
		case sub.ch <- env:
			alive = append(alive, sub)
		default:
			sub.closeLocked()
			if h.metrics != nil {
				h.metrics.EventsDroppedTotal.WithLabelValues("slow_client").Inc()
				h.metrics.SSEClientsActive.Dec()
			}
			h.logger.Warn("dropping slow event-stream client", "session_id", env.SessionID)
		}
	}
	// Zero the tail so dropped subscribers do not linger in the backing array.
	for i := len(alive); i < len(subs); i++ {
		subs[i] = nil
	}
	return alive
}

func (h *Hub) ensureLocked(sessionID string) *logicalSession {
	ls, ok := h.sessions[sessionID]
	if !ok {
		ls = &logicalSession{
			id:         sessionID,
			created:    time.Now(),
			lastActive: time.Now(),
		}
		h.sessions[sessionID] = ls
		if h.metrics != nil {
			h.metrics.SessionsActive.Inc()
		}
	}
	return ls
}

// Touch marks a logical session active, creating its slot if needed.
func (h *Hub) Touch(sessionID string) {
	if sessionID == "" {
		return
	}
	h.mu.Lock()
	h.ensureLocked(sessionID).lastActive = time.Now()
	h.mu.Unlock()
}

// SetExternalContext stores context content for a session and returns its
// content hash.
func (h *Hub) SetExternalContext(sessionID, content string) string {
	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])

	h.mu.Lock()
	ls := h.ensureLocked(sessionID)
	ls.externalContext = content
	ls.contextHash = hash
	ls.contextUpdated = time.Now()
	ls.contextInjected = false
	ls.lastActive = time.Now()
	h.mu.Unlock()
	return hash
}

// ExternalContext returns the stored context content for a session.
func (h *Hub) ExternalContext(sessionID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ls, ok := h.sessions[sessionID]
	if !ok || ls.contextHash == "" {
		return "", false
	}
	return ls.externalContext, true
}

// ContextStatus reports whether context is stored and whether it has been
// injected into the live conversation.
func (h *Hub) ContextStatus(sessionID string) ContextStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	ls, ok := h.sessions[sessionID]
	if !ok || ls.contextHash == "" {
		return ContextStatus{}
	}
	return ContextStatus{
		HasContext: true,
		Hash:       ls.contextHash,
		UpdatedAt:  ls.contextUpdated,
		Injected:   ls.contextInjected,
	}
}

// MarkInjected records that the stored context reached the conversation.
func (h *Hub) MarkInjected(sessionID string) {
	h.mu.Lock()
	if ls, ok := h.sessions[sessionID]; ok {
		ls.contextInjected = true
	}
	h.mu.Unlock()
}

// SetBaseInstructions stores the session's base instruction text.
func (h *Hub) SetBaseInstructions(sessionID, text string) {
	h.mu.Lock()
	h.ensureLocked(sessionID).baseInstructions = text
	h.mu.Unlock()
}

// BaseInstructions returns the session's base instruction text.
func (h *Hub) BaseInstructions(sessionID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ls, ok := h.sessions[sessionID]; ok {
		return ls.baseInstructions
	}
	return ""
}

// Reset clears a session's storage while leaving its subscribers attached.
func (h *Hub) Reset(sessionID string) {
	h.mu.Lock()
	if ls, ok := h.sessions[sessionID]; ok {
		ls.externalContext = ""
		ls.contextHash = ""
		ls.contextUpdated = time.Time{}
		ls.contextInjected = false
		ls.lastActive = time.Now()
	}
	h.mu.Unlock()
}

// SessionCount returns the number of resident logical sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// ReapIdle removes sessions with no subscribers that have been inactive for
// at least maxIdle, returning the removed ids.
func (h *Hub) ReapIdle(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)

	h.mu.Lock()
	var reaped []string
	var ages []time.Duration
	for id, ls := range h.sessions {
		if len(ls.subs) == 0 && ls.lastActive.Before(cutoff) {
			delete(h.sessions, id)
			reaped = append(reaped, id)
			ages = append(ages, time.Since(ls.created))
		}
	}
	h.mu.Unlock()

	for i, id := range reaped {
		h.logger.Info("reaped idle logical session", "session_id", id)
		if h.metrics != nil {
			h.metrics.SessionsActive.Dec()
			h.metrics.SessionsReaped.Inc()
			h.metrics.SessionDuration.Observe(ages[i].Seconds())
		}
	}
	return reaped
}
