package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/visage-live/visage/pkg/coordinator/config"
	"github.com/visage-live/visage/pkg/coordinator/hub"
	"github.com/visage-live/visage/pkg/coordinator/metrics"
	"github.com/visage-live/visage/pkg/core/realtime"
	"github.com/visage-live/visage/pkg/core/session"
)

// Manager owns one orchestrated speech session per logical session id. All
// session events are published into the hub tagged with the owning id, so a
// replaced or stale session can never leak events across logical boundaries.
type Manager struct {
	cfg        config.Config
	hub        *hub.Hub
	metrics    *metrics.Metrics
	logger     *slog.Logger
	negotiator *realtime.Negotiator
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[string]*managed
	closed   bool
}

type managed struct {
	id           string
	sess         *session.Session
	lastActive   time.Time
	cancelHealth context.CancelFunc
}

// NewManager wires a manager over the hub.
func NewManager(cfg config.Config, h *hub.Hub, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return &Manager{
		cfg:     cfg,
		hub:     h,
		metrics: m,
		logger:  logger,
		negotiator: &realtime.Negotiator{
			BaseURL:    cfg.SpeechBaseURL,
			APIKey:     cfg.SpeechAPIKey,
			HTTPClient: httpClient,
		},
		httpClient: httpClient,
		sessions:   make(map[string]*managed),
	}
}

// get returns the managed session for an id, creating it on first use.
func (m *Manager) get(id string) (*managed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("sessions: manager closed")
	}
	if entry, ok := m.sessions[id]; ok {
		entry.lastActive = time.Now()
		return entry, nil
	}

	sess, err := m.buildSession(id)
	if err != nil {
		return nil, err
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	go sess.Recovery().HealthLoop(healthCtx, m.cfg.HealthPollInterval, m.cfg.DisableHealthPoll, sess.Health)

	entry := &managed{
		id:           id,
		sess:         sess,
		lastActive:   time.Now(),
		cancelHealth: cancel,
	}
	m.sessions[id] = entry
	m.hub.Touch(id)
	return entry, nil
}

func (m *Manager) buildSession(id string) (*session.Session, error) {
	logger := m.logger.With("logical_session", id)

	deps := session.Deps{
		Negotiate: func(ctx context.Context) (*realtime.Grant, error) {
			return m.negotiator.Negotiate(ctx, realtime.NegotiateRequest{
				Model:              m.cfg.Model,
				Voice:              m.cfg.Voice,
				Instructions:       m.instructionsFor(id),
				TranscriptionModel: m.cfg.TranscriptionModel,
				TurnDetection: &realtime.TurnDetection{
					Type:           "server_vad",
					CreateResponse: false,
				},
			})
		},
		Dial:        m.dialFunc(logger),
		Coordinator: &hubCoordinator{hub: m.hub, id: id},
		Logger:      logger,
		Callbacks: session.Callbacks{
			OnInitChange: func(st session.InitState, progress int) {
				m.hub.Publish(id, "session.state", map[string]any{
					"state":    st.String(),
					"progress": progress,
				})
			},
			OnTurnChange: func(from, to session.TurnState) {
				if m.metrics != nil && from == session.TurnListening && to == session.TurnThinking {
					m.metrics.VoiceTurnsTotal.Inc()
				}
				m.hub.Publish(id, "turn.state", map[string]any{
					"from": from.String(),
					"to":   to.String(),
				})
			},
			OnAssistantText: func(delta string) {
				m.hub.Publish(id, "assistant.text", map[string]any{"delta": delta})
			},
			OnAssistantTranscript: func(delta string) {
				m.hub.Publish(id, "assistant.transcript", map[string]any{"delta": delta})
			},
			OnAssistantAudio: func(pcm []byte) {
				// []byte marshals as base64 on the wire.
				m.hub.Publish(id, "assistant.audio", map[string]any{"pcm": pcm})
			},
			OnTerminalFailure: func() {
				if m.metrics != nil {
					m.metrics.RecoveryExhaustedTotal.Inc()
				}
				m.hub.Publish(id, "session.failed", map[string]any{
					"reason": "recovery_exhausted",
				})
			},
		},
	}

	sess, err := session.NewSession(m.cfg.SessionConfig(), deps)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		sess.Recovery().OnResult(func(ok bool) {
			outcome := "failed"
			if ok {
				outcome = "succeeded"
			}
			m.metrics.RecoveryAttemptsTotal.WithLabelValues(outcome).Inc()
		})
	}
	return sess, nil
}

func (m *Manager) dialFunc(logger *slog.Logger) session.DialFunc {
	switch m.cfg.Transport {
	case config.TransportWebRTC:
		return func(ctx context.Context, grant *realtime.Grant) (realtime.Transport, error) {
			return realtime.DialPeer(ctx, grant, realtime.PeerConfig{
				SDPURL:     m.cfg.SpeechSDPURL,
				HTTPClient: m.httpClient,
				Logger:     logger,
			})
		}
	default:
		return func(ctx context.Context, grant *realtime.Grant) (realtime.Transport, error) {
			return realtime.DialWS(ctx, grant, realtime.WSConfig{
				URL:    m.cfg.SpeechWSURL,
				Logger: logger,
			})
		}
	}
}

// instructionsFor layers stored per-session base instructions over the
// configured default.
func (m *Manager) instructionsFor(id string) string {
	if base := m.hub.BaseInstructions(id); base != "" {
		return base
	}
	return m.cfg.Instructions
}

// hubCoordinator is the out-of-band path handed to each core session:
// fallback text is published to the session's own event stream and resets
// clear the session's hub storage.
type hubCoordinator struct {
	hub *hub.Hub
	id  string
}

func (c *hubCoordinator) DeliverText(_ context.Context, text string) error {
	c.hub.Publish(c.id, "turn.fallback_text", map[string]any{"text": text})
	return nil
}

func (c *hubCoordinator) ResetSession(context.Context) error {
	c.hub.Reset(c.id)
	return nil
}

// Connect opens (or reopens) the speech session for a logical id.
func (m *Manager) Connect(ctx context.Context, id string) error {
	entry, err := m.get(id)
	if err != nil {
		return err
	}
	return entry.sess.Connect(ctx)
}

// SubmitText runs a verified text turn, reporting whether it completed over
// the realtime transport.
func (m *Manager) SubmitText(ctx context.Context, id, text string) (bool, error) {
	entry, err := m.get(id)
	if err != nil {
		return false, err
	}
	ok := entry.sess.SubmitText(ctx, text)
	if m.metrics != nil {
		outcome := "fallback"
		if ok {
			outcome = "verified"
		}
		m.metrics.TextTurnsTotal.WithLabelValues(outcome).Inc()
	}
	return ok, nil
}

// ConnectionReady records that the client's playback path is up, replaying
// any queued context injection.
func (m *Manager) ConnectionReady(ctx context.Context, id string) error {
	entry, err := m.get(id)
	if err != nil {
		return err
	}
	entry.sess.Injector().OnTransportReady(ctx)
	m.hub.Touch(id)
	return nil
}

// Interrupt cancels the in-flight response, if any.
func (m *Manager) Interrupt(ctx context.Context, id string) error {
	entry, err := m.get(id)
	if err != nil {
		return err
	}
	return entry.sess.CancelResponse(ctx)
}

// InjectContext stores external context for the session and attempts
// immediate delivery into the live conversation.
func (m *Manager) InjectContext(ctx context.Context, id, content string) (hub.ContextStatus, error) {
	m.hub.SetExternalContext(id, content)

	entry, err := m.get(id)
	if err != nil {
		return hub.ContextStatus{}, err
	}
	delivered := entry.sess.Inject(ctx, content)
	if delivered {
		m.hub.MarkInjected(id)
	}
	if m.metrics != nil {
		outcome := "queued"
		if delivered {
			outcome = "delivered"
		}
		m.metrics.InjectionsTotal.WithLabelValues(outcome).Inc()
	}
	return m.hub.ContextStatus(id), nil
}

// ContextStatus reports the stored-context state for a session.
func (m *Manager) ContextStatus(id string) hub.ContextStatus {
	return m.hub.ContextStatus(id)
}

// Reset clears the session's stored state and injection history. The live
// transport survives; a reset is about conversation context, not connectivity.
func (m *Manager) Reset(_ context.Context, id string) {
	m.hub.Reset(id)
	m.mu.Lock()
	entry := m.sessions[id]
	m.mu.Unlock()
	if entry != nil {
		entry.sess.Injector().Reset()
	}
}

// ReapIdle shuts down sessions whose logical slots the hub reaped.
func (m *Manager) ReapIdle(maxIdle time.Duration) {
	for _, id := range m.hub.ReapIdle(maxIdle) {
		m.mu.Lock()
		entry := m.sessions[id]
		delete(m.sessions, id)
		m.mu.Unlock()
		if entry != nil {
			entry.cancelHealth()
			_ = entry.sess.Close()
		}
	}
}

// StartReaper runs periodic idle reaping until the context ends.
func (m *Manager) StartReaper(ctx context.Context) {
	if m.cfg.ReapInterval <= 0 || m.cfg.SessionIdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(m.cfg.SessionIdleTimeout)
		}
	}
}

// Close shuts down every managed session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	entries := make([]*managed, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	for _, e := range entries {
		e.cancelHealth()
		_ = e.sess.Close()
	}
}
