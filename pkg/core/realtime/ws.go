package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig tunes the websocket transport.
type WSConfig struct {
	// URL is the realtime endpoint, e.g. wss://host/realtime?model=...
	URL string

	// HandshakeTimeout bounds the websocket dial. Default 5s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each outbound frame. Default 5s.
	WriteTimeout time.Duration

	// PingInterval paces keepalive pings. Default 20s.
	PingInterval time.Duration

	Logger *slog.Logger
}

// WSTransport carries the event stream over a single websocket. It satisfies
// Transport; the media layer reports "completed" for as long as the socket is
// open because a websocket has no separate media path.
type WSTransport struct {
	conn   *websocket.Conn
	cfg    WSConfig
	logger *slog.Logger

	events chan Event

	mu        sync.Mutex
	signaling SignalingState
	media     MediaState
	closed    bool

	writeMu sync.Mutex

	done chan struct{}
}

// DialWS opens a websocket transport using the grant's ephemeral credential.
func DialWS(ctx context.Context, grant *Grant, cfg WSConfig) (*WSTransport, error) {
	if grant == nil || grant.ClientSecret == "" {
		return nil, fmt.Errorf("realtime: dial requires a grant with a client secret")
	}

	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshake}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+grant.ClientSecret)

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", cfg.URL, err)
	}

	t := &WSTransport{
		conn:      conn,
		cfg:       cfg,
		logger:    logger,
		events:    make(chan Event, 64),
		signaling: SignalingConnected,
		media:     MediaCompleted,
		done:      make(chan struct{}),
	}

	go t.readLoop()
	go t.pingLoop()
	return t, nil
}

// Send implements Transport.
func (t *WSTransport) Send(ctx context.Context, cmd Command) error {
	if !t.Health().Healthy() {
		return ErrNotReady
	}

	frame, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	writeTimeout := t.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	deadline := time.Now().Add(writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.fail()
		return err
	}
	return nil
}

// Events implements Transport.
func (t *WSTransport) Events() <-chan Event { return t.events }

// Health implements Transport.
func (t *WSTransport) Health() Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Health{Signaling: t.signaling, Media: t.media}
}

// Close implements Transport.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.signaling = SignalingClosed
	t.media = MediaClosed
	t.mu.Unlock()

	close(t.done)

	t.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	t.writeMu.Unlock()

	return t.conn.Close()
}

func (t *WSTransport) fail() {
	t.mu.Lock()
	if !t.closed {
		t.signaling = SignalingFailed
		t.media = MediaFailed
	}
	t.mu.Unlock()
}

func (t *WSTransport) readLoop() {
	defer close(t.events)

	for {
		kind, frame, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Warn("realtime read failed", "err", err)
				t.fail()
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		evt, err := DecodeEvent(frame)
		if err != nil {
			t.logger.Warn("realtime event undecodable", "err", err)
			continue
		}

		select {
		case t.events <- evt:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) pingLoop() {
	interval := t.cfg.PingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			t.writeMu.Unlock()
			if err != nil {
				t.fail()
				return
			}
		}
	}
}
