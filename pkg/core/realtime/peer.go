package realtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// PeerConfig tunes the WebRTC transport.
type PeerConfig struct {
	// SDPURL is the endpoint that exchanges an SDP offer for an answer,
	// e.g. https://host/realtime?model=...
	SDPURL string

	ICEServers []webrtc.ICEServer

	HTTPClient *http.Client

	// ConnectTimeout bounds the wait for the data channel to open. Default 10s.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// PeerTransport carries the event stream over a WebRTC data channel, with the
// speech audio riding the peer connection's media tracks. Unlike the
// websocket transport it has a real media layer: the ICE connection state.
type PeerTransport struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	logger *slog.Logger

	events chan Event
	frames chan []byte

	mu     sync.Mutex
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// DialPeer negotiates a WebRTC transport using the grant's ephemeral
// credential: it creates the peer connection and data channel, posts the SDP
// offer, applies the answer, and waits for the channel to open.
func DialPeer(ctx context.Context, grant *Grant, cfg PeerConfig) (*PeerTransport, error) {
	if grant == nil || grant.ClientSecret == "" {
		return nil, fmt.Errorf("realtime: dial requires a grant with a client secret")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("realtime: new peer connection: %w", err)
	}

	t := &PeerTransport{
		pc:     pc,
		logger: logger,
		events: make(chan Event, 64),
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go t.decodeLoop()

	// Receive-only audio: the model's speech arrives on this track.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: add audio transceiver: %w", err)
	}

	dc, err := pc.CreateDataChannel("events", nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: create data channel: %w", err)
	}
	t.dc = dc

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { t.onFrame(msg.Data) })
	dc.OnClose(func() { t.shutdown() })

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.shutdown()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: no local description after ICE gathering")
	}

	answerSDP, err := exchangeSDP(ctx, cfg, grant, local.SDP)
	if err != nil {
		pc.Close()
		return nil, err
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("realtime: set remote description: %w", err)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	select {
	case <-opened:
	case <-time.After(connectTimeout):
		pc.Close()
		return nil, fmt.Errorf("realtime: data channel did not open within %s", connectTimeout)
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	return t, nil
}

func exchangeSDP(ctx context.Context, cfg PeerConfig, grant *Grant, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.SDPURL, bytes.NewReader([]byte(offerSDP)))
	if err != nil {
		return "", fmt.Errorf("realtime: build sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+grant.ClientSecret)
	req.Header.Set("Content-Type", "application/sdp")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("realtime: sdp exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("realtime: read sdp answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("realtime: sdp exchange failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", fmt.Errorf("realtime: empty sdp answer")
	}
	return string(body), nil
}

func (t *PeerTransport) onFrame(data []byte) {
	frame := append([]byte(nil), data...)
	select {
	case t.frames <- frame:
	case <-t.done:
	}
}

// decodeLoop is the sole owner of the events channel; it closes it once the
// transport is done so consumers observe a clean end of stream.
func (t *PeerTransport) decodeLoop() {
	defer close(t.events)
	for {
		select {
		case <-t.done:
			return
		case frame := <-t.frames:
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
}

// Send implements Transport.
func (t *PeerTransport) Send(ctx context.Context, cmd Command) error {
	if !t.Health().Healthy() {
		return ErrNotReady
	}
	frame, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return t.dc.SendText(string(frame))
}

// Events implements Transport.
func (t *PeerTransport) Events() <-chan Event { return t.events }

// Health implements Transport. The signaling layer maps from the peer
// connection state and the media layer from the ICE connection state; both
// must be connected for the transport to count as healthy.
func (t *PeerTransport) Health() Health {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return Health{Signaling: SignalingClosed, Media: MediaClosed}
	}

	h := Health{}
	switch t.pc.ConnectionState() {
	case webrtc.PeerConnectionStateNew:
		h.Signaling = SignalingNew
	case webrtc.PeerConnectionStateConnecting:
		h.Signaling = SignalingConnecting
	case webrtc.PeerConnectionStateConnected:
		h.Signaling = SignalingConnected
	case webrtc.PeerConnectionStateDisconnected:
		h.Signaling = SignalingDisconnected
	case webrtc.PeerConnectionStateFailed:
		h.Signaling = SignalingFailed
	default:
		h.Signaling = SignalingClosed
	}
	switch t.pc.ICEConnectionState() {
	case webrtc.ICEConnectionStateNew:
		h.Media = MediaNew
	case webrtc.ICEConnectionStateChecking:
		h.Media = MediaChecking
	case webrtc.ICEConnectionStateConnected:
		h.Media = MediaConnected
	case webrtc.ICEConnectionStateCompleted:
		h.Media = MediaCompleted
	case webrtc.ICEConnectionStateDisconnected:
		h.Media = MediaDisconnected
	case webrtc.ICEConnectionStateFailed:
		h.Media = MediaFailed
	default:
		h.Media = MediaClosed
	}
	return h
}

func (t *PeerTransport) shutdown() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
	})
}

// Close implements Transport.
func (t *PeerTransport) Close() error {
	t.shutdown()
	return t.pc.Close()
}
