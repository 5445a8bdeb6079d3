package realtime

import (
	"context"
	"errors"
)

// ErrNotReady is returned by Send when the transport cannot currently carry
// traffic.
var ErrNotReady = errors.New("realtime: transport not ready")

// SignalingState is the coarse connection state of a transport.
type SignalingState string

const (
	SignalingNew          SignalingState = "new"
	SignalingConnecting   SignalingState = "connecting"
	SignalingConnected    SignalingState = "connected"
	SignalingDisconnected SignalingState = "disconnected"
	SignalingFailed       SignalingState = "failed"
	SignalingClosed       SignalingState = "closed"
)

// MediaState is the lower-level media-connectivity state of a transport.
// For WebRTC this is the ICE connection state; stream transports report
// "completed" whenever the stream is open.
type MediaState string

const (
	MediaNew          MediaState = "new"
	MediaChecking     MediaState = "checking"
	MediaConnected    MediaState = "connected"
	MediaCompleted    MediaState = "completed"
	MediaDisconnected MediaState = "disconnected"
	MediaFailed       MediaState = "failed"
	MediaClosed       MediaState = "closed"
)

// Health is a snapshot of both transport state layers.
type Health struct {
	Signaling SignalingState
	Media     MediaState
}

// Healthy reports whether the transport is fully usable. Both layers must
// report a connected value; anything else, including a missing transport, is
// unhealthy and eligible for recovery.
func (h Health) Healthy() bool {
	if h.Signaling != SignalingConnected {
		return false
	}
	return h.Media == MediaConnected || h.Media == MediaCompleted
}

// Transport is one live connection to the speech service. Implementations
// decode inbound frames into Events and encode Commands on the way out.
type Transport interface {
	// Send encodes and transmits one command. Returns ErrNotReady if the
	// transport cannot currently carry traffic.
	Send(ctx context.Context, cmd Command) error

	// Events returns the inbound event stream. The channel is closed when
	// the transport dies or is closed.
	Events() <-chan Event

	// Health reports both connection-state layers.
	Health() Health

	// Close tears the transport down. Safe to call more than once.
	Close() error
}

// Ready answers "can I send and receive on this transport right now?" from
// raw connection state. A nil transport is never ready.
func Ready(t Transport) bool {
	if t == nil {
		return false
	}
	return t.Health().Healthy()
}
