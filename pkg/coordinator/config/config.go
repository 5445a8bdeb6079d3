package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/visage-live/visage/pkg/core/session"
)

// TransportKind selects how the coordinator reaches the speech service.
type TransportKind string

const (
	TransportWebSocket TransportKind = "websocket"
	TransportWebRTC    TransportKind = "webrtc"
)

type Config struct {
	Addr string

	// Speech service credentials and endpoints. The API key never leaves
	// this process; clients only ever see ephemeral grants.
	SpeechAPIKey  string
	SpeechBaseURL string
	SpeechWSURL   string
	SpeechSDPURL  string

	Transport TransportKind

	Model              string
	Voice              string
	Instructions       string
	TranscriptionModel string

	VoiceDisabled     bool
	DisableHealthPoll bool

	// Turn orchestration timing.
	LockWait        time.Duration
	ConfirmTimeout  time.Duration
	AckTimeout      time.Duration
	AckPollInterval time.Duration
	ContentTimeout  time.Duration

	Recovery session.RecoveryConfig

	HealthPollInterval time.Duration

	// Logical-session housekeeping.
	SessionIdleTimeout time.Duration
	ReapInterval       time.Duration

	// Per-client SSE buffering and keepalive.
	SSEPingInterval time.Duration
	ClientBuffer    int

	CORSAllowedOrigins map[string]struct{}

	MaxBodyBytes int64

	MetricsNamespace string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// LoadFromEnv reads configuration from VISAGE_* variables. Structural
// problems (unparseable values) fail the load; missing credentials do NOT:
// they are reported by Problems so the server can come up and surface them
// to clients as structured errors instead of crash-looping.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VISAGE_ADDR", ":8420"),
		SpeechAPIKey:        envOr("VISAGE_SPEECH_API_KEY", ""),
		SpeechBaseURL:       envOr("VISAGE_SPEECH_BASE_URL", "https://api.openai.com/v1"),
		SpeechWSURL:         envOr("VISAGE_SPEECH_WS_URL", "wss://api.openai.com/v1/realtime"),
		SpeechSDPURL:        envOr("VISAGE_SPEECH_SDP_URL", "https://api.openai.com/v1/realtime"),
		Transport:           TransportKind(envOr("VISAGE_TRANSPORT", string(TransportWebSocket))),
		Model:               envOr("VISAGE_MODEL", ""),
		Voice:               envOr("VISAGE_VOICE", "alloy"),
		Instructions:        envOr("VISAGE_INSTRUCTIONS", ""),
		TranscriptionModel:  envOr("VISAGE_TRANSCRIPTION_MODEL", ""),
		VoiceDisabled:       envBoolOr("VISAGE_VOICE_DISABLED", false),
		DisableHealthPoll:   envBoolOr("VISAGE_DISABLE_HEALTH_POLL", false),
		LockWait:            envDurationOr("VISAGE_TURN_LOCK_WAIT", 500*time.Millisecond),
		ConfirmTimeout:      envDurationOr("VISAGE_TURN_CONFIRM_TIMEOUT", 2*time.Second),
		AckTimeout:          envDurationOr("VISAGE_TURN_ACK_TIMEOUT", 2*time.Second),
		AckPollInterval:     envDurationOr("VISAGE_TURN_ACK_POLL_INTERVAL", 250*time.Millisecond),
		ContentTimeout:      envDurationOr("VISAGE_TURN_CONTENT_TIMEOUT", 15*time.Second),
		HealthPollInterval:  envDurationOr("VISAGE_HEALTH_POLL_INTERVAL", 10*time.Second),
		SessionIdleTimeout:  envDurationOr("VISAGE_SESSION_IDLE_TIMEOUT", 30*time.Minute),
		ReapInterval:        envDurationOr("VISAGE_SESSION_REAP_INTERVAL", time.Minute),
		SSEPingInterval:     envDurationOr("VISAGE_SSE_PING_INTERVAL", 15*time.Second),
		ClientBuffer:        envIntOr("VISAGE_CLIENT_BUFFER", 64),
		CORSAllowedOrigins:  make(map[string]struct{}),
		MaxBodyBytes:        envInt64Or("VISAGE_MAX_BODY_BYTES", 1<<20),
		MetricsNamespace:    envOr("VISAGE_METRICS_NAMESPACE", "visage"),
		ReadHeaderTimeout:   envDurationOr("VISAGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VISAGE_SHUTDOWN_GRACE", 15*time.Second),
		Recovery: session.RecoveryConfig{
			MaxAttempts:     envIntOr("VISAGE_RECOVERY_MAX_ATTEMPTS", 5),
			AttemptCooldown: envDurationOr("VISAGE_RECOVERY_COOLDOWN", 5*time.Second),
			SuccessReset:    envDurationOr("VISAGE_RECOVERY_SUCCESS_RESET", 30*time.Second),
			ExhaustedReset:  envDurationOr("VISAGE_RECOVERY_EXHAUSTED_RESET", 60*time.Second),
		},
	}

	for _, origin := range splitCSV(os.Getenv("VISAGE_CORS_ALLOWED_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.Transport {
	case TransportWebSocket, TransportWebRTC:
	default:
		return cfg, fmt.Errorf("config: invalid VISAGE_TRANSPORT %q", cfg.Transport)
	}
	if cfg.ClientBuffer <= 0 {
		return cfg, fmt.Errorf("config: VISAGE_CLIENT_BUFFER must be positive")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, fmt.Errorf("config: VISAGE_MAX_BODY_BYTES must be positive")
	}
	return cfg, nil
}

// Problems lists credential gaps that prevent speech sessions from opening.
// The server still serves; these surface on /healthz and session endpoints.
func (c Config) Problems() []string {
	var problems []string
	if strings.TrimSpace(c.SpeechAPIKey) == "" {
		problems = append(problems, "missing speech API key (VISAGE_SPEECH_API_KEY)")
	}
	if strings.TrimSpace(c.Model) == "" {
		problems = append(problems, "missing realtime model (VISAGE_MODEL)")
	}
	return problems
}

// SessionConfig projects the coordinator configuration into the per-session
// orchestration tuning.
func (c Config) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.Model = c.Model
	sc.Voice = c.Voice
	sc.Instructions = c.Instructions
	sc.TranscriptionModel = c.TranscriptionModel
	sc.LockWait = c.LockWait
	sc.ConfirmTimeout = c.ConfirmTimeout
	sc.AckTimeout = c.AckTimeout
	sc.AckPollInterval = c.AckPollInterval
	sc.ContentTimeout = c.ContentTimeout
	sc.Recovery = c.Recovery
	sc.VoiceDisabled = c.VoiceDisabled
	sc.DisableHealthPoll = c.DisableHealthPoll
	sc.HealthPollInterval = c.HealthPollInterval
	return sc
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
