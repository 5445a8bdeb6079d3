package session

import (
	"fmt"
	"time"
)

// Config holds all tuning for one orchestrated session.
type Config struct {
	// Model is the speech model to negotiate.
	Model string

	// Voice selects the model's output voice.
	Voice string

	// Instructions is the base instruction string sent at negotiation.
	Instructions string

	// TranscriptionModel transcribes the user's input audio.
	TranscriptionModel string

	// LockWait bounds how long a text turn waits for the turn mutex before
	// falling back to out-of-band delivery. Default 500ms.
	LockWait time.Duration

	// ConfirmTimeout bounds the wait for a session.updated confirmation
	// after toggling turn detection. Default 2s.
	ConfirmTimeout time.Duration

	// AckTimeout bounds the wait for the conversation-item acknowledgment.
	// Default 2s.
	AckTimeout time.Duration

	// AckPollInterval paces the polling fallback while waiting for the
	// acknowledgment. Default 250ms.
	AckPollInterval time.Duration

	// ContentTimeout bounds the wait for the first evidence of an actual
	// response (audio, text delta, or transcript delta). Default 15s.
	ContentTimeout time.Duration

	// Recovery tunes the bounded-retry recovery controller.
	Recovery RecoveryConfig

	// VoiceDisabled is the kill switch: audio consumers leave the output
	// graph muted and proactive health polling stops, while on-error
	// recovery stays available.
	VoiceDisabled bool

	// DisableHealthPoll turns off proactive transport health polling
	// without affecting on-error recovery.
	DisableHealthPoll bool

	// HealthPollInterval paces proactive health checks. Default 10s.
	HealthPollInterval time.Duration
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() Config {
	return Config{
		LockWait:           500 * time.Millisecond,
		ConfirmTimeout:     2 * time.Second,
		AckTimeout:         2 * time.Second,
		AckPollInterval:    250 * time.Millisecond,
		ContentTimeout:     15 * time.Second,
		Recovery:           DefaultRecoveryConfig(),
		HealthPollInterval: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.LockWait <= 0 {
		c.LockWait = def.LockWait
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = def.ConfirmTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.AckPollInterval <= 0 {
		c.AckPollInterval = def.AckPollInterval
	}
	if c.ContentTimeout <= 0 {
		c.ContentTimeout = def.ContentTimeout
	}
	if c.HealthPollInterval <= 0 {
		c.HealthPollInterval = def.HealthPollInterval
	}
	c.Recovery = c.Recovery.withDefaults()
	return c
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("session config: model must be set")
	}
	if c.AckPollInterval > c.AckTimeout {
		return fmt.Errorf("session config: ack poll interval must not exceed ack timeout")
	}
	return c.Recovery.Validate()
}

// RecoveryConfig tunes the recovery controller.
type RecoveryConfig struct {
	// MaxAttempts caps consecutive recovery attempts. Default 5.
	MaxAttempts int

	// AttemptCooldown is the fixed wait between failed attempts. Default 5s.
	AttemptCooldown time.Duration

	// SuccessReset clears the attempt counter this long after a successful
	// recovery, so a later transient failure starts with a fresh budget.
	// Default 30s.
	SuccessReset time.Duration

	// ExhaustedReset clears the attempt counter this long after the cap was
	// hit, allowing future manual or automatic retries. Default 60s.
	ExhaustedReset time.Duration
}

// DefaultRecoveryConfig returns the production recovery tuning.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxAttempts:     5,
		AttemptCooldown: 5 * time.Second,
		SuccessReset:    30 * time.Second,
		ExhaustedReset:  60 * time.Second,
	}
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	def := DefaultRecoveryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.AttemptCooldown <= 0 {
		c.AttemptCooldown = def.AttemptCooldown
	}
	if c.SuccessReset <= 0 {
		c.SuccessReset = def.SuccessReset
	}
	if c.ExhaustedReset <= 0 {
		c.ExhaustedReset = def.ExhaustedReset
	}
	return c
}

// Validate rejects recovery tunings that cannot work.
func (c RecoveryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("recovery config: max attempts must be >= 0")
	}
	if c.ExhaustedReset > 0 && c.ExhaustedReset < c.AttemptCooldown {
		return fmt.Errorf("recovery config: exhausted reset must be >= attempt cooldown")
	}
	return nil
}
