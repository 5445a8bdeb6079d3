package energy

// Package energy implements the hysteresis-based speech/silence detector that
// drives mouth-animation intensity. It consumes one audio frame per animation
// tick and emits a smoothed 0..1 openness signal plus a speaking flag.

// Config tunes the gate. Zero values are replaced with defaults.
type Config struct {
	// FloorAlpha is the EMA retention for the adaptive noise floor.
	// floor = FloorAlpha*floor + (1-FloorAlpha)*rms. Default 0.9.
	FloorAlpha float64

	// OpenOffset above the floor opens the gate. Default 0.03.
	OpenOffset float64

	// CloseOffset above the floor closes the gate. Must be below OpenOffset
	// so the gate holds through brief dips. Default 0.015.
	CloseOffset float64

	// Attack is the smoothing rate toward the target level while speaking.
	// Default 0.30.
	Attack float64

	// Release is the smoothing rate toward zero while silent. Default 0.06.
	Release float64

	// Span normalizes excess-over-floor into 0..1. Default 0.25.
	Span float64

	// Baseline is the minimum openness emitted while an expression baseline
	// curve is active, so the mouth never collapses to a flat line mid-
	// expression. Default 0.04.
	Baseline float64
}

func (c Config) withDefaults() Config {
	if c.FloorAlpha <= 0 || c.FloorAlpha >= 1 {
		c.FloorAlpha = 0.9
	}
	if c.OpenOffset <= 0 {
		c.OpenOffset = 0.03
	}
	if c.CloseOffset <= 0 {
		c.CloseOffset = 0.015
	}
	if c.Attack <= 0 {
		c.Attack = 0.30
	}
	if c.Release <= 0 {
		c.Release = 0.06
	}
	if c.Span <= 0 {
		c.Span = 0.25
	}
	if c.Baseline <= 0 {
		c.Baseline = 0.04
	}
	return c
}

// Frame is the per-tick output of the gate.
type Frame struct {
	// Openness is the smoothed mouth-open level, 0..1.
	Openness float64

	// Speaking is the hysteresis state after this tick.
	Speaking bool
}

// Gate holds per-session detector state. It is not safe for concurrent use;
// all mutation happens inside Tick, which is called from the animation loop.
type Gate struct {
	cfg Config

	floor    float64
	speaking bool
	level    float64

	baselineActive bool

	// onSilence fires on the tick that transitions speaking -> silent, so
	// mouth motion halts within one tick regardless of what the higher-level
	// turn state currently claims.
	onSilence func()
}

// NewGate creates a gate with the given tuning.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg.withDefaults()}
}

// OnSilence registers the callback invoked when the gate closes.
func (g *Gate) OnSilence(fn func()) { g.onSilence = fn }

// SetBaselineActive marks whether an expression baseline curve is running.
// While active the emitted openness is floored at Config.Baseline.
func (g *Gate) SetBaselineActive(active bool) { g.baselineActive = active }

// Speaking reports the current hysteresis state.
func (g *Gate) Speaking() bool { return g.speaking }

// NoiseFloor reports the current adaptive floor, mainly for diagnostics.
func (g *Gate) NoiseFloor() float64 { return g.floor }

// Reset returns the gate to its initial silent state.
func (g *Gate) Reset() {
	g.floor = 0
	g.speaking = false
	g.level = 0
}

// Tick processes one frame of float samples.
func (g *Gate) Tick(samples []float32) Frame {
	return g.TickRMS(RMS(samples))
}

// TickPCM16 processes one frame of 16-bit little-endian PCM.
func (g *Gate) TickPCM16(pcm []byte) Frame {
	return g.TickRMS(RMS16(pcm))
}

// TickRMS advances the gate by one frame given its RMS level.
func (g *Gate) TickRMS(rms float64) Frame {
	// The floor adapts only while silent; tracking the speaker's own voice
	// upward would ratchet the thresholds until the gate never closes.
	if !g.speaking {
		g.floor = g.cfg.FloorAlpha*g.floor + (1-g.cfg.FloorAlpha)*rms
	}

	openThreshold := g.floor + g.cfg.OpenOffset
	closeThreshold := g.floor + g.cfg.CloseOffset

	wasSpeaking := g.speaking
	if g.speaking {
		if rms < closeThreshold {
			g.speaking = false
		}
	} else if rms > openThreshold {
		g.speaking = true
	}

	// Smooth toward the normalized excess over the floor while speaking, or
	// toward zero while silent. Attack is fast, release slow.
	var target float64
	rate := g.cfg.Release
	if g.speaking {
		target = (rms - g.floor) / g.cfg.Span
		if target < 0 {
			target = 0
		} else if target > 1 {
			target = 1
		}
		rate = g.cfg.Attack
	}
	g.level += (target - g.level) * rate

	if wasSpeaking && !g.speaking && g.onSilence != nil {
		g.onSilence()
	}

	openness := g.level
	if g.baselineActive && openness < g.cfg.Baseline {
		openness = g.cfg.Baseline
	}
	return Frame{Openness: openness, Speaking: g.speaking}
}
