package energy

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestRMSSineWave(t *testing.T) {
	// A full-scale sine has RMS 1/sqrt(2).
	samples := make([]float32, 1024)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * float64(i) / 64))
	}
	got := RMS(samples)
	want := 1 / math.Sqrt2
	if math.Abs(got-want) > 0.01 {
		t.Fatalf("RMS = %f, want ~%f", got, want)
	}
}

func TestRMS16MatchesFloat(t *testing.T) {
	pcm := make([]byte, 512)
	samples := make([]float32, 256)
	for i := 0; i < 256; i++ {
		v := int16(float64(i-128) / 128 * 16000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
		samples[i] = float32(v) / 32768
	}
	if diff := math.Abs(RMS16(pcm) - RMS(samples)); diff > 1e-9 {
		t.Fatalf("RMS16 and RMS diverge by %g", diff)
	}
}

func TestRMSEmptyInput(t *testing.T) {
	if RMS(nil) != 0 {
		t.Fatal("RMS of no samples must be 0")
	}
	if RMS16(nil) != 0 {
		t.Fatal("RMS16 of no samples must be 0")
	}
	if RMS16([]byte{0x01}) != 0 {
		t.Fatal("RMS16 of a truncated sample must be 0")
	}
}

func TestPeak16(t *testing.T) {
	pcm := make([]byte, 8)
	vals := []int16{100, -32768, 2000}
	binary.LittleEndian.PutUint16(pcm[0:], uint16(vals[0]))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(vals[1]))
	binary.LittleEndian.PutUint16(pcm[4:], uint16(vals[2]))
	if got := Peak16(pcm[:6]); got != 1.0 {
		t.Fatalf("Peak16 = %f, want 1.0 for full-scale negative sample", got)
	}
}

func TestGateOpensAboveFloorAndHoldsThroughDips(t *testing.T) {
	g := NewGate(Config{})

	// Establish a quiet floor.
	for i := 0; i < 50; i++ {
		g.TickRMS(0.01)
	}
	if g.Speaking() {
		t.Fatal("gate opened on background noise")
	}
	floor := g.NoiseFloor()
	if math.Abs(floor-0.01) > 0.005 {
		t.Fatalf("floor = %f, want ~0.01", floor)
	}

	// Loud enough to clear floor + open offset.
	f := g.TickRMS(0.2)
	if !f.Speaking {
		t.Fatal("gate failed to open on loud input")
	}
	// The floor froze at whatever it reached on the opening tick.
	floor = g.NoiseFloor()

	// A dip that stays above floor + close offset must not close the gate.
	f = g.TickRMS(floor + 0.02)
	if !f.Speaking {
		t.Fatal("hysteresis must hold through a dip above the close threshold")
	}

	// Dropping below the close threshold closes it.
	f = g.TickRMS(floor + 0.005)
	if f.Speaking {
		t.Fatal("gate must close below the close threshold")
	}
}

func TestGateFloorFrozenWhileSpeaking(t *testing.T) {
	g := NewGate(Config{})
	for i := 0; i < 50; i++ {
		g.TickRMS(0.01)
	}
	g.TickRMS(0.3)
	if !g.Speaking() {
		t.Fatal("setup: gate should be open")
	}

	before := g.NoiseFloor()
	for i := 0; i < 100; i++ {
		g.TickRMS(0.3)
	}
	if g.NoiseFloor() != before {
		t.Fatalf("floor adapted during speech: %f -> %f", before, g.NoiseFloor())
	}
}

func TestGateAttackFasterThanRelease(t *testing.T) {
	g := NewGate(Config{})
	for i := 0; i < 50; i++ {
		g.TickRMS(0.01)
	}

	f := g.TickRMS(0.3)
	risen := f.Openness
	if risen <= 0 {
		t.Fatal("openness should rise on the first loud frame")
	}

	f = g.TickRMS(0.0)
	if f.Speaking {
		t.Fatal("gate should close on silence")
	}
	// One release tick sheds only a small fraction of the level.
	if f.Openness < risen*0.8 {
		t.Fatalf("release too fast: %f -> %f", risen, f.Openness)
	}

	// Openness decays toward zero across many silent ticks.
	for i := 0; i < 200; i++ {
		f = g.TickRMS(0.0)
	}
	if f.Openness > 0.001 {
		t.Fatalf("openness failed to decay, still %f", f.Openness)
	}
}

func TestGateSilenceCallbackFiresOnTransitionTick(t *testing.T) {
	g := NewGate(Config{})
	fired := 0
	g.OnSilence(func() { fired++ })

	for i := 0; i < 50; i++ {
		g.TickRMS(0.01)
	}
	g.TickRMS(0.3)
	if fired != 0 {
		t.Fatal("silence callback fired while opening")
	}

	g.TickRMS(0.0)
	if fired != 1 {
		t.Fatalf("silence callback fired %d times on the closing tick, want 1", fired)
	}

	// Continued silence is not a new transition.
	g.TickRMS(0.0)
	g.TickRMS(0.0)
	if fired != 1 {
		t.Fatalf("silence callback re-fired on steady silence: %d", fired)
	}
}

func TestGateBaselineFloorsOpenness(t *testing.T) {
	g := NewGate(Config{})
	f := g.TickRMS(0.0)
	if f.Openness != 0 {
		t.Fatalf("silent gate openness = %f, want 0", f.Openness)
	}

	g.SetBaselineActive(true)
	f = g.TickRMS(0.0)
	if f.Openness != 0.04 {
		t.Fatalf("baseline openness = %f, want 0.04", f.Openness)
	}

	g.SetBaselineActive(false)
	f = g.TickRMS(0.0)
	if f.Openness != 0 {
		t.Fatalf("openness after baseline ends = %f, want 0", f.Openness)
	}
}

func TestGateResetReturnsToInitialState(t *testing.T) {
	g := NewGate(Config{})
	for i := 0; i < 50; i++ {
		g.TickRMS(0.05)
	}
	g.TickRMS(0.5)
	g.Reset()
	if g.Speaking() || g.NoiseFloor() != 0 {
		t.Fatal("reset must clear speaking state and floor")
	}
	if f := g.TickRMS(0.0); f.Openness != 0 {
		t.Fatalf("openness after reset = %f, want 0", f.Openness)
	}
}
