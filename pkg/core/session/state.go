package session

import "sync"

// InitState tracks the per-connection lifecycle.
type InitState int

const (
	// InitInitializing is the state before the first connect attempt.
	InitInitializing InitState = iota
	// InitConnecting covers negotiation and transport setup.
	InitConnecting
	// InitReady is the only state in which turns may be submitted.
	InitReady
	// InitError is entered on negotiation failure or fatal transport events.
	InitError
)

func (s InitState) String() string {
	switch s {
	case InitInitializing:
		return "INITIALIZING"
	case InitConnecting:
		return "CONNECTING"
	case InitReady:
		return "READY"
	case InitError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TurnState tracks the per-turn voice state layered over the connection
// lifecycle. At most one value is active per session.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnListening
	TurnThinking
	TurnSpeaking
	TurnError
	TurnRetrying
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "IDLE"
	case TurnListening:
		return "LISTENING"
	case TurnThinking:
		return "THINKING"
	case TurnSpeaking:
		return "SPEAKING"
	case TurnError:
		return "ERROR"
	case TurnRetrying:
		return "RETRYING"
	default:
		return "UNKNOWN"
	}
}

// Machine holds both state layers plus the advisory progress value. Progress
// is a UI signal only: clamped to 0..100, monotonic within one connect
// attempt, and never consulted for correctness.
type Machine struct {
	mu       sync.Mutex
	init     InitState
	turn     TurnState
	progress int

	onInit func(InitState, int)
	onTurn func(from, to TurnState)
}

// NewMachine creates a machine in the initializing state.
func NewMachine() *Machine {
	return &Machine{init: InitInitializing}
}

// OnInitChange registers a callback fired after every lifecycle transition.
func (m *Machine) OnInitChange(fn func(InitState, int)) {
	m.mu.Lock()
	m.onInit = fn
	m.mu.Unlock()
}

// OnTurnChange registers a callback fired after every turn transition.
func (m *Machine) OnTurnChange(fn func(from, to TurnState)) {
	m.mu.Lock()
	m.onTurn = fn
	m.mu.Unlock()
}

// RequestConnect moves into connecting. Valid from initializing, error, or a
// recovery-triggered reconnect out of ready; a no-op while already connecting.
func (m *Machine) RequestConnect() bool {
	m.mu.Lock()
	if m.init == InitConnecting {
		m.mu.Unlock()
		return false
	}
	m.init = InitConnecting
	m.progress = 0
	cb, p := m.onInit, m.progress
	m.mu.Unlock()
	if cb != nil {
		cb(InitConnecting, p)
	}
	return true
}

// SetReady marks the connection usable and forces progress to 100.
func (m *Machine) SetReady() {
	m.mu.Lock()
	m.init = InitReady
	m.progress = 100
	cb := m.onInit
	m.mu.Unlock()
	if cb != nil {
		cb(InitReady, 100)
	}
}

// SetInitError records a fatal connection failure.
func (m *Machine) SetInitError() {
	m.mu.Lock()
	m.init = InitError
	cb, p := m.onInit, m.progress
	m.mu.Unlock()
	if cb != nil {
		cb(InitError, p)
	}
}

// SetProgress advances the advisory progress value. Values are clamped to
// 0..100 and regressions are ignored; only Reset or RequestConnect rewind it.
func (m *Machine) SetProgress(p int) {
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	m.mu.Lock()
	if p <= m.progress {
		m.mu.Unlock()
		return
	}
	m.progress = p
	cb, state := m.onInit, m.init
	m.mu.Unlock()
	if cb != nil {
		cb(state, p)
	}
}

// SetTurn updates the per-turn voice state.
func (m *Machine) SetTurn(t TurnState) {
	m.mu.Lock()
	from := m.turn
	if from == t {
		m.mu.Unlock()
		return
	}
	m.turn = t
	cb := m.onTurn
	m.mu.Unlock()
	if cb != nil {
		cb(from, t)
	}
}

// Init returns the connection lifecycle state.
func (m *Machine) Init() InitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.init
}

// Turn returns the per-turn voice state.
func (m *Machine) Turn() TurnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

// Progress returns the advisory progress value.
func (m *Machine) Progress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Reset returns both layers to their initial values.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.init = InitInitializing
	m.turn = TurnIdle
	m.progress = 0
	m.mu.Unlock()
}
