package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visage-live/visage/pkg/core/realtime"
)

// Coordinator is the out-of-band HTTP control surface of the backend
// coordinator, used for fallback text delivery and session-scoped resets.
type Coordinator interface {
	// DeliverText sends plain text outside the realtime transport.
	DeliverText(ctx context.Context, text string) error

	// ResetSession clears the coordinator's session-scoped storage.
	ResetSession(ctx context.Context) error
}

// NegotiateFunc requests a new session grant from the speech service.
type NegotiateFunc func(ctx context.Context) (*realtime.Grant, error)

// DialFunc opens a transport for a grant.
type DialFunc func(ctx context.Context, grant *realtime.Grant) (realtime.Transport, error)

// Callbacks are the UI-facing notification hooks. All hooks are optional and
// must not block.
type Callbacks struct {
	OnInitChange          func(InitState, int)
	OnTurnChange          func(from, to TurnState)
	OnAssistantText       func(delta string)
	OnAssistantTranscript func(delta string)
	OnAssistantAudio      func(pcm []byte)
	OnTerminalFailure     func()
}

// Deps are the injected collaborators of a Session. Everything that used to
// be ambient global state travels here so tests can substitute each piece.
type Deps struct {
	Negotiate   NegotiateFunc
	Dial        DialFunc
	Coordinator Coordinator
	Logger      *slog.Logger
	Callbacks   Callbacks
}

// benignNotices are protocol-level complaints that are expected in normal
// operation and must never surface as user-facing errors.
var benignNotices = []string{
	"no active response",
	"cancellation failed",
	"already active",
	"unknown parameter",
	"decommissioned",
}

// Session orchestrates one negotiated realtime connection: lifecycle state,
// turn layering, text/voice serialization, context injection, and recovery.
// The Session value survives transport replacement; the transport does not.
type Session struct {
	cfg    Config
	logger *slog.Logger
	deps   Deps

	machine   *Machine
	turnMutex *TurnMutex
	injector  *Injector
	recovery  *RecoveryController

	mu         sync.Mutex
	transport  realtime.Transport
	grant      *realtime.Grant
	dispatcher *realtime.Dispatcher
	generation uint64
	closed     bool

	activeResponse   string
	sawContent       bool
	responseRequests int

	ackedItems map[string]struct{}
	ackedTexts map[string]struct{}

	waiters map[*waiter]struct{}
}

type waiter struct {
	match func(realtime.Event) bool
	ch    chan realtime.Event
}

// NewSession builds a session. Connect must be called before turns can be
// submitted.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Negotiate == nil || deps.Dial == nil {
		return nil, fmt.Errorf("session: negotiate and dial are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:        cfg,
		logger:     logger,
		deps:       deps,
		machine:    NewMachine(),
		turnMutex:  NewTurnMutex(),
		ackedItems: make(map[string]struct{}),
		ackedTexts: make(map[string]struct{}),
		waiters:    make(map[*waiter]struct{}),
	}
	s.machine.OnInitChange(func(st InitState, p int) {
		if deps.Callbacks.OnInitChange != nil {
			deps.Callbacks.OnInitChange(st, p)
		}
	})
	s.machine.OnTurnChange(func(from, to TurnState) {
		if deps.Callbacks.OnTurnChange != nil {
			deps.Callbacks.OnTurnChange(from, to)
		}
	})
	s.injector = NewInjector(s.Ready, s.sendSilentItem, logger)
	s.recovery = NewRecoveryController(cfg.Recovery, s, logger)
	s.recovery.OnExhausted(func() {
		s.machine.SetInitError()
		s.machine.SetTurn(TurnError)
		if deps.Callbacks.OnTerminalFailure != nil {
			deps.Callbacks.OnTerminalFailure()
		}
	})
	return s, nil
}

// Recovery exposes the recovery controller, mainly so a caller can run the
// proactive health loop.
func (s *Session) Recovery() *RecoveryController { return s.recovery }

// Injector exposes the context injection pipeline.
func (s *Session) Injector() *Injector { return s.injector }

// CurrentState returns the lifecycle state, turn state, and progress.
func (s *Session) CurrentState() (InitState, TurnState, int) {
	return s.machine.Init(), s.machine.Turn(), s.machine.Progress()
}

// Ready reports whether turns may be submitted right now: the lifecycle must
// be ready and the transport must pass both health layers.
func (s *Session) Ready() bool {
	if s.machine.Init() != InitReady {
		return false
	}
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	return realtime.Ready(t)
}

// Health reports the transport health snapshot; a missing transport reports
// closed on both layers.
func (s *Session) Health() realtime.Health {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return realtime.Health{Signaling: realtime.SignalingClosed, Media: realtime.MediaClosed}
	}
	return t.Health()
}

// Connect negotiates a grant, opens a transport, and wires the event loop.
// Readiness flips when the service confirms with session.created.
func (s *Session) Connect(ctx context.Context) error {
	s.machine.RequestConnect()
	s.machine.SetProgress(10)

	grant, err := s.deps.Negotiate(ctx)
	if err != nil {
		s.machine.SetInitError()
		return fmt.Errorf("session connect: %w", err)
	}
	s.machine.SetProgress(40)

	transport, err := s.deps.Dial(ctx, grant)
	if err != nil {
		s.machine.SetInitError()
		return fmt.Errorf("session connect: %w", err)
	}
	s.machine.SetProgress(70)

	s.attach(transport, grant)
	s.machine.SetProgress(90)
	return nil
}

// attach installs a replacement transport: the old one is closed, the old
// dispatch table torn down, and a fresh table bound exactly once.
func (s *Session) attach(t realtime.Transport, grant *realtime.Grant) {
	d := realtime.NewDispatcher(s.logger)
	s.bindHandlers(d)

	s.mu.Lock()
	old := s.transport
	oldDispatch := s.dispatcher
	s.generation++
	gen := s.generation
	s.transport = t
	s.grant = grant
	s.dispatcher = d
	s.activeResponse = ""
	s.sawContent = false
	s.mu.Unlock()

	if oldDispatch != nil {
		oldDispatch.Teardown()
	}
	if old != nil {
		_ = old.Close()
	}

	go s.eventLoop(t, gen)
}

func (s *Session) eventLoop(t realtime.Transport, gen uint64) {
	for evt := range t.Events() {
		if !s.sameGeneration(gen) {
			return
		}
		s.ReportTransportEvent(evt)
	}

	// Channel closed: the transport died underneath us unless a newer
	// generation already replaced it or the session is shutting down.
	s.mu.Lock()
	stale := s.generation != gen || s.closed
	s.mu.Unlock()
	if stale {
		return
	}

	s.logger.Warn("transport event stream ended, entering recovery")
	s.machine.SetTurn(TurnRetrying)
	s.machine.SetInitError()
	go s.recovery.TriggerRecoveryIfNeeded(context.Background())
}

func (s *Session) sameGeneration(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

// ReportTransportEvent feeds one event through the waiters and the dispatch
// table. The event loop calls this for every inbound event; tests may call
// it directly.
func (s *Session) ReportTransportEvent(evt realtime.Event) {
	s.notifyWaiters(evt)

	s.mu.Lock()
	d := s.dispatcher
	s.mu.Unlock()
	if d != nil {
		d.Dispatch(evt)
	}
}

func (s *Session) bindHandlers(d *realtime.Dispatcher) {
	d.Bind("session.created", s.onSessionCreated)
	d.Bind("input_audio_buffer.speech_started", s.onSpeechStarted)
	d.Bind("input_audio_buffer.speech_stopped", s.onSpeechStopped)
	d.Bind("response.created", s.onResponseCreated)
	d.Bind("response.output_text.delta", s.onContent)
	d.Bind("response.audio.delta", s.onContent)
	d.Bind("response.audio_transcript.delta", s.onContent)
	d.Bind("response.completed", s.onResponseFinished)
	d.Bind("response.canceled", s.onResponseFinished)
	d.Bind("response.audio.done", s.onResponseFinished)
	d.Bind("response.failed", s.onResponseFailed)
	d.Bind("conversation.item.created", s.onItemCreated)
	d.Bind("error", s.onError)
	d.BindFallback(func(evt realtime.Event) {
		s.logger.Debug("unrouted event", "type", evt.EventType())
	})
}

func (s *Session) onSessionCreated(realtime.Event) {
	s.machine.SetReady()

	// A session.created only arrives on a fresh transport, so a turn left in
	// an error or retrying state belongs to the connection that died. Clear it
	// so voice activity on the replacement is heard again.
	switch s.machine.Turn() {
	case TurnError, TurnRetrying:
		s.machine.SetTurn(TurnIdle)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConfirmTimeout)
	defer cancel()
	s.injector.OnTransportReady(ctx)
}

func (s *Session) onSpeechStarted(realtime.Event) {
	if s.machine.Turn() == TurnIdle {
		s.machine.SetTurn(TurnListening)
	}
}

func (s *Session) onSpeechStopped(realtime.Event) {
	if s.machine.Turn() != TurnListening {
		return
	}
	s.machine.SetTurn(TurnThinking)

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	go s.autoRespond(gen)
}

// autoRespond issues the response-create for a voice-activity turn. It waits
// for any in-flight text turn to release the turn mutex first; responding
// while a text turn is mid-flight is exactly the collision the mutex exists
// to prevent.
func (s *Session) autoRespond(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ContentTimeout)
	defer cancel()

	if !s.turnMutex.Acquire(ctx) {
		s.logger.Warn("voice turn gave up waiting for turn mutex")
		return
	}
	s.turnMutex.Release()

	if !s.sameGeneration(gen) {
		return
	}
	if err := s.sendResponseCreate(ctx); err != nil {
		s.logger.Warn("voice response request failed", "err", err)
	}
}

func (s *Session) onResponseCreated(evt realtime.Event) {
	created, ok := evt.(*realtime.ResponseCreatedEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	s.activeResponse = created.ResponseID
	s.sawContent = false
	s.mu.Unlock()
}

func (s *Session) onContent(evt realtime.Event) {
	s.mu.Lock()
	s.sawContent = true
	s.mu.Unlock()

	switch t := s.machine.Turn(); t {
	case TurnThinking, TurnListening, TurnIdle:
		s.machine.SetTurn(TurnSpeaking)
	}

	cb := s.deps.Callbacks
	switch e := evt.(type) {
	case *realtime.ResponseTextDeltaEvent:
		if cb.OnAssistantText != nil {
			cb.OnAssistantText(e.Delta)
		}
	case *realtime.ResponseTranscriptDeltaEvent:
		if cb.OnAssistantTranscript != nil {
			cb.OnAssistantTranscript(e.Delta)
		}
	case *realtime.ResponseAudioDeltaEvent:
		// The kill switch keeps the audio path muted end to end.
		if !s.cfg.VoiceDisabled && cb.OnAssistantAudio != nil {
			cb.OnAssistantAudio(e.Audio)
		}
	}
}

// onResponseFinished closes the turn only when content was actually observed.
// A completion racing ahead of its first content chunk is treated as not yet
// arrived, never as success.
func (s *Session) onResponseFinished(realtime.Event) {
	s.mu.Lock()
	saw := s.sawContent
	s.mu.Unlock()
	if !saw {
		return
	}
	switch s.machine.Turn() {
	case TurnSpeaking, TurnThinking:
		s.machine.SetTurn(TurnIdle)
	}
}

func (s *Session) onResponseFailed(evt realtime.Event) {
	failed, _ := evt.(*realtime.ResponseFailedEvent)
	if failed != nil {
		s.logger.Warn("response failed", "code", failed.Code, "message", failed.Message)
	}
	s.failTurn()
}

func (s *Session) onItemCreated(evt realtime.Event) {
	item, ok := evt.(*realtime.ConversationItemCreatedEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	if len(s.ackedItems) > 256 {
		s.ackedItems = make(map[string]struct{})
		s.ackedTexts = make(map[string]struct{})
	}
	if item.ItemID != "" {
		s.ackedItems[item.ItemID] = struct{}{}
	}
	if item.Text != "" {
		s.ackedTexts[item.Text] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *Session) onError(evt realtime.Event) {
	e, ok := evt.(*realtime.ErrorEvent)
	if !ok {
		return
	}
	if isBenignNotice(e) {
		s.logger.Warn("protocol notice", "code", e.Code, "message", e.Message)
		return
	}
	s.logger.Error("transport error", "code", e.Code, "message", e.Message)
	s.failTurn()
}

// failTurn routes a fatal error through the state machine and kicks recovery.
func (s *Session) failTurn() {
	switch s.machine.Turn() {
	case TurnSpeaking, TurnThinking, TurnListening:
		s.machine.SetTurn(TurnError)
	}
	s.machine.SetInitError()
	go s.recovery.TriggerRecoveryIfNeeded(context.Background())
}

func isBenignNotice(e *realtime.ErrorEvent) bool {
	probe := strings.ToLower(e.Code + " " + e.Message)
	for _, n := range benignNotices {
		if strings.Contains(probe, n) {
			return true
		}
	}
	return false
}

// ResponseRequests returns how many response-create commands this session has
// issued. Diagnostic.
func (s *Session) ResponseRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseRequests
}

func (s *Session) currentTransport() realtime.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

func (s *Session) send(ctx context.Context, cmd realtime.Command) error {
	t := s.currentTransport()
	if t == nil {
		return realtime.ErrNotReady
	}
	return t.Send(ctx, cmd)
}

func (s *Session) sendResponseCreate(ctx context.Context) error {
	if err := s.send(ctx, &realtime.ResponseCreateCommand{}); err != nil {
		return err
	}
	s.mu.Lock()
	s.responseRequests++
	s.mu.Unlock()
	return nil
}

// sendSilentItem delivers injected context as a non-conversational system
// item that does not trigger a response.
func (s *Session) sendSilentItem(ctx context.Context, text string) error {
	return s.send(ctx, &realtime.ItemCreateCommand{
		ItemID: "ctx_" + uuid.NewString(),
		Role:   "system",
		Text:   text,
		Silent: true,
	})
}

// CancelResponse asks the service to stop the in-flight response. The
// service may answer with a benign notice when nothing is active.
func (s *Session) CancelResponse(ctx context.Context) error {
	return s.send(ctx, &realtime.ResponseCancelCommand{})
}

// Inject delivers out-of-band context text via the injection pipeline.
func (s *Session) Inject(ctx context.Context, text string) bool {
	return s.injector.Inject(ctx, text)
}

// --- waiters -------------------------------------------------------------

func (s *Session) addWaiter(match func(realtime.Event) bool) *waiter {
	w := &waiter{match: match, ch: make(chan realtime.Event, 1)}
	s.mu.Lock()
	s.waiters[w] = struct{}{}
	s.mu.Unlock()
	return w
}

func (s *Session) removeWaiter(w *waiter) {
	s.mu.Lock()
	delete(s.waiters, w)
	s.mu.Unlock()
}

func (s *Session) notifyWaiters(evt realtime.Event) {
	s.mu.Lock()
	var matched []*waiter
	for w := range s.waiters {
		if w.match(evt) {
			matched = append(matched, w)
			delete(s.waiters, w)
		}
	}
	s.mu.Unlock()

	for _, w := range matched {
		select {
		case w.ch <- evt:
		default:
		}
	}
}

// waitOn blocks until the waiter fires or the timeout elapses, removing the
// waiter either way. A timeout is a non-fatal outcome, not an error.
func (s *Session) waitOn(ctx context.Context, w *waiter, timeout time.Duration) (realtime.Event, bool) {
	defer s.removeWaiter(w)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case evt := <-w.ch:
		return evt, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// --- text turns ----------------------------------------------------------

// SubmitText runs one program-initiated text turn over the shared transport.
// It returns false whenever the turn could not be verified end to end; in
// that case the text has been handed to the out-of-band delivery path and
// voice is never left blocked. The turn mutex is always released, including
// on early exits.
func (s *Session) SubmitText(ctx context.Context, text string) bool {
	if !s.Ready() {
		return s.fallbackText(ctx, text)
	}

	// Step 1: take the mutex, waiting briefly if a voice turn holds it.
	if !s.turnMutex.TryAcquire(ctx, s.cfg.LockWait) {
		s.logger.Warn("turn mutex busy, using fallback delivery")
		return s.fallbackText(ctx, text)
	}

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	defer s.finishTextTurn()

	// Step 2: disable server-side auto-response and await confirmation.
	// Best effort: an unconfirmed toggle narrows the race window anyway.
	// The waiter goes in before the send so the confirmation cannot slip
	// past between them.
	updWaiter := s.addWaiter(isSessionUpdated)
	if err := s.send(ctx, &realtime.SessionUpdateCommand{TurnDetection: nil}); err != nil {
		s.removeWaiter(updWaiter)
		s.logger.Warn("disable turn detection failed", "err", err)
		return s.fallbackText(ctx, text)
	}
	if _, ok := s.waitOn(ctx, updWaiter, s.cfg.ConfirmTimeout); !ok {
		s.logger.Warn("turn detection disable unconfirmed, proceeding")
	}
	if !s.sameGeneration(gen) {
		return s.fallbackText(ctx, text)
	}

	// Step 3: drop any buffered microphone audio so stale speech cannot be
	// committed into this turn.
	if err := s.send(ctx, &realtime.InputBufferClearCommand{}); err != nil {
		s.logger.Warn("input buffer clear failed", "err", err)
	}

	// Step 4: enqueue the text and wait for its acknowledgment, matched by
	// item id or content equality, with a polling fallback on the ack maps.
	itemID := "item_" + uuid.NewString()
	ackWaiter := s.addWaiter(func(evt realtime.Event) bool {
		item, ok := evt.(*realtime.ConversationItemCreatedEvent)
		if !ok {
			return false
		}
		return item.ItemID == itemID || item.Text == text
	})
	err := s.send(ctx, &realtime.ItemCreateCommand{ItemID: itemID, Role: "user", Text: text})
	if err != nil {
		s.removeWaiter(ackWaiter)
		s.logger.Warn("item create failed", "err", err)
		return s.fallbackText(ctx, text)
	}
	s.awaitItemAck(ctx, ackWaiter, itemID, text)
	if !s.sameGeneration(gen) {
		return s.fallbackText(ctx, text)
	}

	// Step 6 registration happens before step 5 sends, so the first content
	// chunk cannot slip past between the send and the wait.
	contentWaiter := s.addWaiter(isResponseContent)
	defer s.removeWaiter(contentWaiter)

	// Step 5: request the response; on failure, one session replacement and
	// one retry.
	if err := s.sendResponseCreate(ctx); err != nil {
		s.logger.Warn("response request failed, attempting session replacement", "err", err)
		if !s.recovery.TriggerRecoveryIfNeeded(ctx) {
			return s.fallbackText(ctx, text)
		}
		if err := s.sendResponseCreate(ctx); err != nil {
			s.logger.Warn("response request failed after replacement", "err", err)
			return s.fallbackText(ctx, text)
		}
	}

	// Step 6: wait for the first evidence of an actual response. Completion
	// events without observed content do not satisfy this wait.
	timer := time.NewTimer(s.cfg.ContentTimeout)
	defer timer.Stop()
	select {
	case <-contentWaiter.ch:
		return true
	case <-timer.C:
		s.logger.Warn("no response content observed in time")
		return s.fallbackText(ctx, text)
	case <-ctx.Done():
		return s.fallbackText(context.Background(), text)
	}
}

// finishTextTurn always runs at the end of SubmitText: release the lock,
// re-enable auto-response and reconfirm, then clear the microphone buffer a
// second time so audio captured during the re-enable window cannot pollute
// the next turn.
func (s *Session) finishTextTurn() {
	s.turnMutex.Release()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConfirmTimeout)
	defer cancel()

	updWaiter := s.addWaiter(isSessionUpdated)
	err := s.send(ctx, &realtime.SessionUpdateCommand{
		TurnDetection: &realtime.TurnDetection{Type: "server_vad", CreateResponse: false},
	})
	if err != nil {
		s.removeWaiter(updWaiter)
		s.logger.Warn("re-enable turn detection failed", "err", err)
	} else if _, ok := s.waitOn(ctx, updWaiter, s.cfg.ConfirmTimeout); !ok {
		s.logger.Warn("turn detection re-enable unconfirmed")
	}

	if err := s.send(ctx, &realtime.InputBufferClearCommand{}); err != nil {
		s.logger.Warn("post-turn input buffer clear failed", "err", err)
	}
}

func (s *Session) awaitItemAck(ctx context.Context, w *waiter, itemID, text string) {
	defer s.removeWaiter(w)

	deadline := time.Now().Add(s.cfg.AckTimeout)
	for {
		if s.itemAcked(itemID, text) {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.logger.Warn("conversation item unacknowledged, proceeding")
			return
		}
		poll := s.cfg.AckPollInterval
		if poll > remaining {
			poll = remaining
		}
		timer := time.NewTimer(poll)
		select {
		case <-w.ch:
			timer.Stop()
			return
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Session) itemAcked(itemID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ackedItems[itemID]; ok {
		return true
	}
	_, ok := s.ackedTexts[text]
	return ok
}

func (s *Session) fallbackText(ctx context.Context, text string) bool {
	if s.deps.Coordinator == nil {
		return false
	}
	if err := s.deps.Coordinator.DeliverText(ctx, text); err != nil {
		s.logger.Warn("fallback text delivery failed", "err", err)
	}
	return false
}

func isSessionUpdated(evt realtime.Event) bool {
	_, ok := evt.(*realtime.SessionUpdatedEvent)
	return ok
}

func isResponseContent(evt realtime.Event) bool {
	switch evt.(type) {
	case *realtime.ResponseAudioDeltaEvent,
		*realtime.ResponseTextDeltaEvent,
		*realtime.ResponseTranscriptDeltaEvent:
		return true
	}
	return false
}

// --- recovery plan -------------------------------------------------------

// Teardown implements RecoveryPlan: close and null the transport and grant
// and tear down the dispatch table so stale events cannot reach the session.
func (s *Session) Teardown() {
	s.mu.Lock()
	t := s.transport
	d := s.dispatcher
	s.transport = nil
	s.grant = nil
	s.dispatcher = nil
	// Invalidate the old event loop now, not when the replacement attaches:
	// its drain must not be mistaken for a fresh failure while recovery is
	// already running.
	s.generation++
	s.mu.Unlock()

	if d != nil {
		d.Teardown()
	}
	if t != nil {
		_ = t.Close()
	}
}

// ResetBackend implements RecoveryPlan.
func (s *Session) ResetBackend(ctx context.Context) error {
	if s.deps.Coordinator == nil {
		return nil
	}
	return s.deps.Coordinator.ResetSession(ctx)
}

// Reconnect implements RecoveryPlan.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.Connect(ctx)
}

// Close shuts the session down for good.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.transport
	d := s.dispatcher
	s.transport = nil
	s.dispatcher = nil
	s.mu.Unlock()

	if d != nil {
		d.Teardown()
	}
	if t != nil {
		_ = t.Close()
	}
	s.machine.Reset()
	return nil
}
