package voicestream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TranscriptionSession manages one logical stream to the endpoint across
// reconnections. Frames go in through StreamAudio; validated results come out
// through registered handlers, invoked synchronously in registration order.
//
// The session owns its recovery: inbound endpoint errors are classified and
// trigger a bounded reconnect loop with exponential backoff. Only one
// recovery runs at a time; while it runs the session reports
// ErrorRecovering and StreamAudio returns ErrNotConnected.
type TranscriptionSession struct {
	dialer   EndpointDialer
	cfg      SessionConfig
	audioCfg *AudioConfig
	model    string
	log      *Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      ConnectionState
	conn       EndpointConn
	generation int
	sessionID  string
	startedAt  time.Time
	recovering bool
	closed     bool

	receiveWG sync.WaitGroup

	handlerMu      sync.Mutex
	nextHandlerID  int
	resultHandlers []handlerEntry[ResultHandler]
	stateHandlers  []handlerEntry[StateHandler]
	errorHandlers  []handlerEntry[ErrorHandler]

	framesSent      atomic.Int64
	resultsReceived atomic.Int64
	errorCount      atomic.Int64
	latencyMicros   atomic.Int64
}

type handlerEntry[H any] struct {
	id int
	fn H
}

// NewTranscriptionSession builds a session over the given dialer. Nothing is
// dialed until Connect.
func NewTranscriptionSession(dialer EndpointDialer, cfg SessionConfig, audioCfg *AudioConfig, model string, log *Logger) *TranscriptionSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &TranscriptionSession{
		dialer:   dialer,
		cfg:      cfg,
		audioCfg: audioCfg,
		model:    model,
		log:      log.WithComponent("session"),
		ctx:      ctx,
		cancel:   cancel,
		state:    Disconnected,
	}
}

func (s *TranscriptionSession) settings() StreamSettings {
	return StreamSettings{
		SampleRate:  s.audioCfg.SampleRate,
		Channels:    s.audioCfg.Channels,
		Encoding:    "pcm_s16le",
		Model:       s.model,
		Diarization: s.cfg.EnableDiarization,
		Sentiment:   s.cfg.EnableSentiment,
		Tone:        s.cfg.EnableTone,
	}
}

// Connect dials the endpoint with the full feature set, falling back once to
// a reduced handshake (no model pin, analysis off) before giving up.
func (s *TranscriptionSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return NewStreamError("session is closed", ErrCodeNotConnected)
	}
	if s.state == Streaming || s.state == Connecting {
		s.mu.Unlock()
		return NewStreamError("session already connected or connecting", ErrCodeAlreadyRunning)
	}
	s.setStateLocked(Connecting)
	s.mu.Unlock()

	if err := s.dialAndStart(ctx); err != nil {
		s.mu.Lock()
		s.setStateLocked(Disconnected)
		s.mu.Unlock()
		return err
	}
	return nil
}

// dialAndStart performs one full connect cycle: dial, install the conn and
// start its receive loop. Callers manage the Connecting/Recovering states.
func (s *TranscriptionSession) dialAndStart(ctx context.Context) error {
	conn, err := s.dialer.Dial(ctx, s.settings())
	if err != nil {
		s.log.WithError(err).Warn("Connect failed, retrying with reduced features")
		conn, err = s.dialer.Dial(ctx, s.settings().Reduced())
		if err != nil {
			return NewConnectFailedError(err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return NewStreamError("session is closed", ErrCodeNotConnected)
	}
	s.conn = conn
	s.generation++
	gen := s.generation
	if s.sessionID == "" {
		s.sessionID = "session_" + uuid.NewString()
		s.startedAt = time.Now()
	}
	s.setStateLocked(Streaming)
	s.mu.Unlock()

	s.log.LogConnectionEvent("connected", Streaming, map[string]interface{}{
		"session_id": s.sessionID,
	})

	s.receiveWG.Add(1)
	go s.receiveLoop(conn, gen)
	return nil
}

// StreamAudio forwards one frame of PCM. Returns ErrNotConnected while the
// session is disconnected or recovering; the caller decides whether to
// buffer or drop.
func (s *TranscriptionSession) StreamAudio(pcm []byte) error {
	s.mu.Lock()
	conn := s.conn
	streaming := s.state == Streaming
	s.mu.Unlock()

	if !streaming || conn == nil {
		return ErrNotConnected
	}

	if err := conn.SendAudio(pcm); err != nil {
		s.errorCount.Add(1)
		s.log.WithError(err).Warn("Audio send failed")
		go s.handleTransportFailure(conn)
		return WrapStreamError(err, "failed to stream audio", ErrCodeConnection)
	}

	s.framesSent.Add(1)
	return nil
}

func (s *TranscriptionSession) receiveLoop(conn EndpointConn, gen int) {
	defer s.receiveWG.Done()

	for {
		msg, err := conn.Receive()
		if err != nil {
			s.mu.Lock()
			stale := s.closed || s.generation != gen
			s.mu.Unlock()
			if stale {
				return
			}
			s.errorCount.Add(1)
			s.log.WithError(err).Warn("Stream read failed")
			s.recover(ErrorClassConnection)
			return
		}

		switch msg.Type {
		case MessageTypeTranscription:
			s.handleResult(msg)
		case MessageTypeError:
			s.handleEndpointError(msg)
		default:
			s.log.Debugf("Ignoring unknown message type %q", msg.Type)
		}
	}
}

// handleResult validates, filters and delivers one transcript. Final results
// below the confidence threshold are dropped; partials always pass so the
// display can show text forming.
func (s *TranscriptionSession) handleResult(msg *ServerMessage) {
	start := time.Now()

	result := msg.ToResult()
	if result.IsFinal && result.Confidence < s.cfg.ConfidenceThreshold {
		s.log.Debugf("Dropping low-confidence final result (%.2f)", result.Confidence)
		return
	}

	s.resultsReceived.Add(1)
	s.deliverResult(result)

	s.latencyMicros.Add(time.Since(start).Microseconds())
}

func (s *TranscriptionSession) deliverResult(result *TranscriptionResult) {
	s.handlerMu.Lock()
	handlers := make([]handlerEntry[ResultHandler], len(s.resultHandlers))
	copy(handlers, s.resultHandlers)
	s.handlerMu.Unlock()

	for _, h := range handlers {
		s.safeInvoke(func() { h.fn(result) })
	}
}

// safeInvoke runs a handler, containing panics so one bad listener cannot
// take down the receive loop.
func (s *TranscriptionSession) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.errorCount.Add(1)
			s.log.WithField("panic", r).Error("Listener panicked")
		}
	}()
	fn()
}

// handleEndpointError classifies an inbound failure payload and starts
// recovery. Rate limiting gets a cooldown before the first attempt; every
// class reconnects, including unknown ones.
func (s *TranscriptionSession) handleEndpointError(msg *ServerMessage) {
	s.errorCount.Add(1)

	text := msg.ErrorText()
	class := ClassifyTranscriptionError(text)

	if class == ErrorClassModelDeprecated {
		s.log.WithField("model", s.model).Warn(
			"Transcription model is deprecated; update the configured model to a supported version")
	}

	streamErr := NewStreamError(text, class.Code()).AddDetail("class", class.String())
	s.log.LogStreamError(streamErr)
	s.emitError(streamErr)

	go s.recover(class)
}

// handleTransportFailure starts recovery after a failed send, unless another
// conn is already installed.
func (s *TranscriptionSession) handleTransportFailure(conn EndpointConn) {
	s.mu.Lock()
	stale := s.closed || s.conn != conn
	s.mu.Unlock()
	if stale {
		return
	}
	s.recover(ErrorClassConnection)
}

// recover runs the reconnect loop: up to MaxReconnectAttempts full
// disconnect-then-connect cycles with exponentially doubling delays. At most
// one recovery runs at a time; extra triggers are dropped. Exhaustion leaves
// the session Disconnected and emits a terminal error.
func (s *TranscriptionSession) recover(class ErrorClass) {
	s.mu.Lock()
	if s.closed || s.recovering {
		s.mu.Unlock()
		return
	}
	s.recovering = true
	s.setStateLocked(ErrorRecovering)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.recovering = false
		s.mu.Unlock()
	}()

	if class == ErrorClassRateLimited {
		s.log.Warn("Rate limited, cooling down before reconnect")
		if !s.sleep(s.cfg.RateLimitCooldown()) {
			return
		}
	}

	delay := s.cfg.ReconnectBackoff()
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		s.log.Infof("Reconnection attempt %d/%d", attempt, s.cfg.MaxReconnectAttempts)

		s.dropConn()

		if !s.sleep(delay) {
			return
		}
		delay *= 2

		if err := s.dialAndStart(s.ctx); err != nil {
			s.log.WithError(err).Warn("Reconnection attempt failed")
			continue
		}

		s.log.Info("Reconnection successful")
		return
	}

	s.mu.Lock()
	s.setStateLocked(Disconnected)
	s.mu.Unlock()

	exhausted := NewReconnectExhaustedError(s.cfg.MaxReconnectAttempts)
	s.log.LogStreamError(exhausted)
	s.emitError(exhausted)
}

// sleep waits for d unless the session shuts down first.
func (s *TranscriptionSession) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// dropConn closes and detaches the current conn, bumping the generation so
// its receive loop exits quietly.
func (s *TranscriptionSession) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.generation++
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Disconnect shuts the session down. Idempotent: the first call wins, later
// calls return immediately. The state flips to Disconnected before the
// receive loop is joined, so observers never see a live state on a dead
// session. The join is bounded; on timeout the loop is abandoned with a
// warning rather than blocking the caller.
func (s *TranscriptionSession) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.generation++
	s.setStateLocked(Disconnected)
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.receiveWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.DrainTimeout()):
		s.log.Warn("Receive loop did not stop in time, releasing session anyway")
	}

	s.log.LogConnectionEvent("disconnected", Disconnected, map[string]interface{}{
		"session_id": s.sessionID,
	})
	return nil
}

// setStateLocked transitions the state and notifies handlers. Caller holds
// mu, so notification happens off-thread: one goroutine runs the handlers in
// registration order, free to call back into the session.
func (s *TranscriptionSession) setStateLocked(state ConnectionState) {
	if s.state == state {
		return
	}
	s.state = state

	s.handlerMu.Lock()
	handlers := make([]handlerEntry[StateHandler], len(s.stateHandlers))
	copy(handlers, s.stateHandlers)
	s.handlerMu.Unlock()

	if len(handlers) == 0 {
		return
	}
	go func() {
		for _, h := range handlers {
			h := h
			s.safeInvoke(func() { h.fn(state) })
		}
	}()
}

func (s *TranscriptionSession) emitError(err *StreamError) {
	s.handlerMu.Lock()
	handlers := make([]handlerEntry[ErrorHandler], len(s.errorHandlers))
	copy(handlers, s.errorHandlers)
	s.handlerMu.Unlock()

	for _, h := range handlers {
		h := h
		s.safeInvoke(func() { h.fn(err) })
	}
}

// OnResult registers a transcript handler and returns its unsubscribe.
func (s *TranscriptionSession) OnResult(handler ResultHandler) func() {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.nextHandlerID++
	id := s.nextHandlerID
	s.resultHandlers = append(s.resultHandlers, handlerEntry[ResultHandler]{id: id, fn: handler})
	return func() {
		s.handlerMu.Lock()
		defer s.handlerMu.Unlock()
		s.resultHandlers = removeHandler(s.resultHandlers, id)
	}
}

// OnStateChange registers a state handler and returns its unsubscribe.
func (s *TranscriptionSession) OnStateChange(handler StateHandler) func() {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.nextHandlerID++
	id := s.nextHandlerID
	s.stateHandlers = append(s.stateHandlers, handlerEntry[StateHandler]{id: id, fn: handler})
	return func() {
		s.handlerMu.Lock()
		defer s.handlerMu.Unlock()
		s.stateHandlers = removeHandler(s.stateHandlers, id)
	}
}

// OnError registers an error handler and returns its unsubscribe.
func (s *TranscriptionSession) OnError(handler ErrorHandler) func() {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.nextHandlerID++
	id := s.nextHandlerID
	s.errorHandlers = append(s.errorHandlers, handlerEntry[ErrorHandler]{id: id, fn: handler})
	return func() {
		s.handlerMu.Lock()
		defer s.handlerMu.Unlock()
		s.errorHandlers = removeHandler(s.errorHandlers, id)
	}
}

func removeHandler[H any](entries []handlerEntry[H], id int) []handlerEntry[H] {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

// State returns the current connection state.
func (s *TranscriptionSession) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is actively streaming.
func (s *TranscriptionSession) IsConnected() bool {
	return s.State() == Streaming
}

// SessionID returns the stable id assigned on first connect.
func (s *TranscriptionSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Stats returns a point-in-time copy of the session counters.
func (s *TranscriptionSession) Stats() SessionStats {
	s.mu.Lock()
	id := s.sessionID
	state := s.state
	startedAt := s.startedAt
	s.mu.Unlock()

	results := s.resultsReceived.Load()
	avgLatency := 0.0
	if results > 0 {
		avgLatency = float64(s.latencyMicros.Load()) / float64(results) / 1000.0
	}

	return SessionStats{
		SessionID:       id,
		State:           state,
		StartedAt:       startedAt,
		FramesSent:      s.framesSent.Load(),
		ResultsReceived: results,
		ErrorCount:      s.errorCount.Load(),
		AvgLatencyMS:    avgLatency,
	}
}
