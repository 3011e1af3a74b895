package voicestream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *Logger {
	return NewLogger(&LogConfig{Level: "error", Output: io.Discard})
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		ConfidenceThreshold:      0.7,
		EnableDiarization:        true,
		EnableSentiment:          true,
		EnableTone:               true,
		MaxReconnectAttempts:     3,
		ReconnectBackoffSeconds:  0.005,
		RateLimitCooldownSeconds: 0.05,
		DrainTimeoutSeconds:      2.0,
	}
}

func newTestSession(dialer EndpointDialer) *TranscriptionSession {
	return NewTranscriptionSession(dialer, testSessionConfig(), NewAudioConfig(), "realtime-v2", testLogger())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}

func TestSessionConnectAndStream(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0
	dialer.ResponseEvery = 2

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	transcripts := NewTranscriptLog()
	sess.OnResult(transcripts.Handler())

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if sess.State() != Streaming {
		t.Errorf("Expected Streaming state, got %s", sess.State())
	}
	if sess.SessionID() == "" {
		t.Error("Expected a session id after connect")
	}

	pcm := make([]byte, 1024)
	for i := 0; i < 4; i++ {
		if err := sess.StreamAudio(pcm); err != nil {
			t.Fatalf("StreamAudio failed: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool { return transcripts.Len() >= 2 }, "two transcripts")

	results := transcripts.Results()
	if results[0].Text != mockPhrases[0] {
		t.Errorf("Expected first phrase %q, got %q", mockPhrases[0], results[0].Text)
	}
	if results[0].Confidence != 0.95 {
		t.Errorf("Expected confidence 0.95, got %v", results[0].Confidence)
	}
	if results[0].Speaker != "Speaker 1" {
		t.Errorf("Expected speaker label, got %q", results[0].Speaker)
	}

	stats := sess.Stats()
	if stats.FramesSent != 4 {
		t.Errorf("Expected 4 frames sent, got %d", stats.FramesSent)
	}
	if stats.ResultsReceived < 2 {
		t.Errorf("Expected at least 2 results, got %d", stats.ResultsReceived)
	}
}

func TestStreamAudioNotConnected(t *testing.T) {
	sess := newTestSession(NewMockDialer())

	err := sess.StreamAudio([]byte{0x00})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
}

func TestConnectFallbackReducesFeatures(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0
	dialer.FailDials = 1

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect with fallback failed: %v", err)
	}
	if dialer.Dials() != 2 {
		t.Errorf("Expected 2 dial attempts, got %d", dialer.Dials())
	}

	conns := dialer.Conns()
	if len(conns) != 1 {
		t.Fatalf("Expected 1 live conn, got %d", len(conns))
	}
	settings := conns[0].Settings()
	if settings.Model != "" {
		t.Errorf("Expected fallback handshake without model pin, got %q", settings.Model)
	}
	if settings.Sentiment || settings.Tone || settings.Diarization {
		t.Error("Expected fallback handshake with analysis features off")
	}
}

func TestConnectFailure(t *testing.T) {
	dialer := NewMockDialer()
	dialer.FailDials = 2 // full and fallback both refused

	sess := newTestSession(dialer)

	err := sess.Connect(context.Background())
	if err == nil {
		t.Fatal("Expected Connect to fail")
	}
	var streamErr *StreamError
	if !errors.As(err, &streamErr) || streamErr.Code != ErrCodeConnectFailed {
		t.Errorf("Expected CONNECT_FAILED StreamError, got %v", err)
	}
	if sess.State() != Disconnected {
		t.Errorf("Expected Disconnected after failure, got %s", sess.State())
	}
}

func TestConnectWhileConnected(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	err := sess.Connect(context.Background())
	var streamErr *StreamError
	if !errors.As(err, &streamErr) || streamErr.Code != ErrCodeAlreadyRunning {
		t.Errorf("Expected ALREADY_RUNNING on second connect, got %v", err)
	}
}

func TestReconnectOnConnectionError(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	var mu sync.Mutex
	var codes []string
	sess.OnError(func(err *StreamError) {
		mu.Lock()
		codes = append(codes, err.Code)
		mu.Unlock()
	})

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dialer.Conns()[0].InjectError("websocket connection dropped", "")

	waitFor(t, time.Second, func() bool {
		return dialer.Dials() >= 2 && sess.State() == Streaming
	}, "reconnection")

	mu.Lock()
	defer mu.Unlock()
	if len(codes) == 0 || codes[0] != ErrCodeConnection {
		t.Errorf("Expected CONNECTION_ERROR surfaced first, got %v", codes)
	}
}

func TestReconnectExhaustion(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	var mu sync.Mutex
	var codes []string
	sess.OnError(func(err *StreamError) {
		mu.Lock()
		codes = append(codes, err.Code)
		mu.Unlock()
	})

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Every future dial fails: three attempts, each trying full then
	// reduced handshakes, then terminal disconnect.
	dialer.FailNextDials(100)
	dialer.Conns()[0].InjectError("connection lost", "")

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range codes {
			if c == ErrCodeReconnectExhausted {
				return true
			}
		}
		return false
	}, "reconnect exhaustion")

	if sess.State() != Disconnected {
		t.Errorf("Expected terminal Disconnected state, got %s", sess.State())
	}
	dialsAfter := dialer.Dials()
	if dialsAfter != 7 { // initial connect + 3 attempts x 2 handshakes
		t.Errorf("Expected 7 total dials, got %d", dialsAfter)
	}

	// No further attempts after exhaustion.
	time.Sleep(50 * time.Millisecond)
	if dialer.Dials() != dialsAfter {
		t.Errorf("Dial count moved after exhaustion: %d -> %d", dialsAfter, dialer.Dials())
	}
	if err := sess.StreamAudio([]byte{0x00}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after exhaustion, got %v", err)
	}
}

func TestReconnectBackoffDoubles(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	cfg := testSessionConfig()
	cfg.ReconnectBackoffSeconds = 0.01 // 10ms, 20ms, 40ms
	sess := NewTranscriptionSession(dialer, cfg, NewAudioConfig(), "", testLogger())
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dialer.FailNextDials(100)
	start := time.Now()
	dialer.Conns()[0].InjectError("connection lost", "")

	waitFor(t, 2*time.Second, func() bool { return sess.State() == Disconnected }, "exhaustion")

	// The three attempt delays are 10+20+40 = 70ms minimum.
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("Recovery finished in %v, faster than the backoff schedule allows", elapsed)
	}
}

func TestRateLimitCooldownBeforeReconnect(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	start := time.Now()
	dialer.Conns()[0].InjectError("Rate limit exceeded", "")

	waitFor(t, time.Second, func() bool { return dialer.Dials() >= 2 }, "reconnect after cooldown")

	// 50ms cooldown plus the 5ms first backoff.
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("Reconnected in %v, before the rate limit cooldown elapsed", elapsed)
	}
}

func TestModelDeprecatedTriggersReconnect(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	var mu sync.Mutex
	var codes []string
	sess.OnError(func(err *StreamError) {
		mu.Lock()
		codes = append(codes, err.Code)
		mu.Unlock()
	})

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dialer.Conns()[0].InjectError("", "4105")

	waitFor(t, time.Second, func() bool {
		return dialer.Dials() >= 2 && sess.State() == Streaming
	}, "reconnection after model deprecation")

	mu.Lock()
	defer mu.Unlock()
	if len(codes) == 0 || codes[0] != ErrCodeModelDeprecated {
		t.Errorf("Expected MODEL_DEPRECATED surfaced, got %v", codes)
	}
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestModelDeprecatedWarnsOperator(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	buf := &logBuffer{}
	log := NewLogger(&LogConfig{Level: "warn", Output: buf})
	sess := NewTranscriptionSession(dialer, testSessionConfig(), NewAudioConfig(), "realtime-v2", log)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dialer.Conns()[0].InjectError("model deprecated, please migrate", "4105")

	waitFor(t, time.Second, func() bool {
		return strings.Contains(buf.String(), "update the configured model")
	}, "deprecation warning")

	if !strings.Contains(buf.String(), "realtime-v2") {
		t.Errorf("Expected the configured model named in the warning, got %q", buf.String())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := sess.Disconnect(); err != nil {
		t.Errorf("First Disconnect failed: %v", err)
	}
	if err := sess.Disconnect(); err != nil {
		t.Errorf("Second Disconnect failed: %v", err)
	}
	if sess.State() != Disconnected {
		t.Errorf("Expected Disconnected, got %s", sess.State())
	}
	if err := sess.StreamAudio([]byte{0x00}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestLowConfidenceFinalDropped(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	var mu sync.Mutex
	var seen []*TranscriptionResult
	sess.OnResult(func(r *TranscriptionResult) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
	})

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := dialer.Conns()[0]

	low := 0.5
	conn.InjectMessage(&ServerMessage{Type: MessageTypeTranscription, Text: "dropped final", IsFinal: true, Confidence: &low})
	conn.InjectMessage(&ServerMessage{Type: MessageTypeTranscription, Text: "kept partial", IsFinal: false, Confidence: &low})
	high := 0.9
	conn.InjectMessage(&ServerMessage{Type: MessageTypeTranscription, Text: "kept final", IsFinal: true, Confidence: &high})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	}, "filtered results")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("Expected 2 delivered results, got %d", len(seen))
	}
	if seen[0].Text != "kept partial" || seen[1].Text != "kept final" {
		t.Errorf("Unexpected delivery: %q, %q", seen[0].Text, seen[1].Text)
	}
}

func TestMissingConfidenceDefaults(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	transcripts := NewTranscriptLog()
	sess.OnResult(transcripts.Handler())

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	dialer.Conns()[0].InjectMessage(&ServerMessage{Type: MessageTypeTranscription, Text: "no confidence", IsFinal: true})

	waitFor(t, time.Second, func() bool { return transcripts.Len() >= 1 }, "result")

	if got := transcripts.Results()[0].Confidence; got != 1.0 {
		t.Errorf("Expected missing confidence to default to 1.0, got %v", got)
	}
}

func TestListenerPanicContained(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	transcripts := NewTranscriptLog()
	sess.OnResult(func(*TranscriptionResult) { panic("bad listener") })
	sess.OnResult(transcripts.Handler())

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	high := 0.9
	dialer.Conns()[0].InjectMessage(&ServerMessage{Type: MessageTypeTranscription, Text: "survives", IsFinal: true, Confidence: &high})

	waitFor(t, time.Second, func() bool { return transcripts.Len() >= 1 }, "delivery past the panicking listener")

	if sess.State() != Streaming {
		t.Errorf("Expected the session to stay Streaming, got %s", sess.State())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	dialer := NewMockDialer()
	dialer.Delay = 0

	sess := newTestSession(dialer)
	defer sess.Disconnect()

	first := NewTranscriptLog()
	second := NewTranscriptLog()
	unsub := sess.OnResult(first.Handler())
	sess.OnResult(second.Handler())

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := dialer.Conns()[0]
	high := 0.9

	conn.InjectMessage(&ServerMessage{Type: MessageTypeTranscription, Text: "one", IsFinal: true, Confidence: &high})
	waitFor(t, time.Second, func() bool { return second.Len() >= 1 }, "first delivery")

	unsub()
	conn.InjectMessage(&ServerMessage{Type: MessageTypeTranscription, Text: "two", IsFinal: true, Confidence: &high})
	waitFor(t, time.Second, func() bool { return second.Len() >= 2 }, "second delivery")

	if first.Len() != 1 {
		t.Errorf("Expected unsubscribed handler to stop at 1 result, got %d", first.Len())
	}
}
