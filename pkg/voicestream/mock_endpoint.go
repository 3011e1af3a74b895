package voicestream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMockClosed is returned by a mock stream's Receive after Close.
var ErrMockClosed = errors.New("mock stream closed")

var mockPhrases = []string{
	"Hello, how are you today?",
	"This is a test of the transcription system.",
	"The weather is really nice outside.",
	"I hope this application works well.",
	"Thank you for using the application.",
	"The audio quality sounds good.",
	"Real-time transcription is working.",
	"This demonstrates the accessibility features.",
	"The sentiment analysis is functioning.",
	"Voice recognition technology is amazing.",
}

// MockDialer is an offline EndpointDialer that emits canned transcripts. It
// backs the keyless CLI mode and the package tests: every ResponseEvery
// frames sent, the stream produces the next phrase from Script after Delay.
type MockDialer struct {
	// ResponseEvery is the number of audio frames per emitted transcript.
	// Defaults to 10.
	ResponseEvery int
	// Delay simulates endpoint processing time. Defaults to 200ms; tests
	// set it to zero.
	Delay time.Duration
	// Script overrides the default phrases.
	Script []string
	// FailDials makes the first N Dial calls fail, for connect-retry tests.
	FailDials int

	mu       sync.Mutex
	dials    int
	failNext int
	conns    []*MockConn
}

// FailNextDials makes the next n Dial calls fail, regardless of how many
// have already succeeded.
func (d *MockDialer) FailNextDials(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

// NewMockDialer returns a dialer with the default phrase script.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		ResponseEvery: 10,
		Delay:         200 * time.Millisecond,
	}
}

// Dial opens a mock stream. The returned conn is also retained so tests can
// reach it via Conns().
func (d *MockDialer) Dial(ctx context.Context, settings StreamSettings) (EndpointConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("mock dial refused")
	}
	if d.dials <= d.FailDials {
		return nil, errors.New("mock dial refused")
	}

	script := d.Script
	if len(script) == 0 {
		script = mockPhrases
	}
	every := d.ResponseEvery
	if every < 1 {
		every = 10
	}

	conn := &MockConn{
		settings: settings,
		script:   script,
		every:    every,
		delay:    d.Delay,
		inbox:    make(chan *ServerMessage, 64),
		done:     make(chan struct{}),
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

// Dials returns how many times Dial was called.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns every stream this dialer has opened, in order.
func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// MockConn is one scripted stream.
type MockConn struct {
	settings StreamSettings
	script   []string
	every    int
	delay    time.Duration

	mu         sync.Mutex
	sent       int
	scriptPos  int
	closed     bool
	failSend   error
	inbox      chan *ServerMessage
	done       chan struct{}
}

// Settings returns the handshake this stream was opened with.
func (c *MockConn) Settings() StreamSettings {
	return c.settings
}

// SendAudio accepts a frame and, on every Nth frame, schedules the next
// scripted transcript.
func (c *MockConn) SendAudio(pcm []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrMockClosed
	}
	if c.failSend != nil {
		err := c.failSend
		c.mu.Unlock()
		return err
	}

	c.sent++
	emit := c.sent%c.every == 0
	var text string
	if emit {
		text = c.script[c.scriptPos%len(c.script)]
		c.scriptPos++
	}
	c.mu.Unlock()

	if !emit {
		return nil
	}

	msg := &ServerMessage{
		Type:       MessageTypeTranscription,
		Text:       text,
		IsFinal:    true,
		Confidence: floatPtr(0.95),
		Speaker:    "Speaker 1",
	}
	if c.delay > 0 {
		go func() {
			select {
			case <-time.After(c.delay):
				c.push(msg)
			case <-c.done:
			}
		}()
	} else {
		c.push(msg)
	}
	return nil
}

// Receive blocks for the next scripted message.
func (c *MockConn) Receive() (*ServerMessage, error) {
	select {
	case msg := <-c.inbox:
		if msg == nil {
			return nil, ErrMockClosed
		}
		return msg, nil
	case <-c.done:
		return nil, ErrMockClosed
	}
}

// Close shuts the stream; pending Receives return ErrMockClosed.
func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

// InjectMessage feeds an arbitrary message into the stream, ahead of any
// scripted output. Used by tests to simulate endpoint errors.
func (c *MockConn) InjectMessage(msg *ServerMessage) {
	c.push(msg)
}

// InjectError feeds an error payload into the stream.
func (c *MockConn) InjectError(text, code string) {
	c.push(&ServerMessage{Type: MessageTypeError, Error: text, Code: code})
}

// FailSends makes every subsequent SendAudio return err.
func (c *MockConn) FailSends(err error) {
	c.mu.Lock()
	c.failSend = err
	c.mu.Unlock()
}

// FramesReceived returns how many frames were accepted.
func (c *MockConn) FramesReceived() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *MockConn) push(msg *ServerMessage) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

func floatPtr(v float64) *float64 { return &v }
