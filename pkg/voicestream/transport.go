package voicestream

import (
	"context"
	"time"
)

// Message types on the endpoint stream.
const (
	MessageTypeTranscription = "transcription"
	MessageTypeError         = "error"
)

// StreamSettings is the handshake payload sent when a stream is opened. It
// pins the audio format and requests optional analysis features.
type StreamSettings struct {
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Encoding    string `json:"encoding"` // always "pcm_s16le"
	Model       string `json:"model,omitempty"`
	Diarization bool   `json:"diarization"`
	Sentiment   bool   `json:"sentiment"`
	Tone        bool   `json:"tone"`
}

// Reduced returns a copy with the model pin and analysis features stripped,
// used as the fallback handshake when the full-featured connect is rejected.
func (s StreamSettings) Reduced() StreamSettings {
	s.Model = ""
	s.Diarization = false
	s.Sentiment = false
	s.Tone = false
	return s
}

// ServerMessage is the raw wire payload from the endpoint, before validation.
// Confidence is a pointer so a missing field can be told apart from zero.
type ServerMessage struct {
	Type       string   `json:"type"`
	Text       string   `json:"text,omitempty"`
	IsFinal    bool     `json:"is_final,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Speaker    string   `json:"speaker,omitempty"`
	Error      string   `json:"error,omitempty"`
	Code       string   `json:"code,omitempty"`
}

// ToResult validates a transcription message into a result. Missing
// confidence defaults to 1.0 and out-of-range values are clamped, so
// downstream threshold checks never see garbage.
func (m *ServerMessage) ToResult() *TranscriptionResult {
	confidence := 1.0
	if m.Confidence != nil {
		confidence = *m.Confidence
		if confidence < 0 {
			confidence = 0
		} else if confidence > 1 {
			confidence = 1
		}
	}

	return &TranscriptionResult{
		Text:       m.Text,
		Confidence: confidence,
		Speaker:    m.Speaker,
		Timestamp:  time.Now(),
		IsFinal:    m.IsFinal,
	}
}

// ErrorText returns the failure payload of an error message, falling back to
// the provider code when no text was sent.
func (m *ServerMessage) ErrorText() string {
	if m.Error != "" {
		return m.Error
	}
	return m.Code
}

// EndpointDialer opens streams to a transcription endpoint. The live
// implementation dials a websocket; tests and keyless runs use the mock.
type EndpointDialer interface {
	Dial(ctx context.Context, settings StreamSettings) (EndpointConn, error)
}

// EndpointConn is one open transcription stream. SendAudio is safe for a
// single producer; Receive is driven by a single reader goroutine. Close may
// race with both and must be idempotent.
type EndpointConn interface {
	SendAudio(pcm []byte) error
	Receive() (*ServerMessage, error)
	Close() error
}
