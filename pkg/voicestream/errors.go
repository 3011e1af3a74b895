package voicestream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes as constants
const (
	ErrCodeDeviceUnavailable    = "DEVICE_UNAVAILABLE"
	ErrCodeAlreadyRunning       = "ALREADY_RUNNING"
	ErrCodeConnectFailed        = "CONNECT_FAILED"
	ErrCodeNotConnected         = "NOT_CONNECTED"
	ErrCodeModelDeprecated      = "MODEL_DEPRECATED"
	ErrCodeConnection           = "CONNECTION_ERROR"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeUnknownTranscription = "UNKNOWN_TRANSCRIPTION_ERROR"
	ErrCodeReconnectExhausted   = "RECONNECT_EXHAUSTED"
	ErrCodeListenerFailure      = "LISTENER_FAILURE"
	ErrCodeConfigInvalid        = "CONFIG_INVALID"
	ErrCodeTokenGeneration      = "TOKEN_GENERATION_FAILED"
)

// ErrNotConnected signals that a frame was offered to a session that is not
// streaming. It is a routing signal, not a failure: the caller decides
// whether to buffer or drop.
var ErrNotConnected = errors.New("session not connected")

// StreamError is the error type surfaced by pipeline components. Code is one
// of the ErrCode constants; Details carries optional context for logging.
type StreamError struct {
	Message   string
	Code      string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

func (e *StreamError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.err
}

// AddDetail attaches a context value and returns the error for chaining.
func (e *StreamError) AddDetail(key string, value interface{}) *StreamError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func NewStreamError(message, code string) *StreamError {
	return &StreamError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// WrapStreamError builds a coded error around an underlying cause.
func WrapStreamError(err error, message, code string) *StreamError {
	return &StreamError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
		err:       err,
	}
}

func NewDeviceUnavailableError(err error) *StreamError {
	return WrapStreamError(err, "no audio input device available", ErrCodeDeviceUnavailable)
}

func NewAlreadyRunningError() *StreamError {
	return NewStreamError("capture already running", ErrCodeAlreadyRunning)
}

func NewConnectFailedError(err error) *StreamError {
	return WrapStreamError(err, "failed to connect to transcription endpoint", ErrCodeConnectFailed)
}

func NewReconnectExhaustedError(attempts int) *StreamError {
	e := NewStreamError("reconnection attempts exhausted, session terminated", ErrCodeReconnectExhausted)
	return e.AddDetail("attempts", attempts)
}

// ErrorClass buckets inbound endpoint failures for recovery decisions.
type ErrorClass int

const (
	ErrorClassUnknown ErrorClass = iota
	ErrorClassModelDeprecated
	ErrorClassConnection
	ErrorClassRateLimited
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassModelDeprecated:
		return "model_deprecated"
	case ErrorClassConnection:
		return "connection_error"
	case ErrorClassRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

func (c ErrorClass) Code() string {
	switch c {
	case ErrorClassModelDeprecated:
		return ErrCodeModelDeprecated
	case ErrorClassConnection:
		return ErrCodeConnection
	case ErrorClassRateLimited:
		return ErrCodeRateLimited
	default:
		return ErrCodeUnknownTranscription
	}
}

// ClassifyTranscriptionError maps a free-text failure payload from the remote
// endpoint onto an ErrorClass. Code 4105 is the provider's model-deprecation
// code and is matched explicitly.
func ClassifyTranscriptionError(message string) ErrorClass {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "model deprecated") || strings.Contains(message, "4105"):
		return ErrorClassModelDeprecated
	case strings.Contains(lower, "connection") || strings.Contains(lower, "websocket"):
		return ErrorClassConnection
	case strings.Contains(lower, "rate limit"):
		return ErrorClassRateLimited
	default:
		return ErrorClassUnknown
	}
}
