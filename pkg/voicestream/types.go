package voicestream

import "time"

// ConnectionState describes the transcription session lifecycle.
type ConnectionState string

const (
	Disconnected    ConnectionState = "disconnected"
	Connecting      ConnectionState = "connecting"
	Streaming       ConnectionState = "streaming"
	ErrorRecovering ConnectionState = "error_recovering"
)

// Sentiment is a keyword-derived sentiment classification of a transcript.
type Sentiment struct {
	Label      string  `json:"label"`
	Score      float64 `json:"score"`      // [-1, 1]
	Confidence float64 `json:"confidence"` // [0, 1]
}

// Tone is a keyword-derived tone classification of a transcript. Scores holds
// the raw per-label match counts that produced the winning label.
type Tone struct {
	Label      string         `json:"label"`
	Confidence float64        `json:"confidence"`
	Scores     map[string]int `json:"scores"`
}

// TranscriptionResult is one transcript message from the remote endpoint,
// validated at the ingestion boundary. Optional fields default safely when
// the endpoint omits them. Results are immutable once created.
type TranscriptionResult struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Speaker    string     `json:"speaker,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	IsFinal    bool       `json:"is_final"`
	Sentiment  *Sentiment `json:"sentiment,omitempty"`
	Tone       *Tone      `json:"tone,omitempty"`
}

// SessionStats is a point-in-time copy of a session's cumulative counters.
type SessionStats struct {
	SessionID       string          `json:"session_id"`
	State           ConnectionState `json:"state"`
	StartedAt       time.Time       `json:"started_at"`
	FramesSent      int64           `json:"frames_sent"`
	ResultsReceived int64           `json:"results_received"`
	ErrorCount      int64           `json:"error_count"`
	AvgLatencyMS    float64         `json:"avg_latency_ms"`
}

// AlertRecord is a threshold-crossing event emitted by the metrics collector.
type AlertRecord struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"` // "info", "warning", "error"
	Timestamp time.Time `json:"timestamp"`
}

// PerformanceSnapshot is one sample of pipeline and host metrics. The
// collector keeps a bounded append-only history of these.
type PerformanceSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	LatencyMS         float64   `json:"latency_ms"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryMB          float64   `json:"memory_mb"`
	MemoryPercent     float64   `json:"memory_percent"`
	Connected         bool      `json:"connected"`
	ErrorCount        int64     `json:"error_count"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	BufferedFrames    int       `json:"buffered_frames"`
	DroppedFrames     int64     `json:"dropped_frames"`
}

// ResultListener is the registration surface for display consumers. Callbacks
// are invoked from pipeline goroutines and must return quickly.
type ResultListener interface {
	OnResult(result *TranscriptionResult)
	OnAlert(alert AlertRecord)
	OnMetrics(snapshot PerformanceSnapshot)
}

// Handler types
type ResultHandler func(*TranscriptionResult)
type StateHandler func(ConnectionState)
type ErrorHandler func(*StreamError)
type FrameHandler func(AudioFrame)
