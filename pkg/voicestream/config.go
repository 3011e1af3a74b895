package voicestream

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration. It is read once at startup and
// immutable thereafter; components receive the values they need at
// construction.
type Config struct {
	Audio    *AudioConfig   `yaml:"audio"`
	Endpoint EndpointConfig `yaml:"endpoint"`
	Session  SessionConfig  `yaml:"session"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// EndpointConfig describes the remote transcription endpoint.
type EndpointConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// TokenTTLSeconds bounds the lifetime of signed stream tokens.
	TokenTTLSeconds int `yaml:"token_ttl_seconds"`
	// TokenRefreshBufferSeconds renews a cached token this long before expiry.
	TokenRefreshBufferSeconds int `yaml:"token_refresh_buffer_seconds"`
}

// SessionConfig controls result filtering, feature flags and the
// reconnection policy.
type SessionConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	EnableDiarization   bool    `yaml:"enable_diarization"`
	EnableSentiment     bool    `yaml:"enable_sentiment"`
	EnableTone          bool    `yaml:"enable_tone"`

	// ReconnectBackoffSeconds doubles on each successive attempt;
	// DrainTimeoutSeconds bounds the Disconnect join on in-flight delivery.
	MaxReconnectAttempts     int     `yaml:"max_reconnect_attempts"`
	ReconnectBackoffSeconds  float64 `yaml:"reconnect_backoff_seconds"`
	RateLimitCooldownSeconds float64 `yaml:"rate_limit_cooldown_seconds"`
	DrainTimeoutSeconds      float64 `yaml:"drain_timeout_seconds"`
}

// MetricsConfig controls the collector's sampling and alert thresholds.
type MetricsConfig struct {
	IntervalSeconds      float64 `yaml:"interval_seconds"`
	HistorySize          int     `yaml:"history_size"`
	AlertRetention       int     `yaml:"alert_retention"`
	AlertCooldownSeconds float64 `yaml:"alert_cooldown_seconds"`

	MaxLatencyMS      float64 `yaml:"max_latency_ms"`
	MaxCPUPercent     float64 `yaml:"max_cpu_percent"`
	MaxMemoryPercent  float64 `yaml:"max_memory_percent"`
	DroppedFrameAlert int64   `yaml:"dropped_frame_alert"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// NewConfig returns the documented defaults overlaid with any VOICESTREAM_*
// environment variables (a .env file is honored when present).
func NewConfig() *Config {
	c := &Config{
		Audio: NewAudioConfig(),
		Endpoint: EndpointConfig{
			URL:                       "wss://api.voicestream.dev/v2/stream",
			Model:                     "realtime-v2",
			TokenTTLSeconds:           600,
			TokenRefreshBufferSeconds: 60,
		},
		Session: SessionConfig{
			ConfidenceThreshold:      0.7,
			EnableDiarization:        true,
			EnableSentiment:          true,
			EnableTone:               true,
			MaxReconnectAttempts:     3,
			ReconnectBackoffSeconds:  2.0,
			RateLimitCooldownSeconds: 5.0,
			DrainTimeoutSeconds:      2.0,
		},
		Metrics: MetricsConfig{
			IntervalSeconds:      1.0,
			HistorySize:          1000,
			AlertRetention:       50,
			AlertCooldownSeconds: 30.0,
			MaxLatencyMS:         300,
			MaxCPUPercent:        80.0,
			MaxMemoryPercent:     85.0,
			DroppedFrameAlert:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}

	c.loadFromEnv()
	return c
}

// LoadConfig reads a YAML config file, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	c := NewConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.loadFromEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func (c *Config) loadFromEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("VOICESTREAM_ENDPOINT"); v != "" {
		c.Endpoint.URL = v
	}
	if v := os.Getenv("VOICESTREAM_API_KEY"); v != "" {
		c.Endpoint.APIKey = v
	}
	if v := os.Getenv("VOICESTREAM_MODEL"); v != "" {
		c.Endpoint.Model = v
	}

	envInt("VOICESTREAM_SAMPLE_RATE", &c.Audio.SampleRate)
	envInt("VOICESTREAM_CHUNK_SIZE", &c.Audio.ChunkSize)
	envInt("VOICESTREAM_CHANNELS", &c.Audio.Channels)
	envInt("VOICESTREAM_BUFFER_CAPACITY", &c.Audio.BufferCapacity)
	envInt("VOICESTREAM_AUDIO_DEVICE_ID", &c.Audio.DeviceID)

	envFloat("VOICESTREAM_CONFIDENCE_THRESHOLD", &c.Session.ConfidenceThreshold)
	envBool("VOICESTREAM_ENABLE_DIARIZATION", &c.Session.EnableDiarization)
	envBool("VOICESTREAM_ENABLE_SENTIMENT", &c.Session.EnableSentiment)
	envBool("VOICESTREAM_ENABLE_TONE", &c.Session.EnableTone)
	envInt("VOICESTREAM_MAX_RECONNECT_ATTEMPTS", &c.Session.MaxReconnectAttempts)
	envFloat("VOICESTREAM_RECONNECT_BACKOFF", &c.Session.ReconnectBackoffSeconds)

	envFloat("VOICESTREAM_MAX_LATENCY_MS", &c.Metrics.MaxLatencyMS)

	if v := os.Getenv("VOICESTREAM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VOICESTREAM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks every section and returns the first violation found.
func (c *Config) Validate() error {
	if c.Audio == nil {
		return fmt.Errorf("audio config missing")
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Endpoint.Validate(); err != nil {
		return fmt.Errorf("endpoint config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (e *EndpointConfig) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if e.TokenTTLSeconds < 1 {
		return fmt.Errorf("token_ttl_seconds must be positive, got %d", e.TokenTTLSeconds)
	}
	if e.TokenRefreshBufferSeconds < 0 {
		return fmt.Errorf("token_refresh_buffer_seconds cannot be negative, got %d", e.TokenRefreshBufferSeconds)
	}
	return nil
}

func (s *SessionConfig) Validate() error {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", s.ConfidenceThreshold)
	}
	if s.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts cannot be negative, got %d", s.MaxReconnectAttempts)
	}
	if s.ReconnectBackoffSeconds <= 0 {
		return fmt.Errorf("reconnect_backoff_seconds must be positive, got %f", s.ReconnectBackoffSeconds)
	}
	if s.RateLimitCooldownSeconds < 0 {
		return fmt.Errorf("rate_limit_cooldown_seconds cannot be negative, got %f", s.RateLimitCooldownSeconds)
	}
	if s.DrainTimeoutSeconds <= 0 {
		return fmt.Errorf("drain_timeout_seconds must be positive, got %f", s.DrainTimeoutSeconds)
	}
	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be positive, got %f", m.IntervalSeconds)
	}
	if m.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1, got %d", m.HistorySize)
	}
	if m.AlertRetention < 1 {
		return fmt.Errorf("alert_retention must be at least 1, got %d", m.AlertRetention)
	}
	if m.MaxLatencyMS <= 0 {
		return fmt.Errorf("max_latency_ms must be positive, got %f", m.MaxLatencyMS)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of [trace, debug, info, warn, error], got %q", l.Level)
	}
	switch l.Format {
	case "console", "json":
	default:
		return fmt.Errorf("format must be 'console' or 'json', got %q", l.Format)
	}
	return nil
}

// Duration getters

func (s *SessionConfig) ReconnectBackoff() time.Duration {
	return time.Duration(s.ReconnectBackoffSeconds * float64(time.Second))
}

func (s *SessionConfig) RateLimitCooldown() time.Duration {
	return time.Duration(s.RateLimitCooldownSeconds * float64(time.Second))
}

func (s *SessionConfig) DrainTimeout() time.Duration {
	return time.Duration(s.DrainTimeoutSeconds * float64(time.Second))
}

func (m *MetricsConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds * float64(time.Second))
}

func (m *MetricsConfig) AlertCooldown() time.Duration {
	return time.Duration(m.AlertCooldownSeconds * float64(time.Second))
}

func (e *EndpointConfig) TokenTTL() time.Duration {
	return time.Duration(e.TokenTTLSeconds) * time.Second
}

func (e *EndpointConfig) TokenRefreshBuffer() time.Duration {
	return time.Duration(e.TokenRefreshBufferSeconds) * time.Second
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}
