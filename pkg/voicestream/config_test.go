package voicestream

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.ChunkSize != 512 {
		t.Errorf("Expected chunk size 512, got %d", cfg.Audio.ChunkSize)
	}
	if cfg.Audio.BufferCapacity != 100 {
		t.Errorf("Expected buffer capacity 100, got %d", cfg.Audio.BufferCapacity)
	}
	if cfg.Session.ConfidenceThreshold != 0.7 {
		t.Errorf("Expected confidence threshold 0.7, got %v", cfg.Session.ConfidenceThreshold)
	}
	if cfg.Session.MaxReconnectAttempts != 3 {
		t.Errorf("Expected 3 reconnect attempts, got %d", cfg.Session.MaxReconnectAttempts)
	}
	if cfg.Session.ReconnectBackoff() != 2*time.Second {
		t.Errorf("Expected 2s backoff, got %v", cfg.Session.ReconnectBackoff())
	}
	if cfg.Session.RateLimitCooldown() != 5*time.Second {
		t.Errorf("Expected 5s rate limit cooldown, got %v", cfg.Session.RateLimitCooldown())
	}
	if !cfg.Session.EnableSentiment || !cfg.Session.EnableTone || !cfg.Session.EnableDiarization {
		t.Error("Expected analysis features enabled by default")
	}
	if cfg.Metrics.Interval() != time.Second {
		t.Errorf("Expected 1s metrics interval, got %v", cfg.Metrics.Interval())
	}
	if cfg.Metrics.HistorySize != 1000 {
		t.Errorf("Expected history size 1000, got %d", cfg.Metrics.HistorySize)
	}
	if cfg.Metrics.MaxLatencyMS != 300 {
		t.Errorf("Expected 300ms latency threshold, got %v", cfg.Metrics.MaxLatencyMS)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("VOICESTREAM_SAMPLE_RATE", "8000")
	t.Setenv("VOICESTREAM_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("VOICESTREAM_ENABLE_TONE", "false")
	t.Setenv("VOICESTREAM_API_KEY", "vsk_testkey")

	cfg := NewConfig()

	if cfg.Audio.SampleRate != 8000 {
		t.Errorf("Expected env sample rate 8000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Session.ConfidenceThreshold != 0.9 {
		t.Errorf("Expected env threshold 0.9, got %v", cfg.Session.ConfidenceThreshold)
	}
	if cfg.Session.EnableTone {
		t.Error("Expected tone detection disabled via env")
	}
	if cfg.Endpoint.APIKey != "vsk_testkey" {
		t.Errorf("Expected env API key, got %q", cfg.Endpoint.APIKey)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
audio:
  sample_rate: 44100
  chunk_size: 1024
  channels: 1
  bit_depth: 16
  buffer_capacity: 200
  device_id: -1
session:
  confidence_threshold: 0.5
  max_reconnect_attempts: 5
endpoint:
  url: wss://example.test/stream
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Session.ConfidenceThreshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %v", cfg.Session.ConfidenceThreshold)
	}
	if cfg.Session.MaxReconnectAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", cfg.Session.MaxReconnectAttempts)
	}
	if cfg.Endpoint.URL != "wss://example.test/stream" {
		t.Errorf("Expected overridden endpoint, got %q", cfg.Endpoint.URL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Metrics.HistorySize != 1000 {
		t.Errorf("Expected default history size, got %d", cfg.Metrics.HistorySize)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"bad bit depth", func(c *Config) { c.Audio.BitDepth = 24 }},
		{"threshold above one", func(c *Config) { c.Session.ConfidenceThreshold = 1.5 }},
		{"negative attempts", func(c *Config) { c.Session.MaxReconnectAttempts = -1 }},
		{"zero backoff", func(c *Config) { c.Session.ReconnectBackoffSeconds = 0 }},
		{"empty endpoint", func(c *Config) { c.Endpoint.URL = "" }},
		{"zero metrics interval", func(c *Config) { c.Metrics.IntervalSeconds = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation to fail")
			}
		})
	}
}
