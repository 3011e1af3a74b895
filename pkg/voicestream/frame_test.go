package voicestream

import (
	"testing"
	"time"
)

func TestAudioConfigFrameMath(t *testing.T) {
	cfg := NewAudioConfig()

	if got := cfg.FrameBytes(); got != 1024 {
		t.Errorf("Expected 1024 bytes per frame, got %d", got)
	}
	if got := cfg.FrameDuration(); got != 32*time.Millisecond {
		t.Errorf("Expected 32ms frame duration, got %v", got)
	}
}

func TestFrameSampleCodec(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	frame := NewFrameFromSamples(7, samples)

	if frame.Seq != 7 {
		t.Errorf("Expected sequence 7, got %d", frame.Seq)
	}
	if len(frame.PCM) != len(samples)*2 {
		t.Errorf("Expected %d PCM bytes, got %d", len(samples)*2, len(frame.PCM))
	}

	decoded := frame.Samples()
	for i, want := range samples {
		if decoded[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, decoded[i])
		}
	}
}

func TestNewAudioFrameCopies(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	frame := NewAudioFrame(1, pcm)

	pcm[0] = 99
	if frame.PCM[0] != 1 {
		t.Error("Expected NewAudioFrame to copy the PCM slice")
	}
}

func TestWithSamplesPreservesIdentity(t *testing.T) {
	original := NewFrameFromSamples(3, []int16{100, 200})
	modified := original.WithSamples([]int16{300, 400})

	if modified.Seq != original.Seq {
		t.Errorf("Expected sequence preserved, got %d", modified.Seq)
	}
	if !modified.Captured.Equal(original.Captured) {
		t.Error("Expected capture time preserved")
	}
	if modified.Samples()[0] != 300 {
		t.Errorf("Expected new samples, got %d", modified.Samples()[0])
	}
	if original.Samples()[0] != 100 {
		t.Error("WithSamples mutated the original frame")
	}
}

func TestServerMessageToResult(t *testing.T) {
	low := -0.5
	high := 1.7
	tests := []struct {
		name       string
		msg        ServerMessage
		confidence float64
	}{
		{"missing defaults to one", ServerMessage{Type: MessageTypeTranscription, Text: "hi"}, 1.0},
		{"negative clamped", ServerMessage{Type: MessageTypeTranscription, Confidence: &low}, 0.0},
		{"above one clamped", ServerMessage{Type: MessageTypeTranscription, Confidence: &high}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.msg.ToResult()
			if result.Confidence != tt.confidence {
				t.Errorf("Expected confidence %v, got %v", tt.confidence, result.Confidence)
			}
			if result.Timestamp.IsZero() {
				t.Error("Expected a timestamp")
			}
		})
	}
}

func TestStreamSettingsReduced(t *testing.T) {
	full := StreamSettings{
		SampleRate:  16000,
		Channels:    1,
		Encoding:    "pcm_s16le",
		Model:       "realtime-v2",
		Diarization: true,
		Sentiment:   true,
		Tone:        true,
	}
	reduced := full.Reduced()

	if reduced.Model != "" || reduced.Diarization || reduced.Sentiment || reduced.Tone {
		t.Errorf("Expected features stripped, got %+v", reduced)
	}
	if reduced.SampleRate != 16000 || reduced.Encoding != "pcm_s16le" {
		t.Error("Expected audio format preserved in reduced handshake")
	}
}
