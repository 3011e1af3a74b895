package voicestream

import (
	"path/filepath"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")

	pcm := make([]byte, 2048)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	if err := WriteWAV(path, pcm, 16000, 1); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}

	loaded, info, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV failed: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Errorf("Unexpected format: %+v", info)
	}
	if info.Samples != 1024 {
		t.Errorf("Expected 1024 samples, got %d", info.Samples)
	}
	if len(loaded) != len(pcm) {
		t.Fatalf("Expected %d PCM bytes, got %d", len(pcm), len(loaded))
	}
	for i := range pcm {
		if loaded[i] != pcm[i] {
			t.Fatalf("PCM mismatch at byte %d", i)
		}
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not riff", []byte("this is definitely not a wav file")},
		{"riff without chunks", append([]byte("RIFF\x00\x00\x00\x00WAVE"), 0x00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseWAV(tt.data); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestFramesFromWAVPadding(t *testing.T) {
	cfg := NewAudioConfig() // 512-sample frames, 1024 bytes each
	info := WAVInfo{SampleRate: 16000, Channels: 1, BitDepth: 16}

	// 2.5 frames of data: expect 3 frames with the last one padded.
	pcm := make([]byte, 2560)
	for i := range pcm {
		pcm[i] = 0xAB
	}

	frames := FramesFromWAV(pcm, info, cfg)
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f.PCM) != 1024 {
			t.Errorf("Frame %d has %d bytes, want 1024", i, len(f.PCM))
		}
		if f.Seq != uint64(i+1) {
			t.Errorf("Frame %d has sequence %d", i, f.Seq)
		}
	}

	// Padding on the final frame is silence.
	last := frames[2].PCM
	if last[0] != 0xAB {
		t.Error("Expected real data at the start of the final frame")
	}
	for i := 512; i < 1024; i++ {
		if last[i] != 0 {
			t.Fatalf("Expected zero padding at byte %d, got %#x", i, last[i])
		}
	}

	// Synthesized timestamps advance at the frame cadence.
	if !frames[1].Captured.After(frames[0].Captured) {
		t.Error("Expected frame timestamps to advance")
	}
}

func TestFramesFromWAVEmpty(t *testing.T) {
	cfg := NewAudioConfig()
	info := WAVInfo{SampleRate: 16000, Channels: 1, BitDepth: 16}
	if frames := FramesFromWAV(nil, info, cfg); len(frames) != 0 {
		t.Errorf("Expected no frames from empty PCM, got %d", len(frames))
	}
}
