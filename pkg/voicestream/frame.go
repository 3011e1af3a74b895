package voicestream

import (
	"encoding/binary"
	"fmt"
	"time"
)

// AudioConfig holds the capture format. It is immutable for the lifetime of a
// capture session.
type AudioConfig struct {
	SampleRate     int `yaml:"sample_rate"`
	ChunkSize      int `yaml:"chunk_size"` // samples per frame per channel
	Channels       int `yaml:"channels"`
	BitDepth       int `yaml:"bit_depth"`
	BufferCapacity int `yaml:"buffer_capacity"` // frames held by the frame buffer
	DeviceID       int `yaml:"device_id"`       // -1 selects the default input device
}

// NewAudioConfig returns the default capture format: 16 kHz mono 16-bit PCM
// in 512-sample frames, buffered up to 100 frames.
func NewAudioConfig() *AudioConfig {
	return &AudioConfig{
		SampleRate:     16000,
		ChunkSize:      512,
		Channels:       1,
		BitDepth:       16,
		BufferCapacity: 100,
		DeviceID:       -1,
	}
}

// FrameBytes returns the fixed byte length of one frame.
func (c *AudioConfig) FrameBytes() int {
	return c.ChunkSize * c.Channels * c.BitDepth / 8
}

// FrameDuration returns the wall-clock span covered by one frame.
func (c *AudioConfig) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.ChunkSize) * time.Second / time.Duration(c.SampleRate)
}

// Validate checks the capture format invariants.
func (c *AudioConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1, got %d", c.ChunkSize)
	}
	if c.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", c.Channels)
	}
	if c.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16 (signed PCM), got %d", c.BitDepth)
	}
	if c.BufferCapacity < 1 {
		return fmt.Errorf("buffer_capacity must be at least 1, got %d", c.BufferCapacity)
	}
	return nil
}

// AudioFrame is one fixed-size chunk of raw PCM captured in one callback
// interval. Frames are never mutated after creation; processing stages
// produce new frames.
type AudioFrame struct {
	Seq      uint64
	Captured time.Time
	PCM      []byte // little-endian signed 16-bit samples
}

// NewAudioFrame copies pcm into a fresh frame tagged with seq and the current
// capture time.
func NewAudioFrame(seq uint64, pcm []byte) AudioFrame {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return AudioFrame{
		Seq:      seq,
		Captured: time.Now(),
		PCM:      data,
	}
}

// NewFrameFromSamples encodes samples into a fresh frame tagged with seq and
// the current capture time.
func NewFrameFromSamples(seq uint64, samples []int16) AudioFrame {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(s))
	}
	return AudioFrame{
		Seq:      seq,
		Captured: time.Now(),
		PCM:      pcm,
	}
}

// Samples decodes the frame's PCM bytes into int16 samples.
func (f AudioFrame) Samples() []int16 {
	samples := make([]int16, len(f.PCM)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(f.PCM[i*2 : i*2+2]))
	}
	return samples
}

// WithSamples returns a copy of the frame carrying the given samples,
// preserving sequence number and capture time.
func (f AudioFrame) WithSamples(samples []int16) AudioFrame {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(s))
	}
	return AudioFrame{
		Seq:      f.Seq,
		Captured: f.Captured,
		PCM:      pcm,
	}
}
