package voicestream

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// WAVInfo is the format of a parsed WAV file.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Samples    int
}

// LoadWAV reads a 16-bit PCM WAV file and returns its raw sample data. Only
// the fmt and data chunks are honored; anything else is skipped.
func LoadWAV(path string) ([]byte, WAVInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WAVInfo{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseWAV(data)
}

// ParseWAV walks the RIFF chunks of an in-memory WAV file.
func ParseWAV(data []byte) ([]byte, WAVInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, WAVInfo{}, fmt.Errorf("not a RIFF/WAVE file")
	}

	var info WAVInfo
	var pcm []byte
	sawFmt := false

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, WAVInfo{}, fmt.Errorf("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 { // PCM
				return nil, WAVInfo{}, fmt.Errorf("unsupported WAV format %d, want PCM", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			sawFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}

	if !sawFmt || pcm == nil {
		return nil, WAVInfo{}, fmt.Errorf("missing fmt or data chunk")
	}
	if info.BitDepth != 16 {
		return nil, WAVInfo{}, fmt.Errorf("unsupported bit depth %d, want 16", info.BitDepth)
	}
	info.Samples = len(pcm) / 2 / info.Channels
	return pcm, info, nil
}

// FramesFromWAV slices WAV sample data into capture-sized frames, padding the
// final partial frame with silence. Capture timestamps are synthesized at the
// file's own frame cadence so latency math stays sane during replay.
func FramesFromWAV(pcm []byte, info WAVInfo, cfg *AudioConfig) []AudioFrame {
	frameBytes := cfg.ChunkSize * info.Channels * 2
	if frameBytes <= 0 {
		return nil
	}

	frameDur := time.Duration(cfg.ChunkSize) * time.Second / time.Duration(info.SampleRate)
	base := time.Now()

	var frames []AudioFrame
	seq := uint64(0)
	for start := 0; start < len(pcm); start += frameBytes {
		end := start + frameBytes
		chunk := make([]byte, frameBytes)
		if end > len(pcm) {
			copy(chunk, pcm[start:])
		} else {
			copy(chunk, pcm[start:end])
		}
		seq++
		frames = append(frames, AudioFrame{
			Seq:      seq,
			Captured: base.Add(time.Duration(seq-1) * frameDur),
			PCM:      chunk,
		})
	}
	return frames
}

// WriteWAV serializes 16-bit PCM into a minimal WAV file, the inverse of
// ParseWAV. Used to capture debugging snippets of the mic stream.
func WriteWAV(path string, pcm []byte, sampleRate, channels int) error {
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	byteRate := sampleRate * channels * 2
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	out := append(header, pcm...)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
