package voicestream

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// AudioCapture records 16-bit PCM from an input device and hands frames to a
// FrameBuffer. The driver callback does only O(1) work: copy the samples,
// track amplitude, push. Everything heavier happens downstream.
type AudioCapture struct {
	config *AudioConfig
	buffer *FrameBuffer
	log    *Logger

	mu        sync.Mutex
	stream    *portaudio.Stream
	running   bool
	seq       uint64
	amplitude atomic.Uint64 // normalized [0,1] as float64 bits
	overflows atomic.Int64
}

// NewAudioCapture initializes the audio host once for the process. Pair with
// Cleanup to release it.
func NewAudioCapture(config *AudioConfig, buffer *FrameBuffer, log *Logger) *AudioCapture {
	portaudio.Initialize()
	return &AudioCapture{
		config: config,
		buffer: buffer,
		log:    log.WithComponent("capture"),
	}
}

// Start opens the input stream and begins pushing frames. A non-negative
// DeviceID selects that host device; otherwise the default input is used.
// Returns an ALREADY_RUNNING error when capture is active and
// DEVICE_UNAVAILABLE when the device cannot be opened.
func (c *AudioCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return NewAlreadyRunningError()
	}

	stream, err := c.openStream()
	if err != nil {
		return NewDeviceUnavailableError(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return NewDeviceUnavailableError(err)
	}

	c.stream = stream
	c.running = true
	c.log.WithFields(map[string]interface{}{
		"sample_rate": c.config.SampleRate,
		"chunk_size":  c.config.ChunkSize,
		"channels":    c.config.Channels,
		"device_id":   c.config.DeviceID,
	}).Info("Audio capture started")
	return nil
}

func (c *AudioCapture) openStream() (*portaudio.Stream, error) {
	if c.config.DeviceID < 0 {
		return portaudio.OpenDefaultStream(
			c.config.Channels, 0,
			float64(c.config.SampleRate), c.config.ChunkSize,
			c.callback,
		)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	dev, err := resolveInputDevice(devices, c.config.DeviceID)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = c.config.Channels
	params.SampleRate = float64(c.config.SampleRate)
	params.FramesPerBuffer = c.config.ChunkSize
	return portaudio.OpenStream(params, c.callback)
}

// resolveInputDevice validates a configured device index against the host
// device list.
func resolveInputDevice(devices []*portaudio.DeviceInfo, id int) (*portaudio.DeviceInfo, error) {
	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("audio device %d not found (%d devices present)", id, len(devices))
	}
	dev := devices[id]
	if dev.MaxInputChannels < 1 {
		return nil, fmt.Errorf("audio device %d (%s) has no input channels", id, dev.Name)
	}
	return dev, nil
}

// callback runs on the audio driver thread on every filled chunk.
func (c *AudioCapture) callback(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	if flags&portaudio.InputOverflow != 0 {
		c.overflows.Add(1)
		c.log.Debug("Input overflow reported by audio driver")
	}

	var sum float64
	for _, s := range in {
		sum += math.Abs(float64(s))
	}
	if len(in) > 0 {
		c.amplitude.Store(math.Float64bits(sum / float64(len(in)) / fullScale))
	}

	seq := atomic.AddUint64(&c.seq, 1)
	frame := NewFrameFromSamples(seq, in)
	if !c.buffer.Push(frame) {
		c.log.Debugf("Frame %d displaced the oldest buffered frame", seq)
	}
}

// Stop halts and closes the input stream. Safe to call when not running.
func (c *AudioCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	if c.stream != nil {
		if err := c.stream.Stop(); err != nil {
			c.log.WithError(err).Warn("Failed to stop input stream")
		}
		if err := c.stream.Close(); err != nil {
			c.log.WithError(err).Warn("Failed to close input stream")
		}
		c.stream = nil
	}

	c.log.Info("Audio capture stopped")
	return nil
}

// IsRunning reports whether capture is active.
func (c *AudioCapture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Amplitude returns the mean absolute amplitude of the last chunk,
// normalized to [0, 1]. Drives the level meter in the CLI.
func (c *AudioCapture) Amplitude() float64 {
	return math.Float64frombits(c.amplitude.Load())
}

// Overflows returns how many driver-side input overflows were reported.
func (c *AudioCapture) Overflows() int64 {
	return c.overflows.Load()
}

// Cleanup stops capture and releases the audio host.
func (c *AudioCapture) Cleanup() {
	c.Stop()
	portaudio.Terminate()
}
