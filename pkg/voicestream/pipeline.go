package voicestream

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pipeline wires the full path from microphone to listener: capture fills
// the frame buffer, a worker drains it through the preprocessor into the
// session, transcripts come back annotated with sentiment and tone, and the
// metrics collector watches the whole thing.
//
// Capture is optional: a pipeline built with NewReplayPipeline takes frames
// through Feed instead, which is how WAV replay and the tests drive it.
type Pipeline struct {
	cfg      *Config
	log      *Logger
	buffer   *FrameBuffer
	capture  *AudioCapture
	pre      *Preprocessor
	session  *TranscriptionSession
	analyzer *TextAnalyzer
	metrics  *MetricsCollector

	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// NewPipeline builds a microphone pipeline over the given dialer.
func NewPipeline(cfg *Config, dialer EndpointDialer, prom *PromMetrics, log *Logger) *Pipeline {
	p := newPipeline(cfg, dialer, prom, log)
	p.capture = NewAudioCapture(cfg.Audio, p.buffer, log)
	return p
}

// NewReplayPipeline builds a pipeline without a capture stage; the caller
// feeds frames directly.
func NewReplayPipeline(cfg *Config, dialer EndpointDialer, prom *PromMetrics, log *Logger) *Pipeline {
	return newPipeline(cfg, dialer, prom, log)
}

func newPipeline(cfg *Config, dialer EndpointDialer, prom *PromMetrics, log *Logger) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		log:      log.WithComponent("pipeline"),
		buffer:   NewFrameBuffer(cfg.Audio.BufferCapacity),
		pre:      NewPreprocessor(),
		analyzer: NewTextAnalyzer(),
	}
	p.session = NewTranscriptionSession(dialer, cfg.Session, cfg.Audio, cfg.Endpoint.Model, log)
	p.metrics = NewMetricsCollector(cfg.Metrics, p.probe, prom, log)

	// Annotation happens here, between the session and its consumers, so
	// every registered handler sees the same enriched result.
	p.session.OnResult(func(result *TranscriptionResult) {
		if result.IsFinal {
			p.analyzer.Annotate(result, cfg.Session.EnableSentiment, cfg.Session.EnableTone)
		}
	})
	return p
}

func (p *Pipeline) probe() PipelineProbe {
	stats := p.session.Stats()
	return PipelineProbe{
		LatencyMS:      stats.AvgLatencyMS,
		Connected:      stats.State == Streaming,
		ErrorCount:     stats.ErrorCount,
		TotalRequests:  stats.ResultsReceived,
		BufferedFrames: p.buffer.Len(),
		DroppedFrames:  p.buffer.Dropped(),
	}
}

// Start connects the session, begins capture and launches the frame worker
// and metrics loop.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.running {
		return NewAlreadyRunningError()
	}

	if err := p.session.Connect(ctx); err != nil {
		return err
	}

	if p.capture != nil {
		if err := p.capture.Start(); err != nil {
			p.session.Disconnect()
			return err
		}
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group, workerCtx = errgroup.WithContext(workerCtx)
	p.group.Go(func() error {
		return p.frameWorker(workerCtx)
	})

	p.metrics.Start()
	p.running = true
	p.log.Info("Pipeline started")
	return nil
}

// frameWorker drains the buffer into the session. Frames offered while the
// session is down are dropped; the buffer has already bounded the backlog.
func (p *Pipeline) frameWorker(ctx context.Context) error {
	popTimeout := 100 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, ok := p.buffer.Pop(popTimeout)
		if !ok {
			continue
		}

		frame = p.pre.Process(frame)
		if err := p.session.StreamAudio(frame.PCM); err != nil {
			if errors.Is(err, ErrNotConnected) {
				p.log.Debugf("Dropping frame %d, session not connected", frame.Seq)
				continue
			}
			p.log.WithError(err).Warn("Frame send failed")
		}
	}
}

// Feed pushes one frame into the pipeline, as the capture callback would.
func (p *Pipeline) Feed(frame AudioFrame) bool {
	return p.buffer.Push(frame)
}

// Stop tears the pipeline down in dependency order: capture first so no new
// frames arrive, then the worker, metrics, and finally the session.
func (p *Pipeline) Stop() {
	if !p.running {
		return
	}
	p.running = false

	if p.capture != nil {
		p.capture.Stop()
	}
	p.cancel()
	p.group.Wait()
	p.metrics.Stop()
	p.session.Disconnect()

	discarded := p.buffer.Drain()
	if discarded > 0 {
		p.log.Debugf("Discarded %d unsent frames on shutdown", discarded)
	}
	p.log.Info("Pipeline stopped")
}

// Cleanup releases the audio host after Stop. Only needed for mic pipelines.
func (p *Pipeline) Cleanup() {
	if p.capture != nil {
		p.capture.Cleanup()
	}
}

// Session exposes the underlying session for handler registration.
func (p *Pipeline) Session() *TranscriptionSession {
	return p.session
}

// Metrics exposes the collector for alert registration and summaries.
func (p *Pipeline) Metrics() *MetricsCollector {
	return p.metrics
}

// Capture exposes the capture stage; nil for replay pipelines.
func (p *Pipeline) Capture() *AudioCapture {
	return p.capture
}

// Buffer exposes the frame buffer.
func (p *Pipeline) Buffer() *FrameBuffer {
	return p.buffer
}

// AddListener attaches a ResultListener across the pipeline's surfaces. The
// returned unsubscribe detaches the transcript stream; alert and metrics
// registrations live for the life of the collector.
func (p *Pipeline) AddListener(l ResultListener) func() {
	unsubResult := p.session.OnResult(l.OnResult)
	p.metrics.OnAlert(l.OnAlert)
	p.metrics.OnSample(l.OnMetrics)
	return unsubResult
}
