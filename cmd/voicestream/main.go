package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openaccess-ai/voicestream-go/pkg/voicestream"
)

var (
	verbose     bool
	configPath  string
	endpoint    string
	apiKey      string
	model       string
	useMock     bool
	wavPath     string
	duration    float64
	metricsAddr string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "voicestream",
		Short: "Real-time speech transcription from the microphone",
		Long:  "Captures microphone audio, streams it for live transcription and annotates transcripts with sentiment and tone",
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Transcription endpoint URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the endpoint")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Transcription model override")

	rootCmd.AddCommand(streamCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(analyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		voicestream.GetGlobalLogger().WithError(err).Fatal("Command failed")
	}
}

func loadConfig() (*voicestream.Config, error) {
	var cfg *voicestream.Config
	var err error
	if configPath != "" {
		cfg, err = voicestream.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = voicestream.NewConfig()
	}

	if endpoint != "" {
		cfg.Endpoint.URL = endpoint
	}
	if apiKey != "" {
		cfg.Endpoint.APIKey = apiKey
	}
	if model != "" {
		cfg.Endpoint.Model = model
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *voicestream.Config) *voicestream.Logger {
	log := voicestream.NewLogger(&voicestream.LogConfig{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Format == "console",
		Output: os.Stderr,
	})
	voicestream.SetGlobalLogger(log)
	return log
}

func streamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream audio for live transcription",
		Long:  "Streams the default microphone (or a WAV file) to the transcription endpoint and prints live captions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			var dialer voicestream.EndpointDialer
			if useMock || cfg.Endpoint.APIKey == "" {
				if !useMock {
					log.Warn("No API key configured, using offline mock transcription")
				}
				dialer = voicestream.NewMockDialer()
			} else {
				dialer = voicestream.NewWebSocketDialer(cfg.Endpoint, log)
			}

			registry := prometheus.NewRegistry()
			prom := voicestream.NewPromMetrics(registry)

			var pipeline *voicestream.Pipeline
			if wavPath != "" {
				pipeline = voicestream.NewReplayPipeline(cfg, dialer, prom, log)
			} else {
				pipeline = voicestream.NewPipeline(cfg, dialer, prom, log)
				defer pipeline.Cleanup()
			}

			pipeline.Session().OnResult(voicestream.NewCaptionWriter(os.Stdout))
			pipeline.Metrics().OnAlert(func(alert voicestream.AlertRecord) {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", alert.Severity, alert.Message)
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := pipeline.Start(ctx); err != nil {
				return err
			}
			defer pipeline.Stop()

			group, gctx := errgroup.WithContext(ctx)

			if metricsAddr != "" {
				group.Go(func() error {
					return serveMetrics(gctx, metricsAddr, registry, log)
				})
			}

			if wavPath != "" {
				group.Go(func() error {
					return replayWAV(gctx, pipeline, cfg, log)
				})
			}

			group.Go(func() error {
				if duration > 0 {
					select {
					case <-gctx.Done():
					case <-time.After(time.Duration(duration * float64(time.Second))):
					}
					return nil
				}
				<-gctx.Done()
				return nil
			})

			if err := group.Wait(); err != nil {
				return err
			}

			stats := pipeline.Session().Stats()
			fmt.Printf("\nSession %s: %d frames sent, %d results, %d errors, avg latency %.1fms\n",
				stats.SessionID, stats.FramesSent, stats.ResultsReceived, stats.ErrorCount, stats.AvgLatencyMS)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useMock, "mock", false, "Use the offline mock endpoint")
	cmd.Flags().StringVar(&wavPath, "file", "", "Stream a 16-bit PCM WAV file instead of the microphone")
	cmd.Flags().Float64VarP(&duration, "duration", "d", 0, "Stop after this many seconds (0 streams until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	return cmd
}

// replayWAV feeds file frames at real-time cadence so the pipeline behaves
// as it would with a live microphone.
func replayWAV(ctx context.Context, pipeline *voicestream.Pipeline, cfg *voicestream.Config, log *voicestream.Logger) error {
	pcm, info, err := voicestream.LoadWAV(wavPath)
	if err != nil {
		return err
	}
	if info.SampleRate != cfg.Audio.SampleRate || info.Channels != cfg.Audio.Channels {
		log.Warnf("WAV format %dHz/%dch differs from configured %dHz/%dch",
			info.SampleRate, info.Channels, cfg.Audio.SampleRate, cfg.Audio.Channels)
	}

	frames := voicestream.FramesFromWAV(pcm, info, cfg.Audio)
	log.Infof("Replaying %d frames from %s", len(frames), wavPath)

	interval := time.Duration(cfg.Audio.ChunkSize) * time.Second / time.Duration(info.SampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for _, frame := range frames {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pipeline.Feed(frame)
		}
	}

	// Let the tail of the stream transcribe before returning.
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, log *voicestream.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Infof("Serving metrics on %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			dm := voicestream.NewDeviceManager(log)
			if err := dm.Initialize(); err != nil {
				return err
			}
			defer dm.Cleanup()

			inputs := dm.InputDevices()
			if len(inputs) == 0 {
				fmt.Println("No input devices found")
				return nil
			}

			fmt.Printf("%-4s %-40s %-8s %-12s %s\n", "ID", "Name", "Ch", "Rate", "Host API")
			for _, d := range inputs {
				marker := ""
				if d.IsDefault {
					marker = " (default)"
				}
				fmt.Printf("%-4d %-40s %-8d %-12.0f %s%s\n",
					d.ID, d.Name, d.MaxInputChannels, d.DefaultSampleRate, d.HostAPI, marker)
			}
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [text]",
		Short: "Run sentiment and tone analysis on text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			for i, a := range args {
				if i > 0 {
					text += " "
				}
				text += a
			}

			analyzer := voicestream.NewTextAnalyzer()
			sentiment := analyzer.AnalyzeSentiment(text)
			tone := analyzer.DetectTone(text)

			fmt.Printf("Text:      %s\n", text)
			fmt.Printf("Sentiment: %s (score %+.2f, confidence %.2f)\n",
				sentiment.Label, sentiment.Score, sentiment.Confidence)
			fmt.Printf("Tone:      %s (confidence %.2f)\n", tone.Label, tone.Confidence)
			for label, score := range tone.Scores {
				if score > 0 {
					fmt.Printf("           %s: %d\n", label, score)
				}
			}
			return nil
		},
	}
}
