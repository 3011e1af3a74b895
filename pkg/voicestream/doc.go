// Package voicestream captures microphone audio and streams it to a
// real-time speech transcription endpoint, delivering transcripts enriched
// with keyword-based sentiment and tone analysis.
//
// # Overview
//
// The pipeline covers:
//   - 16-bit PCM capture through PortAudio with a bounded, drop-oldest
//     frame buffer between the driver callback and the network
//   - Per-frame noise gating and peak normalization
//   - WebSocket streaming with classified error recovery and bounded
//     exponential-backoff reconnection
//   - Sentiment and tone annotation of final transcripts
//   - Continuous performance sampling with threshold alerts and
//     Prometheus export
//
// # Quick Start
//
//	cfg := voicestream.NewConfig()
//	log := voicestream.NewLogger(voicestream.DefaultLogConfig())
//	dialer := voicestream.NewWebSocketDialer(cfg.Endpoint, log)
//
//	pipeline := voicestream.NewPipeline(cfg, dialer, nil, log)
//	pipeline.Session().OnResult(voicestream.NewCaptionWriter(os.Stdout))
//
//	if err := pipeline.Start(ctx); err != nil {
//		log.Fatal(err.Error())
//	}
//	defer pipeline.Stop()
//
// Without an API key, substitute NewMockDialer to run fully offline against
// canned transcripts.
//
// # Configuration
//
// Configuration loads from defaults, an optional YAML file, and
// VOICESTREAM_* environment variables, in that order of precedence. See
// Config and its sections for the full surface.
package voicestream
