package voicestream

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Factory functions for common result handlers.

// NewLoggingResultHandler logs every transcript through the given logger,
// with analysis fields when present.
func NewLoggingResultHandler(log *Logger) ResultHandler {
	transcripts := log.WithComponent("transcripts")
	return func(result *TranscriptionResult) {
		fields := map[string]interface{}{
			"confidence": result.Confidence,
			"is_final":   result.IsFinal,
		}
		if result.Speaker != "" {
			fields["speaker"] = result.Speaker
		}
		if result.Sentiment != nil {
			fields["sentiment"] = result.Sentiment.Label
		}
		if result.Tone != nil {
			fields["tone"] = result.Tone.Label
		}
		transcripts.WithFields(fields).Info(result.Text)
	}
}

// NewFinalOnlyHandler wraps a handler so it only sees final results.
func NewFinalOnlyHandler(next ResultHandler) ResultHandler {
	return func(result *TranscriptionResult) {
		if result.IsFinal {
			next(result)
		}
	}
}

// NewCaptionWriter renders results as live captions: partials overwrite the
// current line, finals commit it with speaker and analysis annotations.
func NewCaptionWriter(w io.Writer) ResultHandler {
	var mu sync.Mutex
	return func(result *TranscriptionResult) {
		mu.Lock()
		defer mu.Unlock()

		if !result.IsFinal {
			fmt.Fprintf(w, "\r\033[K… %s", result.Text)
			return
		}

		var b strings.Builder
		if result.Speaker != "" {
			fmt.Fprintf(&b, "[%s] ", result.Speaker)
		}
		b.WriteString(result.Text)
		if result.Sentiment != nil && result.Sentiment.Label != "neutral" {
			fmt.Fprintf(&b, "  (%s %+.1f)", result.Sentiment.Label, result.Sentiment.Score)
		}
		if result.Tone != nil && result.Tone.Label != "neutral" {
			fmt.Fprintf(&b, "  [%s]", result.Tone.Label)
		}
		fmt.Fprintf(w, "\r\033[K%s\n", b.String())
	}
}

// TranscriptLog accumulates final transcripts in memory, for tests and for
// session export.
type TranscriptLog struct {
	mu      sync.Mutex
	results []*TranscriptionResult
}

func NewTranscriptLog() *TranscriptLog {
	return &TranscriptLog{}
}

// Handler returns the ResultHandler feeding this log.
func (t *TranscriptLog) Handler() ResultHandler {
	return func(result *TranscriptionResult) {
		if !result.IsFinal {
			return
		}
		t.mu.Lock()
		t.results = append(t.results, result)
		t.mu.Unlock()
	}
}

// Results returns a copy of the accumulated finals, in arrival order.
func (t *TranscriptLog) Results() []*TranscriptionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*TranscriptionResult, len(t.results))
	copy(out, t.results)
	return out
}

// Len returns how many finals have arrived.
func (t *TranscriptLog) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.results)
}

// Text joins the accumulated transcripts into one string.
func (t *TranscriptLog) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, len(t.results))
	for i, r := range t.results {
		parts[i] = r.Text
	}
	return strings.Join(parts, " ")
}
