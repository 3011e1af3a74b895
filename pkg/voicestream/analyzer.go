package voicestream

import "strings"

// TextAnalyzer derives sentiment and tone from transcript text using keyword
// matching. It is stateless and safe for concurrent use.
type TextAnalyzer struct{}

func NewTextAnalyzer() *TextAnalyzer {
	return &TextAnalyzer{}
}

var positiveWords = []string{"good", "great", "excellent", "happy", "love", "amazing", "wonderful"}
var negativeWords = []string{"bad", "terrible", "awful", "hate", "sad", "angry", "horrible"}

// tonePatterns is ordered: ties between equal scores resolve to the earliest
// entry. The "!" marker double-counts for excited on purpose, once for
// presence and once per occurrence.
var tonePatterns = []struct {
	label   string
	markers []string
}{
	{"excited", []string{"!", "wow", "amazing", "incredible", "fantastic"}},
	{"calm", []string{"okay", "fine", "sure", "alright", "peaceful"}},
	{"angry", []string{"damn", "hell", "angry", "mad", "furious"}},
	{"sad", []string{"sad", "depressed", "down", "unhappy", "crying"}},
	{"happy", []string{"happy", "joy", "cheerful", "glad", "delighted"}},
	{"neutral", nil},
}

// AnalyzeSentiment classifies text by counting which keywords appear.
// Matching is presence-based: a word repeated five times still counts once.
// Score saturates at ±0.8; ties (including no matches) are neutral with a
// zero score. Confidence is a fixed 0.75 for this heuristic.
func (a *TextAnalyzer) AnalyzeSentiment(text string) *Sentiment {
	lower := strings.ToLower(text)

	positive := 0
	for _, word := range positiveWords {
		if strings.Contains(lower, word) {
			positive++
		}
	}
	negative := 0
	for _, word := range negativeWords {
		if strings.Contains(lower, word) {
			negative++
		}
	}

	s := &Sentiment{Label: "neutral", Score: 0.0, Confidence: 0.75}
	switch {
	case positive > negative:
		s.Label = "positive"
		s.Score = minFloat(0.8, float64(positive)*0.3)
	case negative > positive:
		s.Label = "negative"
		s.Score = maxFloat(-0.8, -float64(negative)*0.3)
	}
	return s
}

// DetectTone scores each tone label by the number of its markers present in
// the text, with excited additionally credited per exclamation mark. The
// highest score wins; when nothing matches the tone is neutral at 0.5
// confidence. Scores carries the full per-label tally for display.
func (a *TextAnalyzer) DetectTone(text string) *Tone {
	lower := strings.ToLower(text)

	scores := make(map[string]int, len(tonePatterns))
	bestLabel := ""
	bestScore := -1
	for _, p := range tonePatterns {
		score := 0
		for _, marker := range p.markers {
			if strings.Contains(lower, marker) {
				score++
			}
		}
		if p.label == "excited" {
			score += strings.Count(text, "!")
		}
		scores[p.label] = score
		if score > bestScore {
			bestLabel = p.label
			bestScore = score
		}
	}

	tone := &Tone{Scores: scores}
	if bestScore > 0 {
		tone.Label = bestLabel
		tone.Confidence = minFloat(0.9, float64(bestScore)*0.3)
	} else {
		tone.Label = "neutral"
		tone.Confidence = 0.5
	}
	return tone
}

// Annotate fills in the sentiment and tone of a result according to the
// feature flags, leaving any endpoint-provided analysis untouched.
func (a *TextAnalyzer) Annotate(result *TranscriptionResult, sentiment, tone bool) {
	if sentiment && result.Sentiment == nil {
		result.Sentiment = a.AnalyzeSentiment(result.Text)
	}
	if tone && result.Tone == nil {
		result.Tone = a.DetectTone(result.Text)
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
