package voicestream

// Preprocessor applies a per-frame noise gate followed by peak
// normalization. It is pure: input frames are never mutated and the stage
// keeps no state between frames.
type Preprocessor struct {
	// GateRatio is the fraction of the frame peak below which samples are
	// zeroed. Defaults to 0.1.
	GateRatio float64
}

const fullScale = 32767

// NewPreprocessor returns a preprocessor with the default 10% noise gate.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{GateRatio: 0.1}
}

// Process gates samples below GateRatio of the frame peak and rescales the
// remainder so the peak maps to full scale. All-zero frames and frames with
// malformed PCM are returned unchanged; this stage never fails the pipeline.
func (p *Preprocessor) Process(frame AudioFrame) AudioFrame {
	if len(frame.PCM) == 0 || len(frame.PCM)%2 != 0 {
		return frame
	}

	samples := frame.Samples()

	var peak int32
	for _, s := range samples {
		if a := abs32(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return frame
	}

	ratio := p.GateRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.1
	}
	threshold := float64(peak) * ratio
	scale := float64(fullScale) / float64(peak)

	out := make([]int16, len(samples))
	for i, s := range samples {
		a := float64(abs32(s))
		if a < threshold {
			continue // gated to zero
		}
		v := float64(s) * scale
		out[i] = clampSample(v)
	}

	return frame.WithSamples(out)
}

func abs32(s int16) int32 {
	v := int32(s)
	if v < 0 {
		return -v
	}
	return v
}

func clampSample(v float64) int16 {
	if v > fullScale {
		return fullScale
	}
	if v < -fullScale-1 {
		return -fullScale - 1
	}
	return int16(v)
}
