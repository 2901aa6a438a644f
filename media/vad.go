package media

import (
	"math"
	"time"
)

const defaultAnalysisWindow = 50 * time.Millisecond

// VADOptions tune SplitVoiced. Zero values fall back to DefaultVADOptions.
type VADOptions struct {
	AnalysisWindow time.Duration
	// EnergyThreshold is in dB, computed as 20*log10(rms) over 16-bit samples.
	EnergyThreshold float64
	MinDuration     time.Duration
	MaxDuration     time.Duration
	MaxSilence      time.Duration
}

func DefaultVADOptions(chunk time.Duration) VADOptions {
	return VADOptions{
		AnalysisWindow:  defaultAnalysisWindow,
		EnergyThreshold: 30,
		MinDuration:     500 * time.Millisecond,
		MaxDuration:     chunk,
		MaxSilence:      300 * time.Millisecond,
	}
}

// Region is a span of detected speech, End exclusive.
type Region struct {
	Start time.Duration
	End   time.Duration
}

func (r Region) Duration() time.Duration {
	return r.End - r.Start
}

// SplitVoiced tokenizes pcm into speech regions. A region opens on the first
// frame at or above the energy threshold and closes when silence exceeds
// MaxSilence (keeping up to MaxSilence of trailing silence) or when it
// reaches MaxDuration. Regions whose voiced span is shorter than
// MinDuration are dropped.
func SplitVoiced(pcm PCM, opts VADOptions) []Region {
	opts = withVADDefaults(opts)
	if pcm.SampleRate <= 0 || len(pcm.Samples) == 0 {
		return nil
	}

	frameLen := int(math.Round(opts.AnalysisWindow.Seconds() * float64(pcm.SampleRate)))
	if frameLen < 1 {
		frameLen = 1
	}
	frames := (len(pcm.Samples) + frameLen - 1) / frameLen

	maxSilence := int(opts.MaxSilence / opts.AnalysisWindow)
	minFrames := int(math.Ceil(float64(opts.MinDuration) / float64(opts.AnalysisWindow)))
	maxFrames := int(opts.MaxDuration / opts.AnalysisWindow)
	if maxFrames < 1 {
		maxFrames = 1
	}

	var regions []Region
	frameTime := func(i int) time.Duration {
		t := time.Duration(i) * opts.AnalysisWindow
		if d := pcm.Duration(); t > d {
			return d
		}
		return t
	}
	emit := func(start, lastValid, end int) {
		if lastValid-start+1 < minFrames {
			return
		}
		regions = append(regions, Region{Start: frameTime(start), End: frameTime(end)})
	}

	inRegion := false
	start, lastValid, silence := 0, 0, 0
	for i := 0; i < frames; i++ {
		from := i * frameLen
		to := min(from+frameLen, len(pcm.Samples))
		valid := FrameEnergy(pcm.Samples[from:to]) >= opts.EnergyThreshold

		if !inRegion {
			if valid {
				inRegion = true
				start, lastValid, silence = i, i, 0
				if maxFrames == 1 {
					emit(start, lastValid, i+1)
					inRegion = false
				}
			}
			continue
		}

		if valid {
			lastValid = i
			silence = 0
		} else {
			silence++
			if silence > maxSilence {
				emit(start, lastValid, i)
				inRegion = false
				continue
			}
		}

		if i-start+1 >= maxFrames {
			emit(start, lastValid, i+1)
			inRegion = false
		}
	}
	if inRegion {
		emit(start, lastValid, frames)
	}
	return regions
}

// FrameEnergy returns 20*log10(rms) of the samples, -Inf for silence.
func FrameEnergy(samples []int) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

func withVADDefaults(opts VADOptions) VADOptions {
	def := DefaultVADOptions(120 * time.Second)
	if opts.AnalysisWindow <= 0 {
		opts.AnalysisWindow = def.AnalysisWindow
	}
	if opts.EnergyThreshold == 0 {
		opts.EnergyThreshold = def.EnergyThreshold
	}
	if opts.MinDuration <= 0 {
		opts.MinDuration = def.MinDuration
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = def.MaxDuration
	}
	if opts.MaxSilence < 0 {
		opts.MaxSilence = 0
	}
	return opts
}
