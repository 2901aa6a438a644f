package media

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM is mono 16-bit audio held in memory.
type PCM struct {
	Samples    []int
	SampleRate int
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

// Slice returns the samples between start and end, clamped to the buffer.
func (p PCM) Slice(start, end time.Duration) PCM {
	from := p.offset(start)
	to := p.offset(end)
	if to < from {
		to = from
	}
	return PCM{Samples: p.Samples[from:to], SampleRate: p.SampleRate}
}

func (p PCM) offset(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(math.Round(d.Seconds() * float64(p.SampleRate)))
	if n > len(p.Samples) {
		return len(p.Samples)
	}
	return n
}

// ReadWAV decodes a PCM WAV file, downmixing to mono when needed.
func ReadWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return PCM{}, fmt.Errorf("%s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("failed to decode WAV file: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return PCM{}, fmt.Errorf("%s has no sample rate", path)
	}

	samples := buf.Data
	if channels := buf.Format.NumChannels; channels > 1 {
		samples = downmix(buf.Data, channels)
	}
	if depth := buf.SourceBitDepth; depth > 16 {
		shift := uint(depth - 16)
		for i := range samples {
			samples[i] >>= shift
		}
	}
	return PCM{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// WriteWAV encodes pcm as a mono 16-bit PCM WAV file.
func WriteWAV(path string, pcm PCM) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}

	enc := wav.NewEncoder(f, pcm.SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: pcm.SampleRate},
		Data:           pcm.Samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode WAV file: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return f.Close()
}

func downmix(data []int, channels int) []int {
	out := make([]int, len(data)/channels)
	for i := range out {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		out[i] = sum / channels
	}
	return out
}
