package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HugeFrog24/gpt-diarizer/process"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrNoAudioStream means the input has no audio track to extract.
var ErrNoAudioStream = errors.New("input has no audio stream")

var noStreamMarkers = []string{
	"Output file does not contain any stream",
	"does not contain any stream",
	"Output file #0 does not contain any stream",
}

type FFmpegConverter struct {
	Runner process.Runner
	Path   string
}

func NewFFmpegConverter(runner process.Runner, path string) *FFmpegConverter {
	return &FFmpegConverter{Runner: runner, Path: path}
}

// ToWAV converts any input ffmpeg understands into mono 16-bit PCM WAV at
// sampleRate, overwriting out.
func (c *FFmpegConverter) ToWAV(ctx context.Context, in, out string, sampleRate int) error {
	args := WAVArgs(in, out, sampleRate)
	_, err := c.Runner.Run(ctx, process.Command{
		Tool: "ffmpeg",
		Path: c.Path,
		Args: args,
	})
	if err == nil {
		return nil
	}

	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		for _, marker := range noStreamMarkers {
			if strings.Contains(exitErr.Stderr, marker) {
				return fmt.Errorf("%s: %w", in, ErrNoAudioStream)
			}
		}
	}
	return fmt.Errorf("ffmpeg conversion of %s failed: %w", in, err)
}

// WAVArgs builds the ffmpeg argument list for a mono PCM WAV conversion.
func WAVArgs(in, out string, sampleRate int) []string {
	return ffmpeg.Input(in).
		Output(out, ffmpeg.KwArgs{
			"acodec": "pcm_s16le",
			"ac":     1,
			"ar":     sampleRate,
			"f":      "wav",
		}).
		OverWriteOutput().
		GetArgs()
}
