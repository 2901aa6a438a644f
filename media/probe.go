package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/process"
)

type Prober struct {
	Runner process.Runner
	Path   string
}

func NewProber(runner process.Runner, path string) *Prober {
	return &Prober{Runner: runner, Path: path}
}

// Duration reports the container duration of a media file.
func (p *Prober) Duration(ctx context.Context, file string) (time.Duration, error) {
	res, err := p.Runner.Run(ctx, process.Command{
		Tool: "ffprobe",
		Path: p.Path,
		Args: []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", file},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get audio duration: %w", err)
	}
	return parseDuration(string(res.Stdout))
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse audio duration %q: %w", raw, err)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("negative audio duration %q", raw)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
