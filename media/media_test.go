package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/process"
	"github.com/rs/zerolog"
)

type fakeRunner struct {
	calls  []process.Command
	result process.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, cmd process.Command) (process.Result, error) {
	f.calls = append(f.calls, cmd)
	return f.result, f.err
}

func hasPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func tone(samples []int, from, to time.Duration, rate int) {
	start := int(from.Seconds() * float64(rate))
	end := int(to.Seconds() * float64(rate))
	for i := start; i < end && i < len(samples); i++ {
		samples[i] = int(3000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
}

func TestWAVArgs(t *testing.T) {
	args := WAVArgs("in.mp4", "out.wav", 16000)
	if !hasPair(args, "-i", "in.mp4") {
		t.Errorf("missing input in %v", args)
	}
	if !hasPair(args, "-ar", "16000") || !hasPair(args, "-ac", "1") || !hasPair(args, "-acodec", "pcm_s16le") {
		t.Errorf("missing audio options in %v", args)
	}
	if !contains(args, "-y") || !contains(args, "out.wav") {
		t.Errorf("expected overwrite flag and output in %v", args)
	}
}

func TestToWAVNoAudioStream(t *testing.T) {
	runner := &fakeRunner{err: &process.ExitError{
		Tool:   "ffmpeg",
		Code:   1,
		Stderr: "Output file #0 does not contain any stream",
		Err:    errors.New("exit status 1"),
	}}
	conv := NewFFmpegConverter(runner, "ffmpeg")
	err := conv.ToWAV(context.Background(), "silent.mp4", "out.wav", 16000)
	if !errors.Is(err, ErrNoAudioStream) {
		t.Fatalf("expected ErrNoAudioStream, got %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0].Tool != "ffmpeg" {
		t.Fatalf("expected one ffmpeg call, got %+v", runner.calls)
	}
}

func TestToWAVOtherFailure(t *testing.T) {
	runner := &fakeRunner{err: &process.ExitError{Tool: "ffmpeg", Code: 1, Stderr: "Invalid data found", Err: errors.New("exit status 1")}}
	conv := NewFFmpegConverter(runner, "ffmpeg")
	err := conv.ToWAV(context.Background(), "bad.mp4", "out.wav", 16000)
	if err == nil || errors.Is(err, ErrNoAudioStream) {
		t.Fatalf("expected generic conversion error, got %v", err)
	}
}

func TestProberDuration(t *testing.T) {
	runner := &fakeRunner{result: process.Result{Stdout: []byte("12.500000\n")}}
	p := NewProber(runner, "ffprobe")
	d, err := p.Duration(context.Background(), "a.wav")
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if d != 12500*time.Millisecond {
		t.Errorf("expected 12.5s, got %s", d)
	}

	runner.result.Stdout = []byte("N/A")
	if _, err := p.Duration(context.Background(), "a.wav"); err == nil {
		t.Error("expected parse error for N/A")
	}
}

func TestWAVWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	samples := make([]int, 16000)
	tone(samples, 0, time.Second, 16000)

	if err := WriteWAV(path, PCM{Samples: samples, SampleRate: 16000}); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	pcm, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if pcm.SampleRate != 16000 {
		t.Errorf("expected 16000 Hz, got %d", pcm.SampleRate)
	}
	if len(pcm.Samples) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(pcm.Samples))
	}
	if pcm.Samples[100] != samples[100] {
		t.Errorf("sample mismatch: %d vs %d", pcm.Samples[100], samples[100])
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("not a wav"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadWAV(path); err == nil {
		t.Error("expected error for invalid WAV")
	}
}

func TestPCMSlice(t *testing.T) {
	pcm := PCM{Samples: make([]int, 16000), SampleRate: 16000}
	part := pcm.Slice(250*time.Millisecond, 750*time.Millisecond)
	if len(part.Samples) != 8000 {
		t.Errorf("expected 8000 samples, got %d", len(part.Samples))
	}
	if got := pcm.Slice(900*time.Millisecond, 5*time.Second); len(got.Samples) != 1600 {
		t.Errorf("expected slice clamped to 1600 samples, got %d", len(got.Samples))
	}
	if pcm.Duration() != time.Second {
		t.Errorf("expected 1s duration, got %s", pcm.Duration())
	}
}

func TestSplitVoicedDropsShortBlips(t *testing.T) {
	rate := 16000
	samples := make([]int, int(5.2*float64(rate)))
	tone(samples, time.Second, 3*time.Second, rate)
	tone(samples, 4*time.Second, 4200*time.Millisecond, rate)

	regions := SplitVoiced(PCM{Samples: samples, SampleRate: rate}, DefaultVADOptions(120*time.Second))
	if len(regions) != 1 {
		t.Fatalf("expected 1 region, got %d: %+v", len(regions), regions)
	}
	if regions[0].Start != time.Second {
		t.Errorf("expected start 1s, got %s", regions[0].Start)
	}
	if regions[0].End != 3300*time.Millisecond {
		t.Errorf("expected end 3.3s (trailing silence kept), got %s", regions[0].End)
	}
}

func TestSplitVoicedCutsAtMaxDuration(t *testing.T) {
	rate := 16000
	samples := make([]int, 5*rate)
	tone(samples, 0, 5*time.Second, rate)

	regions := SplitVoiced(PCM{Samples: samples, SampleRate: rate}, DefaultVADOptions(2*time.Second))
	want := []Region{
		{Start: 0, End: 2 * time.Second},
		{Start: 2 * time.Second, End: 4 * time.Second},
		{Start: 4 * time.Second, End: 5 * time.Second},
	}
	if len(regions) != len(want) {
		t.Fatalf("expected %d regions, got %d: %+v", len(want), len(regions), regions)
	}
	for i := range want {
		if regions[i] != want[i] {
			t.Errorf("region %d: expected %+v, got %+v", i, want[i], regions[i])
		}
		if regions[i].Duration() > 2*time.Second {
			t.Errorf("region %d exceeds max duration: %s", i, regions[i].Duration())
		}
	}
}

func TestSplitVoicedSilence(t *testing.T) {
	pcm := PCM{Samples: make([]int, 32000), SampleRate: 16000}
	if regions := SplitVoiced(pcm, DefaultVADOptions(10*time.Second)); len(regions) != 0 {
		t.Errorf("expected no regions in silence, got %+v", regions)
	}
}

func TestVideoURL(t *testing.T) {
	url, err := VideoURL("dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("unexpected url %q", url)
	}
	for _, bad := range []string{"bad id; rm -rf", "not-a-valid-id!!", "short", ""} {
		if _, err := VideoURL(bad); !errors.Is(err, ErrInvalidVideoID) {
			t.Errorf("VideoURL(%q): expected ErrInvalidVideoID, got %v", bad, err)
		}
	}
	full := "https://youtu.be/dQw4w9WgXcQ"
	if got, _ := VideoURL(full); got != full {
		t.Errorf("expected full URL passthrough, got %q", got)
	}
}

func TestInfoDecodesMetadata(t *testing.T) {
	runner := &fakeRunner{result: process.Result{Stdout: []byte(`{"id":"dQw4w9WgXcQ","title":"Talk","uploader":"Chan","duration":212.0}`)}}
	d := NewYtDlpDownloader(runner, "yt-dlp", "", zeroLogger())
	info, err := d.Info(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Title != "Talk" || info.Duration != 212 {
		t.Errorf("unexpected info %+v", info)
	}
	if !contains(runner.calls[0].Args, "--no-playlist") {
		t.Errorf("expected --no-playlist in args %v", runner.calls[0].Args)
	}
}

func TestFindDownloadedAudioPrefersWAV(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"abc.webm", "abc.wav", "abc.info.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	path, err := findDownloadedAudio(dir)
	if err != nil {
		t.Fatalf("findDownloadedAudio failed: %v", err)
	}
	if filepath.Base(path) != "abc.wav" {
		t.Errorf("expected abc.wav, got %s", path)
	}

	if _, err := findDownloadedAudio(t.TempDir()); err == nil {
		t.Error("expected error for empty directory")
	}
}

// fakeYtDlp writes a shell script that stands in for yt-dlp. It records its
// arguments to argsFile, prints go-ytdlp progress lines and saves a WAV file
// under the --output directory. A non-zero exitCode makes it fail after
// leaving a partial download behind.
func fakeYtDlp(t *testing.T, argsFile string, exitCode int) string {
	t.Helper()
	script := `#!/bin/sh
out=""
prev=""
for arg in "$@"; do
	if [ "$prev" = "--output" ]; then out="$arg"; fi
	prev="$arg"
done
printf '%s\n' "$@" > '@ARGS@'
dir="${out%/*}"
printf 'progress:{"info":{"id":"dQw4w9WgXcQ"},"progress":{"status":"downloading","total_bytes":200,"downloaded_bytes":50}}\n'
if [ @EXIT@ -ne 0 ]; then
	printf 'partial' > "$dir/dQw4w9WgXcQ.webm.part"
	echo "ERROR: [youtube] dQw4w9WgXcQ: Video unavailable" >&2
	exit @EXIT@
fi
printf 'progress:{"info":{"id":"dQw4w9WgXcQ"},"progress":{"status":"finished","total_bytes":200,"downloaded_bytes":200}}\n'
printf 'RIFF' > "$dir/dQw4w9WgXcQ.wav"
`
	script = strings.ReplaceAll(script, "@ARGS@", argsFile)
	script = strings.ReplaceAll(script, "@EXIT@", fmt.Sprint(exitCode))
	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDownloadRunsYtDlp(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	argsFile := filepath.Join(t.TempDir(), "args")
	workDir := t.TempDir()
	d := NewYtDlpDownloader(&fakeRunner{}, fakeYtDlp(t, argsFile, 0), "/opt/ffmpeg/bin/ffmpeg", zeroLogger())

	var progress []float64
	path, err := d.Download(context.Background(), "dQw4w9WgXcQ", workDir, func(pct float64) {
		progress = append(progress, pct)
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	target := filepath.Dir(path)
	if filepath.Dir(target) != workDir || !strings.HasPrefix(filepath.Base(target), "ytdlp-") {
		t.Errorf("expected download under %s/ytdlp-*, got %s", workDir, path)
	}
	if filepath.Base(path) != "dQw4w9WgXcQ.wav" {
		t.Errorf("expected dQw4w9WgXcQ.wav, got %s", path)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	args := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if !hasPair(args, "--output", filepath.Join(target, "%(id)s.%(ext)s")) {
		t.Errorf("expected output template in %v", args)
	}
	if !contains(args, "--extract-audio") || !hasPair(args, "--audio-format", "wav") || !contains(args, "--no-playlist") {
		t.Errorf("expected audio extraction flags in %v", args)
	}
	if !hasPair(args, "--ffmpeg-location", "/opt/ffmpeg/bin/ffmpeg") {
		t.Errorf("expected ffmpeg location in %v", args)
	}
	if args[len(args)-1] != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("expected watch URL as last argument, got %v", args)
	}

	if len(progress) != 2 || progress[0] != 25 || progress[1] != 100 {
		t.Errorf("expected progress [25 100], got %v", progress)
	}
}

func TestDownloadFailureRemovesTempDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	workDir := t.TempDir()
	d := NewYtDlpDownloader(&fakeRunner{}, fakeYtDlp(t, filepath.Join(t.TempDir(), "args"), 1), "", zeroLogger())

	if _, err := d.Download(context.Background(), "dQw4w9WgXcQ", workDir, nil); err == nil {
		t.Fatal("expected download error")
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected work dir to be empty, found %d entries", len(entries))
	}
}

func TestDownloadRejectsInvalidVideoID(t *testing.T) {
	workDir := t.TempDir()
	d := NewYtDlpDownloader(&fakeRunner{}, "/nonexistent/yt-dlp", "", zeroLogger())
	if _, err := d.Download(context.Background(), "not-a-valid-id!!", workDir, nil); !errors.Is(err, ErrInvalidVideoID) {
		t.Fatalf("expected ErrInvalidVideoID, got %v", err)
	}
	if entries, _ := os.ReadDir(workDir); len(entries) != 0 {
		t.Errorf("expected no temp dir for rejected id, found %d entries", len(entries))
	}
}

func zeroLogger() zerolog.Logger {
	return zerolog.Nop()
}
