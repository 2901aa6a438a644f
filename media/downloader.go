package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/observability"
	"github.com/HugeFrog24/gpt-diarizer/process"
	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"
)

const (
	YouTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"
	progressFrequency       = 500 * time.Millisecond
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ErrInvalidVideoID is returned when a video reference is neither an
// 11-character YouTube ID nor an http(s) URL.
var ErrInvalidVideoID = errors.New("invalid YouTube video id")

var audioExtensions = map[string]bool{
	".wav": true, ".m4a": true, ".mp3": true, ".opus": true,
	".ogg": true, ".webm": true, ".aac": true, ".flac": true,
}

// VideoInfo is the subset of yt-dlp metadata the pipeline reports.
type VideoInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
}

// YtDlpDownloader fetches the audio track of a video with yt-dlp.
type YtDlpDownloader struct {
	Runner     process.Runner
	Path       string
	FFmpegPath string
	Logger     zerolog.Logger
}

func NewYtDlpDownloader(runner process.Runner, path, ffmpegPath string, logger zerolog.Logger) *YtDlpDownloader {
	return &YtDlpDownloader{Runner: runner, Path: path, FFmpegPath: ffmpegPath, Logger: logger}
}

// VideoURL turns a YouTube video ID into a watch URL. Full http(s) URLs are
// passed through unchanged.
func VideoURL(videoID string) (string, error) {
	videoID = strings.TrimSpace(videoID)
	if strings.HasPrefix(videoID, "http://") || strings.HasPrefix(videoID, "https://") {
		return videoID, nil
	}
	if !videoIDPattern.MatchString(videoID) {
		return "", fmt.Errorf("%w %q", ErrInvalidVideoID, videoID)
	}
	return fmt.Sprintf(YouTubeVideoURLTemplate, videoID), nil
}

// Info reads video metadata without downloading (yt-dlp -J).
func (d *YtDlpDownloader) Info(ctx context.Context, videoID string) (VideoInfo, error) {
	url, err := VideoURL(videoID)
	if err != nil {
		return VideoInfo{}, err
	}
	res, err := d.Runner.Run(ctx, process.Command{
		Tool: "yt-dlp",
		Path: d.Path,
		Args: []string{"-J", "--no-playlist", "--no-warnings", url},
	})
	if err != nil {
		return VideoInfo{}, fmt.Errorf("yt-dlp error: %w", err)
	}
	var info VideoInfo
	if err := json.Unmarshal(res.Stdout, &info); err != nil {
		return VideoInfo{}, fmt.Errorf("failed to decode yt-dlp metadata: %w", err)
	}
	return info, nil
}

// Download extracts the audio of videoID into a fresh directory under dir
// and returns the resulting file path. onProgress, if set, receives
// percentages in [0, 100].
func (d *YtDlpDownloader) Download(ctx context.Context, videoID, dir string, onProgress func(float64)) (string, error) {
	url, err := VideoURL(videoID)
	if err != nil {
		return "", err
	}
	target, err := os.MkdirTemp(dir, "ytdlp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	dl := ytdlp.New().
		NoPlaylist().
		ExtractAudio().
		AudioFormat("wav").
		RestrictFilenames().
		ForceOverwrites().
		Output(filepath.Join(target, "%(id)s.%(ext)s"))
	if d.Path != "" {
		dl = dl.SetExecutable(d.Path)
	}
	if d.FFmpegPath != "" {
		dl = dl.FFmpegLocation(d.FFmpegPath)
	}
	if onProgress != nil {
		dl.ProgressFunc(progressFrequency, func(update ytdlp.ProgressUpdate) {
			if update.TotalBytes > 0 {
				onProgress(float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100)
			}
		})
	}

	start := time.Now()
	_, err = dl.Run(ctx, url)
	if err != nil {
		outcome := "error"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		observability.RecordProcessRun("yt-dlp", outcome, time.Since(start))
		os.RemoveAll(target)
		return "", fmt.Errorf("download failed for %s: %w", url, err)
	}
	observability.RecordProcessRun("yt-dlp", "ok", time.Since(start))

	path, err := findDownloadedAudio(target)
	if err != nil {
		os.RemoveAll(target)
		return "", err
	}
	d.Logger.Info().Str("url", url).Str("path", path).Dur("duration", time.Since(start)).Msg("audio downloaded")
	return path, nil
}

// findDownloadedAudio picks the newest audio file yt-dlp left in dir.
func findDownloadedAudio(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read download directory: %w", err)
	}
	type candidate struct {
		path string
		mod  time.Time
	}
	var found []candidate
	for _, e := range entries {
		if e.IsDir() || !audioExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
	}
	if len(found) == 0 {
		return "", fmt.Errorf("yt-dlp produced no audio file in %s", dir)
	}
	sort.Slice(found, func(i, j int) bool {
		wi, wj := filepath.Ext(found[i].path) == ".wav", filepath.Ext(found[j].path) == ".wav"
		if wi != wj {
			return wi
		}
		return found[i].mod.After(found[j].mod)
	})
	return found[0].path, nil
}
