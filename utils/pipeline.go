package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugeFrog24/gpt-diarizer/media"
	"github.com/rs/zerolog"
)

// Stage names a step of the diarization pipeline.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageDownloading  Stage = "downloading"
	StageTranscribing Stage = "transcribing"
	StageDiarizing    Stage = "diarizing"
	StageSummarizing  Stage = "summarizing"
	StageDone         Stage = "done"
)

// StageFunc receives stage transitions and progress in [0, 100] within the stage.
type StageFunc func(stage Stage, progress float64)

// ErrInvalidRequest marks requests that can never succeed as submitted.
var ErrInvalidRequest = errors.New("invalid request")

// Request selects exactly one audio source.
type Request struct {
	VideoID      string `json:"youtube_video_id,omitempty"`
	AudioPath    string `json:"-"`
	AudioName    string `json:"audio_file,omitempty"`
	ChunkSeconds int    `json:"chunk_seconds"`
	Summarize    bool   `json:"summarize,omitempty"`
}

func (r Request) Validate() error {
	hasVideo := strings.TrimSpace(r.VideoID) != ""
	hasAudio := strings.TrimSpace(r.AudioPath) != ""
	switch {
	case hasVideo && hasAudio:
		return fmt.Errorf("%w: provide either audio_file or youtube_video_id, not both", ErrInvalidRequest)
	case !hasVideo && !hasAudio:
		return fmt.Errorf("%w: Provide either audio_file or youtube_video_id", ErrInvalidRequest)
	case hasVideo:
		if _, err := media.VideoURL(r.VideoID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	return nil
}

type Result struct {
	Transcript        string  `json:"transcript" xml:"Transcript"`
	DiarizationResult string  `json:"diarization_result" xml:"Dialogue"`
	Language          string  `json:"language,omitempty" xml:"Language,omitempty"`
	Summary           string  `json:"summary,omitempty" xml:"Summary,omitempty"`
	Title             string  `json:"title,omitempty" xml:"Title,omitempty"`
	Chunks            int     `json:"chunks,omitempty" xml:"Chunks,omitempty"`
	DurationSeconds   float64 `json:"duration_seconds,omitempty" xml:"DurationSeconds,omitempty"`
}

// Pipeline wires the download, transcription, diarization and summary steps.
type Pipeline struct {
	Downloader     VideoDownloader
	Prober         AudioProber
	Transcriber    AudioTranscriber
	Extractor      DialogueExtractor
	Summarizer     Summarizer
	DetectLanguage func(string) string
	WorkDir        string
	SummaryLength  int
	Logger         zerolog.Logger
}

func (p *Pipeline) Run(ctx context.Context, req Request, onStage StageFunc) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if onStage == nil {
		onStage = func(Stage, float64) {}
	}

	var result Result
	audioPath := req.AudioPath
	if audioPath == "" {
		onStage(StageDownloading, 0)
		if info, err := p.Downloader.Info(ctx, req.VideoID); err != nil {
			p.Logger.Warn().Err(err).Str("video_id", req.VideoID).Msg("could not read video metadata")
		} else {
			result.Title = info.Title
		}

		path, err := p.Downloader.Download(ctx, req.VideoID, p.WorkDir, func(pct float64) {
			onStage(StageDownloading, pct)
		})
		if err != nil {
			return Result{}, fmt.Errorf("failed to download video: %w", err)
		}
		defer os.RemoveAll(filepath.Dir(path))
		audioPath = path
	}

	if p.Prober != nil {
		if d, err := p.Prober.Duration(ctx, audioPath); err != nil {
			p.Logger.Warn().Err(err).Str("file", audioPath).Msg("could not probe audio duration")
		} else {
			result.DurationSeconds = d.Seconds()
		}
	}

	onStage(StageTranscribing, 0)
	transcription, err := p.Transcriber.Transcribe(ctx, audioPath, req.ChunkSeconds)
	if err != nil {
		return Result{}, fmt.Errorf("failed to transcribe audio: %w", err)
	}
	result.Transcript = transcription.Text
	result.Chunks = transcription.Chunks
	if p.DetectLanguage != nil && result.Transcript != "" {
		result.Language = p.DetectLanguage(result.Transcript)
	}

	onStage(StageDiarizing, 0)
	dialogue, err := p.Extractor.ExtractDialogue(ctx, result.Transcript, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to extract dialogue: %w", err)
	}
	result.DiarizationResult = dialogue

	if req.Summarize && p.Summarizer != nil {
		onStage(StageSummarizing, 0)
		summary, err := p.Summarizer.Summarize(ctx, dialogue, p.SummaryLength)
		if err != nil {
			return Result{}, fmt.Errorf("failed to summarize dialogue: %w", err)
		}
		result.Summary = summary
	}

	onStage(StageDone, 100)
	p.Logger.Info().
		Int("transcript_chars", len(result.Transcript)).
		Int("chunks", result.Chunks).
		Float64("duration_seconds", result.DurationSeconds).
		Str("language", result.Language).
		Msg("diarization complete")
	return result, nil
}
