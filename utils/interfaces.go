package utils

import (
	"context"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/media"
	openai "github.com/sashabaranov/go-openai"
)

type VideoDownloader interface {
	Info(ctx context.Context, videoID string) (media.VideoInfo, error)
	Download(ctx context.Context, videoID, dir string, onProgress func(float64)) (string, error)
}

type AudioConverter interface {
	ToWAV(ctx context.Context, in, out string, sampleRate int) error
}

type AudioProber interface {
	Duration(ctx context.Context, file string) (time.Duration, error)
}

type AudioTranscriber interface {
	Transcribe(ctx context.Context, audioFile string, chunkSeconds int) (Transcription, error)
}

type DialogueExtractor interface {
	ExtractDialogue(ctx context.Context, transcript string, history []openai.ChatCompletionMessage) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string, targetLength int) (string, error)
}

type PipelineRunner interface {
	Run(ctx context.Context, req Request, onStage StageFunc) (Result, error)
}

type TokenCounter interface {
	Count(text string) int
}
