package utils

import (
	"context"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/media"
	openai "github.com/sashabaranov/go-openai"
)

type MockVideoDownloader struct {
	InfoFunc     func(ctx context.Context, videoID string) (media.VideoInfo, error)
	DownloadFunc func(ctx context.Context, videoID, dir string, onProgress func(float64)) (string, error)
}

func (m *MockVideoDownloader) Info(ctx context.Context, videoID string) (media.VideoInfo, error) {
	if m.InfoFunc == nil {
		return media.VideoInfo{ID: videoID}, nil
	}
	return m.InfoFunc(ctx, videoID)
}

func (m *MockVideoDownloader) Download(ctx context.Context, videoID, dir string, onProgress func(float64)) (string, error) {
	return m.DownloadFunc(ctx, videoID, dir, onProgress)
}

type MockAudioConverter struct {
	ToWAVFunc func(ctx context.Context, in, out string, sampleRate int) error
}

func (m *MockAudioConverter) ToWAV(ctx context.Context, in, out string, sampleRate int) error {
	return m.ToWAVFunc(ctx, in, out, sampleRate)
}

type MockAudioProber struct {
	DurationFunc func(ctx context.Context, file string) (time.Duration, error)
}

func (m *MockAudioProber) Duration(ctx context.Context, file string) (time.Duration, error) {
	return m.DurationFunc(ctx, file)
}

type MockAudioTranscriber struct {
	TranscribeFunc func(ctx context.Context, audioFile string, chunkSeconds int) (Transcription, error)
}

func (m *MockAudioTranscriber) Transcribe(ctx context.Context, audioFile string, chunkSeconds int) (Transcription, error) {
	return m.TranscribeFunc(ctx, audioFile, chunkSeconds)
}

type MockDialogueExtractor struct {
	ExtractDialogueFunc func(ctx context.Context, transcript string, history []openai.ChatCompletionMessage) (string, error)
}

func (m *MockDialogueExtractor) ExtractDialogue(ctx context.Context, transcript string, history []openai.ChatCompletionMessage) (string, error) {
	return m.ExtractDialogueFunc(ctx, transcript, history)
}

type MockSummarizer struct {
	SummarizeFunc func(ctx context.Context, text string, targetLength int) (string, error)
}

func (m *MockSummarizer) Summarize(ctx context.Context, text string, targetLength int) (string, error) {
	return m.SummarizeFunc(ctx, text, targetLength)
}

type MockPipelineRunner struct {
	RunFunc func(ctx context.Context, req Request, onStage StageFunc) (Result, error)
}

func (m *MockPipelineRunner) Run(ctx context.Context, req Request, onStage StageFunc) (Result, error) {
	return m.RunFunc(ctx, req, onStage)
}
