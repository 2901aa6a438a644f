package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/config"
	"github.com/HugeFrog24/gpt-diarizer/media"
	"github.com/HugeFrog24/gpt-diarizer/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Transcription is the merged text of one audio file.
type Transcription struct {
	Text         string
	Chunks       int
	ChunkSeconds int
	// Fallback is set when chunking failed and a single pass was used.
	Fallback bool
}

type OpenAITranscriber struct {
	Client          *openai.Client
	Model           string
	Converter       AudioConverter
	WorkDir         string
	SampleRate      int
	EnergyThreshold float64
	Retry           RetryPolicy
	Logger          zerolog.Logger
}

// Transcribe picks the single-pass path when chunkSeconds <= 0, which lets
// clients that already chunk on their side skip backend chunking.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioFile string, chunkSeconds int) (Transcription, error) {
	if chunkSeconds <= 0 {
		text, err := t.TranscribeFile(ctx, audioFile)
		if err != nil {
			return Transcription{}, err
		}
		return Transcription{Text: text, Chunks: 1, ChunkSeconds: chunkSeconds}, nil
	}
	return t.TranscribeChunked(ctx, audioFile, chunkSeconds)
}

// TranscribeFile sends the whole file in one request.
func (t *OpenAITranscriber) TranscribeFile(ctx context.Context, audioFile string) (string, error) {
	var text string
	err := Retry(ctx, t.Retry, func(attempt int) error {
		resp, err := t.Client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    t.Model,
			FilePath: audioFile,
		})
		observability.RecordOpenAIRequest("transcribe", err)
		if err != nil {
			t.Logger.Warn().Err(err).Int("attempt", attempt).Msg("transcription attempt failed")
			return err
		}
		text = resp.Text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("transcription error: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// TranscribeChunked normalizes the audio, splits it on voice activity into
// regions of at most chunkSeconds and transcribes them in order. Any
// failure other than cancellation or a missing audio stream falls back to
// a single pass over the original file.
func (t *OpenAITranscriber) TranscribeChunked(ctx context.Context, audioFile string, chunkSeconds int) (Transcription, error) {
	chunkSeconds = config.ClampChunkSeconds(chunkSeconds)

	texts, err := t.transcribeChunks(ctx, audioFile, chunkSeconds)
	if err == nil && len(texts) > 0 {
		full := joinTranscripts(texts)
		t.Logger.Info().
			Int("chunk_seconds", chunkSeconds).
			Int("total_chunks", len(texts)).
			Int("transcript_chars", len(full)).
			Msg("chunked transcription complete")
		return Transcription{Text: full, Chunks: len(texts), ChunkSeconds: chunkSeconds}, nil
	}

	if ctx.Err() != nil {
		return Transcription{}, ctx.Err()
	}
	if errors.Is(err, media.ErrNoAudioStream) {
		return Transcription{}, err
	}
	if err != nil {
		t.Logger.Warn().Err(err).Msg("chunked transcription failed, falling back to single transcription call")
	} else {
		t.Logger.Warn().Msg("no audio chunks detected, falling back to single transcription call")
	}

	text, err := t.TranscribeFile(ctx, audioFile)
	if err != nil {
		return Transcription{}, err
	}
	t.Logger.Info().
		Int("chunk_seconds", chunkSeconds).
		Int("total_chunks", 1).
		Int("transcript_chars", len(text)).
		Msg("fallback transcription complete")
	return Transcription{Text: text, Chunks: 1, ChunkSeconds: chunkSeconds, Fallback: true}, nil
}

func (t *OpenAITranscriber) transcribeChunks(ctx context.Context, audioFile string, chunkSeconds int) ([]string, error) {
	if err := os.MkdirAll(t.WorkDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	wavPath := filepath.Join(t.WorkDir, uuid.NewString()+".wav")
	defer os.Remove(wavPath)

	if err := t.Converter.ToWAV(ctx, audioFile, wavPath, t.SampleRate); err != nil {
		return nil, err
	}
	pcm, err := media.ReadWAV(wavPath)
	if err != nil {
		return nil, err
	}

	opts := media.DefaultVADOptions(time.Duration(chunkSeconds) * time.Second)
	if t.EnergyThreshold > 0 {
		opts.EnergyThreshold = t.EnergyThreshold
	}
	regions := media.SplitVoiced(pcm, opts)
	if len(regions) == 0 {
		return nil, nil
	}

	t.Logger.Info().Int("chunk_seconds", chunkSeconds).Int("total_chunks", len(regions)).Msg("starting chunked transcription")
	texts := make([]string, 0, len(regions))
	for i, region := range regions {
		t.Logger.Debug().Int("chunk", i+1).Int("total_chunks", len(regions)).Msg("transcribing chunk")
		text, err := t.transcribeRegion(ctx, pcm.Slice(region.Start, region.End))
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(regions), err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func (t *OpenAITranscriber) transcribeRegion(ctx context.Context, segment media.PCM) (string, error) {
	chunkPath := filepath.Join(t.WorkDir, uuid.NewString()+".wav")
	defer os.Remove(chunkPath)

	if err := media.WriteWAV(chunkPath, segment); err != nil {
		return "", err
	}
	return t.TranscribeFile(ctx, chunkPath)
}

func joinTranscripts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, text := range texts {
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
