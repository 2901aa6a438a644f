package utils

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/HugeFrog24/gpt-diarizer/observability"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	maxChunkSize  = 8000
	maxIterations = 10
)

type TextSummarizer struct {
	client *openai.Client
	model  string
	retry  RetryPolicy
	logger zerolog.Logger
	// detectLanguage names the language of a chunk; "" means unknown.
	detectLanguage func(string) string
}

func NewTextSummarizer(client *openai.Client, model string, retry RetryPolicy, logger zerolog.Logger) *TextSummarizer {
	return &TextSummarizer{
		client:         client,
		model:          model,
		retry:          retry,
		logger:         logger,
		detectLanguage: DetectLanguage,
	}
}

// Summarize condenses text in at least one pass and then until it fits
// targetLength characters, in the language the text is written in.
func (ts *TextSummarizer) Summarize(ctx context.Context, text string, targetLength int) (string, error) {
	return ts.summarizeTextRecursive(ctx, text, targetLength, 0)
}

func (ts *TextSummarizer) summarizeTextRecursive(ctx context.Context, text string, targetLength int, iteration int) (string, error) {
	if strings.TrimSpace(text) == "" || iteration >= maxIterations {
		return text, nil
	}
	if iteration > 0 && len(text) <= targetLength {
		return text, nil
	}

	ts.logger.Debug().Int("iteration", iteration).Int("input_chars", len(text)).Msg("summarization pass")

	chunks := splitTextIntoChunks(text, maxChunkSize)
	summarizedChunks := make([]string, 0, len(chunks))

	for i, chunk := range chunks {
		summary, err := ts.summarizeChunk(ctx, chunk)
		if err != nil {
			return "", fmt.Errorf("error summarizing chunk %d: %w", i, err)
		}
		summarizedChunks = append(summarizedChunks, summary)
	}

	combinedSummary := strings.Join(summarizedChunks, " ")
	ts.logger.Debug().Int("iteration", iteration).Int("output_chars", len(combinedSummary)).Msg("summarization pass done")

	// A pass that does not shrink the text will never converge.
	if len(combinedSummary) > targetLength && len(combinedSummary) < len(text) {
		return ts.summarizeTextRecursive(ctx, combinedSummary, targetLength, iteration+1)
	}

	return combinedSummary, nil
}

func (ts *TextSummarizer) summarizeChunk(ctx context.Context, chunk string) (string, error) {
	language := ts.detectLanguage(chunk)
	if language == "" {
		language = "the language of the text"
	}

	req := openai.ChatCompletionRequest{
		Model: ts.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("You are a helpful assistant that summarizes conversations concisely while retaining who said what. Always respond in %s.", language),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Summarize the following text in %s, maintaining key information and context:\n\n%s", language, chunk),
			},
		},
		MaxTokens: 500,
	}

	var summary string
	err := Retry(ctx, ts.retry, func(attempt int) error {
		resp, err := ts.client.CreateChatCompletion(ctx, req)
		observability.RecordOpenAIRequest("summarize", err)
		if err != nil {
			return fmt.Errorf("error creating chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty completion response")
		}
		summary = resp.Choices[0].Message.Content
		return nil
	})
	return summary, err
}

func splitTextIntoChunks(text string, chunkSize int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	wordsPerChunk := int(math.Ceil(float64(len(words)) / math.Ceil(float64(len(text))/float64(chunkSize))))

	var chunks []string
	for i := 0; i < len(words); i += wordsPerChunk {
		end := min(i+wordsPerChunk, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}

	return chunks
}
