package utils

import (
	"context"
	"fmt"
	"strings"

	"github.com/HugeFrog24/gpt-diarizer/observability"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const diarizationPrompt = `Perform speaker diarization on the given text to identify and extract conversations involving multiple speakers. Present the dialogue in the following structured format:
Speaker 1:
Speaker 2:
Speaker 3:
...`

// Token budget of the chat model used for diarization.
const (
	contextWindowTokens = 8191
	maxCompletionTokens = 4096
	tokensPerMessage    = 4
	replyPrimingTokens  = 3
)

type OpenAIDialogueExtractor struct {
	Client *openai.Client
	Model  string
	Tokens TokenCounter
	Retry  RetryPolicy
	Logger zerolog.Logger
}

// ExtractDialogue asks the chat model to label speakers in transcript.
// history, if given, replaces the default system prompt; on rate limiting
// the oldest history turn after the first message is dropped before the
// next attempt.
func (e *OpenAIDialogueExtractor) ExtractDialogue(ctx context.Context, transcript string, history []openai.ChatCompletionMessage) (string, error) {
	base := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if len(history) > 0 {
		base = append(base, history...)
	} else {
		base = append(base, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: diarizationPrompt})
	}
	content := strings.ReplaceAll(transcript, "\n", "")

	var reply string
	var lastErr error
	err := Retry(ctx, e.Retry, func(attempt int) error {
		if IsRateLimited(lastErr) && len(base) > 1 {
			base = append(base[:1:1], base[2:]...)
			e.Logger.Debug().Int("history", len(base)).Msg("rate limited, trimmed oldest history turn")
		}

		messages := append(append([]openai.ChatCompletionMessage{}, base...), openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: content,
		})
		maxTokens := MaxCompletionTokens(
			e.Tokens.Count(diarizationPrompt),
			e.Tokens.Count(transcript),
			len(messages),
		)

		resp, err := e.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:            e.Model,
			Messages:         messages,
			MaxTokens:        maxTokens,
			Temperature:      1,
			TopP:             1,
			PresencePenalty:  0,
			FrequencyPenalty: 0,
		})
		observability.RecordOpenAIRequest("diarize", err)
		lastErr = err
		if err != nil {
			e.Logger.Warn().Err(err).Int("attempt", attempt).Msg("diarization attempt failed")
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty completion response")
		}
		reply = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("error extracting dialogue: %w", err)
	}
	if !strings.Contains(reply, "Speaker") {
		e.Logger.Warn().Msg("diarization reply has no speaker labels")
	}
	return reply, nil
}

// MaxCompletionTokens returns the completion budget left in the context
// window, clamped to [1, 4096].
func MaxCompletionTokens(promptTokens, transcriptTokens, messages int) int {
	overhead := messages*tokensPerMessage + replyPrimingTokens
	available := contextWindowTokens - (promptTokens + transcriptTokens + overhead)
	return max(1, min(maxCompletionTokens, available))
}
