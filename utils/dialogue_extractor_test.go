package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestMaxCompletionTokens(t *testing.T) {
	tests := []struct {
		prompt, transcript, messages int
		want                         int
	}{
		{50, 100, 2, 4096},
		{50, 5000, 2, 8191 - (50 + 5000 + 2*4 + 3)},
		{50, 9000, 2, 1},
	}
	for _, tt := range tests {
		if got := MaxCompletionTokens(tt.prompt, tt.transcript, tt.messages); got != tt.want {
			t.Errorf("MaxCompletionTokens(%d, %d, %d) = %d, want %d", tt.prompt, tt.transcript, tt.messages, got, tt.want)
		}
	}
}

func TestExtractDialogueRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	var lastReq openai.ChatCompletionRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			writeAPIError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&lastReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeJSON(w, http.StatusOK, chatReply("  Speaker 1: hi\nSpeaker 2: hello  "))
	}))

	extractor := &OpenAIDialogueExtractor{
		Client: client,
		Model:  "gpt-4o-mini",
		Tokens: EstimateCounter{},
		Retry:  fastRetry(7),
		Logger: nopLogger(),
	}
	got, err := extractor.ExtractDialogue(context.Background(), "hi\nhello", nil)
	if err != nil {
		t.Fatalf("ExtractDialogue failed: %v", err)
	}
	if got != "Speaker 1: hi\nSpeaker 2: hello" {
		t.Errorf("unexpected dialogue %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
	if len(lastReq.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(lastReq.Messages))
	}
	if lastReq.Messages[0].Role != openai.ChatMessageRoleSystem || !strings.Contains(lastReq.Messages[0].Content, "speaker diarization") {
		t.Errorf("unexpected system message %+v", lastReq.Messages[0])
	}
	if lastReq.Messages[1].Content != "hihello" {
		t.Errorf("expected newlines stripped from transcript, got %q", lastReq.Messages[1].Content)
	}
	if lastReq.MaxTokens != 4096 {
		t.Errorf("expected max_tokens 4096 for a short transcript, got %d", lastReq.MaxTokens)
	}
}

func TestExtractDialogueTrimsHistoryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	var lastReq openai.ChatCompletionRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&lastReq)
		if calls.Add(1) == 1 {
			writeAPIError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		writeJSON(w, http.StatusOK, chatReply("Speaker 1: ok"))
	}))

	history := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "custom prompt"},
		{Role: openai.ChatMessageRoleUser, Content: "old question"},
		{Role: openai.ChatMessageRoleAssistant, Content: "old answer"},
	}
	extractor := &OpenAIDialogueExtractor{Client: client, Model: "gpt-4o-mini", Tokens: EstimateCounter{}, Retry: fastRetry(3), Logger: nopLogger()}
	if _, err := extractor.ExtractDialogue(context.Background(), "text", history); err != nil {
		t.Fatalf("ExtractDialogue failed: %v", err)
	}
	if len(lastReq.Messages) != 3 {
		t.Fatalf("expected one history turn dropped (3 messages), got %d", len(lastReq.Messages))
	}
	if lastReq.Messages[0].Content != "custom prompt" || lastReq.Messages[1].Content != "old answer" {
		t.Errorf("unexpected messages after trim: %+v", lastReq.Messages)
	}
	if len(history) != 3 || history[1].Content != "old question" {
		t.Error("caller history must not be modified")
	}
}

func TestExtractDialogueReturnsUnlabelledReply(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, chatReply("I cannot tell."))
	}))

	extractor := &OpenAIDialogueExtractor{Client: client, Model: "gpt-4o-mini", Tokens: EstimateCounter{}, Retry: fastRetry(3), Logger: nopLogger()}
	got, err := extractor.ExtractDialogue(context.Background(), "text", nil)
	if err != nil {
		t.Fatalf("ExtractDialogue failed: %v", err)
	}
	if got != "I cannot tell." {
		t.Errorf("unexpected dialogue %q", got)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single chat call, got %d", calls.Load())
	}
}

func TestExtractDialogueFailsOnUnauthorized(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusUnauthorized, "bad key")
	}))
	extractor := &OpenAIDialogueExtractor{Client: client, Model: "gpt-4o-mini", Tokens: EstimateCounter{}, Retry: fastRetry(7), Logger: nopLogger()}
	if _, err := extractor.ExtractDialogue(context.Background(), "text", nil); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected no retries on 401, got %d calls", calls.Load())
	}
}
