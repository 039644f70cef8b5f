package services

import (
	"context"
	"errors"
	"strings"
)

// ErrProviderUnavailable is returned when no API key is configured for a
// provider. Callers treat it like any upstream failure.
var ErrProviderUnavailable = errors.New("language model provider not configured")

const (
	chatSystem    = "system"
	chatUser      = "user"
	chatAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   int
	JSON        bool
}

// LanguageModel completes a chat and returns the assistant text.
type LanguageModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// SpeechSynthesizer returns encoded audio (mp3) for text spoken by voice.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

func temperature(t float64) *float64 {
	return &t
}

// stripCodeFence removes a ```json fence some models wrap JSON output in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
