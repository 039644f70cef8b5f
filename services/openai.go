package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type OpenAIClient struct {
	apiKey        string
	baseURL       string
	ttsModel      string
	realtimeModel string
	httpClient    *http.Client
}

func NewOpenAIClient(cfg AIConfig) *OpenAIClient {
	base := strings.TrimRight(cfg.OpenAIBaseURL, "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	return &OpenAIClient{
		apiKey:        cfg.OpenAIKey,
		baseURL:       base,
		ttsModel:      cfg.TTSModel,
		realtimeModel: cfg.RealtimeModel,
		httpClient:    &http.Client{Timeout: 90 * time.Second},
	}
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (c *OpenAIClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

func (c *OpenAIClient) send(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrProviderUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *OpenAIClient) postJSON(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.send(ctx, path, "application/json", bytes.NewReader(payload))
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []ChatMessage     `json:"messages"`
	Temperature    *float64          `json:"temperature,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// OpenAIChat binds the client to a default chat model.
type OpenAIChat struct {
	client *OpenAIClient
	model  string
}

func (c *OpenAIClient) Chat(model string) *OpenAIChat {
	return &OpenAIChat{client: c, model: model}
}

func (m *OpenAIChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = m.model
	}
	body := chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	raw, err := m.client.postJSON(ctx, "/v1/chat/completions", body)
	if err != nil {
		return "", err
	}
	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", "whisper-1"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	raw, err := c.send(ctx, "/v1/audio/transcriptions", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode transcription: %w", err)
	}
	slog.Debug("Audio transcribed", "bytes", len(audio), "transcript_length", len(out.Text))
	return strings.TrimSpace(out.Text), nil
}

func (c *OpenAIClient) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = "alloy"
	}
	model := c.ttsModel
	if model == "" {
		model = "tts-1"
	}
	return c.postJSON(ctx, "/v1/audio/speech", map[string]string{
		"model": model,
		"voice": voice,
		"input": text,
	})
}

// RealtimeAnswer forwards a WebRTC SDP offer and returns the answer.
func (c *OpenAIClient) RealtimeAnswer(ctx context.Context, offer string) (string, error) {
	path := "/v1/realtime?model=" + url.QueryEscape(c.realtimeModel)
	raw, err := c.send(ctx, path, "application/sdp", strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
