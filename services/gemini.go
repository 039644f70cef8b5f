package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiService is the Gemini implementation of LanguageModel and Transcriber.
type GeminiService struct {
	genaiClient *genai.Client
	model       string
}

func NewGeminiService(apiKey, model string) *GeminiService {
	if apiKey == "" {
		return nil
	}
	genaiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		slog.Error("Failed to create genai client", "error", err)
		return nil
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiService{genaiClient: genaiClient, model: model}
}

// Complete maps chat messages onto Gemini contents. System messages are
// joined into the system instruction.
func (g *GeminiService) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if g == nil || g.genaiClient == nil {
		return "", ErrProviderUnavailable
	}

	var system []string
	var contents []*genai.Content
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case chatSystem:
			system = append(system, m.Content)
		case chatAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("Begin.", genai.RoleUser))
	}

	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	result, err := g.genaiClient.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	return strings.TrimSpace(result.Text()), nil
}

var audioMIMETypes = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".mp3":  "audio/mp3",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
}

// Transcribe sends the recording inline with a transcription prompt.
func (g *GeminiService) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if g == nil || g.genaiClient == nil {
		return "", ErrProviderUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	mime := audioMIMETypes[strings.ToLower(filepath.Ext(filename))]
	if mime == "" {
		mime = "audio/webm"
	}
	parts := []*genai.Part{
		genai.NewPartFromText("Transcribe this audio to text. Provide only the transcript, no additional commentary."),
		{InlineData: &genai.Blob{MIMEType: mime, Data: audio}},
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	result, err := g.genaiClient.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate transcript: %w", err)
	}

	transcript := strings.TrimSpace(result.Text())
	slog.Debug("Audio transcribed with Gemini", "bytes", len(audio), "transcript_length", len(transcript))
	return transcript, nil
}
