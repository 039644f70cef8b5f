package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIChatComplete(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"  I feel dizzy.  "}}]}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(AIConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL + "/"})
	reply, err := client.Chat("gpt-4o-mini").Complete(context.Background(), ChatRequest{
		Messages:    []ChatMessage{{Role: chatUser, Content: "How are you?"}},
		Temperature: temperature(0.8),
		JSON:        true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "I feel dizzy." {
		t.Fatalf("reply = %q", reply)
	}
	if got.Model != "gpt-4o-mini" || got.ResponseFormat["type"] != "json_object" || *got.Temperature != 0.8 {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestOpenAIErrorsCarryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClient(AIConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL})
	_, err := client.RealtimeAnswer(context.Background(), "v=0")
	var httpErr *openAIHTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 openAIHTTPError, got %v", err)
	}
}

func TestOpenAITranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil || r.FormValue("model") != "whisper-1" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		io.WriteString(w, `{"text":" I have chest pain. "}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(AIConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL})
	text, err := client.Transcribe(context.Background(), []byte("audio"), "")
	if err != nil || text != "I have chest pain." {
		t.Fatalf("transcribe = %q, %v", text, err)
	}
}

func TestUnconfiguredProviders(t *testing.T) {
	ctx := context.Background()
	if _, err := NewOpenAIClient(AIConfig{}).Synthesize(ctx, "hi", ""); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("openai: %v", err)
	}
	if _, err := NewElevenLabsService("").Synthesize(ctx, "hi", "alloy"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("elevenlabs: %v", err)
	}

	gemini := NewGeminiService("", "")
	if gemini != nil {
		t.Fatal("expected nil gemini service without a key")
	}
	var model LanguageModel = gemini
	if _, err := model.Complete(ctx, ChatRequest{}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("gemini: %v", err)
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if r.Header.Get("xi-api-key") != "xi-test" {
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	svc := NewElevenLabsService("xi-test")
	svc.baseURL = srv.URL
	audio, err := svc.Synthesize(context.Background(), "Hello doctor.", "onyx")
	if err != nil || string(audio) != "mp3" {
		t.Fatalf("synthesize = %q, %v", audio, err)
	}
	if path != "/v1/text-to-speech/"+elevenLabsVoices["onyx"] {
		t.Fatalf("unexpected voice path %q", path)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                  `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":        `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
