package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/krshsl/cascprep/models"
)

// Scripted patient lines used whenever the model cannot answer.
const (
	fallbackReplyNoProvider = "Hello doctor. I'm not feeling very well and I'm hoping you can help."
	fallbackReplyUpstream   = "Hello doctor. Sorry, could you please say that again?"
	fallbackReplyEmpty      = "Hello doctor. I'm here."
	fallbackReplyError      = "Hello doctor. I'm listening."
	fallbackOpeningLine     = "Hello doctor."
	fallbackVoiceReply      = "I'm not sure how to respond."
)

var livePatientPersona = strings.Join([]string{
	"You are a standardized patient in a CAS OSCE-style station.",
	"Stay in character as the PATIENT. Be concise (1-2 sentences per turn).",
	"Let the doctor lead; answer naturally and truthfully based on the scenario.",
	"Only provide information if asked or if appropriate. Allow pauses.",
	"You can ask short clarifying questions (e.g., 'What do you mean by that?').",
	"If the doctor interrupts, stop and let them speak.",
	"Tone: human, cooperative, realistic. No meta talk. Do not output 'DOCTOR:' or 'PATIENT:' labels.",
}, " ")

const interruptNudge = "The doctor interrupted you. Resume with a short, natural reply in 1-2 sentences."

// PatientReply always carries a line the UI can speak. Note and Error explain
// why a scripted line was used instead of a generated one.
type PatientReply struct {
	Reply      string `json:"reply"`
	DoctorText string `json:"doctorText,omitempty"`
	Note       string `json:"note,omitempty"`
	Error      string `json:"error,omitempty"`
}

// VoiceTurn is one spoken exchange in practice mode.
type VoiceTurn struct {
	UserText string `json:"userText,omitempty"`
	AIText   string `json:"aiText"`
	Audio    []byte `json:"audio"`
}

type PatientActor struct {
	chat        LanguageModel
	voiceChat   LanguageModel
	transcriber Transcriber
	speech      SpeechSynthesizer
	cache       *AudioCache
}

// NewPatientActor wires the live-mode chat model and the stronger model used
// for practice stations. Either may be the same instance.
func NewPatientActor(chat, voiceChat LanguageModel, transcriber Transcriber, speech SpeechSynthesizer, cache *AudioCache) *PatientActor {
	return &PatientActor{
		chat:        chat,
		voiceChat:   voiceChat,
		transcriber: transcriber,
		speech:      speech,
		cache:       cache,
	}
}

func patientMessages(scenario string, history []models.Turn, interrupt bool) []ChatMessage {
	messages := []ChatMessage{
		{Role: chatSystem, Content: livePatientPersona},
		{Role: chatUser, Content: "Station briefing for the patient (do not read this aloud; just use it as your backstory):\n" + scenario},
	}
	for _, t := range history {
		role := chatAssistant
		if t.Role == models.RoleUser {
			role = chatUser
		}
		messages = append(messages, ChatMessage{Role: role, Content: t.Content})
	}
	if interrupt {
		messages = append(messages, ChatMessage{Role: chatSystem, Content: interruptNudge})
	}
	return messages
}

// Reply produces the patient's next line. It never fails: provider and
// upstream problems degrade to a scripted line.
func (p *PatientActor) Reply(ctx context.Context, scenario string, history []models.Turn, interrupt bool) PatientReply {
	if p.chat == nil {
		return PatientReply{Reply: fallbackReplyNoProvider, Note: "Language model not configured on server; returned fallback line."}
	}

	text, err := p.chat.Complete(ctx, ChatRequest{
		Messages:    patientMessages(scenario, history, interrupt),
		Temperature: temperature(0.8),
		MaxTokens:   180,
	})
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return PatientReply{Reply: fallbackReplyNoProvider, Note: "Language model not configured on server; returned fallback line."}
	case err != nil:
		slog.Error("Patient reply failed", "error", err)
		return PatientReply{Reply: fallbackReplyUpstream, Error: "Language model request failed"}
	case strings.TrimSpace(text) == "":
		return PatientReply{Reply: fallbackReplyEmpty, Note: "No content in model response; returned fallback line."}
	}
	return PatientReply{Reply: strings.TrimSpace(text)}
}

func (p *PatientActor) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if p.transcriber == nil {
		return "", ErrProviderUnavailable
	}
	return p.transcriber.Transcribe(ctx, audio, filename)
}

// Speak synthesises text, serving scripted lines from the audio cache.
func (p *PatientActor) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	if p.speech == nil {
		return nil, ErrProviderUnavailable
	}
	return p.cache.GetOrGenerate(ctx, text, voice, func(ctx context.Context) ([]byte, error) {
		return p.speech.Synthesize(ctx, text, voice)
	})
}

func actorSystemPrompt(station *models.PracticeStation) string {
	return "You are an AI actor in a psychiatry CASC exam. Follow these instructions precisely and stay in character. Do not break character. Instructions:\n\n" +
		station.ActorInstructions
}

// VoiceTurn transcribes the doctor's recording, answers in character and
// speaks the answer.
func (p *PatientActor) VoiceTurn(ctx context.Context, station *models.PracticeStation, history []ChatMessage, audio []byte, filename string) (*VoiceTurn, error) {
	userText, err := p.Transcribe(ctx, audio, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe audio: %w", err)
	}
	if p.voiceChat == nil {
		return nil, ErrProviderUnavailable
	}

	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: chatSystem, Content: actorSystemPrompt(station)})
	for _, m := range history {
		if m.Role == chatUser || m.Role == chatAssistant {
			messages = append(messages, m)
		}
	}
	messages = append(messages, ChatMessage{Role: chatUser, Content: userText})

	aiText, err := p.voiceChat.Complete(ctx, ChatRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to generate actor reply: %w", err)
	}
	if aiText == "" {
		aiText = fallbackVoiceReply
	}

	audioOut, err := p.Speak(ctx, aiText, PickStationVoice(station.Title))
	if err != nil {
		return nil, fmt.Errorf("failed to synthesise reply: %w", err)
	}
	return &VoiceTurn{UserText: userText, AIText: aiText, Audio: audioOut}, nil
}

// Opening is the patient's first line for a practice station.
func (p *PatientActor) Opening(ctx context.Context, station *models.PracticeStation) (*VoiceTurn, error) {
	aiText := fallbackOpeningLine
	if p.voiceChat != nil {
		prompt := "You are an AI actor in a psychiatry CASC exam. The consultation with the doctor is just beginning. " +
			"Based on your instructions, deliver a brief, natural opening line to start the encounter. " +
			"For example: \"Hello doctor, thanks for seeing me.\" or \"Hi, they told me I should speak to you.\" " +
			"Do not ask a question yet, just start the conversation. Your instructions are:\n\n" + station.ActorInstructions
		text, err := p.voiceChat.Complete(ctx, ChatRequest{
			Messages:  []ChatMessage{{Role: chatSystem, Content: prompt}},
			MaxTokens: 50,
		})
		if err != nil {
			slog.Warn("Opening line generation failed, using fallback", "error", err, "station_id", station.ID)
		} else if text != "" {
			aiText = text
		}
	}

	audio, err := p.Speak(ctx, aiText, PickStationVoice(station.Title))
	if err != nil {
		return nil, fmt.Errorf("failed to synthesise opening line: %w", err)
	}
	return &VoiceTurn{AIText: aiText, Audio: audio}, nil
}
