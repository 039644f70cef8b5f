package services

import (
	"crypto/sha1"
	"encoding/binary"
	"strings"
)

// OpenAI speech voices, used as the provider-neutral voice names.
var patientVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Stock ElevenLabs voices standing in for each OpenAI voice.
var elevenLabsVoices = map[string]string{
	"alloy":   "EXAVITQu4vr4xnSDxMaL", // Rachel
	"echo":    "TxGEqnHWrfWFTfGW9XjX", // Antoni
	"fable":   "VR6AewLTigWG4xSOukaG", // Josh
	"onyx":    "pNInz6obpgDQGcFmaJgB", // Adam
	"nova":    "21m00Tcm4TlvDq8ikWAM", // Domi
	"shimmer": "AZnzlk1XvdvUeBnXmlld", // Bella
}

const defaultElevenLabsVoice = "pNInz6obpgDQGcFmaJgB"

// PickStationVoice returns the same voice for a station title every time so
// a patient keeps one voice across turns.
func PickStationVoice(title string) string {
	h := sha1.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(title))))
	sum := h.Sum(nil)
	idx := binary.BigEndian.Uint16(sum) % uint16(len(patientVoices))
	return patientVoices[idx]
}

func elevenLabsVoice(voice string) string {
	if id, ok := elevenLabsVoices[strings.ToLower(voice)]; ok {
		return id
	}
	if len(voice) == 20 {
		return voice
	}
	return defaultElevenLabsVoice
}
