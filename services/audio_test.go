package services

import (
	"context"
	"errors"
	"testing"
)

func TestPickStationVoiceIsStable(t *testing.T) {
	a := PickStationVoice("Depression history")
	if b := PickStationVoice("  depression HISTORY "); a != b {
		t.Fatalf("voice changed with case/whitespace: %s vs %s", a, b)
	}

	known := map[string]bool{}
	for _, v := range patientVoices {
		known[v] = true
	}
	seen := map[string]bool{}
	for _, title := range []string{"Mania", "Psychosis", "Eating disorder", "Capacity", "Alcohol", "OCD", "PTSD", "Delirium"} {
		v := PickStationVoice(title)
		if !known[v] {
			t.Fatalf("unknown voice %q", v)
		}
		seen[v] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected titles to spread over more than one voice")
	}
}

func TestElevenLabsVoiceMapping(t *testing.T) {
	if got := elevenLabsVoice("NOVA"); got != elevenLabsVoices["nova"] {
		t.Fatalf("nova mapped to %s", got)
	}
	if got := elevenLabsVoice("21m00Tcm4TlvDq8ikWAM"); got != "21m00Tcm4TlvDq8ikWAM" {
		t.Fatalf("raw voice id not passed through: %s", got)
	}
	if got := elevenLabsVoice("robot"); got != defaultElevenLabsVoice {
		t.Fatalf("unknown voice mapped to %s", got)
	}
}

func TestAudioCacheOnlyKeepsScriptedLines(t *testing.T) {
	cache := NewAudioCache(t.TempDir())
	ctx := context.Background()
	calls := 0
	gen := func(context.Context) ([]byte, error) {
		calls++
		return []byte("audio"), nil
	}

	for i := 0; i < 2; i++ {
		if _, err := cache.GetOrGenerate(ctx, fallbackReplyError, "nova", gen); err != nil {
			t.Fatalf("scripted line: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("scripted line generated %d times", calls)
	}

	// Different voice is a different entry.
	cache.GetOrGenerate(ctx, fallbackReplyError, "onyx", gen)
	if calls != 2 {
		t.Fatalf("voice not part of cache key, calls = %d", calls)
	}

	for i := 0; i < 2; i++ {
		cache.GetOrGenerate(ctx, "A generated reply", "nova", gen)
	}
	if calls != 4 {
		t.Fatalf("generated lines must not be cached, calls = %d", calls)
	}
}

func TestAudioCacheNilAndErrors(t *testing.T) {
	var cache *AudioCache
	if _, ok := cache.Get(fallbackReplyError, "nova"); ok {
		t.Fatal("nil cache returned a hit")
	}
	want := errors.New("tts down")
	_, err := cache.GetOrGenerate(context.Background(), fallbackReplyError, "nova", func(context.Context) ([]byte, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected generator error, got %v", err)
	}
}
