package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// AudioCache keeps synthesised audio for the scripted patient lines on disk.
// Model-generated replies are never cached.
type AudioCache struct {
	cacheDir string
	mutex    sync.RWMutex
}

var cachedLines = map[string]bool{
	fallbackReplyNoProvider: true,
	fallbackReplyUpstream:   true,
	fallbackReplyEmpty:      true,
	fallbackReplyError:      true,
	fallbackOpeningLine:     true,
	fallbackVoiceReply:      true,
}

func NewAudioCache(cacheDir string) *AudioCache {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		slog.Error("Failed to create cache directory", "dir", cacheDir, "error", err)
	}
	return &AudioCache{cacheDir: cacheDir}
}

func (ac *AudioCache) path(text, voice string) string {
	hash := sha256.Sum256([]byte(text + ":" + voice))
	return filepath.Join(ac.cacheDir, hex.EncodeToString(hash[:])+".mp3")
}

func (ac *AudioCache) Cacheable(text string) bool {
	return cachedLines[text]
}

func (ac *AudioCache) Get(text, voice string) ([]byte, bool) {
	if ac == nil || !ac.Cacheable(text) {
		return nil, false
	}
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()

	data, err := os.ReadFile(ac.path(text, voice))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read cached audio", "error", err)
		}
		return nil, false
	}
	return data, true
}

func (ac *AudioCache) Set(text, voice string, audio []byte) error {
	if ac == nil || !ac.Cacheable(text) {
		return nil
	}
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	if err := os.WriteFile(ac.path(text, voice), audio, 0o644); err != nil {
		return fmt.Errorf("failed to write cached audio: %w", err)
	}
	slog.Debug("Cached scripted line audio", "voice", voice, "size", len(audio))
	return nil
}

// GetOrGenerate returns cached audio for scripted lines and calls generate
// for everything else.
func (ac *AudioCache) GetOrGenerate(ctx context.Context, text, voice string, generate func(context.Context) ([]byte, error)) ([]byte, error) {
	if data, ok := ac.Get(text, voice); ok {
		return data, nil
	}
	audio, err := generate(ctx)
	if err != nil {
		return nil, err
	}
	if err := ac.Set(text, voice, audio); err != nil {
		slog.Warn("Failed to cache audio", "error", err)
	}
	return audio, nil
}
