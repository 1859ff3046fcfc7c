// internal/tts/elevenlabs.go
package tts

import (
	"bytes"
	"companion-back/internal/config"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const audioMPEG = "audio/mpeg"

// ElevenLabs synthesizes speech through the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	apiKey   string
	voiceID  string
	modelID  string
	language string
	baseURL  string
	client   *http.Client
	log      *slog.Logger
}

func NewElevenLabs(cfg config.ElevenLabsConfig, log *slog.Logger) *ElevenLabs {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io/v1"
	}
	return &ElevenLabs{
		apiKey:   cfg.APIKey,
		voiceID:  cfg.VoiceID,
		modelID:  cfg.ModelID,
		language: cfg.Language,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      log.With("component", "elevenlabs"),
	}
}

// Synthesize returns MP3 audio for text and its content type.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	body, err := json.Marshal(map[string]string{
		"text":          text,
		"model_id":      e.modelID,
		"language_code": e.language,
	})
	if err != nil {
		return nil, "", fmt.Errorf("tts: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("Accept", audioMPEG)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts: API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := string(errBody)
		if msg := gjson.GetBytes(errBody, "detail.message"); msg.Exists() {
			detail = msg.String()
		}
		e.log.Warn("synthesis failed", "status", resp.StatusCode)
		return nil, "", fmt.Errorf("tts: API returned %d: %s", resp.StatusCode, detail)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("tts: reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", fmt.Errorf("tts: empty audio response")
	}

	e.log.Info("synthesis completed", "bytes", len(audio))
	return audio, audioMPEG, nil
}
