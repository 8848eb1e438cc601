package tts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.elevenlabs.io/v1/text-to-speech"

// Client synthesizes speech via the ElevenLabs API. Synthesized audio is
// cached (keyed by voice and text) to save credits, since discharge meetings
// repeat the same scripted phrases across patients.
type Client struct {
	apiKey  string
	voiceID string
	modelID string
	apiBase string
	client  *http.Client
	cache   *Cache
	logger  *slog.Logger
}

func NewClient(apiKey, voiceID, modelID string, cache *Cache, logger *slog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: modelID,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
		logger:  logger,
	}
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize returns MP3 audio for the given text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("synthesize: empty text")
	}

	key := cacheKey(c.voiceID, text)
	if c.cache != nil {
		if audio, ok := c.cache.Get(ctx, key); ok {
			return audio, nil
		}
	}

	body, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       c.modelID,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.apiBase, c.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis call: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis error %d: %s", resp.StatusCode, string(audio))
	}

	if c.cache != nil {
		c.cache.Put(ctx, key, audio)
	}
	return audio, nil
}

func cacheKey(voiceID, text string) string {
	h := sha256.Sum256([]byte(voiceID + "|" + text))
	return "bedside:tts:" + hex.EncodeToString(h[:])
}
