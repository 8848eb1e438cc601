package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSynthesize_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice-1" {
			t.Errorf("expected voice path /voice-1, got %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "el-key" {
			t.Errorf("expected api key header, got %q", r.Header.Get("xi-api-key"))
		}

		var req synthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Text != "Hello there" {
			t.Errorf("expected text to pass through, got %q", req.Text)
		}
		if req.ModelID != "eleven_turbo_v2" {
			t.Errorf("expected model id, got %q", req.ModelID)
		}
		if req.VoiceSettings.Stability != 0.5 || req.VoiceSettings.SimilarityBoost != 0.75 {
			t.Errorf("unexpected voice settings: %+v", req.VoiceSettings)
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-fake-audio"))
	}))
	defer server.Close()

	c := NewClient("el-key", "voice-1", "eleven_turbo_v2", nil, slog.Default())
	c.apiBase = server.URL

	audio, err := c.Synthesize(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "ID3-fake-audio" {
		t.Errorf("unexpected audio %q", audio)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	c := NewClient("el-key", "voice-1", "eleven_turbo_v2", nil, slog.Default())
	if _, err := c.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSynthesize_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient("el-key", "voice-1", "eleven_turbo_v2", nil, slog.Default())
	c.apiBase = server.URL

	if _, err := c.Synthesize(context.Background(), "Hello"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestCacheKey_DependsOnVoiceAndText(t *testing.T) {
	a := cacheKey("voice-1", "Hello")
	b := cacheKey("voice-2", "Hello")
	c := cacheKey("voice-1", "Goodbye")
	if a == b || a == c {
		t.Errorf("cache keys must differ by voice and text: %s %s %s", a, b, c)
	}
	if cacheKey("voice-1", "Hello") != a {
		t.Error("cache key must be deterministic")
	}
}
