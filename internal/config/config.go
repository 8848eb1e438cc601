package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port             int
	NatsURL          string
	NatsToken        string
	DatabaseURL      string
	RedisAddr        string
	LogLevel         string
	PlannerURL       string
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	ElevenLabsModel  string
	SpeakingGrace    time.Duration
	StepAdvanceDelay time.Duration
}

func Load() Config {
	return Config{
		Port:             envInt("BEDSIDE_PORT", 8810),
		NatsURL:          envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:        envStr("NATS_TOKEN", ""),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		RedisAddr:        envStr("REDIS_ADDR", ""),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		PlannerURL:       envStr("PLANNER_URL", "http://planner:8000/api/meeting"),
		ElevenLabsAPIKey: envStr("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoice:  envStr("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsModel:  envStr("ELEVENLABS_MODEL_ID", "eleven_turbo_v2"),
		SpeakingGrace:    envMillis("SPEAKING_GRACE_MS", 600*time.Millisecond),
		StepAdvanceDelay: envMillis("STEP_ADVANCE_DELAY_MS", 400*time.Millisecond),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
