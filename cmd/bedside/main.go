package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meridianhealth/bedside/internal/api"
	"github.com/meridianhealth/bedside/internal/bridge"
	"github.com/meridianhealth/bedside/internal/config"
	"github.com/meridianhealth/bedside/internal/meeting"
	"github.com/meridianhealth/bedside/internal/planner"
	"github.com/meridianhealth/bedside/internal/store"
	"github.com/meridianhealth/bedside/internal/tts"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("bedside starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Planning service client
	plannerClient := planner.NewClient(cfg.PlannerURL, slog.Default())
	slog.Info("planner client ready", "url", cfg.PlannerURL)

	// Speech synthesis, with an optional Redis audio cache
	var audioCache *tts.Cache
	if cfg.RedisAddr != "" {
		audioCache, err = tts.NewCache(ctx, cfg.RedisAddr, slog.Default())
		if err != nil {
			slog.Warn("redis unavailable, synthesizing without cache", "error", err)
		} else {
			defer audioCache.Close()
			slog.Info("tts cache ready", "addr", cfg.RedisAddr)
		}
	}
	synth := tts.NewClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoice, cfg.ElevenLabsModel, audioCache, slog.Default())

	// Cross-view bridge. Optional: meetings work single-view without it.
	var bridgeClient *bridge.Client
	if cfg.NatsURL != "" {
		bridgeClient, err = bridge.Connect(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Warn("NATS unavailable, running without cross-view sync", "error", err)
			bridgeClient = nil
		} else {
			defer bridgeClient.Close()
			slog.Info("NATS connected", "url", cfg.NatsURL)
		}
	}

	// Meeting manager, one conversation runner per patient
	meetings := meeting.NewManager(plannerClient, db, bridgeClient, synth, cfg.SpeakingGrace, cfg.StepAdvanceDelay, slog.Default())

	// Patient utterances arriving from the patient-facing view
	if bridgeClient != nil {
		if err := bridgeClient.SubscribePatientMessages(meetings.HandleBridgeMessage); err != nil {
			slog.Error("failed to subscribe to patient messages", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, meetings)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("bedside ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("bedside stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
