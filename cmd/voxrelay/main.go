package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/voxrelay/voxrelay/internal/archive"
	"github.com/voxrelay/voxrelay/internal/asr"
	"github.com/voxrelay/voxrelay/internal/config"
	"github.com/voxrelay/voxrelay/internal/httpapi"
	"github.com/voxrelay/voxrelay/internal/llm"
	"github.com/voxrelay/voxrelay/internal/observability"
	"github.com/voxrelay/voxrelay/internal/pipeline"
	"github.com/voxrelay/voxrelay/internal/session"
	"github.com/voxrelay/voxrelay/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	exchanges, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("exchange archive init failed: %v", err)
	}
	defer exchanges.Close()

	stt := asr.NewVosk(asr.VoskConfig{
		Python:   cfg.VoskPython,
		Script:   cfg.VoskScript,
		ModelDir: cfg.VoskModelDir,
	})
	if stt.Configured() {
		log.Printf("transcription: vosk model at %s", cfg.VoskModelDir)
	} else {
		log.Printf("transcription: unconfigured, audio endpoints will refuse")
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		log.Printf("completion: GEMINI_API_KEY not set, conversation endpoints will refuse")
	}
	brain := llm.NewGemini(cfg.GeminiAPIKey, llm.WithBaseURL(cfg.GeminiBaseURL))
	speech := tts.NewStreamElements(tts.WithBaseURL(cfg.TTSBaseURL))

	sessions := session.NewStore(cfg.SessionMaxTurns)
	pipe := pipeline.New(sessions, stt, brain, speech, exchanges, metrics, pipeline.Settings{
		DefaultModel: cfg.LLMDefaultModel,
		DefaultVoice: cfg.TTSDefaultVoice,
		Timeouts: pipeline.Timeouts{
			Transcribe: cfg.ASRTimeout,
			Complete:   cfg.LLMTimeout,
			Synthesize: cfg.TTSTimeout,
		},
	})

	api := httpapi.New(cfg, pipe, exchanges, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
