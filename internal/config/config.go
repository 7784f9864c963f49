package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	GeminiAPIKey    string
	GeminiBaseURL   string
	LLMDefaultModel string
	LLMTimeout      time.Duration

	VoskModelDir string
	VoskPython   string
	VoskScript   string
	ASRTimeout   time.Duration

	TTSBaseURL      string
	TTSDefaultVoice string
	TTSTimeout      time.Duration

	SessionMaxTurns int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8787"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voxrelay"),
		AllowAnyOrigin:   false,
		GeminiAPIKey:     trimmedEnv("GEMINI_API_KEY"),
		GeminiBaseURL:    envOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		LLMDefaultModel:  envOrDefault("LLM_DEFAULT_MODEL", "gemini-2.0-flash"),
		VoskModelDir:     trimmedEnv("VOSK_MODEL_DIR"),
		VoskPython:       envOrDefault("VOSK_PYTHON", ""),
		VoskScript:       envOrDefault("VOSK_SCRIPT", "scripts/vosk_transcribe.py"),
		TTSBaseURL:       envOrDefault("TTS_BASE_URL", "https://api.streamelements.com/kappa/v2/speech"),
		TTSDefaultVoice:  envOrDefault("TTS_DEFAULT_VOICE", "Brian"),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		SessionMaxTurns:  20,
		ShutdownTimeout:  15 * time.Second,
		LLMTimeout:       60 * time.Second,
		ASRTimeout:       2 * time.Minute,
		TTSTimeout:       30 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ASRTimeout, err = durationFromEnv("ASR_TIMEOUT", cfg.ASRTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSTimeout, err = durationFromEnv("TTS_TIMEOUT", cfg.TTSTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionMaxTurns, err = intFromEnv("SESSION_MAX_TURNS", cfg.SessionMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionMaxTurns <= 0 {
		return Config{}, fmt.Errorf("SESSION_MAX_TURNS must be positive")
	}
	if cfg.LLMTimeout <= 0 || cfg.ASRTimeout <= 0 || cfg.TTSTimeout <= 0 {
		return Config{}, fmt.Errorf("stage timeouts must be positive")
	}
	if strings.TrimSpace(cfg.LLMDefaultModel) == "" {
		return Config{}, fmt.Errorf("LLM_DEFAULT_MODEL must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
