package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Completion backends.
const (
	CompletionGroq = "groq"
	CompletionMock = "mock"
)

// Speech engines.
const (
	SpeechBrowser = "browser"
	SpeechMock    = "mock"
	SpeechNone    = "none"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	GroqAPIKey        string
	GroqAPIURL        string
	GroqModel         string
	CompletionTimeout time.Duration
	CompletionMode    string

	SettingsStore              string
	SettingsDefaultPersonaFile string

	SpeechEngine       string
	SpeechLanguage     string
	SpeechRestartDelay time.Duration
	VoiceReplies       bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "alex"),
		AllowAnyOrigin:   false,
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		// The key may also be entered in settings; the env value is the fallback.
		GroqAPIKey:                 stringsTrimSpace("GROQ_API_KEY"),
		GroqAPIURL:                 envOrDefault("GROQ_API_URL", "https://api.groq.com/openai/v1"),
		GroqModel:                  envOrDefault("GROQ_MODEL", "llama-3.3-70b-versatile"),
		CompletionMode:             strings.ToLower(envOrDefault("COMPLETION_MODE", CompletionGroq)),
		SettingsStore:              stringsTrimSpace("SETTINGS_STORE"),
		SettingsDefaultPersonaFile: stringsTrimSpace("SETTINGS_DEFAULT_PERSONA_FILE"),
		SpeechEngine:               strings.ToLower(envOrDefault("SPEECH_ENGINE", SpeechBrowser)),
		SpeechLanguage:             envOrDefault("SPEECH_LANGUAGE", "en-US"),
		VoiceReplies:               true,
		ShutdownTimeout:            15 * time.Second,
		SessionInactivityTimeout:   30 * time.Minute,
		CompletionTimeout:          45 * time.Second,
		SpeechRestartDelay:         150 * time.Millisecond,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechRestartDelay, err = durationFromEnv("SPEECH_RESTART_DELAY", cfg.SpeechRestartDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceReplies, err = boolFromEnv("VOICE_REPLIES", cfg.VoiceReplies)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.CompletionTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_TIMEOUT must be positive")
	}
	if cfg.SpeechRestartDelay < 0 {
		return Config{}, fmt.Errorf("SPEECH_RESTART_DELAY must be >= 0")
	}
	switch cfg.CompletionMode {
	case CompletionGroq, CompletionMock:
	default:
		return Config{}, fmt.Errorf("COMPLETION_MODE must be %q or %q", CompletionGroq, CompletionMock)
	}
	switch cfg.SpeechEngine {
	case SpeechBrowser, SpeechMock, SpeechNone:
	default:
		return Config{}, fmt.Errorf("SPEECH_ENGINE must be one of browser, mock, none")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("APP_LOG_FORMAT must be json or console")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
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
