package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/alex/internal/assistant"
	"github.com/ent0n29/alex/internal/completion"
	"github.com/ent0n29/alex/internal/config"
	"github.com/ent0n29/alex/internal/httpapi"
	"github.com/ent0n29/alex/internal/observability"
	"github.com/ent0n29/alex/internal/session"
	"github.com/ent0n29/alex/internal/settings"
)

type SpeechInfo struct {
	Engine   string
	Detail   string
	Language string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Builder  session.Builder
	Store    settings.Store
	Gateway  completion.Gateway
	Metrics  *observability.Metrics
	Speech   SpeechInfo
	Logger   *zap.Logger

	// Cleanup should be called on shutdown to end sessions and release the settings store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	return build(ctx, cfg, logger, observability.NewMetrics(cfg.MetricsNamespace))
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics *observability.Metrics) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	baseStore, err := settings.NewStore(ctx, cfg.SettingsStore)
	if err != nil {
		return nil, fmt.Errorf("settings store init failed: %w", err)
	}
	store := settings.WithFallbackCredential(baseStore, cfg.GroqAPIKey)

	if path := strings.TrimSpace(cfg.SettingsDefaultPersonaFile); path != "" {
		seeded, err := settings.SeedPersona(ctx, store, path)
		if err != nil {
			_ = baseStore.Close()
			return nil, fmt.Errorf("persona seed failed: %w", err)
		}
		if seeded {
			logger.Info("persona seeded", zap.String("path", path))
		}
	}

	gateway, err := resolveGateway(cfg, logger)
	if err != nil {
		_ = baseStore.Close()
		return nil, err
	}

	speechSetup, err := resolveSpeech(cfg, logger.Named("speech"))
	if err != nil {
		_ = baseStore.Close()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionClosed("expired")
		logger.Info("session expired", zap.String("session_id", s.ID))
	})

	sessionLogger := logger.Named("assistant")
	builder := func(sessionID string) session.Runtime {
		engines := speechSetup.build(sessionID)
		orch := assistant.New(ctx, assistant.Deps{
			Gateway:     gateway,
			Settings:    store,
			Recognizer:  engines.recognizer,
			Synthesizer: engines.synthesizer,
			Logger:      sessionLogger,
			Metrics:     metrics,
		}, assistant.Options{
			SessionID:         sessionID,
			Language:          cfg.SpeechLanguage,
			RestartDelay:      cfg.SpeechRestartDelay,
			VoiceReplies:      cfg.VoiceReplies,
			CompletionTimeout: cfg.CompletionTimeout,
		})
		return session.Runtime{Assistant: orch, Bridge: engines.bridge}
	}

	api := httpapi.New(cfg, sessions, builder, store, metrics, logger)

	cleanup := func() error {
		sessions.CloseAll()
		if err := baseStore.Close(); err != nil {
			return fmt.Errorf("settings store close: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Builder:  builder,
		Store:    store,
		Gateway:  gateway,
		Metrics:  metrics,
		Speech: SpeechInfo{
			Engine:   speechSetup.engine,
			Detail:   speechSetup.detail,
			Language: cfg.SpeechLanguage,
		},
		Logger:  logger,
		Cleanup: cleanup,
	}, nil
}

func resolveGateway(cfg config.Config, logger *zap.Logger) (completion.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.CompletionMode)) {
	case "", config.CompletionGroq:
		return completion.NewGroqClient(completion.GroqConfig{
			BaseURL: cfg.GroqAPIURL,
			Model:   cfg.GroqModel,
			Timeout: cfg.CompletionTimeout,
			Logger:  logger.Named("groq"),
		}), nil
	case config.CompletionMock:
		return completion.NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("invalid COMPLETION_MODE: %q (expected groq|mock)", cfg.CompletionMode)
	}
}
