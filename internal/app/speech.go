package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/alex/internal/config"
	"github.com/ent0n29/alex/internal/speech"
)

// speechEngines is the per-session pair of engines plus the browser bridge
// that carries them, when there is one.
type speechEngines struct {
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
	bridge      *speech.Bridge
}

type speechSetup struct {
	engine string
	detail string
	build  func(sessionID string) speechEngines
}

func resolveSpeech(cfg config.Config, logger *zap.Logger) (speechSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.SpeechEngine))
	if mode == "" {
		mode = config.SpeechBrowser
	}

	switch mode {
	case config.SpeechBrowser:
		return speechSetup{
			engine: config.SpeechBrowser,
			detail: fmt.Sprintf("browser speech engines (%s)", cfg.SpeechLanguage),
			build: func(sessionID string) speechEngines {
				b := speech.NewBridge(sessionID, logger)
				return speechEngines{recognizer: b, synthesizer: b, bridge: b}
			},
		}, nil
	case config.SpeechMock:
		return speechSetup{
			engine: config.SpeechMock,
			detail: "mock",
			build: func(string) speechEngines {
				return speechEngines{
					recognizer:  speech.NewMockRecognizer(),
					synthesizer: speech.NewMockSynthesizer(),
				}
			},
		}, nil
	case config.SpeechNone:
		return speechSetup{
			engine: config.SpeechNone,
			detail: "disabled (text only)",
			build:  func(string) speechEngines { return speechEngines{} },
		}, nil
	default:
		return speechSetup{}, fmt.Errorf("invalid SPEECH_ENGINE: %q (expected browser|mock|none)", cfg.SpeechEngine)
	}
}
