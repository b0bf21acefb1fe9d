package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/alex/internal/config"
	"github.com/ent0n29/alex/internal/settings"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	CompletionMode string        `json:"completion_mode"`
	SpeechEngine   string        `json:"speech_engine"`
	SettingsStore  string        `json:"settings_store"`
	ActiveSessions int           `json:"active_sessions"`
	Checks         []statusCheck `json:"checks"`
}

// handleStatus lists setup problems a user can fix from the settings panel.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	checks := make([]statusCheck, 0, 4)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	profile, err := s.store.Load(ctx)
	if err != nil {
		checks = append(checks, statusCheck{
			ID:     "settings_store",
			Status: "error",
			Label:  "Settings storage",
			Detail: "settings store unavailable",
			Fix:    "Check SETTINGS_STORE and that the backing database or file is reachable.",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "settings_store",
			Status: "ok",
			Label:  "Settings storage",
			Detail: storeKind(s.cfg.SettingsStore),
		})
	}

	switch {
	case s.cfg.CompletionMode == config.CompletionMock:
		checks = append(checks, statusCheck{
			ID:     "completion",
			Status: "warn",
			Label:  "AI replies are mocked",
			Detail: "Replies echo the last message.",
			Fix:    "Set COMPLETION_MODE=groq to use the Groq API.",
		})
	case err == nil && strings.TrimSpace(profile.Credential) == "":
		checks = append(checks, statusCheck{
			ID:     "api_key",
			Status: "error",
			Label:  "Groq API key",
			Detail: "no API key configured",
			Fix:    "Enter your Groq API key in settings or set GROQ_API_KEY.",
		})
	case err == nil:
		checks = append(checks, statusCheck{
			ID:     "api_key",
			Status: "ok",
			Label:  "Groq API key",
			Detail: "present",
		})
	}

	if err == nil {
		persona := statusCheck{ID: "persona", Status: "ok", Label: "Persona", Detail: "configured"}
		if strings.TrimSpace(profile.Persona) == "" {
			persona.Status = "warn"
			persona.Detail = "not configured"
			persona.Fix = "Add person details in settings to answer questions about them."
		}
		checks = append(checks, persona)
	}

	if s.cfg.SpeechEngine == config.SpeechNone {
		checks = append(checks, statusCheck{
			ID:     "speech",
			Status: "warn",
			Label:  "Voice input and output",
			Detail: "disabled",
			Fix:    "Set SPEECH_ENGINE=browser to use the browser's speech engines.",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		CompletionMode: s.cfg.CompletionMode,
		SpeechEngine:   s.cfg.SpeechEngine,
		SettingsStore:  storeKind(s.cfg.SettingsStore),
		ActiveSessions: s.sessions.ActiveCount(),
		Checks:         checks,
	})
}

func storeKind(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case lower == "":
		return "in-memory"
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "sqlite:"):
		return "sqlite"
	case settings.WatchPath(dsn) != "":
		return "file"
	default:
		return "unknown"
	}
}
