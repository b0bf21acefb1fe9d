package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/alex/internal/policy"
	"github.com/ent0n29/alex/internal/settings"
)

type settingsResponse struct {
	Persona       string    `json:"persona"`
	HasCredential bool      `json:"has_credential"`
	Credential    string    `json:"credential_masked"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// A nil field keeps the stored value.
type updateSettingsRequest struct {
	Persona    *string `json:"persona"`
	Credential *string `json:"credential"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	profile, err := s.store.Load(r.Context())
	if err != nil {
		s.logger.Warn("settings load failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "settings_unavailable", "settings store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, settingsView(profile))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	profile, err := s.store.Load(r.Context())
	if err != nil {
		s.logger.Warn("settings load failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "settings_unavailable", "settings store unavailable")
		return
	}
	if req.Persona != nil {
		profile.Persona = strings.TrimSpace(*req.Persona)
	}
	if req.Credential != nil {
		profile.Credential = strings.TrimSpace(*req.Credential)
	}
	profile.UpdatedAt = time.Now().UTC()

	if err := s.store.Save(r.Context(), profile); err != nil {
		s.logger.Error("settings save failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "settings_save_failed", "could not save settings")
		return
	}
	s.logger.Info("settings saved",
		zap.Bool("has_persona", profile.Persona != ""),
		zap.String("credential", policy.MaskSecret(profile.Credential)),
	)

	s.notifyPersonaChanged(r.Context())

	saved, err := s.store.Load(r.Context())
	if err != nil {
		saved = profile
	}
	respondJSON(w, http.StatusOK, settingsView(saved))
}

func settingsView(p settings.Profile) settingsResponse {
	return settingsResponse{
		Persona:       p.Persona,
		HasCredential: strings.TrimSpace(p.Credential) != "",
		Credential:    policy.MaskSecret(p.Credential),
		UpdatedAt:     p.UpdatedAt,
	}
}
