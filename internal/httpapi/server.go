package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/alex/internal/assistant"
	"github.com/ent0n29/alex/internal/config"
	"github.com/ent0n29/alex/internal/conversation"
	"github.com/ent0n29/alex/internal/observability"
	"github.com/ent0n29/alex/internal/protocol"
	"github.com/ent0n29/alex/internal/session"
	"github.com/ent0n29/alex/internal/settings"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	build    session.Builder
	store    settings.Store
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, build session.Builder, store settings.Store, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		build:    build,
		store:    store,
		metrics:  metrics,
		logger:   logger.Named("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser pages may drive a session's microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/chat/session", s.handleCreateSession)
	r.Get("/v1/chat/session/ws", s.handleSessionWS)
	r.Get("/v1/chat/session/{id}", s.handleGetSession)
	r.Post("/v1/chat/session/{id}/messages", s.handleSubmitMessage)
	r.Post("/v1/chat/session/{id}/end", s.handleEndSession)
	r.Get("/v1/chat/session/{id}/voices", s.handleListVoices)

	r.Get("/v1/settings", s.handleGetSettings)
	r.Put("/v1/settings", s.handlePutSettings)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

// handleReady reports ready once the settings store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.Load(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "settings_unavailable", "settings store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"completion_mode": s.cfg.CompletionMode,
		"speech_engine":   s.cfg.SpeechEngine,
	})
}

type createSessionResponse struct {
	SessionID       string                        `json:"session_id"`
	Status          session.Status                `json:"status"`
	StartedAt       time.Time                     `json:"started_at"`
	LastActivityAt  time.Time                     `json:"last_activity_at"`
	InactivityTTLMS int64                         `json:"inactivity_ttl_ms"`
	Conversation    protocol.ConversationSnapshot `json:"conversation"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create(s.build)
	s.metrics.SessionOpened()
	s.logger.Info("session created", zap.String("session_id", sess.ID))

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
		Conversation:    snapshotMessage(sess.ID, sess.Assistant.Snapshot()),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.activeSession(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, snapshotMessage(sess.ID, sess.Assistant.Snapshot()))
}

type submitMessageRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.activeSession(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req submitMessageRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	_ = s.sessions.Touch(sess.ID)

	var err error
	if req.Source == "voice" {
		err = sess.Assistant.SubmitVoiceTranscript(r.Context(), req.Text)
	} else {
		err = sess.Assistant.SubmitText(r.Context(), req.Text)
	}
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "session_id": sess.ID})
	case errors.Is(err, assistant.ErrEmptyInput):
		respondError(w, http.StatusBadRequest, "empty_input", "message text is empty")
	case errors.Is(err, assistant.ErrBusy):
		respondError(w, http.StatusConflict, "reply_pending", "a reply is already pending")
	case errors.Is(err, assistant.ErrClosed):
		respondError(w, http.StatusGone, "session_ended", "session has ended")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	before, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if before.Status == session.StatusActive {
		s.metrics.SessionClosed("ended")
	}
	respondJSON(w, http.StatusOK, sess)
}

// activeSession writes the error response itself when ok is false.
func (s *Server) activeSession(w http.ResponseWriter, id string) (*session.Session, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return nil, false
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	if sess.Status != session.StatusActive || sess.Assistant == nil {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return nil, false
	}
	return sess, true
}

// notifyPersonaChanged lets every live session re-evaluate its greeting.
func (s *Server) notifyPersonaChanged(ctx context.Context) {
	for _, sess := range s.sessions.Active() {
		if sess.Assistant != nil {
			sess.Assistant.PersonaChanged(ctx)
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func turnPayload(t conversation.Turn) protocol.TurnPayload {
	return protocol.TurnPayload{
		ID:        t.ID,
		Text:      t.Text,
		Sender:    string(t.Sender),
		Timestamp: t.Timestamp,
		Synthetic: t.Synthetic,
	}
}

func snapshotMessage(sessionID string, st assistant.State) protocol.ConversationSnapshot {
	turns := make([]protocol.TurnPayload, 0, len(st.Turns))
	for _, t := range st.Turns {
		turns = append(turns, turnPayload(t))
	}
	return protocol.ConversationSnapshot{
		Type:         protocol.TypeSnapshot,
		SessionID:    sessionID,
		Turns:        turns,
		Typing:       st.Typing,
		Listening:    st.Listening,
		VoiceReplies: st.VoiceReplies,
		SpeechInput:  st.SpeechInput,
		SpeechOutput: st.SpeechOutput,
	}
}
