package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/alex/internal/assistant"
	"github.com/ent0n29/alex/internal/protocol"
	"github.com/ent0n29/alex/internal/session"
)

const (
	wsOutboundBuffer    = 256
	wsWriteTimeout      = 10 * time.Second
	wsReadTimeout       = 120 * time.Second
	wsCriticalSendAfter = 600 * time.Millisecond
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, ok := s.activeSession(w, sessionID)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.logger.With(zap.String("session_id", sessionID))
	s.metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, wsOutboundBuffer)
	send := func(msg any) bool { return s.enqueue(ctx, outbound, msg) }

	events, unsubscribe := sess.Assistant.Subscribe()
	if sess.Bridge != nil {
		sess.Bridge.Bind(send)
	}
	send(snapshotMessage(sessionID, sess.Assistant.Snapshot()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Debug("websocket write failed", zap.Error(err))
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.WSMessage("outbound", string(t))
				}
			}
		}
	}()

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					// Session ended underneath the connection.
					cancel()
					return
				}
				if msg := eventMessage(sessionID, evt, sess.Assistant); msg != nil {
					send(msg)
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	go func() {
		// Unblock ReadMessage when the session or writer ends first.
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}
		_ = s.sessions.Touch(sessionID)
		s.dispatch(ctx, sess, parsed, send, logger)
	}

	cancel()
	if sess.Bridge != nil {
		sess.Bridge.Unbind()
	}
	unsubscribe()
	<-writerDone
	<-forwardDone
	s.metrics.SessionEvent("ws_disconnected")
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, msg any, send func(any) bool, logger *zap.Logger) {
	a := sess.Assistant
	switch m := msg.(type) {
	case protocol.SubmitText:
		var err error
		if m.Source == "voice" {
			err = a.SubmitVoiceTranscript(ctx, m.Text)
		} else {
			err = a.SubmitText(ctx, m.Text)
		}
		switch {
		case err == nil, errors.Is(err, assistant.ErrEmptyInput), errors.Is(err, assistant.ErrBusy):
			// Blank and overlapping submissions are ignored.
		default:
			logger.Warn("submit failed", zap.Error(err))
		}
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionToggleListening:
			if err := a.ToggleListening(ctx); err != nil {
				logger.Debug("toggle listening failed", zap.Error(err))
			}
		case protocol.ActionVoiceRepliesOn:
			a.SetVoiceReplies(true)
		case protocol.ActionVoiceRepliesOff:
			a.SetVoiceReplies(false)
		case protocol.ActionCancelSpeech:
			a.CancelSpeech()
		}
	case protocol.ClientSpeechEvent:
		if sess.Bridge != nil {
			sess.Bridge.Deliver(m)
		}
	case protocol.ClientSpeechVoices:
		if sess.Bridge != nil {
			sess.Bridge.SetVoices(m.Voices)
		}
	}
}

// eventMessage maps an assistant event to its wire form.
func eventMessage(sessionID string, evt assistant.Event, a *assistant.Orchestrator) any {
	switch evt.Type {
	case assistant.EventTurnAppended:
		return protocol.TurnAppended{Type: protocol.TypeTurnAppended, SessionID: sessionID, Turn: turnPayload(evt.Turn)}
	case assistant.EventGreetingUpdated:
		return protocol.GreetingUpdated{Type: protocol.TypeGreetingUpdate, SessionID: sessionID, Turn: turnPayload(evt.Turn)}
	case assistant.EventTypingChanged, assistant.EventListeningChanged, assistant.EventVoiceRepliesChanged:
		st := a.Snapshot()
		return protocol.StateChanged{
			Type:         protocol.TypeStateChanged,
			SessionID:    sessionID,
			Typing:       st.Typing,
			Listening:    st.Listening,
			VoiceReplies: st.VoiceReplies,
		}
	case assistant.EventNotice:
		return protocol.Notice{Type: protocol.TypeNotice, SessionID: sessionID, Code: evt.Code, Detail: evt.Detail}
	default:
		return nil
	}
}

// enqueue hands msg to the single websocket writer. Turns, notices, errors and
// speech commands wait briefly for room; state flags are dropped when full.
func (s *Server) enqueue(ctx context.Context, outbound chan<- any, msg any) bool {
	msgType, critical := outboundMessageMeta(msg)
	if !critical {
		select {
		case outbound <- msg:
			s.metrics.ObserveOutboundMessage(msgType, "queued")
			return true
		default:
			s.metrics.ObserveOutboundMessage(msgType, "drop_full")
			return false
		}
	}
	timer := time.NewTimer(wsCriticalSendAfter)
	defer timer.Stop()
	select {
	case outbound <- msg:
		s.metrics.ObserveOutboundMessage(msgType, "queued")
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		s.metrics.ObserveOutboundMessage(msgType, "timeout")
		return false
	}
}

func outboundMessageMeta(msg any) (string, bool) {
	switch m := msg.(type) {
	case protocol.ConversationSnapshot:
		return string(m.Type), true
	case protocol.TurnAppended:
		return string(m.Type), true
	case protocol.GreetingUpdated:
		return string(m.Type), true
	case protocol.SpeechCommand:
		return string(m.Type), true
	case protocol.Notice:
		return string(m.Type), true
	case protocol.ErrorEvent:
		return string(m.Type), true
	case protocol.StateChanged:
		return string(m.Type), false
	default:
		return "unknown", false
	}
}
