package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSubmitText     MessageType = "submit_text"
	TypeClientControl  MessageType = "client_control"
	TypeSpeechEvent    MessageType = "speech_event"
	TypeSpeechVoices   MessageType = "speech_voices"
	TypeSnapshot       MessageType = "conversation_snapshot"
	TypeTurnAppended   MessageType = "turn_appended"
	TypeGreetingUpdate MessageType = "greeting_updated"
	TypeStateChanged   MessageType = "state_changed"
	TypeSpeechCommand  MessageType = "speech_command"
	TypeNotice         MessageType = "notice"
	TypeErrorEvent     MessageType = "error_event"
)

// Control actions accepted in client_control.
const (
	ActionToggleListening = "toggle_listening"
	ActionVoiceRepliesOn  = "voice_replies_on"
	ActionVoiceRepliesOff = "voice_replies_off"
	ActionCancelSpeech    = "cancel_speech"
)

// Speech command actions sent to the browser engines.
const (
	SpeechStartListening = "start_listening"
	SpeechStopListening  = "stop_listening"
	SpeechSpeak          = "speak"
	SpeechCancel         = "cancel_speech"
)

// Speech engine callbacks reported by the browser.
const (
	SpeechEventStart  = "start"
	SpeechEventEnd    = "end"
	SpeechEventResult = "result"
	SpeechEventError  = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type SubmitText struct {
	Type   MessageType `json:"type"`
	Text   string      `json:"text"`
	Source string      `json:"source,omitempty"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type ClientSpeechEvent struct {
	Type  MessageType `json:"type"`
	Event string      `json:"event"`
	Text  string      `json:"text,omitempty"`
	Final bool        `json:"final,omitempty"`
	Error string      `json:"error,omitempty"`
}

type SpeechVoice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
	Local   bool   `json:"local,omitempty"`
}

type ClientSpeechVoices struct {
	Type   MessageType   `json:"type"`
	Voices []SpeechVoice `json:"voices"`
}

type TurnPayload struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

type ConversationSnapshot struct {
	Type         MessageType   `json:"type"`
	SessionID    string        `json:"session_id"`
	Turns        []TurnPayload `json:"turns"`
	Typing       bool          `json:"typing"`
	Listening    bool          `json:"listening"`
	VoiceReplies bool          `json:"voice_replies"`
	SpeechInput  bool          `json:"speech_input"`
	SpeechOutput bool          `json:"speech_output"`
}

type TurnAppended struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Turn      TurnPayload `json:"turn"`
}

type GreetingUpdated struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Turn      TurnPayload `json:"turn"`
}

type StateChanged struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	Typing       bool        `json:"typing"`
	Listening    bool        `json:"listening"`
	VoiceReplies bool        `json:"voice_replies"`
}

type SpeechCommand struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Text      string      `json:"text,omitempty"`
	Voice     string      `json:"voice,omitempty"`
	Lang      string      `json:"lang,omitempty"`
}

type Notice struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSubmitText:
		var msg SubmitText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Source {
		case "":
			msg.Source = "text"
		case "text", "voice":
		default:
			return nil, errors.New("invalid submit_text source")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionToggleListening, ActionVoiceRepliesOn, ActionVoiceRepliesOff, ActionCancelSpeech:
			return msg, nil
		default:
			return nil, errors.New("invalid client_control")
		}
	case TypeSpeechEvent:
		var msg ClientSpeechEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Event = strings.ToLower(strings.TrimSpace(msg.Event))
		switch msg.Event {
		case SpeechEventStart, SpeechEventEnd, SpeechEventResult, SpeechEventError:
			return msg, nil
		default:
			return nil, errors.New("invalid speech_event")
		}
	case TypeSpeechVoices:
		var msg ClientSpeechVoices
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the message type of any protocol payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case SubmitText:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case ClientSpeechEvent:
		return m.Type, true
	case ClientSpeechVoices:
		return m.Type, true
	case ConversationSnapshot:
		return m.Type, true
	case TurnAppended:
		return m.Type, true
	case GreetingUpdated:
		return m.Type, true
	case StateChanged:
		return m.Type, true
	case SpeechCommand:
		return m.Type, true
	case Notice:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
