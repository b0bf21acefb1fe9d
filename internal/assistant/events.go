package assistant

import (
	"time"

	"github.com/ent0n29/alex/internal/conversation"
)

type EventType string

const (
	EventTurnAppended        EventType = "turn_appended"
	EventGreetingUpdated     EventType = "greeting_updated"
	EventTypingChanged       EventType = "typing_changed"
	EventListeningChanged    EventType = "listening_changed"
	EventVoiceRepliesChanged EventType = "voice_replies_changed"
	EventNotice              EventType = "notice"
)

// Notice codes surfaced to the user.
const (
	NoticePermissionDenied  = "microphone_permission_denied"
	NoticeSpeechUnsupported = "speech_input_unsupported"
)

const (
	permissionDeniedDetail  = "Microphone access was denied. Allow microphone access in your browser to use voice input."
	speechUnsupportedDetail = "Speech recognition is not available right now."
)

// Event is a state change pushed to subscribers. Only the fields relevant to
// Type are set.
type Event struct {
	Type         EventType
	Turn         conversation.Turn
	Typing       bool
	Listening    bool
	VoiceReplies bool
	Code         string
	Detail       string
}

// critical events are worth a short wait on a slow subscriber; the rest are
// state flags a later snapshot repairs.
func (e Event) critical() bool {
	switch e.Type {
	case EventTurnAppended, EventGreetingUpdated, EventNotice:
		return true
	default:
		return false
	}
}

// State is a point-in-time view of one assistant session.
type State struct {
	Turns        []conversation.Turn `json:"turns"`
	Typing       bool                `json:"typing"`
	Listening    bool                `json:"listening"`
	VoiceReplies bool                `json:"voice_replies"`
	SpeechInput  bool                `json:"speech_input"`
	SpeechOutput bool                `json:"speech_output"`
}

const (
	subscriberBuffer    = 64
	criticalSendTimeout = 600 * time.Millisecond
)
