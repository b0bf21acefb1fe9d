package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageSubmitText(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"submit_text","text":"Hello"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	submit, ok := msg.(SubmitText)
	if !ok {
		t.Fatalf("message type = %T, want SubmitText", msg)
	}
	if submit.Text != "Hello" || submit.Source != "text" {
		t.Fatalf("unexpected submit: %+v", submit)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"submit_text","text":"x","source":"fax"}`)); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","action":"toggle_listening"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control, ok := msg.(ClientControl)
	if !ok || control.Action != ActionToggleListening {
		t.Fatalf("unexpected control: %#v", msg)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"self_destruct"}`)); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestParseClientMessageSpeechEvent(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"speech_event","event":" RESULT ","text":"hi there","final":true}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	evt, ok := msg.(ClientSpeechEvent)
	if !ok {
		t.Fatalf("message type = %T, want ClientSpeechEvent", msg)
	}
	if evt.Event != SpeechEventResult || !evt.Final || evt.Text != "hi there" {
		t.Fatalf("unexpected speech event: %+v", evt)
	}
}

func TestParseClientMessageSpeechVoices(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"speech_voices","voices":[{"name":"Google US English","lang":"en-US"}]}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	voices, ok := msg.(ClientSpeechVoices)
	if !ok || len(voices.Voices) != 1 || voices.Voices[0].Lang != "en-US" {
		t.Fatalf("unexpected voices: %#v", msg)
	}
}
