package speech

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported is reported when the host has no speech engine.
	ErrUnsupported = errors.New("speech engine not supported")
	// ErrNotConnected is returned by bridged engines with no browser attached.
	ErrNotConnected = errors.New("speech engine not connected")
	// ErrSessionActive is returned by recognizers asked to start twice.
	ErrSessionActive = errors.New("recognition session already active")
)

type RecognitionEventType string

const (
	RecognitionStarted RecognitionEventType = "started"
	RecognitionEnded   RecognitionEventType = "ended"
	RecognitionResult  RecognitionEventType = "result"
	RecognitionError   RecognitionEventType = "error"
)

// Recognition error codes, as reported by browser engines.
const (
	ErrorNoSpeech   = "no-speech"
	ErrorNotAllowed = "not-allowed"
	ErrorAborted    = "aborted"
)

type RecognitionEvent struct {
	Type  RecognitionEventType
	Text  string
	Final bool
	Code  string
}

// Recognizer is a speech-to-text engine. It rejects overlapping sessions.
type Recognizer interface {
	Start(ctx context.Context, lang string) error
	Stop() error
	Events() <-chan RecognitionEvent
}

type Voice struct {
	Name    string
	Lang    string
	Default bool
	Local   bool
}

type Utterance struct {
	Text  string
	Voice string
	Lang  string
}

// Synthesizer is a text-to-speech engine. Speak queues; Cancel drops everything queued.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) error
	Cancel() error
	Voices() []Voice
}
