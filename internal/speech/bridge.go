package speech

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/alex/internal/protocol"
)

const (
	eventBuffer         = 64
	terminalSendTimeout = 500 * time.Millisecond
)

// Bridge drives speech engines that live in the browser. Commands go down the
// bound websocket as speech_command messages; engine callbacks come back
// through Deliver and SetVoices.
type Bridge struct {
	sessionID string
	logger    *zap.Logger

	// pushMu orders sends on events and its close. closed is written under
	// both locks.
	pushMu sync.Mutex
	events chan RecognitionEvent

	mu     sync.Mutex
	send   func(any) bool
	voices []Voice
	active bool
	closed bool
}

func NewBridge(sessionID string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		sessionID: sessionID,
		logger:    logger,
		events:    make(chan RecognitionEvent, eventBuffer),
	}
}

// Bind attaches a connection. send must not block for long.
func (b *Bridge) Bind(send func(any) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.send = send
}

// Unbind detaches the connection. A browser that goes away takes its
// microphone with it, so an open recognition session is reported as ended.
func (b *Bridge) Unbind() {
	b.pushMu.Lock()
	defer b.pushMu.Unlock()

	b.mu.Lock()
	b.send = nil
	b.voices = nil
	wasActive := b.active
	b.active = false
	b.mu.Unlock()

	if wasActive {
		b.push(RecognitionEvent{Type: RecognitionEnded})
	}
}

func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.send != nil
}

func (b *Bridge) Start(_ context.Context, lang string) error {
	return b.command(protocol.SpeechCommand{Action: protocol.SpeechStartListening, Lang: lang})
}

func (b *Bridge) Stop() error {
	return b.command(protocol.SpeechCommand{Action: protocol.SpeechStopListening})
}

func (b *Bridge) Events() <-chan RecognitionEvent { return b.events }

func (b *Bridge) Speak(_ context.Context, u Utterance) error {
	return b.command(protocol.SpeechCommand{
		Action: protocol.SpeechSpeak,
		Text:   u.Text,
		Voice:  u.Voice,
		Lang:   u.Lang,
	})
}

func (b *Bridge) Cancel() error {
	return b.command(protocol.SpeechCommand{Action: protocol.SpeechCancel})
}

func (b *Bridge) Voices() []Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Voice, len(b.voices))
	copy(out, b.voices)
	return out
}

// SetVoices records the voice list the browser finished enumerating.
func (b *Bridge) SetVoices(voices []protocol.SpeechVoice) {
	out := make([]Voice, 0, len(voices))
	for _, v := range voices {
		out = append(out, Voice{Name: v.Name, Lang: v.Lang, Default: v.Default, Local: v.Local})
	}
	b.mu.Lock()
	b.voices = out
	b.mu.Unlock()
}

// Deliver converts a browser engine callback into a RecognitionEvent.
func (b *Bridge) Deliver(evt protocol.ClientSpeechEvent) {
	var out RecognitionEvent
	switch evt.Event {
	case protocol.SpeechEventStart:
		out = RecognitionEvent{Type: RecognitionStarted}
	case protocol.SpeechEventEnd:
		out = RecognitionEvent{Type: RecognitionEnded}
	case protocol.SpeechEventResult:
		out = RecognitionEvent{Type: RecognitionResult, Text: evt.Text, Final: evt.Final}
	case protocol.SpeechEventError:
		out = RecognitionEvent{Type: RecognitionError, Code: evt.Error}
	default:
		return
	}

	b.pushMu.Lock()
	defer b.pushMu.Unlock()

	b.mu.Lock()
	switch out.Type {
	case RecognitionStarted:
		b.active = true
	case RecognitionEnded, RecognitionError:
		b.active = false
	}
	b.mu.Unlock()

	b.push(out)
}

func (b *Bridge) Close() error {
	b.pushMu.Lock()
	defer b.pushMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.send = nil
	close(b.events)
	return nil
}

func (b *Bridge) command(cmd protocol.SpeechCommand) error {
	cmd.Type = protocol.TypeSpeechCommand
	cmd.SessionID = b.sessionID

	b.mu.Lock()
	send := b.send
	b.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}
	if !send(cmd) {
		return ErrNotConnected
	}
	return nil
}

// push queues evt for the capture loop. Callers hold pushMu. Interim events
// are dropped when the buffer is full; final results and session ends wait a
// bounded time for room.
func (b *Bridge) push(evt RecognitionEvent) {
	if b.closed {
		return
	}
	select {
	case b.events <- evt:
		return
	default:
	}
	fields := []zap.Field{
		zap.String("session_id", b.sessionID),
		zap.String("event", string(evt.Type)),
	}
	if !terminal(evt) {
		b.logger.Warn("recognition event dropped, buffer full", fields...)
		return
	}
	timer := time.NewTimer(terminalSendTimeout)
	defer timer.Stop()
	select {
	case b.events <- evt:
	case <-timer.C:
		b.logger.Warn("recognition event dropped after wait", append(fields, zap.Duration("waited", terminalSendTimeout))...)
	}
}

func terminal(evt RecognitionEvent) bool {
	switch evt.Type {
	case RecognitionEnded, RecognitionError:
		return true
	case RecognitionResult:
		return evt.Final
	default:
		return false
	}
}
