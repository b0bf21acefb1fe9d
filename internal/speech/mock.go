package speech

import (
	"context"
	"sync"
)

// MockRecognizer is a scriptable in-process recognizer used by tests and the
// mock speech mode. Start and Stop emit the lifecycle events a browser would.
type MockRecognizer struct {
	mu       sync.Mutex
	events   chan RecognitionEvent
	active   bool
	closed   bool
	starts   int
	stops    int
	startErr error
	langs    []string
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{events: make(chan RecognitionEvent, 64)}
}

// FailStart makes subsequent Start calls return err (nil clears it).
func (m *MockRecognizer) FailStart(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockRecognizer) Start(_ context.Context, lang string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.langs = append(m.langs, lang)
	if m.startErr != nil {
		return m.startErr
	}
	if m.active {
		return ErrSessionActive
	}
	m.active = true
	m.emitLocked(RecognitionEvent{Type: RecognitionStarted})
	return nil
}

func (m *MockRecognizer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if !m.active {
		return nil
	}
	m.active = false
	m.emitLocked(RecognitionEvent{Type: RecognitionEnded})
	return nil
}

func (m *MockRecognizer) Events() <-chan RecognitionEvent { return m.events }

// Say delivers a final transcript followed by the end of the session.
func (m *MockRecognizer) Say(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked(RecognitionEvent{Type: RecognitionResult, Text: text, Final: true})
	if m.active {
		m.active = false
		m.emitLocked(RecognitionEvent{Type: RecognitionEnded})
	}
}

// Emit injects an arbitrary engine event.
func (m *MockRecognizer) Emit(evt RecognitionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch evt.Type {
	case RecognitionStarted:
		m.active = true
	case RecognitionEnded, RecognitionError:
		m.active = false
	}
	m.emitLocked(evt)
}

func (m *MockRecognizer) Calls() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

func (m *MockRecognizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

func (m *MockRecognizer) emitLocked(evt RecognitionEvent) {
	if m.closed {
		return
	}
	select {
	case m.events <- evt:
	default:
	}
}

// MockSynthesizer models a browser speech queue: Speak enqueues, Cancel clears,
// and the head of the queue is what is audible.
type MockSynthesizer struct {
	mu      sync.Mutex
	queue   []Utterance
	spoken  []Utterance
	cancels int
	voices  []Voice
}

func NewMockSynthesizer(voices ...Voice) *MockSynthesizer {
	return &MockSynthesizer{voices: voices}
}

func (m *MockSynthesizer) Speak(_ context.Context, u Utterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, u)
	m.spoken = append(m.spoken, u)
	return nil
}

func (m *MockSynthesizer) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	m.queue = nil
	return nil
}

func (m *MockSynthesizer) Voices() []Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Voice, len(m.voices))
	copy(out, m.voices)
	return out
}

// Finish simulates the current utterance ending naturally.
func (m *MockSynthesizer) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) > 0 {
		m.queue = m.queue[1:]
	}
}

// Audible returns the utterance currently being read, if any.
func (m *MockSynthesizer) Audible() (Utterance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Utterance{}, false
	}
	return m.queue[0], true
}

func (m *MockSynthesizer) Queued() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Utterance, len(m.queue))
	copy(out, m.queue)
	return out
}

func (m *MockSynthesizer) Spoken() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Utterance, len(m.spoken))
	copy(out, m.spoken)
	return out
}

func (m *MockSynthesizer) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}
