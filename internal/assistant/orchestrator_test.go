package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ent0n29/alex/internal/completion"
	"github.com/ent0n29/alex/internal/conversation"
	"github.com/ent0n29/alex/internal/settings"
	"github.com/ent0n29/alex/internal/speech"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubGateway struct {
	mu    sync.Mutex
	calls []completion.Request
	gate  chan struct{}
	err   error
	reply string
}

func (g *stubGateway) Complete(ctx context.Context, req completion.Request) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", &completion.Error{Kind: completion.KindNetwork, Err: ctx.Err()}
		}
	}
	if g.err != nil {
		return "", g.err
	}
	if g.reply != "" {
		return g.reply, nil
	}
	return "reply to " + req.Messages[len(req.Messages)-1].Content, nil
}

func (g *stubGateway) block() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
	return g.gate
}

func (g *stubGateway) Calls() []completion.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]completion.Request(nil), g.calls...)
}

func newTestOrchestrator(t *testing.T, deps Deps, opts Options) *Orchestrator {
	t.Helper()
	if deps.Gateway == nil {
		deps.Gateway = &stubGateway{}
	}
	if deps.Settings == nil {
		deps.Settings = settings.NewInMemoryStore()
	}
	if opts.RestartDelay == 0 {
		opts.RestartDelay = 5 * time.Millisecond
	}
	o := New(context.Background(), deps, opts)
	t.Cleanup(o.Close)
	return o
}

func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed")
			}
			if match(evt) {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event")
		}
	}
}

func TestSubmitTextAppendsUserAndAssistantTurns(t *testing.T) {
	gw := &stubGateway{}
	o := newTestOrchestrator(t, Deps{Gateway: gw}, Options{})

	require.NoError(t, o.SubmitText(context.Background(), "  Hello  "))
	o.Wait()

	state := o.Snapshot()
	require.Len(t, state.Turns, 3)
	require.True(t, state.Turns[0].Synthetic)
	require.Equal(t, conversation.GreetingNoPersona, state.Turns[0].Text)
	require.Equal(t, conversation.SenderUser, state.Turns[1].Sender)
	require.Equal(t, "Hello", state.Turns[1].Text)
	require.Equal(t, conversation.SenderAssistant, state.Turns[2].Sender)
	require.Equal(t, "reply to Hello", state.Turns[2].Text)
	require.False(t, state.Typing)

	calls := gw.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, []conversation.Message{{Role: "user", Content: "Hello"}}, calls[0].Messages)
}

func TestSubmitTextRejectsBlankInput(t *testing.T) {
	gw := &stubGateway{}
	o := newTestOrchestrator(t, Deps{Gateway: gw}, Options{})

	for _, in := range []string{"", "   ", "\n\t"} {
		require.ErrorIs(t, o.SubmitText(context.Background(), in), ErrEmptyInput)
	}
	o.Wait()
	require.Len(t, o.Snapshot().Turns, 1)
	require.Empty(t, gw.Calls())
}

func TestSubmitTextSendsStoredPersonaAndCredential(t *testing.T) {
	store := settings.NewInMemoryStore()
	require.NoError(t, store.Save(context.Background(), settings.Profile{Persona: "JOHN DOE - pilot", Credential: "gsk_test"}))
	gw := &stubGateway{}
	o := newTestOrchestrator(t, Deps{Gateway: gw, Settings: store}, Options{})

	require.Equal(t, conversation.GreetingWithPersona, o.Snapshot().Turns[0].Text)
	require.NoError(t, o.SubmitText(context.Background(), "Who are you?"))
	o.Wait()

	calls := gw.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "JOHN DOE - pilot", calls[0].Persona)
	require.Equal(t, "gsk_test", calls[0].Credential)
}

func TestSecondSubmissionWhilePendingIsDropped(t *testing.T) {
	gw := &stubGateway{}
	gate := gw.block()
	o := newTestOrchestrator(t, Deps{Gateway: gw}, Options{})

	require.NoError(t, o.SubmitText(context.Background(), "first"))
	require.True(t, o.Snapshot().Typing)
	require.ErrorIs(t, o.SubmitText(context.Background(), "second"), ErrBusy)

	close(gate)
	o.Wait()

	state := o.Snapshot()
	require.Len(t, state.Turns, 3)
	require.Equal(t, "first", state.Turns[1].Text)
	require.False(t, state.Typing)
	require.Len(t, gw.Calls(), 1)

	require.NoError(t, o.SubmitText(context.Background(), "third"))
	o.Wait()
	require.Len(t, o.Snapshot().Turns, 5)
}

func TestSubmitRightAfterReplyKeepsTypingUntilSecondReply(t *testing.T) {
	gw := &stubGateway{}
	first := gw.block()
	o := newTestOrchestrator(t, Deps{Gateway: gw}, Options{})
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	require.NoError(t, o.SubmitText(context.Background(), "first"))
	require.Eventually(t, func() bool { return len(gw.Calls()) == 1 }, 2*time.Second, time.Millisecond)
	second := gw.block()
	close(first)

	// Resubmit as fast as possible so the call lands in the gap between the
	// first reply resolving and its typing flag clearing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := o.SubmitText(context.Background(), "second")
		if err == nil {
			break
		}
		require.ErrorIs(t, err, ErrBusy)
		require.True(t, time.Now().Before(deadline), "second submission never accepted")
	}
	require.True(t, o.Snapshot().Typing)

	var seq []string
	for {
		evt := waitFor(t, events, func(Event) bool { return true })
		switch evt.Type {
		case EventTurnAppended:
			seq = append(seq, string(evt.Turn.Sender)+":"+evt.Turn.Text)
		case EventTypingChanged:
			if evt.Typing {
				seq = append(seq, "typing")
			} else {
				seq = append(seq, "idle")
			}
		}
		if len(seq) == 6 {
			break
		}
	}
	require.Equal(t, []string{
		"user:first", "typing",
		"assistant:reply to first", "idle",
		"user:second", "typing",
	}, seq)

	require.Eventually(t, func() bool { return len(gw.Calls()) == 2 }, 2*time.Second, time.Millisecond)
	require.True(t, o.Snapshot().Typing)

	close(second)
	o.Wait()
	require.False(t, o.Snapshot().Typing)
	require.Len(t, o.Snapshot().Turns, 5)
}

func TestHistoryIncludesEarlierTurnsButNotGreeting(t *testing.T) {
	gw := &stubGateway{}
	o := newTestOrchestrator(t, Deps{Gateway: gw}, Options{})

	require.NoError(t, o.SubmitText(context.Background(), "one"))
	o.Wait()
	require.NoError(t, o.SubmitText(context.Background(), "two"))
	o.Wait()

	calls := gw.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, []conversation.Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "reply to one"},
		{Role: "user", Content: "two"},
	}, calls[1].Messages)
}

func TestAuthFailureBecomesAssistantErrorTurn(t *testing.T) {
	gw := &stubGateway{err: &completion.Error{Kind: completion.KindAuth, Status: 401, Message: "Invalid API Key"}}
	synth := speech.NewMockSynthesizer()
	o := newTestOrchestrator(t, Deps{Gateway: gw, Synthesizer: synth}, Options{VoiceReplies: true})

	require.NoError(t, o.SubmitText(context.Background(), "Hi"))
	o.Wait()

	state := o.Snapshot()
	require.Len(t, state.Turns, 3)
	last := state.Turns[2]
	require.Equal(t, conversation.SenderAssistant, last.Sender)
	require.Contains(t, last.Text, "authenticate")
	require.Contains(t, last.Text, "API key")
	require.False(t, state.Typing)

	spoken := synth.Spoken()
	require.Len(t, spoken, 1)
	require.Equal(t, speech.CleanForSpeech(last.Text), spoken[0].Text)
}

func TestReplyIsSpokenOnlyWithVoiceRepliesOn(t *testing.T) {
	synth := speech.NewMockSynthesizer()
	o := newTestOrchestrator(t, Deps{Synthesizer: synth}, Options{VoiceReplies: false})

	require.NoError(t, o.SubmitText(context.Background(), "quiet"))
	o.Wait()
	require.Empty(t, synth.Spoken())

	o.SetVoiceReplies(true)
	require.NoError(t, o.SubmitText(context.Background(), "loud"))
	o.Wait()
	spoken := synth.Spoken()
	require.Len(t, spoken, 1)
	require.Equal(t, "reply to loud", spoken[0].Text)
}

func TestNewSubmissionCancelsPlayback(t *testing.T) {
	gw := &stubGateway{}
	synth := speech.NewMockSynthesizer()
	o := newTestOrchestrator(t, Deps{Gateway: gw, Synthesizer: synth}, Options{VoiceReplies: true})

	require.NoError(t, o.SubmitText(context.Background(), "first"))
	o.Wait()
	_, audible := synth.Audible()
	require.True(t, audible)

	gate := gw.block()
	require.NoError(t, o.SubmitText(context.Background(), "second"))
	_, audible = synth.Audible()
	require.False(t, audible)

	close(gate)
	o.Wait()
	u, audible := synth.Audible()
	require.True(t, audible)
	require.Equal(t, "reply to second", u.Text)
}

func TestToggleListeningOnThenOffEndsIdle(t *testing.T) {
	rec := speech.NewMockRecognizer()
	defer rec.Close()
	o := newTestOrchestrator(t, Deps{Recognizer: rec}, Options{})
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	require.NoError(t, o.ToggleListening(context.Background()))
	require.NoError(t, o.ToggleListening(context.Background()))

	waitFor(t, events, func(e Event) bool { return e.Type == EventListeningChanged && e.Listening })
	waitFor(t, events, func(e Event) bool { return e.Type == EventListeningChanged && !e.Listening })

	state := o.Snapshot()
	require.False(t, state.Listening)
	require.Len(t, state.Turns, 1)

	starts, stops := rec.Calls()
	require.Equal(t, 1, starts)
	require.GreaterOrEqual(t, stops, 1)
}

func TestEngineReportedStateWins(t *testing.T) {
	rec := speech.NewMockRecognizer()
	defer rec.Close()
	o := newTestOrchestrator(t, Deps{Recognizer: rec}, Options{})
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	require.NoError(t, o.ToggleListening(context.Background()))
	waitFor(t, events, func(e Event) bool { return e.Type == EventListeningChanged && e.Listening })

	// The engine stops on its own; the next toggle must start again, not stop.
	rec.Emit(speech.RecognitionEvent{Type: speech.RecognitionEnded})
	waitFor(t, events, func(e Event) bool { return e.Type == EventListeningChanged && !e.Listening })

	require.NoError(t, o.ToggleListening(context.Background()))
	waitFor(t, events, func(e Event) bool { return e.Type == EventListeningChanged && e.Listening })
	starts, _ := rec.Calls()
	require.Equal(t, 2, starts)
}

func TestVoiceTranscriptSubmitsAndIsSpoken(t *testing.T) {
	rec := speech.NewMockRecognizer()
	defer rec.Close()
	synth := speech.NewMockSynthesizer()
	o := newTestOrchestrator(t, Deps{Recognizer: rec, Synthesizer: synth}, Options{VoiceReplies: true})
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	require.NoError(t, o.ToggleListening(context.Background()))
	waitFor(t, events, func(e Event) bool { return e.Type == EventListeningChanged && e.Listening })

	rec.Emit(speech.RecognitionEvent{Type: speech.RecognitionResult, Text: "partial", Final: false})
	rec.Say("  what time is it  ")

	waitFor(t, events, func(e Event) bool {
		return e.Type == EventTurnAppended && e.Turn.Sender == conversation.SenderAssistant
	})
	o.Wait()

	state := o.Snapshot()
	require.Len(t, state.Turns, 3)
	require.Equal(t, "what time is it", state.Turns[1].Text)
	spoken := synth.Spoken()
	require.Len(t, spoken, 1)
	require.Equal(t, "reply to what time is it", spoken[0].Text)
}

func TestPermissionDeniedRaisesNotice(t *testing.T) {
	rec := speech.NewMockRecognizer()
	defer rec.Close()
	o := newTestOrchestrator(t, Deps{Recognizer: rec}, Options{})
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	rec.Emit(speech.RecognitionEvent{Type: speech.RecognitionError, Code: speech.ErrorNoSpeech})
	rec.Emit(speech.RecognitionEvent{Type: speech.RecognitionError, Code: speech.ErrorNotAllowed})

	evt := waitFor(t, events, func(e Event) bool { return e.Type == EventNotice })
	require.Equal(t, NoticePermissionDenied, evt.Code)
	require.False(t, o.Snapshot().Listening)
}

func TestToggleWithoutRecognizerReportsUnsupported(t *testing.T) {
	o := newTestOrchestrator(t, Deps{}, Options{})
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	require.ErrorIs(t, o.ToggleListening(context.Background()), speech.ErrUnsupported)
	evt := waitFor(t, events, func(e Event) bool { return e.Type == EventNotice })
	require.Equal(t, NoticeSpeechUnsupported, evt.Code)
	require.False(t, o.Snapshot().SpeechInput)
}

func TestToggleStartFailureLeavesIdle(t *testing.T) {
	rec := speech.NewMockRecognizer()
	defer rec.Close()
	rec.FailStart(speech.ErrNotConnected)
	o := newTestOrchestrator(t, Deps{Recognizer: rec}, Options{})

	err := o.ToggleListening(context.Background())
	require.ErrorIs(t, err, speech.ErrNotConnected)
	require.False(t, o.Snapshot().Listening)

	// The failed request must not leave a stale "wanted" flag behind.
	rec.FailStart(nil)
	require.NoError(t, o.ToggleListening(context.Background()))
	starts, _ := rec.Calls()
	require.Equal(t, 2, starts)
}

func TestPersonaChangedUpdatesGreetingBeforeChat(t *testing.T) {
	store := settings.NewInMemoryStore()
	o := newTestOrchestrator(t, Deps{Settings: store}, Options{})
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	greeting := o.Snapshot().Turns[0]
	require.Equal(t, conversation.GreetingNoPersona, greeting.Text)

	o.PersonaChanged(context.Background())
	require.Equal(t, conversation.GreetingNoPersona, o.Snapshot().Turns[0].Text)

	require.NoError(t, store.Save(context.Background(), settings.Profile{Persona: "JANE ROE"}))
	o.PersonaChanged(context.Background())

	evt := waitFor(t, events, func(e Event) bool { return e.Type == EventGreetingUpdated })
	require.Equal(t, conversation.GreetingWithPersona, evt.Turn.Text)
	require.Equal(t, greeting.ID, evt.Turn.ID)
	require.True(t, evt.Turn.Synthetic)
	require.Len(t, o.Snapshot().Turns, 1)
}

func TestPersonaChangedAfterChatKeepsGreeting(t *testing.T) {
	store := settings.NewInMemoryStore()
	o := newTestOrchestrator(t, Deps{Settings: store}, Options{})

	require.NoError(t, o.SubmitText(context.Background(), "hi"))
	o.Wait()
	require.NoError(t, store.Save(context.Background(), settings.Profile{Persona: "JANE ROE"}))
	o.PersonaChanged(context.Background())

	require.Equal(t, conversation.GreetingNoPersona, o.Snapshot().Turns[0].Text)
}

func TestSubscriberSeesTurnsInOrder(t *testing.T) {
	o := newTestOrchestrator(t, Deps{}, Options{})
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	require.NoError(t, o.SubmitText(context.Background(), "ping"))
	o.Wait()

	var got []string
	for len(got) < 4 {
		select {
		case evt := <-events:
			switch evt.Type {
			case EventTurnAppended:
				got = append(got, "turn:"+string(evt.Turn.Sender))
			case EventTypingChanged:
				if evt.Typing {
					got = append(got, "typing:on")
				} else {
					got = append(got, "typing:off")
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("events so far: %v", got)
		}
	}
	require.Equal(t, []string{"turn:user", "typing:on", "turn:assistant", "typing:off"}, got)
}

func TestCloseWaitsForPendingReplyAndRejectsInput(t *testing.T) {
	gw := &stubGateway{}
	gate := gw.block()
	o := New(context.Background(), Deps{Gateway: gw, Settings: settings.NewInMemoryStore()}, Options{})
	events, _ := o.Subscribe()

	require.NoError(t, o.SubmitText(context.Background(), "hold"))
	done := make(chan struct{})
	go func() {
		o.Close()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Close returned with a reply pending")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	<-done

	require.ErrorIs(t, o.SubmitText(context.Background(), "late"), ErrClosed)
	require.Len(t, o.Snapshot().Turns, 3)
	for range events {
	}
}

func TestSettingsFailureBecomesErrorTurn(t *testing.T) {
	gw := &stubGateway{}
	o := newTestOrchestrator(t, Deps{Gateway: gw, Settings: failingStore{}}, Options{})

	require.NoError(t, o.SubmitText(context.Background(), "hi"))
	o.Wait()

	last := o.Snapshot().Turns[2]
	require.True(t, strings.HasPrefix(last.Text, "Sorry"))
	require.Empty(t, gw.Calls())
}

type failingStore struct{}

func (failingStore) Load(context.Context) (settings.Profile, error) {
	return settings.Profile{}, errors.New("disk on fire")
}
func (failingStore) Save(context.Context, settings.Profile) error { return errors.New("read only") }
func (failingStore) Close() error                                 { return nil }
