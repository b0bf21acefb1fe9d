package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ent0n29/alex/internal/completion"
	"github.com/ent0n29/alex/internal/conversation"
	"github.com/ent0n29/alex/internal/observability"
	"github.com/ent0n29/alex/internal/policy"
	"github.com/ent0n29/alex/internal/settings"
	"github.com/ent0n29/alex/internal/speech"
)

var (
	ErrEmptyInput = errors.New("empty input")
	ErrBusy       = errors.New("a reply is already pending")
	ErrClosed     = errors.New("assistant closed")
)

const (
	defaultCompletionTimeout = 45 * time.Second
	settingsLoadTimeout      = 3 * time.Second
	logPreviewRunes          = 80
)

// Deps are the collaborators of one Orchestrator. Recognizer and Synthesizer
// may be nil when the client has no speech support.
type Deps struct {
	Gateway     completion.Gateway
	Settings    settings.Store
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

type Options struct {
	SessionID         string
	Language          string
	RestartDelay      time.Duration
	VoiceReplies      bool
	CompletionTimeout time.Duration
}

// Orchestrator owns one conversation and the listening/typing flags, and is
// the only writer of either.
type Orchestrator struct {
	gateway  completion.Gateway
	store    settings.Store
	capture  *speech.Capture
	playback *speech.Playback
	logger   *zap.Logger
	metrics  *observability.Metrics
	timeout  time.Duration

	conv     *conversation.Conversation
	inflight *semaphore.Weighted

	mu                 sync.Mutex
	typing             bool
	listening          bool
	wantListening      bool
	voiceReplies       bool
	greetingHasPersona bool
	closed             bool

	subsMu  sync.RWMutex
	subs    map[int]chan Event
	nextSub int

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
	runner  sync.WaitGroup
	once    sync.Once
}

// New builds the session and picks the greeting from the persona stored at
// start time. A store failure falls back to the persona-less greeting.
func New(ctx context.Context, deps Deps, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SessionID != "" {
		logger = logger.With(zap.String("session_id", opts.SessionID))
	}
	store := deps.Settings
	if store == nil {
		store = settings.NewInMemoryStore()
	}
	timeout := opts.CompletionTimeout
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o := &Orchestrator{
		gateway:      deps.Gateway,
		store:        store,
		logger:       logger,
		metrics:      deps.Metrics,
		timeout:      timeout,
		inflight:     semaphore.NewWeighted(1),
		voiceReplies: opts.VoiceReplies,
		subs:         make(map[int]chan Event),
		ctx:          runCtx,
		cancel:       cancel,
	}

	persona := o.loadPersona(ctx)
	o.greetingHasPersona = persona != ""
	o.conv = conversation.New(conversation.GreetingFor(persona))

	if deps.Recognizer != nil {
		o.capture = speech.NewCapture(deps.Recognizer, captureListener{o}, speech.CaptureOptions{
			Language:     opts.Language,
			RestartDelay: opts.RestartDelay,
			Logger:       logger,
		})
		o.runner.Add(1)
		go func() {
			defer o.runner.Done()
			o.capture.Run(o.ctx)
		}()
	} else {
		o.capture = speech.NewCapture(nil, nil, speech.CaptureOptions{Logger: logger})
	}
	o.playback = speech.NewPlayback(deps.Synthesizer, speech.PlaybackOptions{
		Language: opts.Language,
		Logger:   logger,
	})
	return o
}

// SubmitText appends a user turn and requests a reply without waiting for it.
// A submission made while a reply is pending is dropped with ErrBusy.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if !o.inflight.TryAcquire(1) {
		o.mu.Unlock()
		o.metrics.DroppedSubmission()
		o.logger.Info("submission dropped while reply pending",
			zap.String("text", policy.LogPreview(text, logPreviewRunes)),
		)
		return ErrBusy
	}
	o.pending.Add(1)
	o.typing = true
	o.mu.Unlock()

	o.playback.Cancel()
	turn := o.conv.Append(conversation.SenderUser, text)
	o.emit(Event{Type: EventTurnAppended, Turn: turn})
	o.emit(Event{Type: EventTypingChanged, Typing: true})

	o.logger.Debug("user turn appended",
		zap.String("turn_id", turn.ID),
		zap.String("text", policy.LogPreview(text, logPreviewRunes)),
	)

	go o.reply(time.Now())
	return nil
}

// SubmitVoiceTranscript interrupts playback before submitting, so a user
// speaking over the assistant silences it even if the submission is dropped.
func (o *Orchestrator) SubmitVoiceTranscript(ctx context.Context, text string) error {
	o.playback.Cancel()
	return o.SubmitText(ctx, text)
}

// ToggleListening flips the requested capture state. The actual state only
// changes when the engine reports it.
func (o *Orchestrator) ToggleListening(ctx context.Context) error {
	o.playback.Cancel()
	if !o.capture.Supported() {
		o.notice(NoticeSpeechUnsupported, speechUnsupportedDetail)
		return speech.ErrUnsupported
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.wantListening = !o.wantListening
	want := o.wantListening
	o.mu.Unlock()

	if !want {
		o.capture.Stop()
		o.metrics.SpeechEvent("stop_requested")
		return nil
	}

	o.metrics.SpeechEvent("start_requested")
	if err := o.capture.Start(ctx); err != nil {
		o.mu.Lock()
		o.wantListening = false
		o.mu.Unlock()
		if errors.Is(err, speech.ErrUnsupported) || errors.Is(err, speech.ErrNotConnected) {
			o.notice(NoticeSpeechUnsupported, speechUnsupportedDetail)
		}
		return fmt.Errorf("start listening: %w", err)
	}
	return nil
}

// PersonaChanged re-reads the persona. The greeting switches to the persona
// variant only while the user has not chatted yet.
func (o *Orchestrator) PersonaChanged(ctx context.Context) {
	persona := o.loadPersona(ctx)

	o.mu.Lock()
	if o.closed || o.greetingHasPersona || persona == "" {
		o.mu.Unlock()
		return
	}
	turn, err := o.conv.ReplaceGreeting(conversation.GreetingWithPersona)
	if err != nil {
		o.mu.Unlock()
		return
	}
	o.greetingHasPersona = true
	o.mu.Unlock()

	o.logger.Info("greeting updated for persona")
	o.emit(Event{Type: EventGreetingUpdated, Turn: turn})
}

func (o *Orchestrator) SetVoiceReplies(on bool) {
	o.mu.Lock()
	changed := o.voiceReplies != on
	o.voiceReplies = on
	o.mu.Unlock()
	if !on {
		o.playback.Cancel()
	}
	if changed {
		o.emit(Event{Type: EventVoiceRepliesChanged, VoiceReplies: on})
	}
}

func (o *Orchestrator) CancelSpeech() {
	o.playback.Cancel()
	o.metrics.SpeechEvent("playback_cancelled")
}

func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return State{
		Turns:        o.conv.Turns(),
		Typing:       o.typing,
		Listening:    o.listening,
		VoiceReplies: o.voiceReplies,
		SpeechInput:  o.capture.Supported(),
		SpeechOutput: o.playback.Supported(),
	}
}

// Subscribe returns a stream of state changes and a func that ends it.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	o.subsMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subsMu.Lock()
			if _, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(ch)
			}
			o.subsMu.Unlock()
		})
	}
}

// Wait blocks until no reply is pending.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// Shutdown rejects further input and stops capture and playback without
// waiting for a pending reply. Close still has to be called.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.wantListening = false
	o.mu.Unlock()

	o.capture.Stop()
	o.playback.Cancel()
}

// Close shuts down, lets a pending reply finish, and closes all
// subscriptions. It can block for up to the completion timeout.
func (o *Orchestrator) Close() {
	o.Shutdown()
	o.once.Do(func() {
		o.pending.Wait()
		o.cancel()
		o.runner.Wait()

		o.subsMu.Lock()
		for id, ch := range o.subs {
			delete(o.subs, id)
			close(ch)
		}
		o.subsMu.Unlock()
	})
}

func (o *Orchestrator) reply(started time.Time) {
	defer o.pending.Done()

	text, outcome := o.complete()
	elapsed := time.Since(started)
	o.metrics.ObserveCompletion(outcome, elapsed)

	turn := o.conv.Append(conversation.SenderAssistant, text)
	o.emit(Event{Type: EventTurnAppended, Turn: turn})

	// Typing clears in the same critical section that frees the slot.
	// Typing events never block.
	o.mu.Lock()
	o.typing = false
	o.emit(Event{Type: EventTypingChanged, Typing: false})
	o.inflight.Release(1)
	speak := o.voiceReplies && !o.closed
	o.mu.Unlock()
	if speak {
		o.playback.Speak(o.ctx, text)
		o.metrics.ObserveSpeechStart(time.Since(started) - elapsed)
	}
}

// complete returns the text of the assistant turn: the reply, or a
// user-facing explanation of the failure.
func (o *Orchestrator) complete() (string, string) {
	loadCtx, cancelLoad := context.WithTimeout(o.ctx, settingsLoadTimeout)
	profile, err := o.store.Load(loadCtx)
	cancelLoad()
	if err != nil {
		o.logger.Warn("settings load failed", zap.Error(err))
		err = &completion.Error{Kind: completion.KindAPI, Message: "could not load settings", Err: err}
		return completion.UserMessage(err), string(completion.KindAPI)
	}
	if o.gateway == nil {
		err := &completion.Error{Kind: completion.KindNetwork, Message: "no completion endpoint configured"}
		return completion.UserMessage(err), string(completion.KindNetwork)
	}

	req := completion.Request{
		Messages:   o.conv.History(),
		Persona:    profile.Persona,
		Credential: profile.Credential,
	}
	ctx, cancel := context.WithTimeout(o.ctx, o.timeout)
	defer cancel()

	reply, err := o.gateway.Complete(ctx, req)
	if err != nil {
		kind := completion.KindOf(err)
		var ce *completion.Error
		o.logger.Warn("completion failed",
			zap.String("kind", string(kind)),
			zap.Bool("retryable", errors.As(err, &ce) && ce.Retryable()),
			zap.Int("history_len", len(req.Messages)),
			zap.Error(err),
		)
		return completion.UserMessage(err), string(kind)
	}
	o.logger.Debug("completion succeeded",
		zap.Int("history_len", len(req.Messages)),
		zap.Int("reply_len", len(reply)),
	)
	return reply, "ok"
}

func (o *Orchestrator) loadPersona(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, settingsLoadTimeout)
	defer cancel()
	profile, err := o.store.Load(ctx)
	if err != nil {
		o.logger.Warn("settings load failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(profile.Persona)
}

func (o *Orchestrator) notice(code, detail string) {
	o.metrics.SpeechEvent(code)
	o.emit(Event{Type: EventNotice, Code: code, Detail: detail})
}

func (o *Orchestrator) emit(evt Event) {
	o.subsMu.RLock()
	defer o.subsMu.RUnlock()
	for _, ch := range o.subs {
		o.deliver(ch, evt)
	}
}

func (o *Orchestrator) deliver(ch chan Event, evt Event) {
	record := func(result string) {
		o.metrics.ObserveOutboundMessage(string(evt.Type), result)
	}
	if !evt.critical() {
		select {
		case ch <- evt:
			record("delivered")
		default:
			record("dropped")
		}
		return
	}
	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case ch <- evt:
		record("delivered")
	case <-timer.C:
		record("timeout")
		o.logger.Warn("subscriber too slow, event dropped", zap.String("event", string(evt.Type)))
	}
}

// captureListener reconciles engine callbacks into orchestrator state.
type captureListener struct {
	o *Orchestrator
}

func (l captureListener) ListeningChanged(active bool) {
	o := l.o
	o.mu.Lock()
	changed := o.listening != active
	o.listening = active
	o.wantListening = active
	o.mu.Unlock()
	if !changed {
		return
	}
	if active {
		o.metrics.SpeechEvent("listening_started")
	} else {
		o.metrics.SpeechEvent("listening_ended")
	}
	o.emit(Event{Type: EventListeningChanged, Listening: active})
}

func (l captureListener) Transcript(text string) {
	o := l.o
	o.metrics.SpeechEvent("transcript")
	if err := o.SubmitVoiceTranscript(o.ctx, text); err != nil {
		o.logger.Debug("voice transcript not submitted", zap.Error(err))
	}
}

func (l captureListener) PermissionDenied() {
	l.o.notice(NoticePermissionDenied, permissionDeniedDetail)
}
