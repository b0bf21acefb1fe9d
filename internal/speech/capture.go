package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/alex/internal/reliability"
)

const (
	DefaultRestartDelay = 150 * time.Millisecond
	startAttempts       = 3
)

// CaptureListener receives capture callbacks. Calls arrive from the Run goroutine
// and may race with Start/Stop issued by the caller.
type CaptureListener interface {
	ListeningChanged(listening bool)
	Transcript(text string)
	PermissionDenied()
}

type CaptureOptions struct {
	Language     string
	RestartDelay time.Duration
	Logger       *zap.Logger
}

// Capture turns a Recognizer into a start/stop unit with one session in flight.
type Capture struct {
	engine   Recognizer
	listener CaptureListener
	lang     string
	delay    time.Duration
	logger   *zap.Logger

	// Serializes Start/Stop so a restart cannot interleave with another command.
	cmdMu sync.Mutex

	mu        sync.Mutex
	requested bool
	active    bool
}

func NewCapture(engine Recognizer, listener CaptureListener, opts CaptureOptions) *Capture {
	lang := strings.TrimSpace(opts.Language)
	if lang == "" {
		lang = "en-US"
	}
	delay := opts.RestartDelay
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{
		engine:   engine,
		listener: listener,
		lang:     lang,
		delay:    delay,
		logger:   logger,
	}
}

func (c *Capture) Supported() bool { return c.engine != nil }

// Active reports the engine-reported state.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start begins listening. A live session is stopped first and the engine is
// given the restart delay to tear down before the new session starts.
func (c *Capture) Start(ctx context.Context) error {
	if c.engine == nil {
		c.logger.Debug("speech capture unsupported")
		return ErrUnsupported
	}
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	busy := c.requested || c.active
	c.mu.Unlock()

	if busy {
		if err := c.engine.Stop(); err != nil {
			c.logger.Debug("speech capture stop before restart failed", zap.Error(err))
		}
		timer := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	// An engine still tearing down the previous session rejects the start;
	// give it a few more restart delays before giving up.
	err := reliability.Retry(ctx, startAttempts, c.delay, 4*c.delay,
		func(err error) bool { return errors.Is(err, ErrSessionActive) },
		func() error { return c.engine.Start(ctx, c.lang) },
	)
	if err != nil {
		c.logger.Warn("speech capture start failed", zap.Error(err))
		c.mu.Lock()
		c.requested = false
		c.active = false
		c.mu.Unlock()
		c.notifyListening(false)
		return err
	}
	c.mu.Lock()
	c.requested = true
	c.mu.Unlock()
	return nil
}

// Stop requests cessation. Errors are swallowed; stopping an idle engine is fine.
func (c *Capture) Stop() {
	if c.engine == nil {
		return
	}
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	c.requested = false
	c.mu.Unlock()
	if err := c.engine.Stop(); err != nil {
		c.logger.Debug("speech capture stop ignored", zap.Error(err))
	}
}

// Run forwards engine events to the listener until ctx ends or the engine closes.
func (c *Capture) Run(ctx context.Context) {
	if c.engine == nil {
		return
	}
	events := c.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				c.setActive(false)
				return
			}
			c.handle(evt)
		}
	}
}

func (c *Capture) handle(evt RecognitionEvent) {
	switch evt.Type {
	case RecognitionStarted:
		c.setActive(true)
	case RecognitionEnded:
		c.setActive(false)
	case RecognitionResult:
		if !evt.Final {
			return
		}
		text := strings.TrimSpace(evt.Text)
		if text == "" {
			return
		}
		if c.listener != nil {
			c.listener.Transcript(text)
		}
	case RecognitionError:
		c.setActive(false)
		switch evt.Code {
		case ErrorNoSpeech, ErrorAborted:
			c.logger.Debug("speech capture ended without speech", zap.String("code", evt.Code))
		case ErrorNotAllowed:
			c.logger.Warn("microphone permission denied")
			if c.listener != nil {
				c.listener.PermissionDenied()
			}
		default:
			c.logger.Warn("speech recognition error", zap.String("code", evt.Code))
		}
	}
}

func (c *Capture) setActive(active bool) {
	c.mu.Lock()
	c.active = active
	if !active {
		c.requested = false
	}
	c.mu.Unlock()
	c.notifyListening(active)
}

func (c *Capture) notifyListening(active bool) {
	if c.listener != nil {
		c.listener.ListeningChanged(active)
	}
}
