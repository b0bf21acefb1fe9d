package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/alex/internal/assistant"
	"github.com/ent0n29/alex/internal/completion"
	"github.com/ent0n29/alex/internal/settings"
	"github.com/ent0n29/alex/internal/speech"
)

func testBuilder(id string) Runtime {
	bridge := speech.NewBridge(id, nil)
	return Runtime{
		Assistant: assistant.New(context.Background(), assistant.Deps{
			Gateway:     completion.NewMockGateway(),
			Settings:    settings.NewInMemoryStore(),
			Recognizer:  bridge,
			Synthesizer: bridge,
		}, assistant.Options{SessionID: id}),
		Bridge: bridge,
	}
}

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create(testBuilder)
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.Assistant == nil || s.Bridge == nil {
		t.Fatalf("runtime not attached: %+v", s)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if err := ended.Assistant.SubmitText(context.Background(), "hi"); err != assistant.ErrClosed {
		t.Fatalf("SubmitText() after End error = %v, want ErrClosed", err)
	}
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
	m.Wait()
}

type gatedGateway struct {
	gate chan struct{}
}

func (g gatedGateway) Complete(ctx context.Context, _ completion.Request) (string, error) {
	select {
	case <-g.gate:
		return "late reply", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestManagerEndDoesNotWaitForPendingReply(t *testing.T) {
	gate := make(chan struct{})
	m := NewManager(time.Minute)
	s := m.Create(func(id string) Runtime {
		return Runtime{Assistant: assistant.New(context.Background(), assistant.Deps{
			Gateway:  gatedGateway{gate: gate},
			Settings: settings.NewInMemoryStore(),
		}, assistant.Options{SessionID: id})}
	})
	events, unsubscribe := s.Assistant.Subscribe()
	defer unsubscribe()

	if err := s.Assistant.SubmitText(context.Background(), "hi"); err != nil {
		t.Fatalf("SubmitText() error = %v", err)
	}

	ended := make(chan struct{})
	go func() {
		_, _ = m.End(s.ID)
		close(ended)
	}()
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatalf("End() blocked on the pending reply")
	}
	if err := s.Assistant.SubmitText(context.Background(), "again"); err != assistant.ErrClosed {
		t.Fatalf("SubmitText() after End error = %v, want ErrClosed", err)
	}

	released := make(chan struct{})
	go func() {
		m.Wait()
		close(released)
	}()
	select {
	case <-released:
		t.Fatalf("runtime released before the pending reply finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("runtime not released after the reply finished")
	}
	for range events {
	}
	if turns := s.Assistant.Snapshot().Turns; turns[len(turns)-1].Text != "late reply" {
		t.Fatalf("last turn = %q, want the drained reply", turns[len(turns)-1].Text)
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("nope"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := m.Touch("nope"); err != ErrNotFound {
		t.Fatalf("Touch() error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	var expired atomic.Int32
	m.SetExpireHook(func(*Session) { expired.Add(1) })
	s := m.Create(testBuilder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(90 * time.Millisecond)
	if expired.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", expired.Load())
	}
	if got, err := m.Get(s.ID); err == nil && got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
	m.Wait()
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager(time.Minute)
	m.Create(testBuilder)
	m.Create(testBuilder)
	m.CloseAll()
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}
