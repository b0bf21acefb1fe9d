package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/alex/internal/assistant"
	"github.com/ent0n29/alex/internal/speech"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is one live widget conversation. Nothing about it outlives the process.
type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	Assistant *assistant.Orchestrator `json:"-"`
	Bridge    *speech.Bridge          `json:"-"`
}

// Runtime is what a Builder produces for a new session id.
type Runtime struct {
	Assistant *assistant.Orchestrator
	Bridge    *speech.Bridge
}

type Builder func(sessionID string) Runtime

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)

	releases sync.WaitGroup
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(build Builder) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if build != nil {
		rt := build(s.ID)
		s.Assistant, s.Bridge = rt.Assistant, rt.Bridge
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End marks the session ended and releases its runtime. The assistant stops
// taking input before End returns; a pending reply drains in the background.
// Ending twice is a no-op.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	wasActive := s.Status == StatusActive
	s.Status = StatusEnded
	s.LastActivityAt = time.Now().UTC()
	out := clone(s)
	m.mu.Unlock()

	if wasActive {
		m.release(out)
	}
	return out, nil
}

// Active returns the live sessions.
func (m *Manager) Active() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			out = append(out, clone(s))
		}
	}
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// Run expires idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.expireInactive()
		}
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() { _ = m.Run(ctx, interval) }()
}

// CloseAll ends every live session and waits for all runtimes to be released.
func (m *Manager) CloseAll() {
	for _, s := range m.Active() {
		_, _ = m.End(s.ID)
	}
	m.Wait()
}

// Wait blocks until every ended session's runtime has been released.
func (m *Manager) Wait() {
	m.releases.Wait()
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		idle := now.Sub(s.LastActivityAt)
		if s.Status == StatusEnded {
			// Ended sessions stay visible for one timeout window, then go.
			if idle >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if idle < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, s := range expired {
		m.release(s)
		if hook != nil {
			hook(s)
		}
	}
}

func (m *Manager) release(s *Session) {
	if s.Assistant != nil {
		s.Assistant.Shutdown()
	}
	m.releases.Add(1)
	go func() {
		defer m.releases.Done()
		if s.Assistant != nil {
			s.Assistant.Close()
		}
		if s.Bridge != nil {
			_ = s.Bridge.Close()
		}
	}()
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
