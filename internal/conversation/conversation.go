package conversation

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Turn is one message in the conversation. Turns are never edited once appended.
type Turn struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

// Message is the role/content pair sent to the completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	GreetingWithPersona = "Hello! 👋 I'm Alex. I can answer questions about the person you've configured. How can I help you today?"
	GreetingNoPersona   = "Hello! 👋 I'm Alex. I'm ready to chat! You can configure person details in settings if you'd like me to answer questions about a specific person."
)

var ErrConversationStarted = errors.New("conversation already started")

// GreetingFor picks the opening line for the configured persona.
func GreetingFor(persona string) string {
	if strings.TrimSpace(persona) == "" {
		return GreetingNoPersona
	}
	return GreetingWithPersona
}

// Conversation is an append-only, insertion-ordered list of turns.
// It starts with a synthetic greeting that is never sent to the model.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
	now   func() time.Time
}

func New(greeting string) *Conversation {
	c := &Conversation{now: time.Now}
	c.turns = append(c.turns, Turn{
		ID:        uuid.NewString(),
		Text:      greeting,
		Sender:    SenderAssistant,
		Timestamp: c.now().UTC(),
		Synthetic: true,
	})
	return c
}

func (c *Conversation) Append(sender Sender, text string) Turn {
	t := Turn{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		Timestamp: c.now().UTC(),
	}
	c.mu.Lock()
	c.turns = append(c.turns, t)
	c.mu.Unlock()
	return t
}

// Turns returns a copy of every turn, greeting included.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// History converts the live turn list into model messages, skipping synthetic turns.
func (c *Conversation) History() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Synthetic {
			continue
		}
		role := "assistant"
		if t.Sender == SenderUser {
			role = "user"
		}
		out = append(out, Message{Role: role, Content: t.Text})
	}
	return out
}

// OnlyGreeting reports whether the user has not chatted yet.
func (c *Conversation) OnlyGreeting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns) == 1 && c.turns[0].Synthetic
}

// ReplaceGreeting swaps the greeting text while no other turn exists.
func (c *Conversation) ReplaceGreeting(text string) (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) != 1 || !c.turns[0].Synthetic {
		return Turn{}, ErrConversationStarted
	}
	g := c.turns[0]
	g.Text = text
	g.Timestamp = c.now().UTC()
	c.turns[0] = g
	return g, nil
}
