package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockGateway provides deterministic local replies when no remote endpoint is wanted.
type MockGateway struct{}

func NewMockGateway() *MockGateway { return &MockGateway{} }

func (g *MockGateway) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", &Error{Kind: KindNetwork, Err: ctx.Err()}
	default:
	}
	return buildMockReply(req), nil
}

func buildMockReply(req Request) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		last = "nothing yet"
	}
	if name := PersonaName(req.Persona); name != "" {
		return fmt.Sprintf("I heard you: %s\nI know a little about %s.", last, name)
	}
	return fmt.Sprintf("I heard you: %s", last)
}
