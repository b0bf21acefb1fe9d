package completion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/alex/internal/reliability"
)

// Kind classifies a completion failure.
type Kind string

const (
	KindAuth          Kind = "auth_error"
	KindNetwork       Kind = "network_error"
	KindAPI           Kind = "api_error"
	KindEmptyResponse Kind = "empty_response_error"
)

// Error is returned by every Gateway failure.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	case e.Status > 0:
		return fmt.Sprintf("API error: %d", e.Status)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable is a hint for the UI; nothing retries automatically.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindAPI:
		return reliability.IsRetryableStatus(e.Status)
	default:
		return false
	}
}

// KindOf returns the failure kind of err, or "" when err is not a gateway error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// UserMessage renders a failure as the text of a visible assistant turn.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	reason := strings.TrimSpace(err.Error())
	var ce *Error
	if errors.As(err, &ce) {
		switch ce.Kind {
		case KindAuth:
			if reason == "" {
				reason = "authentication failed"
			}
			return fmt.Sprintf("Sorry, I couldn't authenticate with the AI service (%s). Please check your API key in settings and try again.", strings.TrimSuffix(reason, "."))
		case KindNetwork:
			return fmt.Sprintf("Sorry, I couldn't reach the AI service%s. Please check your internet connection and try again.", parenthesize(reason, ce.Kind))
		case KindEmptyResponse:
			return fmt.Sprintf("Sorry, the AI service returned an empty response%s. Please try again.", parenthesize(reason, ce.Kind))
		}
	}
	if reason == "" {
		reason = "Unknown error"
	}
	return fmt.Sprintf("Sorry, I encountered an error: %s. Please check your API key and try again.", strings.TrimSuffix(reason, "."))
}

// parenthesize returns " (reason)", or "" when the reason says no more than the kind.
func parenthesize(reason string, kind Kind) string {
	reason = strings.TrimSuffix(reason, ".")
	if reason == "" || reason == string(kind) {
		return ""
	}
	return " (" + reason + ")"
}
