package settings

import (
	"context"
	"time"
)

// Profile holds the persona text and the API credential used for completions.
// An empty persona means "no persona" mode.
type Profile struct {
	Persona    string    `json:"persona" yaml:"persona"`
	Credential string    `json:"credential" yaml:"credential"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Store persists the profile across sessions.
type Store interface {
	Load(ctx context.Context) (Profile, error)
	Save(ctx context.Context, p Profile) error
	Close() error
}

const (
	keyPersona    = "persona"
	keyCredential = "credential"
)
