package settings

import (
	"context"
	"strings"
)

// FallbackStore serves an environment-provided credential whenever the stored
// one is empty. The fallback itself is never written back.
type FallbackStore struct {
	Store
	credential string
}

func WithFallbackCredential(store Store, credential string) Store {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return store
	}
	return &FallbackStore{Store: store, credential: credential}
}

func (s *FallbackStore) Load(ctx context.Context) (Profile, error) {
	p, err := s.Store.Load(ctx)
	if err != nil {
		return Profile{}, err
	}
	if strings.TrimSpace(p.Credential) == "" {
		p.Credential = s.credential
	}
	return p, nil
}

// Save drops the credential when it equals the fallback so clearing the
// stored value keeps following the environment.
func (s *FallbackStore) Save(ctx context.Context, p Profile) error {
	if p.Credential == s.credential {
		p.Credential = ""
	}
	return s.Store.Save(ctx, p)
}

// Unwrap returns the underlying store.
func (s *FallbackStore) Unwrap() Store { return s.Store }
