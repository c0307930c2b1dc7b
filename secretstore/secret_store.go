// Package secretstore provides sources for the per-subdomain shared secrets
// used during the component handshake. Deployments with a handful of
// components use a static in-process source; multi-tenant deployments can
// fetch secrets from Redis and wrap any source with a caching layer.
package secretstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no secret is configured for a subdomain.
var ErrNotFound = errors.New("secretstore: secret not found")

// Source supplies the shared secret for a subdomain.
type Source interface {
	// Secret returns the shared secret for the given subdomain.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - subdomain: The subdomain being authenticated
	//
	// Returns:
	//   - The secret, or ErrNotFound if none is configured
	Secret(ctx context.Context, subdomain string) (string, error)
}

// StaticSource is an in-process Source backed by a map. It is safe for
// concurrent use.
type StaticSource struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewStaticSource creates an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{secrets: make(map[string]string)}
}

// Set stores the secret for a subdomain, replacing any existing one.
//
// Parameters:
//   - subdomain: The subdomain the secret authenticates
//   - secret: The shared secret
func (s *StaticSource) Set(subdomain, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[subdomain] = secret
}

// Delete removes the secret for a subdomain, if present.
func (s *StaticSource) Delete(subdomain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, subdomain)
}

// Secret implements Source.
func (s *StaticSource) Secret(_ context.Context, subdomain string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, found := s.secrets[subdomain]
	if !found {
		return "", ErrNotFound
	}

	return secret, nil
}
