// Package componentmanager provides a ComponentManager implementation that
// registers external components against one XMPP server: it resolves
// per-subdomain shared secrets, wraps packet processors in connection
// sessions, and tears them down on deregistration.
package componentmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyberinferno/go-xmpp-component/externalcomponent"
	"github.com/cyberinferno/go-xmpp-component/logger"
	"github.com/cyberinferno/go-xmpp-component/secretstore"
	"github.com/cyberinferno/go-xmpp-component/stanza"
)

// DefaultSecretLookupTimeout bounds lookups against an external secret source.
const DefaultSecretLookupTimeout = 5 * time.Second

// Config holds configuration for a Manager.
type Config struct {
	// Host is the XMPP server host components connect to.
	Host string
	// Port is the component port of the server (conventionally 5275).
	Port int
	// Dialer opens transports for new sessions. Nil uses a plain TCP dialer
	// with a 10 second connect timeout.
	Dialer externalcomponent.Dialer
	// Logger is the sink for operational diagnostics. Nil discards logs.
	Logger logger.Logger
	// Secrets is an optional external secret source consulted after the
	// secrets registered with SetSecretKey.
	Secrets secretstore.Source
	// Session carries per-session tunables for the components this manager
	// creates. The zero value uses the session defaults.
	Session externalcomponent.Config
}

// Manager connects packet processors to one XMPP server, one session per
// subdomain. It implements externalcomponent.ComponentManager, so sessions it
// creates call back into it for secrets, logging, and deregistration after
// fatal write failures. Safe for concurrent use.
type Manager struct {
	host          string
	port          int
	dialer        externalcomponent.Dialer
	log           logger.Logger
	source        secretstore.Source
	static        *secretstore.StaticSource
	sessionConfig externalcomponent.Config

	mu            sync.RWMutex
	defaultSecret string
	hasDefault    bool
	components    map[string]*externalcomponent.ExternalComponent
}

// New creates a Manager for the server described by config.
//
// Parameters:
//   - config: Server address, dialer, logger, and secret sources
//
// Returns:
//   - A new *Manager with no components registered
func New(config Config) *Manager {
	dialer := config.Dialer
	if dialer == nil {
		dialer = externalcomponent.NewTCPDialer(10 * time.Second)
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Manager{
		host:          config.Host,
		port:          config.Port,
		dialer:        dialer,
		log:           log,
		source:        config.Secrets,
		static:        secretstore.NewStaticSource(),
		sessionConfig: config.Session,
		components:    make(map[string]*externalcomponent.ExternalComponent),
	}
}

// SetSecretKey registers the shared secret for a subdomain. Secrets set here
// take precedence over the external source and the default secret.
//
// Parameters:
//   - subdomain: The subdomain the secret authenticates
//   - secret: The shared secret
func (m *Manager) SetSecretKey(subdomain, secret string) {
	m.static.Set(subdomain, secret)
}

// SetDefaultSecretKey sets the secret used for subdomains that have no
// specific secret configured anywhere else.
func (m *Manager) SetDefaultSecretKey(secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultSecret = secret
	m.hasDefault = true
}

// GetSecretKey implements externalcomponent.ComponentManager. Resolution
// order: secrets registered with SetSecretKey, then the external source, then
// the default secret.
func (m *Manager) GetSecretKey(subdomain string) (string, error) {
	if secret, err := m.static.Secret(context.Background(), subdomain); err == nil {
		return secret, nil
	}

	if m.source != nil {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultSecretLookupTimeout)
		defer cancel()

		secret, err := m.source.Secret(ctx, subdomain)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, secretstore.ErrNotFound) {
			return "", fmt.Errorf("secret lookup for %s: %w", subdomain, err)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.hasDefault {
		return m.defaultSecret, nil
	}

	return "", fmt.Errorf("no secret configured for subdomain %s", subdomain)
}

// Log implements externalcomponent.ComponentManager.
func (m *Manager) Log() logger.Logger {
	return m.log
}

// AddComponent wraps the given packet processor in a connection session,
// initializes it with its JID, and connects it to the server under the given
// subdomain.
//
// Parameters:
//   - subdomain: The subdomain the component will serve
//   - component: The packet processor
//
// Returns:
//   - An error if the subdomain is already registered, or if initialization
//     or the connection handshake fails
func (m *Manager) AddComponent(subdomain string, component externalcomponent.Component) error {
	ext := externalcomponent.New(component, m, m.sessionConfig)

	// Reserve the subdomain before connecting, so a concurrent add for the
	// same subdomain fails here instead of overwriting a live session.
	m.mu.Lock()
	if _, exists := m.components[subdomain]; exists {
		m.mu.Unlock()
		ext.Shutdown()
		return fmt.Errorf("subdomain %s is already registered", subdomain)
	}
	m.components[subdomain] = ext
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		if m.components[subdomain] == ext {
			delete(m.components, subdomain)
		}
		m.mu.Unlock()
	}

	if err := ext.Initialize(stanza.NewJID(subdomain), m); err != nil {
		release()
		ext.Shutdown()
		return fmt.Errorf("initialize component for %s: %w", subdomain, err)
	}

	if err := ext.Connect(m.host, m.port, m.dialer, subdomain); err != nil {
		release()
		ext.Shutdown()
		return err
	}

	m.log.Info("component registered",
		logger.Field{Key: "subdomain", Value: ext.Subdomain()},
		logger.Field{Key: "name", Value: component.Name()})

	return nil
}

// Component returns the session registered for a subdomain, if any.
//
// Parameters:
//   - subdomain: The subdomain to look up (intended or server-confirmed)
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (m *Manager) Component(subdomain string) (*externalcomponent.ExternalComponent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(subdomain)
}

// lookup finds a session by registered subdomain, falling back to the
// server-confirmed subdomain when they differ. Caller must hold m.mu.
func (m *Manager) lookup(subdomain string) (*externalcomponent.ExternalComponent, bool) {
	if ext, found := m.components[subdomain]; found {
		return ext, true
	}

	for _, ext := range m.components {
		if ext.Subdomain() == subdomain {
			return ext, true
		}
	}

	return nil, false
}

// RemoveComponent implements externalcomponent.ComponentManager. It shuts the
// session down, notifies the wrapped processor, and forgets the registration.
// Removing an unknown subdomain is a no-op.
func (m *Manager) RemoveComponent(subdomain string) error {
	m.mu.Lock()
	ext, found := m.lookup(subdomain)
	if found {
		delete(m.components, subdomain)
		// The registration key may be the intended subdomain while the
		// caller passed the server-confirmed one.
		for key, v := range m.components {
			if v == ext {
				delete(m.components, key)
			}
		}
	}
	m.mu.Unlock()

	if !found {
		return nil
	}

	ext.Shutdown()
	ext.Component().Shutdown()

	m.log.Info("component deregistered", logger.Field{Key: "subdomain", Value: subdomain})
	return nil
}

// Close deregisters every component this manager created.
func (m *Manager) Close() {
	m.mu.Lock()
	components := m.components
	m.components = make(map[string]*externalcomponent.ExternalComponent)
	m.mu.Unlock()

	for _, ext := range components {
		ext.Shutdown()
		ext.Component().Shutdown()
	}
}
