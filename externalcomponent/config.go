package externalcomponent

import (
	"time"

	"github.com/cyberinferno/go-xmpp-component/packetdispatcher"
)

// Config holds tunables for an ExternalComponent session.
type Config struct {
	// MaxWorkers is the maximum number of goroutines processing inbound
	// packets concurrently. Values <= 0 fall back to the dispatcher default (25).
	MaxWorkers int
	// IdleWorkerTimeout is how long surplus packet workers linger before
	// retiring. Values <= 0 fall back to the dispatcher default (15s).
	IdleWorkerTimeout time.Duration
	// ReconnectInterval is the fixed delay between reconnection attempts
	// after an unexpected connection loss. Values <= 0 fall back to 5s.
	ReconnectInterval time.Duration
}

// DefaultConfig returns a Config with the default worker bound (25), idle
// worker timeout (15s), and reconnect interval (5s).
func DefaultConfig() Config {
	return Config{
		MaxWorkers:        packetdispatcher.DefaultMaxWorkers,
		IdleWorkerTimeout: packetdispatcher.DefaultIdleWorkerTimeout,
		ReconnectInterval: DefaultReconnectInterval,
	}
}

// DefaultReconnectInterval is the default fixed delay between reconnection
// attempts.
const DefaultReconnectInterval = 5 * time.Second
