package externalcomponent

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/go-xmpp-component/logger"
	"github.com/cyberinferno/go-xmpp-component/stanza"
)

// Component is the packet processor wrapped by an ExternalComponent. The
// library delivers inbound stanzas to it and otherwise treats it as opaque.
type Component interface {
	// Name returns a short name for the component.
	Name() string

	// Description returns a human-readable description of the component.
	Description() string

	// Initialize is called once, before the connection is established, with
	// the component's JID and the manager it is registered with.
	//
	// Parameters:
	//   - jid: The address this component will serve
	//   - manager: The manager the component may use for secrets and logging
	//
	// Returns:
	//   - An error if the component cannot be set up
	Initialize(jid *stanza.JID, manager ComponentManager) error

	// ProcessPacket handles one inbound stanza. It is invoked on a worker
	// goroutine with no ordering guarantee relative to other packets, and may
	// block arbitrarily without stalling the connection's reader.
	//
	// Parameters:
	//   - packet: The received stanza
	ProcessPacket(packet *stanza.Element)

	// Shutdown is called when the component is deregistered.
	Shutdown()
}

// ComponentManager supplies the per-subdomain shared secret, a log sink, and
// deregistration for a connection session.
type ComponentManager interface {
	// GetSecretKey returns the shared secret used to authenticate the given
	// subdomain during the handshake.
	//
	// Parameters:
	//   - subdomain: The subdomain being authenticated
	//
	// Returns:
	//   - The shared secret, or an error if none is configured
	GetSecretKey(subdomain string) (string, error)

	// RemoveComponent deregisters the component serving the given subdomain.
	// A session calls this after an unrecoverable write failure.
	//
	// Parameters:
	//   - subdomain: The subdomain to deregister
	//
	// Returns:
	//   - An error if deregistration fails
	RemoveComponent(subdomain string) error

	// Log returns the manager's logger.
	Log() logger.Logger
}

// Dialer opens the transport to the server. Implementations decide how the
// connection is established and wrapped, which is how plain TCP and TLS
// variants plug in.
type Dialer interface {
	// Dial opens a connection to host:port.
	//
	// Parameters:
	//   - host: The server host
	//   - port: The server port
	//
	// Returns:
	//   - The open connection, or an error if it could not be established
	Dial(host string, port int) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(host string, port int) (net.Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(host string, port int) (net.Conn, error) {
	return f(host, port)
}

// NewTCPDialer returns a Dialer that opens plain TCP connections with the
// given connect timeout. A timeout of 0 means no timeout.
//
// Parameters:
//   - timeout: Maximum duration for establishing a connection
//
// Returns:
//   - A Dialer for plain TCP
func NewTCPDialer(timeout time.Duration) Dialer {
	return DialerFunc(func(host string, port int) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		return d.Dial("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	})
}

// NewTLSDialer returns a Dialer that opens TLS-wrapped TCP connections with
// the given TLS configuration and connect timeout.
//
// Parameters:
//   - config: TLS settings; nil uses the defaults with the host as ServerName
//   - timeout: Maximum duration for establishing a connection
//
// Returns:
//   - A Dialer for TLS over TCP
func NewTLSDialer(config *tls.Config, timeout time.Duration) Dialer {
	return DialerFunc(func(host string, port int) (net.Conn, error) {
		d := &net.Dialer{Timeout: timeout}
		return tls.DialWithDialer(d, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), config)
	})
}
