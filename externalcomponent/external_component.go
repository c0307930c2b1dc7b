// Package externalcomponent implements the client side of the XMPP external
// component protocol (XEP-0114). An ExternalComponent wraps a packet
// processor, connects it to an XMPP server over a dedicated connection,
// authenticates with the shared-secret handshake, and keeps the binding alive
// through unattended reconnection on connection loss.
package externalcomponent

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-xmpp-component/logger"
	"github.com/cyberinferno/go-xmpp-component/packetdispatcher"
	"github.com/cyberinferno/go-xmpp-component/stanza"
	"github.com/cyberinferno/go-xmpp-component/streamcodec"
)

// ErrNotConnected is returned by Send when the session has no live transport.
var ErrNotConnected = errors.New("component is not connected")

// errShutdown is returned by Connect when a shutdown was requested before or
// during the attempt.
var errShutdown = errors.New("component is shut down")

// State represents the session's position in its connection lifecycle.
type State int

const (
	StateDisconnected State = iota // Created but never successfully connected
	StateStable                    // Connected and authenticated
	StateReconnecting              // Connection lost; retrying indefinitely
	StateShutdown                  // Explicitly shut down; terminal
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateStable:
		return "Stable"
	case StateReconnecting:
		return "Reconnecting"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// ExternalComponent binds a Component to an XMPP server. It owns the socket,
// the stream codec, the background reader goroutine, and the packet
// dispatcher, and exposes the send/receive and shutdown operations the rest
// of the system depends on.
//
// At most one live transport and one live reader exist at any time; both are
// replaced wholesale on reconnection. The writer lock is tied to a transport
// generation and never reused across reconnects.
type ExternalComponent struct {
	component Component
	manager   ComponentManager
	config    Config
	log       logger.Logger

	dispatcher *packetdispatcher.Dispatcher[*stanza.Element]

	mu           sync.RWMutex
	state        State
	shuttingDown bool
	conn         net.Conn
	codec        *streamcodec.Codec
	writeMu      *sync.Mutex
	generation   uint64
	connectionID string
	subdomain    string

	// Connection parameters remembered for reconnection.
	host              string
	port              int
	dialer            Dialer
	intendedSubdomain string

	stop chan struct{}
}

// New wraps a Component in an ExternalComponent bound to the given manager.
// The component starts disconnected; call Connect to establish the binding.
//
// Parameters:
//   - component: The packet processor to wrap
//   - manager: Supplies the shared secret, log sink, and deregistration
//   - config: Session tunables (e.g. from DefaultConfig)
//
// Returns:
//   - A new *ExternalComponent ready for Connect
func New(component Component, manager ComponentManager, config Config) *ExternalComponent {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = DefaultReconnectInterval
	}

	log := manager.Log()
	if log == nil {
		log = logger.NewNopLogger()
	}

	c := &ExternalComponent{
		component: component,
		manager:   manager,
		config:    config,
		log:       log.With(logger.Field{Key: "component", Value: component.Name()}),
		state:     StateDisconnected,
		stop:      make(chan struct{}),
	}

	c.dispatcher = packetdispatcher.New(packetdispatcher.Config{
		MaxWorkers:        config.MaxWorkers,
		IdleWorkerTimeout: config.IdleWorkerTimeout,
	}, component.ProcessPacket)

	return c
}

// Name returns the wrapped component's name.
func (c *ExternalComponent) Name() string { return c.component.Name() }

// Description returns the wrapped component's description.
func (c *ExternalComponent) Description() string { return c.component.Description() }

// Component returns the wrapped packet processor.
func (c *ExternalComponent) Component() Component { return c.component }

// ConnectionID returns the stream id assigned by the server on the current
// connection, or "" if the session has never connected.
func (c *ExternalComponent) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionID
}

// Subdomain returns the negotiated subdomain: the one confirmed by the server
// during the handshake, or the intended subdomain if the server did not echo
// one. Before the first connection it is "".
func (c *ExternalComponent) Subdomain() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subdomain
}

// State returns the session's current lifecycle state.
func (c *ExternalComponent) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Initialize forwards the one-time setup call to the wrapped component.
func (c *ExternalComponent) Initialize(jid *stanza.JID, manager ComponentManager) error {
	return c.component.Initialize(jid, manager)
}

// Connect establishes and authenticates a connection to the server, then
// starts the background stream reader. On failure the session is left in its
// prior disconnected state with no half-open socket.
//
// A server rejection of the handshake surfaces as a *StreamProtocolError;
// transport and parse failures surface as wrapped I/O errors.
//
// Parameters:
//   - host: The server host
//   - port: The server port
//   - dialer: Opens the transport (plain TCP or TLS)
//   - subdomain: The subdomain this component will serve
//
// Returns:
//   - nil on success; otherwise the connection, protocol, or parse error
func (c *ExternalComponent) Connect(host string, port int, dialer Dialer, subdomain string) error {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return errShutdown
	}
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("component %s is already connected", subdomain)
	}
	c.mu.Unlock()

	conn, codec, hdr, negotiated, err := c.handshake(host, port, dialer, subdomain)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.shuttingDown {
		// A shutdown raced the connect; tear the fresh connection down.
		c.mu.Unlock()
		_ = conn.Close()
		return errShutdown
	}

	c.host = host
	c.port = port
	c.dialer = dialer
	c.intendedSubdomain = subdomain
	c.conn = conn
	c.codec = codec
	c.writeMu = &sync.Mutex{}
	c.connectionID = hdr.ID
	c.subdomain = negotiated
	c.generation++
	gen := c.generation
	c.state = StateStable
	c.mu.Unlock()

	go c.readLoop(codec, gen)

	c.log.Info("component connected",
		logger.Field{Key: "host", Value: host},
		logger.Field{Key: "port", Value: port},
		logger.Field{Key: "subdomain", Value: negotiated},
		logger.Field{Key: "stream_id", Value: hdr.ID})

	return nil
}

// handshake performs the one-shot protocol exchange that turns a bare socket
// into an authenticated streaming session. Any failure after the dial closes
// the transport before the error propagates.
func (c *ExternalComponent) handshake(host string, port int, dialer Dialer, subdomain string) (
	net.Conn, *streamcodec.Codec, streamcodec.StreamHeader, string, error) {

	var hdr streamcodec.StreamHeader

	conn, err := dialer.Dial(host, port)
	if err != nil {
		return nil, nil, hdr, "", fmt.Errorf("connect %s:%d: %w", host, port, err)
	}

	codec := streamcodec.New(conn)

	if err := codec.OpenStream(subdomain); err != nil {
		_ = conn.Close()
		return nil, nil, hdr, "", err
	}

	hdr, err = codec.ReadStreamHeader()
	if err != nil {
		_ = conn.Close()
		return nil, nil, hdr, "", err
	}

	secret, err := c.manager.GetSecretKey(subdomain)
	if err != nil {
		_ = conn.Close()
		return nil, nil, hdr, "", fmt.Errorf("secret for %s: %w", subdomain, err)
	}

	if err := codec.WriteElement(handshakeElement(hdr.ID, secret)); err != nil {
		_ = conn.Close()
		return nil, nil, hdr, "", err
	}

	reply, err := codec.ReadElement()
	if err != nil {
		_ = conn.Close()
		return nil, nil, hdr, "", fmt.Errorf("handshake reply: %w", err)
	}

	if reply.Name == "error" {
		_ = conn.Close()
		return nil, nil, hdr, "", &StreamProtocolError{StreamError: stanza.NewStreamError(reply)}
	}

	negotiated := subdomain
	if hdr.From != "" {
		negotiated = hdr.From
	}

	return conn, codec, hdr, negotiated, nil
}

// Send serializes and writes one stanza under the current transport
// generation's writer lock, so concurrent sends never interleave partial XML
// on the wire.
//
// A write failure is treated as an unrecoverable protocol violation: it is
// logged and followed by a deregistration request to the manager, and does
// not trigger reconnection.
//
// Parameters:
//   - packet: The stanza to send
//
// Returns:
//   - nil on success, ErrNotConnected without a live transport, or the write error
func (c *ExternalComponent) Send(packet *stanza.Element) error {
	c.mu.RLock()
	codec := c.codec
	writeMu := c.writeMu
	subdomain := c.subdomain
	c.mu.RUnlock()

	if codec == nil {
		return ErrNotConnected
	}

	writeMu.Lock()
	err := codec.WriteElement(packet)
	writeMu.Unlock()

	if err != nil {
		c.log.Error("packet write failed",
			logger.Field{Key: "subdomain", Value: subdomain},
			logger.Field{Key: "error", Value: err})

		if rmErr := c.manager.RemoveComponent(subdomain); rmErr != nil {
			c.log.Error("deregistration failed",
				logger.Field{Key: "subdomain", Value: subdomain},
				logger.Field{Key: "error", Value: rmErr})
		}

		return err
	}

	return nil
}

// ProcessPacket hands one inbound stanza to the dispatcher. It never blocks
// on a busy processor; packets submitted after shutdown are dropped.
//
// Parameters:
//   - packet: The received stanza
func (c *ExternalComponent) ProcessPacket(packet *stanza.Element) {
	if err := c.dispatcher.Submit(packet); err != nil {
		c.log.Debug("packet dropped", logger.Field{Key: "name", Value: packet.Name})
	}
}

// Shutdown permanently tears the session down: it stops the background
// reader, stops the dispatcher, writes the closing stream tag best-effort,
// and closes the transport. The dispatcher stop does not wait for in-flight
// packet processing, so Shutdown is safe to reach from a processor's own
// worker (as the write-failure deregistration path does). Idempotent.
func (c *ExternalComponent) Shutdown() {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return
	}
	c.shuttingDown = true
	c.state = StateShutdown
	subdomain := c.subdomain
	c.mu.Unlock()

	close(c.stop)
	c.dispatcher.Stop()
	c.teardownConnection(true)

	c.log.Info("component shut down", logger.Field{Key: "subdomain", Value: subdomain})
}

// teardownConnection detaches and closes the current transport, if any.
// Bumping the generation makes any reader still bound to the old transport
// exit silently instead of reporting a lost connection.
func (c *ExternalComponent) teardownConnection(closeStream bool) {
	c.mu.Lock()
	conn := c.conn
	codec := c.codec
	writeMu := c.writeMu
	c.conn = nil
	c.codec = nil
	c.writeMu = nil
	c.generation++
	c.mu.Unlock()

	if conn == nil {
		return
	}

	if closeStream && codec != nil {
		writeMu.Lock()
		codec.CloseStream()
		writeMu.Unlock()
	}

	_ = conn.Close()
}

// readLoop runs on its own goroutine for one transport generation. It parses
// inbound elements and feeds them to the dispatcher until the stream ends,
// then drives reconnection unless the end was caused by shutdown or by the
// transport being replaced underneath it.
func (c *ExternalComponent) readLoop(codec *streamcodec.Codec, gen uint64) {
	for {
		el, err := codec.ReadElement()
		if err != nil {
			c.mu.RLock()
			stale := gen != c.generation
			shuttingDown := c.shuttingDown
			c.mu.RUnlock()

			if stale || shuttingDown {
				return
			}

			if !errors.Is(err, io.EOF) {
				c.log.Warn("stream read failed", logger.Field{Key: "error", Value: err})
			}

			c.connectionLost()
			return
		}

		c.ProcessPacket(el)
	}
}

// connectionLost is the reconnection supervisor. It runs synchronously on the
// former reader goroutine, retrying the original connect parameters forever
// with a fixed delay between attempts, until success or shutdown. After a
// successful attempt it re-checks the shutdown flag and tears the fresh
// connection down if a shutdown raced the retry.
func (c *ExternalComponent) connectionLost() {
	c.mu.Lock()
	c.state = StateReconnecting
	host := c.host
	port := c.port
	dialer := c.dialer
	subdomain := c.intendedSubdomain
	c.mu.Unlock()

	c.teardownConnection(false)

	c.log.Warn("connection lost, reconnecting",
		logger.Field{Key: "host", Value: host},
		logger.Field{Key: "subdomain", Value: subdomain})

	for !c.isShuttingDown() {
		err := c.Connect(host, port, dialer, subdomain)
		if err == nil {
			if c.isShuttingDown() {
				c.teardownConnection(true)
			}
			return
		}

		if errors.Is(err, errShutdown) {
			return
		}

		c.log.Error("reconnect attempt failed",
			logger.Field{Key: "host", Value: host},
			logger.Field{Key: "port", Value: port},
			logger.Field{Key: "subdomain", Value: subdomain},
			logger.Field{Key: "error", Value: err})

		select {
		case <-c.stop:
			return
		case <-time.After(c.config.ReconnectInterval):
		}
	}
}

// isShuttingDown reports whether Shutdown has begun.
func (c *ExternalComponent) isShuttingDown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shuttingDown
}
