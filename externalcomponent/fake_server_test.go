package externalcomponent

import (
	"encoding/xml"
	"fmt"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal in-process XEP-0114 server: it accepts component
// connections, answers the stream open, validates nothing, and hands each
// authenticated connection to the test.
type fakeServer struct {
	t        *testing.T
	ln       net.Listener
	streamID string
	from     string

	rejects  atomic.Int32 // upcoming connections to drop before the handshake
	denyAuth atomic.Bool  // answer the handshake with a stream error
	accepted atomic.Int32

	conns   chan *serverConn
	digests chan string
}

// serverConn is one authenticated server-side connection.
type serverConn struct {
	net.Conn
	dec *xml.Decoder
}

func newFakeServer(t *testing.T, streamID, from string) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		t:        t,
		ln:       ln,
		streamID: streamID,
		from:     from,
		conns:    make(chan *serverConn, 16),
		digests:  make(chan string, 16),
	}

	go s.acceptLoop()
	t.Cleanup(func() { _ = ln.Close() })

	return s
}

func (s *fakeServer) hostPort() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// rejectNext makes the server drop the next n connections right after accept,
// simulating connection-establishment failures during reconnection.
func (s *fakeServer) rejectNext(n int32) {
	s.rejects.Store(n)
}

func (s *fakeServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.accepted.Add(1)
		if s.rejects.Load() > 0 {
			s.rejects.Add(-1)
			_ = conn.Close()
			continue
		}

		go s.serve(conn)
	}
}

// serve runs the server side of the handshake: read the client's stream open,
// answer with our stream header, read the <handshake> digest, acknowledge it.
func (s *fakeServer) serve(conn net.Conn) {
	dec := xml.NewDecoder(conn)

	if _, ok := nextStart(dec); !ok {
		_ = conn.Close()
		return
	}

	hdr := fmt.Sprintf(`<stream:stream xmlns="jabber:component:accept" `+
		`xmlns:stream="http://etherx.jabber.org/streams" id=%q`, s.streamID)
	if s.from != "" {
		hdr += fmt.Sprintf(` from=%q`, s.from)
	}
	hdr += ">"

	if _, err := conn.Write([]byte(hdr)); err != nil {
		_ = conn.Close()
		return
	}

	if _, ok := nextStart(dec); !ok {
		_ = conn.Close()
		return
	}

	digest := collectText(dec)
	select {
	case s.digests <- digest:
	default:
	}

	if s.denyAuth.Load() {
		_, _ = conn.Write([]byte("<stream:error><not-authorized/></stream:error></stream:stream>"))
		_ = conn.Close()
		return
	}

	if _, err := conn.Write([]byte("<handshake/>")); err != nil {
		_ = conn.Close()
		return
	}

	s.conns <- &serverConn{Conn: conn, dec: dec}
}

// nextStart consumes tokens until the next start element.
func nextStart(dec *xml.Decoder) (xml.StartElement, bool) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, false
		}

		if se, ok := tok.(xml.StartElement); ok {
			return se, true
		}
	}
}

// collectText gathers character data until the current element ends.
func collectText(dec *xml.Decoder) string {
	var text string
	for {
		tok, err := dec.Token()
		if err != nil {
			return text
		}

		switch t := tok.(type) {
		case xml.CharData:
			text += string(t)
		case xml.EndElement:
			return text
		}
	}
}
