// Package streamcodec translates between stanza elements and the XML byte
// stream of a single XMPP component connection. A Codec is bound to exactly
// one connection; on reconnect the old codec is discarded and a new one is
// created for the new connection.
package streamcodec

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/go-xmpp-component/stanza"
)

const (
	// NamespaceComponentAccept is the default namespace of an accepted
	// external component stream (XEP-0114).
	NamespaceComponentAccept = "jabber:component:accept"
	// NamespaceStream is the XMPP streams namespace.
	NamespaceStream = "http://etherx.jabber.org/streams"
)

// StreamHeader holds the attributes of the server's opening stream tag.
type StreamHeader struct {
	// ID is the server-issued stream identifier, used as the handshake salt.
	ID string
	// From is the server-confirmed subdomain; empty if the server did not echo one.
	From string
}

// Codec reads and writes XML on one component connection. The read side is a
// pull decoder producing one complete top-level element per ReadElement call;
// the write side serializes and flushes whole elements. Writes are not
// internally synchronized; callers must serialize them (the connection
// session's writer lock does this).
type Codec struct {
	dec *xml.Decoder
	w   *bufio.Writer
}

// New creates a Codec bound to the given connection's byte streams.
//
// Parameters:
//   - rw: The connection; reads and writes go directly to it
//
// Returns:
//   - A new *Codec; it must not be shared across connections
func New(rw io.ReadWriter) *Codec {
	// The decoder stays in strict mode: malformed XML on the stream must
	// surface as a parse error, never as a silently repaired element.
	return &Codec{
		dec: xml.NewDecoder(bufio.NewReader(rw)),
		w:   bufio.NewWriter(rw),
	}
}

// OpenStream writes the opening <stream:stream> tag for the given subdomain
// and flushes. The tag is deliberately left unclosed; the stream stays open
// for the lifetime of the connection.
//
// Parameters:
//   - subdomain: The subdomain this component intends to serve
//
// Returns:
//   - An error if the write fails
func (c *Codec) OpenStream(subdomain string) error {
	if _, err := io.WriteString(c.w, `<stream:stream xmlns="`+NamespaceComponentAccept+
		`" xmlns:stream="`+NamespaceStream+`" to="`); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if err := xml.EscapeText(c.w, []byte(subdomain)); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if _, err := io.WriteString(c.w, `">`); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	return nil
}

// ReadStreamHeader consumes raw parser tokens until the first start element,
// which is the server's opened stream tag, and returns its id and from
// attributes. It is used once per connection, during the handshake; the
// stream element is not pushed onto the decoder's logical stanza stack, so
// subsequent ReadElement calls see its children as top-level elements.
//
// Returns:
//   - The stream header, or an error if the stream ends or is malformed
func (c *Codec) ReadStreamHeader() (StreamHeader, error) {
	var hdr StreamHeader

	for {
		tok, err := c.dec.Token()
		if err != nil {
			return hdr, fmt.Errorf("read stream header: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		for _, a := range se.Attr {
			switch a.Name.Local {
			case "id":
				hdr.ID = a.Value
			case "from":
				hdr.From = a.Value
			}
		}

		return hdr, nil
	}
}

// ReadElement blocks until one complete top-level element (stanza, handshake
// reply, or stream-level error) has been read, and returns it.
//
// Returns:
//   - (element, nil) for each complete element
//   - (nil, io.EOF) on a clean </stream:stream> close or connection EOF
//   - (nil, err) on an XML syntax error or read failure
func (c *Codec) ReadElement() (*stanza.Element, error) {
	var stack []*stanza.Element

	for {
		tok, err := c.dec.Token()
		if err != nil {
			// The stream element stays open for the connection's lifetime,
			// so a dropped connection surfaces as an unexpected EOF. Between
			// stanzas that is a connection loss, not malformed XML.
			if len(stack) == 0 && isStreamCut(err) {
				return nil, io.EOF
			}
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := stanza.FromStart(t)
			if len(stack) > 0 {
				stack[len(stack)-1].AddChild(el)
			}
			stack = append(stack, el)

		case xml.EndElement:
			if len(stack) == 0 {
				// </stream:stream>: the server closed the stream.
				return nil, io.EOF
			}

			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return top, nil
			}

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}

		default:
			// ProcInst, Comment, Directive: not part of any stanza.
		}
	}
}

// WriteElement serializes one element subtree to the wire and flushes.
// The caller must hold the session's writer lock; a failure here is fatal to
// the connection.
//
// Parameters:
//   - el: The element to write
//
// Returns:
//   - An error if serialization or the flush fails
func (c *Codec) WriteElement(el *stanza.Element) error {
	if err := el.WriteInNamespace(c.w, NamespaceComponentAccept); err != nil {
		return fmt.Errorf("write element: %w", err)
	}

	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("write element: %w", err)
	}

	return nil
}

// isStreamCut reports whether err is the decoder's way of saying the byte
// stream ended while the stream element was still open. The decoder does not
// wrap io.EOF in that case, so the syntax error message is matched directly.
func isStreamCut(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var syntaxErr *xml.SyntaxError
	return errors.As(err, &syntaxErr) && syntaxErr.Msg == "unexpected EOF"
}

// CloseStream writes the closing </stream:stream> tag on a best-effort basis.
// Write failures are swallowed; the connection is being torn down anyway.
func (c *Codec) CloseStream() {
	_, _ = io.WriteString(c.w, "</stream:stream>")
	_ = c.w.Flush()
}
