package externalcomponent

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/cyberinferno/go-xmpp-component/stanza"
)

// StreamProtocolError is returned by Connect when the server rejects the
// handshake with a stream-level <error> element. It distinguishes a protocol
// rejection from plain transport or parse failures.
type StreamProtocolError struct {
	StreamError *stanza.StreamError
}

// Error implements the error interface.
func (e *StreamProtocolError) Error() string {
	return "handshake rejected: " + e.StreamError.Error()
}

// Unwrap exposes the underlying stream error for errors.As chains.
func (e *StreamProtocolError) Unwrap() error {
	return e.StreamError
}

// handshakeDigest computes the XEP-0114 handshake body: the lowercase hex
// SHA-1 of the stream id concatenated with the shared secret.
func handshakeDigest(streamID, secret string) string {
	sum := sha1.Sum([]byte(streamID + secret))
	return hex.EncodeToString(sum[:])
}

// handshakeElement builds the <handshake>digest</handshake> element sent to
// authenticate the component.
func handshakeElement(streamID, secret string) *stanza.Element {
	return stanza.New("handshake").SetText(handshakeDigest(streamID, secret))
}
