package stanza

import (
	"fmt"
	"strings"
)

// JID is an XMPP address of the form node@domain/resource. For an external
// component the identity is usually a bare domain JID, e.g. "search.example.com".
type JID struct {
	Node     string
	Domain   string
	Resource string
}

// NewJID creates a JID with just a domain, the usual form for a component identity.
//
// Parameters:
//   - domain: The domain part (e.g. "search.example.com")
//
// Returns:
//   - A new *JID with empty node and resource
func NewJID(domain string) *JID {
	return &JID{Domain: domain}
}

// ParseJID parses a JID string of the form [node@]domain[/resource].
//
// Parameters:
//   - s: The JID text to parse
//
// Returns:
//   - The parsed *JID, or an error if the domain part is empty
func ParseJID(s string) (*JID, error) {
	j := &JID{}

	rest := s
	if i := strings.Index(rest, "/"); i >= 0 {
		j.Resource = rest[i+1:]
		rest = rest[:i]
	}

	if i := strings.Index(rest, "@"); i >= 0 {
		j.Node = rest[:i]
		rest = rest[i+1:]
	}

	if rest == "" {
		return nil, fmt.Errorf("jid %q has no domain", s)
	}

	j.Domain = rest
	return j, nil
}

// Bare returns the JID without its resource part.
func (j *JID) Bare() string {
	if j.Node == "" {
		return j.Domain
	}

	return j.Node + "@" + j.Domain
}

// String returns the full JID text.
func (j *JID) String() string {
	s := j.Bare()
	if j.Resource != "" {
		s += "/" + j.Resource
	}

	return s
}
