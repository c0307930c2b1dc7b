package stanza

// StreamError is the payload of a stream-level <error> element sent by the
// server, typically in reply to a failed handshake. It terminates the XML
// stream and is distinct from application-level stanza errors.
type StreamError struct {
	// Condition is the defined error condition, taken from the first child
	// element (e.g. "not-authorized", "host-unknown").
	Condition string
	// Text is the optional human-readable description from the <text> child.
	Text string
	// Element is the raw <error> element as received.
	Element *Element
}

// NewStreamError builds a StreamError from a received <error> element.
//
// Parameters:
//   - el: The stream-level error element
//
// Returns:
//   - A *StreamError with the condition and text extracted
func NewStreamError(el *Element) *StreamError {
	se := &StreamError{Element: el}

	for _, c := range el.Children {
		if c.Name == "text" {
			se.Text = c.Text
			continue
		}

		if se.Condition == "" {
			se.Condition = c.Name
		}
	}

	return se
}

// Error implements the error interface.
func (se *StreamError) Error() string {
	if se.Condition == "" {
		return "stream error"
	}

	if se.Text != "" {
		return "stream error: " + se.Condition + " (" + se.Text + ")"
	}

	return "stream error: " + se.Condition
}
