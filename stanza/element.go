// Package stanza provides the XML element model used on an XMPP component
// stream: a lightweight element tree, XMPP addresses (JIDs), and the
// stream-level error payload.
package stanza

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Attr is a single XML attribute on an Element.
type Attr struct {
	Name  string
	Value string
}

// Element is one parsed XML element: a stanza, a handshake reply, or any
// other top-level child of the component stream. Elements form a tree via
// Children. Namespace declarations (xmlns attributes) are not kept as
// attributes; the resolved namespace of the element itself is in Space.
type Element struct {
	Name     string
	Space    string
	Attrs    []Attr
	Text     string
	Children []*Element
}

// New creates an Element with the given local name and no attributes or children.
//
// Parameters:
//   - name: The element's local name (e.g. "message")
//
// Returns:
//   - A new empty *Element
func New(name string) *Element {
	return &Element{Name: name}
}

// Attr returns the value of the named attribute, or "" if it is not present.
//
// Parameters:
//   - name: The attribute's local name
//
// Returns:
//   - The attribute value, or "" if the element has no such attribute
func (e *Element) Attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value
		}
	}

	return ""
}

// SetAttr sets the named attribute, replacing any existing value.
// It returns the element to allow chained construction.
//
// Parameters:
//   - name: The attribute's local name
//   - value: The attribute value
//
// Returns:
//   - The element itself
func (e *Element) SetAttr(name, value string) *Element {
	for i, a := range e.Attrs {
		if a.Name == name {
			e.Attrs[i].Value = value
			return e
		}
	}

	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
	return e
}

// SetText replaces the element's character data and returns the element.
func (e *Element) SetText(text string) *Element {
	e.Text = text
	return e
}

// AddChild appends a child element and returns the parent.
func (e *Element) AddChild(child *Element) *Element {
	e.Children = append(e.Children, child)
	return e
}

// Child returns the first child with the given local name, or nil.
//
// Parameters:
//   - name: The child element's local name
//
// Returns:
//   - The first matching child, or nil if none exists
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}

	return nil
}

// WriteTo serializes the element subtree as XML to w. Attribute values and
// character data are escaped; child elements are written in order, with the
// element's text written before its children. An xmlns declaration is emitted
// wherever an element's Space differs from its parent's, so namespaced
// subtrees survive a parse and re-serialize round trip.
//
// Parameters:
//   - w: Destination writer
//
// Returns:
//   - An error if any write fails
func (e *Element) WriteTo(w io.Writer) error {
	return e.writeTo(w, "")
}

// WriteInNamespace serializes the subtree as a child of an element whose
// default namespace is defaultSpace, suppressing the xmlns declaration on any
// element that already lives in that namespace. The stream codec uses it to
// write stanzas into the component stream without restating the stream's own
// namespace on every stanza.
//
// Parameters:
//   - w: Destination writer
//   - defaultSpace: The default namespace inherited from the enclosing element
//
// Returns:
//   - An error if any write fails
func (e *Element) WriteInNamespace(w io.Writer, defaultSpace string) error {
	return e.writeTo(w, defaultSpace)
}

func (e *Element) writeTo(w io.Writer, parentSpace string) error {
	if _, err := fmt.Fprintf(w, "<%s", e.Name); err != nil {
		return err
	}

	// An empty Space means the element declares nothing and inherits the
	// default namespace in effect.
	inherited := parentSpace
	if e.Space != "" {
		inherited = e.Space
		if e.Space != parentSpace {
			if _, err := io.WriteString(w, ` xmlns="`); err != nil {
				return err
			}
			if err := xml.EscapeText(w, []byte(e.Space)); err != nil {
				return err
			}
			if _, err := io.WriteString(w, `"`); err != nil {
				return err
			}
		}
	}

	for _, a := range e.Attrs {
		if _, err := io.WriteString(w, " "+a.Name+`="`); err != nil {
			return err
		}
		if err := xml.EscapeText(w, []byte(a.Value)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `"`); err != nil {
			return err
		}
	}

	if e.Text == "" && len(e.Children) == 0 {
		_, err := io.WriteString(w, "/>")
		return err
	}

	if _, err := io.WriteString(w, ">"); err != nil {
		return err
	}

	if e.Text != "" {
		if err := xml.EscapeText(w, []byte(e.Text)); err != nil {
			return err
		}
	}

	for _, c := range e.Children {
		if err := c.writeTo(w, inherited); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "</"+e.Name+">")
	return err
}

// String returns the element serialized as XML.
func (e *Element) String() string {
	var sb strings.Builder
	_ = e.WriteTo(&sb)
	return sb.String()
}

// FromStart builds an Element from an encoding/xml start element, copying its
// attributes. Namespace declarations are dropped; the resolved namespace is
// stored in Space instead.
//
// Parameters:
//   - se: The start element token produced by an xml.Decoder
//
// Returns:
//   - A new *Element with no text or children
func FromStart(se xml.StartElement) *Element {
	el := &Element{
		Name:  se.Name.Local,
		Space: se.Name.Space,
	}

	for _, a := range se.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}

		el.Attrs = append(el.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
	}

	return el
}
