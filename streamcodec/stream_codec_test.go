package streamcodec

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-xmpp-component/stanza"
)

// readWriter glues a test reader and writer into the single connection the
// codec expects.
type readWriter struct {
	io.Reader
	io.Writer
}

func newTestCodec(inbound string) (*Codec, *bytes.Buffer) {
	var out bytes.Buffer
	c := New(readWriter{Reader: strings.NewReader(inbound), Writer: &out})
	return c, &out
}

const serverStreamHeader = `<stream:stream xmlns="jabber:component:accept" ` +
	`xmlns:stream="http://etherx.jabber.org/streams" id="conn51" from="echo.example.com">`

func TestOpenStream(t *testing.T) {
	t.Run("writes unclosed stream tag", func(t *testing.T) {
		c, out := newTestCodec("")
		require.NoError(t, c.OpenStream("echo.example.com"))

		s := out.String()
		assert.True(t, strings.HasPrefix(s, "<stream:stream "))
		assert.Contains(t, s, `xmlns="jabber:component:accept"`)
		assert.Contains(t, s, `xmlns:stream="http://etherx.jabber.org/streams"`)
		assert.Contains(t, s, `to="echo.example.com"`)
		assert.False(t, strings.Contains(s, "</stream:stream>"))
	})

	t.Run("escapes the subdomain", func(t *testing.T) {
		c, out := newTestCodec("")
		require.NoError(t, c.OpenStream(`a"b`))
		assert.NotContains(t, out.String(), `to="a"b"`)
	})
}

func TestReadStreamHeader(t *testing.T) {
	t.Run("returns id and from of server stream tag", func(t *testing.T) {
		c, _ := newTestCodec(serverStreamHeader)

		hdr, err := c.ReadStreamHeader()
		require.NoError(t, err)
		assert.Equal(t, "conn51", hdr.ID)
		assert.Equal(t, "echo.example.com", hdr.From)
	})

	t.Run("from is optional", func(t *testing.T) {
		c, _ := newTestCodec(`<stream:stream xmlns="jabber:component:accept" ` +
			`xmlns:stream="http://etherx.jabber.org/streams" id="abc">`)

		hdr, err := c.ReadStreamHeader()
		require.NoError(t, err)
		assert.Equal(t, "abc", hdr.ID)
		assert.Equal(t, "", hdr.From)
	})

	t.Run("skips the xml declaration", func(t *testing.T) {
		c, _ := newTestCodec(`<?xml version="1.0"?>` + serverStreamHeader)

		hdr, err := c.ReadStreamHeader()
		require.NoError(t, err)
		assert.Equal(t, "conn51", hdr.ID)
	})

	t.Run("fails on truncated stream", func(t *testing.T) {
		c, _ := newTestCodec(`<?xml version="1.0"?>`)
		_, err := c.ReadStreamHeader()
		assert.Error(t, err)
	})
}

func TestReadElement(t *testing.T) {
	t.Run("returns each top-level element", func(t *testing.T) {
		c, _ := newTestCodec(serverStreamHeader +
			`<message to="a@x"><body>hi</body></message><iq type="get"/>`)

		_, err := c.ReadStreamHeader()
		require.NoError(t, err)

		msg, err := c.ReadElement()
		require.NoError(t, err)
		assert.Equal(t, "message", msg.Name)
		require.NotNil(t, msg.Child("body"))
		assert.Equal(t, "hi", msg.Child("body").Text)

		iq, err := c.ReadElement()
		require.NoError(t, err)
		assert.Equal(t, "iq", iq.Name)
		assert.Equal(t, "get", iq.Attr("type"))
	})

	t.Run("clean stream close yields EOF", func(t *testing.T) {
		c, _ := newTestCodec(serverStreamHeader + `<message/></stream:stream>`)

		_, err := c.ReadStreamHeader()
		require.NoError(t, err)

		_, err = c.ReadElement()
		require.NoError(t, err)

		_, err = c.ReadElement()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("connection EOF yields EOF", func(t *testing.T) {
		c, _ := newTestCodec(serverStreamHeader)
		_, err := c.ReadStreamHeader()
		require.NoError(t, err)

		_, err = c.ReadElement()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("malformed xml yields a non-EOF error", func(t *testing.T) {
		c, _ := newTestCodec(serverStreamHeader + `<message><
		`)
		_, err := c.ReadStreamHeader()
		require.NoError(t, err)

		_, err = c.ReadElement()
		require.Error(t, err)
		assert.NotErrorIs(t, err, io.EOF)
	})

	t.Run("mismatched close tags yield a parse error", func(t *testing.T) {
		c, _ := newTestCodec(serverStreamHeader + `<message></iq>`)
		_, err := c.ReadStreamHeader()
		require.NoError(t, err)

		_, err = c.ReadElement()
		require.Error(t, err)
		assert.NotErrorIs(t, err, io.EOF)
	})

	t.Run("nested children are attached to their parent", func(t *testing.T) {
		c, _ := newTestCodec(serverStreamHeader +
			`<iq><query><item name="a"/><item name="b"/></query></iq>`)
		_, err := c.ReadStreamHeader()
		require.NoError(t, err)

		iq, err := c.ReadElement()
		require.NoError(t, err)
		query := iq.Child("query")
		require.NotNil(t, query)
		assert.Len(t, query.Children, 2)
		assert.Equal(t, "a", query.Children[0].Attr("name"))
	})
}

func TestWriteElement(t *testing.T) {
	t.Run("serializes and flushes", func(t *testing.T) {
		c, out := newTestCodec("")
		el := stanza.New("message").SetAttr("to", "a@x").
			AddChild(stanza.New("body").SetText("hello"))

		require.NoError(t, c.WriteElement(el))
		assert.Equal(t, `<message to="a@x"><body>hello</body></message>`, out.String())
	})

	t.Run("namespaced children survive a read and write round trip", func(t *testing.T) {
		c, out := newTestCodec(serverStreamHeader +
			`<iq type="get"><query xmlns="jabber:iq:version"/></iq>`)
		_, err := c.ReadStreamHeader()
		require.NoError(t, err)

		iq, err := c.ReadElement()
		require.NoError(t, err)

		require.NoError(t, c.WriteElement(iq))
		assert.Equal(t, `<iq type="get"><query xmlns="jabber:iq:version"/></iq>`, out.String())
	})
}

func TestCloseStream(t *testing.T) {
	t.Run("writes closing tag", func(t *testing.T) {
		c, out := newTestCodec("")
		c.CloseStream()
		assert.Equal(t, "</stream:stream>", out.String())
	})

	t.Run("swallows write failures", func(t *testing.T) {
		c := New(readWriter{Reader: strings.NewReader(""), Writer: failWriter{}})
		assert.NotPanics(t, func() { c.CloseStream() })
	})
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
