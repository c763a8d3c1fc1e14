package integration

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/codeboltai/agentswarmprotocol-sub001/pkg/protocol"
)

const recvTimeout = 3 * time.Second

// wsClient is a test-side peer: it dials one listener and collects every
// frame the hub sends.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	recv chan *protocol.Message
	done chan struct{}

	// ConnID is filled from the welcome frame.
	ConnID string
}

// dialPeer connects to a listener address and consumes the welcome frame.
func dialPeer(t *testing.T, addr, welcomeType string) *wsClient {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err, "dial %s", u.String())

	c := &wsClient{
		t:    t,
		conn: conn,
		recv: make(chan *protocol.Message, 64),
		done: make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(c.close)

	welcome := c.expect(welcomeType)
	var content protocol.WelcomeContent
	require.NoError(t, welcome.ParseContent(&content))
	require.NotEmpty(t, content.ConnectionID)
	require.Equal(t, protocol.Version, content.Version)
	c.ConnID = content.ConnectionID
	return c
}

func (c *wsClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.recv <- &msg
	}
}

// send writes one envelope and returns it (with id and timestamp set).
func (c *wsClient) send(msgType string, content interface{}) *protocol.Message {
	c.t.Helper()
	msg, err := protocol.New(msgType, content)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(msg))
	return msg
}

// sendRaw writes the bytes verbatim, bypassing envelope construction.
func (c *wsClient) sendRaw(data string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// expect returns the next frame of the given type, discarding others.
func (c *wsClient) expect(msgType string) *protocol.Message {
	c.t.Helper()
	deadline := time.After(recvTimeout)
	for {
		select {
		case msg := <-c.recv:
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			c.t.Fatalf("Timed out waiting for frame type %q", msgType)
			return nil
		}
	}
}

// expectOrdered waits for each type in sequence, discarding unrelated
// frames in between.
func (c *wsClient) expectOrdered(types ...string) []*protocol.Message {
	c.t.Helper()
	out := make([]*protocol.Message, 0, len(types))
	for _, typ := range types {
		out = append(out, c.expect(typ))
	}
	return out
}

func (c *wsClient) close() {
	c.conn.Close()
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
}

// parse decodes a frame's content into out.
func parse(t *testing.T, msg *protocol.Message, out interface{}) {
	t.Helper()
	require.NoError(t, msg.ParseContent(out))
}
