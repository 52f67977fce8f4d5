package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one established duplex connection carrying Messages.
type Conn interface {
	ReadMessage() (Message, error)
	WriteMessage(Message) error
	Close() error
}

// Dialer establishes connections to the ingest endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials the ingest daemon's WebSocket endpoint.
type WebSocketDialer struct {
	URL         string
	DialTimeout time.Duration
}

// Dial opens a WebSocket connection. Screen-capture payloads are large, so
// the handshake timeout is generous.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() (Message, error) {
	var msg Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *wsConn) WriteMessage(msg Message) error {
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

// UpgradeConn wraps an already-upgraded server-side WebSocket in the Conn
// interface. Used by the ingest server and by loopback tests.
func UpgradeConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

// Upgrader is the WebSocket upgrader shared by server-side handlers.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(*http.Request) bool { return true },
}
