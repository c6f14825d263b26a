package socket

import (
	"context"
	"fmt"
	"strings"

	"nhooyr.io/websocket"
)

// Conn is one established event-channel connection. The production
// implementation wraps a websocket; tests substitute an in-memory fake.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer establishes an authenticated connection to the event channel.
type Dialer func(ctx context.Context, baseURL, token string) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// WebsocketDialer dials the server's event endpoint, authenticating with
// the bearer token in the handshake query, the same way the web client does.
func WebsocketDialer(ctx context.Context, baseURL, token string) (Conn, error) {
	u := strings.Replace(baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.TrimRight(u, "/") + "/ws?token=" + token

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

// serverClosed reports whether a read error came from the server
// deliberately closing the session, which warrants an immediate reconnect
// instead of backoff.
func serverClosed(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
