package agent

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Conn is the agent's view of a transport. The default implementation
// wraps a coder/websocket connection; tests substitute in-memory pipes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, msg []byte) error
	Close() error
}

// Dialer establishes a transport. Called once on Connect and again for
// every reconnect attempt.
type Dialer func(ctx context.Context) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, msg []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, msg)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// WebsocketDialer dials the collab server's /ws endpoint with a bearer token.
func WebsocketDialer(url, token string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
		if err != nil {
			return nil, err
		}
		return &wsConn{conn: conn}, nil
	}
}
