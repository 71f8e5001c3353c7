package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"

	"marketfeed/internal/auth"
	"marketfeed/pkg/exception"
)

// Conn is the minimal surface the client needs from a live connection.
// Tests inject fakes; production uses the gorilla-backed implementation.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer establishes an authenticated connection to the upstream broker.
type Dialer interface {
	Dial(ctx context.Context, cred auth.Credential) (Conn, error)
}

// WebSocketDialer dials the broker over websocket, carrying the credential
// in the handshake headers.
type WebSocketDialer struct {
	URL string
}

func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{URL: url}
}

func (d *WebSocketDialer) Dial(ctx context.Context, cred auth.Credential) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)
	header.Set("X-Identity", cred.Identity)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Wrapf(exception.ErrInvalidCredentials, "handshake status: %d", resp.StatusCode)
		}
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	return payload, err
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
