// Package transport provides the bidirectional message connection to the
// remote ASR service. The session engine only sees the Conn and Dialer
// interfaces, so tests can substitute an in-memory connection.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// Conn is one persistent message-oriented connection. Send and Receive may
// be called from different goroutines but each from at most one at a time.
// Either can fail at any moment; the connection is not reusable after Close.
type Conn interface {
	// Send writes one text message and blocks until the socket accepts it.
	Send(data []byte) error
	// Receive blocks until the next message arrives or the connection fails.
	Receive() ([]byte, error)
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer establishes a Conn to the remote endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials the realtime endpoint over WebSocket with the
// caller's credential attached to the upgrade request. The credential is
// never logged and never appears in any emitted event.
type WebSocketDialer struct {
	BaseURL string
	Model   string
	APIKey  string

	ReadBufferSize  int
	WriteBufferSize int
}

// Dial connects to <BaseURL>?model=<Model> with a Bearer authorization
// header, per the realtime protocol handshake.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	endpoint, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", d.Model)
	endpoint.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		ReadBufferSize:  d.ReadBufferSize,
		WriteBufferSize: d.WriteBufferSize,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	return &wsConn{conn: conn}, nil
}

// wsConn adapts a gorilla websocket connection to the Conn interface.
// Protocol messages are JSON in text frames, audio included (base64 inside
// the append event), so everything goes out as TextMessage.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Control frames are handled by gorilla; skip anything that is
		// not a data payload.
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	// Best effort close handshake before dropping the socket.
	_ = c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return c.conn.Close()
}
