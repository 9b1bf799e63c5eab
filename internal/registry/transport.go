package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"poselink/internal/constants"
)

// Transport is the write side of one device connection. The registry
// owns transports exclusively; the gateway reaches them only through
// registry operations.
type Transport interface {
	WriteJSON(v interface{}) error
	Close(code int, text string) error
	RemoteAddr() string
}

// WSTransport wraps a gorilla connection with a write mutex. Gorilla
// allows at most one concurrent writer, and broadcasts can race with
// per-connection replies without this.
type WSTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWSTransport wraps an upgraded websocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

func (t *WSTransport) WriteJSON(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	return t.conn.WriteJSON(v)
}

// Close sends a close frame with the given code, then tears the
// underlying connection down. The close-frame write is best-effort; the
// peer may already be gone.
func (t *WSTransport) Close(code int, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(constants.WriteTimeout),
	)
	return t.conn.Close()
}

func (t *WSTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
