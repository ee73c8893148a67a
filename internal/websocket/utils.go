package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stemsi/exam-orchestrator/internal/response"
)

const (
	writeWait = 10 * time.Second
	// readWait must exceed the client's heartbeat interval.
	readWait = 5 * time.Minute
)

// Conn serializes writes to a gorilla connection, which allows one writer
// at a time.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

// Wrap creates a new Conn around c.
func Wrap(c *websocket.Conn) *Conn {
	return &Conn{Conn: c}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(code response.ErrCode, details map[string]any) error {
	return c.WriteTyped(ErrorResponse{
		Event:   EventError,
		Code:    code,
		Error:   response.GetMessage(code),
		Details: details,
	})
}

// ReadRequest reads and decodes the next client message with a deadline.
func (c *Conn) ReadRequest(v *Request) error {
	_ = c.SetReadDeadline(time.Now().Add(readWait))
	return c.ReadJSON(v)
}
