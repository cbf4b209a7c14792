package presence

import (
	"errors"
	"sync"
	"time"

	"fretes-chat/internal/utils"
)

const writeWait = 10 * time.Second

// ErrClientClosed is returned by Send after the hub dropped the connection.
var ErrClientClosed = errors.New("client closed")

// Conn is the slice of *websocket.Conn the hub writes through.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
}

// Client is one live connection. Writes are serialized because the
// underlying websocket does not allow concurrent writers.
type Client struct {
	ID     string
	conn   Conn
	mu     sync.Mutex
	closed bool
}

func NewClient(id string, conn Conn) *Client {
	return &Client{ID: id, conn: conn}
}

func (c *Client) Send(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return utils.SendJSON(c.conn, payload)
}

// Close stops further writes. A Send already holding the lock finishes first.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
