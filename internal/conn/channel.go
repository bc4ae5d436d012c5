package conn

import (
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/liga-sync/internal/domain"
)

// Channel is the session's bidirectional link to the event source. Frames
// received from the server arrive on Inbound; all writes go through Send.
type Channel struct {
	inbound chan []byte

	mu   sync.Mutex
	conn Conn
}

func newChannel(queue int) *Channel {
	return &Channel{inbound: make(chan []byte, queue)}
}

// Inbound returns the bounded queue of received frames. It is closed when the
// manager stops.
func (c *Channel) Inbound() <-chan []byte {
	return c.inbound
}

// Connected reports whether a transport connection is attached
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes a control frame
func (c *Channel) Send(frame domain.ControlFrame) error {
	data, err := sonic.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding control frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(data); err != nil {
		return fmt.Errorf("sending %s: %w", frame.Type, err)
	}
	return nil
}

func (c *Channel) attach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Channel) detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	conn.Close()
}

// closeConn unblocks a pending read so the manager can stop
func (c *Channel) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}
