package transport

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/machinefabric/rendercore-go/rpc"
)

// Conn is the reply channel of one client connection. Replies and
// notifications may be sent from any goroutine; frames are written one
// at a time.
type Conn struct {
	id    string
	codec Codec

	mu     sync.Mutex
	writer *FrameWriter
	closed bool
}

// NewConn wraps w as a reply channel with a fresh client id.
func NewConn(w io.Writer, codec Codec, limits Limits) *Conn {
	writer := NewFrameWriter(w)
	writer.SetLimits(limits)
	return &Conn{
		id:     uuid.NewString(),
		codec:  codec,
		writer: writer,
	}
}

func (c *Conn) ClientID() string { return c.id }

func (c *Conn) Reply(reply *rpc.Reply) error {
	return c.send(reply)
}

func (c *Conn) Notify(notification *rpc.Notification) error {
	return c.send(notification)
}

func (c *Conn) send(message any) error {
	payload, err := c.codec.Encode(message)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", c.codec.Name(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return rpc.ErrChannelClosed
	}
	if err := c.writer.WriteFrame(payload); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Close makes every later send fail with rpc.ErrChannelClosed.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
