// Package rpctest provides an in-memory rpc.ReplyChannel for tests.
package rpctest

import (
	"sync"

	"github.com/machinefabric/rendercore-go/rpc"
)

// Recorder is a ReplyChannel that keeps every message it is given, in
// order. After Close it rejects further messages with
// rpc.ErrChannelClosed, like a dropped connection.
type Recorder struct {
	id string

	mu            sync.Mutex
	replies       []*rpc.Reply
	notifications []*rpc.Notification
	order         []string
	closed        bool
}

// NewRecorder creates a recorder identified as clientID.
func NewRecorder(clientID string) *Recorder {
	return &Recorder{id: clientID}
}

func (r *Recorder) ClientID() string { return r.id }

func (r *Recorder) Reply(reply *rpc.Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return rpc.ErrChannelClosed
	}
	r.replies = append(r.replies, reply)
	r.order = append(r.order, "reply")
	return nil
}

func (r *Recorder) Notify(notification *rpc.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return rpc.ErrChannelClosed
	}
	r.notifications = append(r.notifications, notification)
	r.order = append(r.order, "notification")
	return nil
}

// Close makes the recorder behave like a disconnected client.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Replies returns a snapshot of the replies received so far.
func (r *Recorder) Replies() []*rpc.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*rpc.Reply(nil), r.replies...)
}

// Notifications returns a snapshot of the notifications received so far.
func (r *Recorder) Notifications() []*rpc.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*rpc.Notification(nil), r.notifications...)
}

// Order returns the kinds of messages received, "reply" or
// "notification", in arrival order.
func (r *Recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Last returns the most recent reply, or nil.
func (r *Recorder) Last() *rpc.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return nil
	}
	return r.replies[len(r.replies)-1]
}
