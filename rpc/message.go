package rpc

import (
	"encoding/json"
	"errors"
)

// ErrChannelClosed is returned by a ReplyChannel whose client is gone.
var ErrChannelClosed = errors.New("reply channel closed")

// ReplyChannel delivers messages back to the client that sent a call.
// Implementations must be safe for concurrent use.
type ReplyChannel interface {
	// ClientID identifies the connection; task ids are scoped by it.
	ClientID() string
	Reply(reply *Reply) error
	Notify(notification *Notification) error
}

// Reply terminates a call with either a result or an error.
type Reply struct {
	ID     ID
	Result any
	Error  *Error
}

// NewResult builds a success reply.
func NewResult(id ID, result any) *Reply {
	return &Reply{ID: id, Result: result}
}

// NewErrorReply builds an error reply.
func NewErrorReply(id ID, err *Error) *Reply {
	return &Reply{ID: id, Error: err}
}

// IsError reports whether the reply carries an error.
func (r *Reply) IsError() bool { return r.Error != nil }

type wireReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// MarshalJSON always emits "result" on success, even when it is null.
func (r *Reply) MarshalJSON() ([]byte, error) {
	wire := wireReply{JSONRPC: Version, ID: r.ID, Error: r.Error}
	if r.Error == nil {
		result, err := json.Marshal(r.Result)
		if err != nil {
			return nil, err
		}
		wire.Result = result
	}
	return json.Marshal(wire)
}

// Notification is a server-initiated message that does not terminate a
// call, such as a progress report.
type Notification struct {
	Method string
	Params any
}

// ProgressMethod is the method name of progress notifications.
const ProgressMethod = "progress"

// Progress is the params member of a progress notification.
type Progress struct {
	ID        ID      `json:"id"`
	Operation string  `json:"operation"`
	Amount    float64 `json:"amount"`
}

// NewProgressNotification reports progress of the call id.
func NewProgressNotification(id ID, operation string, amount float64) *Notification {
	return &Notification{
		Method: ProgressMethod,
		Params: Progress{ID: id, Operation: operation, Amount: amount},
	}
}

func (n *Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{Version, n.Method, n.Params})
}
