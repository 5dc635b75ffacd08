// Package entrypoint holds the named remote procedures a server exposes
// and the registry that owns them for the life of the process.
package entrypoint

import (
	"github.com/machinefabric/rendercore-go/rpc"
	"github.com/machinefabric/rendercore-go/schema"
	"github.com/machinefabric/rendercore-go/task"
)

// Handler is the body of an entrypoint. Synchronous handlers run on the
// goroutine driving host ticks; asynchronous ones run on their own
// goroutine and must poll req.Token() between bounded slices of work.
//
// Returning an *rpc.Error sends that code and message to the client.
// Returning task.ErrCancelled after observing the token ends the call as
// cancelled. Any other error is sent with its message.
type Handler func(req *Request) (any, error)

// Entrypoint describes one remote procedure.
type Entrypoint struct {
	Name        string
	Description string
	// Plugin names the component that registered the entrypoint; it is
	// only informational.
	Plugin string

	// Params validates call params before the handler runs. Nil skips
	// validation.
	Params *schema.Schema
	// Result documents the handler's result for discovery and, when
	// result validation is enabled, is checked after the handler returns.
	Result *schema.Schema

	Async   bool
	Handler Handler

	// Disconnect is the default policy for invocations whose client goes
	// away. A handler may override it per invocation.
	Disconnect task.DisconnectPolicy

	// Optional lifecycle hooks, see Registry.
	Setup      func(ctx *Context) error
	Update     func()
	PreRender  func()
	PostRender func()
}

// Description is the discovery form of an entrypoint.
type Description struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Plugin      string         `json:"plugin"`
	Async       bool           `json:"async"`
	Params      map[string]any `json:"params,omitempty"`
	Returns     map[string]any `json:"returns,omitempty"`
}

// Describe returns the discovery form of e, with its schemas exported as
// JSON Schema documents.
func (e *Entrypoint) Describe() Description {
	d := Description{
		Title:       e.Name,
		Description: e.Description,
		Plugin:      e.Plugin,
		Async:       e.Async,
	}
	if e.Params != nil {
		d.Params = e.Params.JSONSchema()
	}
	if e.Result != nil {
		d.Returns = e.Result.JSONSchema()
	}
	return d
}

// Request is what a handler receives. It embeds the task execution handle
// for progress, cancellation and tick pacing.
type Request struct {
	*task.Execution

	entrypoint *Entrypoint
	registry   *Registry
}

// Entrypoint returns the entrypoint being invoked.
func (r *Request) Entrypoint() *Entrypoint { return r.entrypoint }

// ID returns the call id.
func (r *Request) ID() rpc.ID { return r.Call().ID }

// ClientID identifies the connection that sent the call.
func (r *Request) ClientID() string {
	if r.Call().Client == nil {
		return ""
	}
	return r.Call().Client.ClientID()
}

// Params returns the validated params value.
func (r *Request) Params() any { return r.Call().Params }

// DecodeParams converts the params value into target.
func (r *Request) DecodeParams(target any) error {
	return r.Call().DecodeParams(target)
}

// Services returns the shared setup context of the registry.
func (r *Request) Services() *Context { return r.registry.context }

// BeforeRender queues fn to run on the owner goroutine during the next
// PreRender, so render-affecting changes land deterministically before a
// frame is produced.
func (r *Request) BeforeRender(fn func()) {
	r.registry.queueBeforeRender(fn)
}

// AfterRender queues fn to run during the next PostRender.
func (r *Request) AfterRender(fn func()) {
	r.registry.queueAfterRender(fn)
}
