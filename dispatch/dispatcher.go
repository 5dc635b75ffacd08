// Package dispatch turns raw request payloads into submitted tasks.
//
// Dispatch never blocks on handler work: every call is either rejected
// with an immediate error reply or handed to the task manager, which runs
// it on the next poll.
package dispatch

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/machinefabric/rendercore-go/entrypoint"
	"github.com/machinefabric/rendercore-go/rpc"
	"github.com/machinefabric/rendercore-go/schema"
	"github.com/machinefabric/rendercore-go/task"
)

// DuplicateIDDetail is the data of the reply that rejects a call whose id
// is already in flight on the same connection.
const DuplicateIDDetail = "request id already in use"

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithResultValidation checks handler results against the entrypoint's
// result schema and logs mismatches as warnings. The result is still sent.
func WithResultValidation() Option {
	return func(d *Dispatcher) { d.validateResults = true }
}

// Dispatcher routes calls to entrypoints.
type Dispatcher struct {
	registry        *entrypoint.Registry
	manager         *task.Manager
	logger          *zap.Logger
	validateResults bool
}

// NewDispatcher creates a dispatcher over a set-up registry.
func NewDispatcher(registry *entrypoint.Registry, manager *task.Manager, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		registry: registry,
		manager:  manager,
		logger:   logger.Named("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles one raw JSON payload received from client.
func (d *Dispatcher) Dispatch(raw []byte, client rpc.ReplyChannel) {
	call, err := rpc.Parse(raw)
	if err != nil {
		d.reject(client, err)
		return
	}
	call.Client = client
	d.DispatchCall(call)
}

// DispatchValue handles a payload already decoded into the JSON value
// model by a non-JSON codec.
func (d *Dispatcher) DispatchValue(value any, client rpc.ReplyChannel) {
	call, err := rpc.ParseValue(value)
	if err != nil {
		d.reject(client, err)
		return
	}
	call.Client = client
	d.DispatchCall(call)
}

// DispatchCall routes a parsed call: lookup, params validation, submit.
func (d *Dispatcher) DispatchCall(call *rpc.Call) {
	e, ok := d.registry.Find(call.Method)
	if !ok {
		d.logger.Debug("unknown entrypoint", zap.String("method", call.Method))
		d.send(call.Client, rpc.NewErrorReply(call.ID, rpc.NewMethodNotFoundError(call.Method)))
		return
	}

	if e.Params != nil {
		if errs := schema.Validate(call.Params, e.Params); !errs.IsEmpty() {
			d.logger.Debug("invalid params",
				zap.String("method", call.Method),
				zap.Stringer("id", call.ID),
				zap.Strings("errors", errs))
			d.send(call.Client, rpc.NewErrorReply(call.ID, rpc.NewInvalidParamsError(errs)))
			return
		}
	}

	job := d.registry.Job(e)
	if d.validateResults && e.Result != nil {
		job = d.checkResult(e, job)
	}

	err := d.manager.Submit(task.New(call, e.Async, e.Disconnect, job))
	switch {
	case err == nil:
		d.logger.Debug("call submitted",
			zap.String("method", call.Method),
			zap.Stringer("id", call.ID),
			zap.Bool("async", e.Async))
	case errors.Is(err, task.ErrDuplicateID):
		d.send(call.Client, rpc.NewErrorReply(call.ID, rpc.NewInvalidRequestError(DuplicateIDDetail)))
	default:
		d.logger.Warn("call not submitted", zap.String("method", call.Method), zap.Error(err))
		d.send(call.Client, rpc.NewErrorReply(call.ID, rpc.FromError(err)))
	}
}

func (d *Dispatcher) checkResult(e *entrypoint.Entrypoint, job task.Job) task.Job {
	return func(exec *task.Execution) (any, error) {
		result, err := job(exec)
		if err != nil {
			return result, err
		}
		if errs := validateResult(result, e.Result); !errs.IsEmpty() {
			d.logger.Warn("result does not match schema",
				zap.String("method", e.Name),
				zap.Strings("errors", errs))
		}
		return result, nil
	}
}

// validateResult checks the wire form of result, so handlers may return
// structs as well as JSON values.
func validateResult(result any, s *schema.Schema) schema.Errors {
	data, err := json.Marshal(result)
	if err != nil {
		return schema.Errors{"result is not serializable: " + err.Error()}
	}
	value, err := rpc.DecodeValue(data)
	if err != nil {
		return schema.Errors{"result is not serializable: " + err.Error()}
	}
	return schema.Validate(value, s)
}

func (d *Dispatcher) reject(client rpc.ReplyChannel, err error) {
	var requestErr *rpc.RequestError
	if !errors.As(err, &requestErr) {
		d.send(client, rpc.NewErrorReply(rpc.NullID, rpc.FromError(err)))
		return
	}
	d.logger.Debug("request rejected", zap.Int("code", requestErr.Reply.Code), zap.Any("detail", requestErr.Reply.Data))
	d.send(client, rpc.NewErrorReply(requestErr.ID, requestErr.Reply))
}

func (d *Dispatcher) send(client rpc.ReplyChannel, reply *rpc.Reply) {
	if client == nil {
		return
	}
	if err := client.Reply(reply); err != nil {
		d.logger.Warn("failed to send reply",
			zap.String("client", client.ClientID()),
			zap.Stringer("id", reply.ID),
			zap.Error(err))
	}
}
