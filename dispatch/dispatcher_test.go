package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/machinefabric/rendercore-go/entrypoint"
	"github.com/machinefabric/rendercore-go/rpc"
	"github.com/machinefabric/rendercore-go/rpc/rpctest"
	"github.com/machinefabric/rendercore-go/schema"
	"github.com/machinefabric/rendercore-go/task"
)

type fixture struct {
	registry   *entrypoint.Registry
	manager    *task.Manager
	dispatcher *Dispatcher
	client     *rpctest.Recorder
	calls      atomic.Int32
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		registry: entrypoint.NewRegistry(nil),
		manager:  task.NewManager(nil),
		client:   rpctest.NewRecorder("c1"),
	}
	f.registry.MustAdd(&entrypoint.Entrypoint{
		Name: "set-animation-frame",
		Params: schema.Object().
			WithRequired("frame", schema.Integer().WithMinimum(0)),
		Handler: func(req *entrypoint.Request) (any, error) {
			f.calls.Add(1)
			return nil, nil
		},
	})
	f.registry.MustAdd(&entrypoint.Entrypoint{
		Name: "get-version",
		Handler: func(req *entrypoint.Request) (any, error) {
			f.calls.Add(1)
			return map[string]any{"major": 1}, nil
		},
	})
	require.NoError(t, f.registry.Setup(nil))
	f.dispatcher = NewDispatcher(f.registry, f.manager, nil, opts...)
	return f
}

func (f *fixture) dispatch(raw string) {
	f.dispatcher.Dispatch([]byte(raw), f.client)
}

func TestDispatchSubmitsWithoutRunning(t *testing.T) {
	f := newFixture(t)
	f.dispatch(`{"jsonrpc":"2.0","id":1,"method":"set-animation-frame","params":{"frame":3}}`)

	assert.Equal(t, int32(0), f.calls.Load())
	assert.Empty(t, f.client.Replies())
	assert.Equal(t, 1, f.manager.Len())

	f.manager.Poll()
	assert.Equal(t, int32(1), f.calls.Load())
	require.Len(t, f.client.Replies(), 1)
	reply := f.client.Last()
	assert.False(t, reply.IsError())
	assert.Equal(t, rpc.NumberID(1), reply.ID)
}

func TestDispatchUnknownEntrypoint(t *testing.T) {
	f := newFixture(t)
	f.dispatch(`{"jsonrpc":"2.0","id":7,"method":"set-camera-position","params":{}}`)

	require.Len(t, f.client.Replies(), 1)
	reply := f.client.Last()
	assert.Equal(t, rpc.NumberID(7), reply.ID)
	assert.Equal(t, &rpc.Error{Code: rpc.CodeMethodNotFound, Message: "Invalid entrypoint: 'set-camera-position'"}, reply.Error)
	assert.Equal(t, 0, f.manager.Len())
}

func TestDispatchInvalidParamsNeverRunsHandler(t *testing.T) {
	f := newFixture(t)
	f.dispatch(`{"jsonrpc":"2.0","id":"a","method":"set-animation-frame","params":{"frame":-1,"speed":2}}`)
	f.manager.Poll()

	assert.Equal(t, int32(0), f.calls.Load())
	require.Len(t, f.client.Replies(), 1)
	reply := f.client.Last()
	assert.Equal(t, rpc.StringID("a"), reply.ID)
	assert.Equal(t, rpc.CodeInvalidParams, reply.Error.Code)
	assert.Equal(t, "Invalid params", reply.Error.Message)
	assert.Equal(t, []string{
		"Value below minimum for frame: expected >= 0, got -1",
		"Unknown property: 'speed'",
	}, reply.Error.Data)
}

func TestDispatchMissingParams(t *testing.T) {
	f := newFixture(t)
	f.dispatch(`{"jsonrpc":"2.0","id":2,"method":"set-animation-frame"}`)

	require.Len(t, f.client.Replies(), 1)
	assert.Equal(t, []string{"Invalid type: expected 'object', got 'null'"}, f.client.Last().Error.Data)
}

func TestDispatchEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		id   rpc.ID
		code int
	}{
		{"malformed json", `{"jsonrpc":"2.0",`, rpc.NullID, rpc.CodeParseError},
		{"not an object", `[1,2]`, rpc.NullID, rpc.CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":4}`, rpc.NumberID(4), rpc.CodeInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","id":"x","method":"get-version"}`, rpc.StringID("x"), rpc.CodeInvalidRequest},
		{"scalar params", `{"jsonrpc":"2.0","id":5,"method":"get-version","params":3}`, rpc.NumberID(5), rpc.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.dispatch(tt.raw)
			require.Len(t, f.client.Replies(), 1)
			assert.Equal(t, tt.id, f.client.Last().ID)
			assert.Equal(t, tt.code, f.client.Last().Error.Code)
			assert.Equal(t, 0, f.manager.Len())
		})
	}
}

func TestDispatchAbsentIDStillReplied(t *testing.T) {
	f := newFixture(t)
	f.dispatch(`{"jsonrpc":"2.0","method":"get-version"}`)
	f.manager.Poll()

	require.Len(t, f.client.Replies(), 1)
	assert.True(t, f.client.Last().ID.IsNull())
	assert.Equal(t, map[string]any{"major": 1}, f.client.Last().Result)
}

func TestDispatchDuplicateIDRejected(t *testing.T) {
	f := newFixture(t)
	f.dispatch(`{"jsonrpc":"2.0","id":1,"method":"get-version"}`)
	f.dispatch(`{"jsonrpc":"2.0","id":1,"method":"get-version"}`)

	require.Len(t, f.client.Replies(), 1)
	assert.Equal(t, &rpc.Error{Code: rpc.CodeInvalidRequest, Message: "Invalid request", Data: DuplicateIDDetail}, f.client.Last().Error)

	f.manager.Poll()
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Len(t, f.client.Replies(), 2)
}

func TestDispatchAfterShutdown(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(ctx))

	f.dispatch(`{"jsonrpc":"2.0","id":1,"method":"get-version"}`)
	require.Len(t, f.client.Replies(), 1)
	assert.Equal(t, rpc.CodeInternalError, f.client.Last().Error.Code)
}

func TestDispatchValue(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.DispatchValue(map[string]any{
		"jsonrpc": "2.0",
		"id":      "v",
		"method":  "set-animation-frame",
		"params":  map[string]any{"frame": int64(2)},
	}, f.client)
	f.manager.Poll()

	assert.Equal(t, int32(1), f.calls.Load())
	require.Len(t, f.client.Replies(), 1)
	assert.False(t, f.client.Last().IsError())
}

func TestResultValidationLogsMismatch(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	registry := entrypoint.NewRegistry(nil)
	registry.MustAdd(&entrypoint.Entrypoint{
		Name:   "get-frame",
		Result: schema.Object().WithRequired("frame", schema.Integer()),
		Handler: func(*entrypoint.Request) (any, error) {
			return struct {
				Frame string `json:"frame"`
			}{Frame: "three"}, nil
		},
	})
	require.NoError(t, registry.Setup(nil))
	manager := task.NewManager(nil)
	client := rpctest.NewRecorder("c1")

	d := NewDispatcher(registry, manager, zap.New(core), WithResultValidation())
	d.Dispatch([]byte(`{"jsonrpc":"2.0","id":1,"method":"get-frame"}`), client)
	manager.Poll()

	require.Len(t, client.Replies(), 1)
	assert.False(t, client.Last().IsError())
	entries := logs.FilterMessage("result does not match schema").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "get-frame", entries[0].ContextMap()["method"])
}

func TestHandlerProtocolErrorPassesThrough(t *testing.T) {
	registry := entrypoint.NewRegistry(nil)
	registry.MustAdd(&entrypoint.Entrypoint{
		Name: "remove-model",
		Handler: func(*entrypoint.Request) (any, error) {
			return nil, rpc.NewError(3, "Model 7 not found")
		},
	})
	registry.MustAdd(&entrypoint.Entrypoint{
		Name: "load-model",
		Handler: func(*entrypoint.Request) (any, error) {
			return nil, errors.New("unsupported format")
		},
	})
	require.NoError(t, registry.Setup(nil))
	manager := task.NewManager(nil)
	client := rpctest.NewRecorder("c1")
	d := NewDispatcher(registry, manager, nil)

	d.Dispatch([]byte(`{"jsonrpc":"2.0","id":1,"method":"remove-model"}`), client)
	d.Dispatch([]byte(`{"jsonrpc":"2.0","id":2,"method":"load-model"}`), client)
	manager.Poll()

	replies := client.Replies()
	require.Len(t, replies, 2)
	assert.Equal(t, &rpc.Error{Code: 3, Message: "Model 7 not found"}, replies[0].Error)
	assert.Equal(t, &rpc.Error{Code: rpc.CodeInternalError, Message: "unsupported format"}, replies[1].Error)
}

func TestAsyncCancelScenario(t *testing.T) {
	registry := entrypoint.NewRegistry(nil)
	registry.MustAdd(&entrypoint.Entrypoint{
		Name:  "export-frames",
		Async: true,
		Handler: func(req *entrypoint.Request) (any, error) {
			for {
				if err := req.NextTick(); err != nil {
					return nil, err
				}
				req.Progress("exporting", 0.1)
			}
		},
	})
	require.NoError(t, registry.Setup(nil))
	manager := task.NewManager(nil)
	client := rpctest.NewRecorder("c1")
	d := NewDispatcher(registry, manager, nil)

	d.Dispatch([]byte(`{"jsonrpc":"2.0","id":"e","method":"export-frames"}`), client)
	require.Eventually(t, func() bool {
		manager.Poll()
		return len(client.Notifications()) > 0
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, manager.Cancel(task.Key{Client: "c1", ID: rpc.StringID("e").Key()}))
	require.Eventually(t, func() bool {
		manager.Poll()
		return len(client.Replies()) == 1
	}, 2*time.Second, time.Millisecond)

	order := client.Order()
	assert.Equal(t, "reply", order[len(order)-1])
	assert.Equal(t, rpc.CodeCancelled, client.Last().Error.Code)
}

// eagerClient sends its next call as soon as it reads the first reply.
type eagerClient struct {
	*rpctest.Recorder
	once sync.Once
	next func()
}

func (c *eagerClient) Reply(reply *rpc.Reply) error {
	if err := c.Recorder.Reply(reply); err != nil {
		return err
	}
	c.once.Do(c.next)
	return nil
}

func TestDispatchReusesIDAfterReply(t *testing.T) {
	f := newFixture(t)
	client := &eagerClient{Recorder: rpctest.NewRecorder("c1")}
	call := []byte(`{"jsonrpc":"2.0","id":1,"method":"get-version"}`)
	client.next = func() { f.dispatcher.Dispatch(call, client) }

	f.dispatcher.Dispatch(call, client)
	f.manager.Poll()
	f.manager.Poll()

	replies := client.Replies()
	require.Len(t, replies, 2)
	for _, reply := range replies {
		assert.False(t, reply.IsError(), "reply %+v", reply.Error)
		assert.Equal(t, rpc.NumberID(1), reply.ID)
	}
	assert.Equal(t, int32(2), f.calls.Load())
}
