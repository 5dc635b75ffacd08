package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/rendercore-go/entrypoint"
	"github.com/machinefabric/rendercore-go/rpc"
	"github.com/machinefabric/rendercore-go/rpc/rpctest"
	"github.com/machinefabric/rendercore-go/task"
)

type trace struct {
	mu     sync.Mutex
	events []string
}

func (tr *trace) add(event string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, event)
}

func (tr *trace) all() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.events...)
}

func TestTickOrdering(t *testing.T) {
	tr := &trace{}
	registry := entrypoint.NewRegistry(nil)
	manager := task.NewManager(nil)
	registry.MustAdd(&entrypoint.Entrypoint{
		Name:       "set-background",
		Update:     func() { tr.add("update") },
		PreRender:  func() { tr.add("pre-render") },
		PostRender: func() { tr.add("post-render") },
		Handler: func(req *entrypoint.Request) (any, error) {
			tr.add("handler")
			req.BeforeRender(func() { tr.add("apply-background") })
			return nil, nil
		},
	})
	require.NoError(t, registry.Setup(nil))

	client := rpctest.NewRecorder("c1")
	call := &rpc.Call{ID: rpc.NumberID(1), Method: "set-background", Client: client}
	e, _ := registry.Find("set-background")
	require.NoError(t, manager.Submit(registry.NewTask(e, call)))

	loop := NewLoop(registry, manager, func(context.Context) error {
		tr.add("render")
		return nil
	}, nil)
	require.NoError(t, loop.Tick(context.Background()))

	assert.Equal(t, []string{
		"update",
		"handler",
		"pre-render",
		"apply-background",
		"render",
		"post-render",
	}, tr.all())
	assert.Len(t, client.Replies(), 1)
	assert.Equal(t, uint64(1), loop.Frames())
}

func TestTickRenderErrorStillRunsPostRender(t *testing.T) {
	tr := &trace{}
	registry := entrypoint.NewRegistry(nil)
	registry.MustAdd(&entrypoint.Entrypoint{
		Name:       "frame",
		PostRender: func() { tr.add("post-render") },
		Handler:    func(*entrypoint.Request) (any, error) { return nil, nil },
	})
	require.NoError(t, registry.Setup(nil))

	loop := NewLoop(registry, task.NewManager(nil), func(context.Context) error {
		return errors.New("device lost")
	}, nil)

	err := loop.Tick(context.Background())
	assert.EqualError(t, err, "device lost")
	assert.Equal(t, []string{"post-render"}, tr.all())
}

func TestRunStopsWithContext(t *testing.T) {
	registry := entrypoint.NewRegistry(nil)
	require.NoError(t, registry.Setup(nil))
	loop := NewLoop(registry, task.NewManager(nil), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRunDrivesAsyncTasks(t *testing.T) {
	registry := entrypoint.NewRegistry(nil)
	registry.MustAdd(&entrypoint.Entrypoint{
		Name:  "export-frames",
		Async: true,
		Handler: func(req *entrypoint.Request) (any, error) {
			for i := 1; i <= 3; i++ {
				if err := req.NextTick(); err != nil {
					return nil, err
				}
				req.Progress("exporting", float64(i)/3)
			}
			return "done", nil
		},
	})
	require.NoError(t, registry.Setup(nil))
	manager := task.NewManager(nil)
	client := rpctest.NewRecorder("c1")
	e, _ := registry.Find("export-frames")
	require.NoError(t, manager.Submit(registry.NewTask(e, &rpc.Call{ID: rpc.StringID("x"), Method: e.Name, Client: client})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewLoop(registry, manager, nil, nil).Run(ctx, time.Millisecond) }()

	require.Eventually(t, func() bool { return len(client.Replies()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "done", client.Last().Result)
	assert.Len(t, client.Notifications(), 3)
}
