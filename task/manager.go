package task

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/machinefabric/rendercore-go/rpc"
)

var (
	// ErrDuplicateID is returned by Submit when the client already has an
	// unfinished task with the same call id.
	ErrDuplicateID = errors.New("request id already in use")
	// ErrNotFound is returned when no in-flight task matches a key.
	ErrNotFound = errors.New("task not found")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("task manager is shut down")
)

// Manager owns the set of in-flight tasks. Submit may be called from any
// goroutine; Poll is called by the single goroutine driving host ticks.
type Manager struct {
	logger *zap.Logger

	mu     sync.Mutex
	tasks  map[Key]*Task
	order  []*Task
	tick   chan struct{}
	closed bool

	// running tracks async job goroutines for Shutdown.
	running sync.WaitGroup
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger.Named("tasks"),
		tasks:  make(map[Key]*Task),
		tick:   make(chan struct{}),
	}
}

// Submit adds a pending task. It never runs the job itself.
func (m *Manager) Submit(t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, exists := m.tasks[t.key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, t.call.ID)
	}
	m.tasks[t.key] = t
	m.order = append(m.order, t)
	m.logger.Debug("task submitted",
		zap.String("method", t.Method()),
		zap.Stringer("key", t.key),
		zap.Bool("async", t.async))
	return nil
}

// Len returns the number of unfinished tasks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Lookup returns the unfinished task with key.
func (m *Manager) Lookup(key Key) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[key]
	return t, ok
}

// Tasks returns the unfinished tasks in submission order.
func (m *Manager) Tasks() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Task(nil), m.order...)
}

// Cancel requests cancellation of the task with key. Cancellation is
// advisory: a running job keeps going until it checks its token.
func (m *Manager) Cancel(key Key) error {
	m.mu.Lock()
	t, ok := m.tasks[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	t.token.Cancel()
	m.logger.Info("task cancellation requested", zap.String("method", t.Method()), zap.Stringer("key", key))
	return nil
}

// Disconnect detaches every task of client from its reply channel. Tasks
// whose policy is CancelOnDisconnect are cancelled; the others run to
// completion without replying. It returns the number of tasks cancelled.
func (m *Manager) Disconnect(client string) int {
	m.mu.Lock()
	var owned []*Task
	for _, t := range m.order {
		if t.key.Client == client {
			owned = append(owned, t)
		}
	}
	m.mu.Unlock()

	cancelled := 0
	for _, t := range owned {
		t.mu.Lock()
		t.orphaned = true
		t.notifications = nil
		policy := t.policy
		t.mu.Unlock()
		if policy == CancelOnDisconnect {
			t.token.Cancel()
			cancelled++
		}
	}
	if len(owned) > 0 {
		m.logger.Info("client disconnected",
			zap.String("client", client),
			zap.Int("tasks", len(owned)),
			zap.Int("cancelled", cancelled))
	}
	return cancelled
}

// Poll advances every task by one step: pending tasks start (sync jobs
// run to completion right here, async jobs start on their own goroutine),
// queued progress is flushed, and finished tasks get their single reply
// and are removed. It also releases jobs waiting in NextTick.
func (m *Manager) Poll() {
	m.mu.Lock()
	close(m.tick)
	m.tick = make(chan struct{})
	snapshot := append([]*Task(nil), m.order...)
	m.mu.Unlock()

	for _, t := range snapshot {
		m.advance(t)
	}
}

// advance moves one task forward.
func (m *Manager) advance(t *Task) {
	t.mu.Lock()
	state := t.state
	if state == Pending {
		if t.token.IsCancelled() {
			_ = t.transition(Cancelled)
			t.mu.Unlock()
			m.conclude(t, Cancelled, rpc.NewErrorReply(t.call.ID, rpc.NewCancelledError()))
			return
		}
		_ = t.transition(Running)
		t.mu.Unlock()
		m.start(t)
	} else {
		t.mu.Unlock()
	}

	m.flush(t)

	t.mu.Lock()
	if !t.done || t.state.IsTerminal() {
		t.mu.Unlock()
		return
	}
	final, reply := t.outcome()
	_ = t.transition(final)
	t.mu.Unlock()
	// No progress can be queued once the job is done; send what is left
	// before the reply.
	m.flush(t)
	m.conclude(t, final, reply)
}

// start runs the job, inline for sync tasks.
func (m *Manager) start(t *Task) {
	m.logger.Debug("task started", zap.String("method", t.Method()), zap.Stringer("key", t.key))
	if !t.async {
		m.run(t)
		return
	}
	m.running.Add(1)
	go func() {
		defer m.running.Done()
		m.run(t)
	}()
}

func (m *Manager) run(t *Task) {
	exec := &Execution{task: t, manager: m}
	var (
		result   any
		err      error
		panicked *rpc.Error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = rpc.FromPanic(r)
				m.logger.Error("handler panicked",
					zap.String("method", t.Method()),
					zap.Stringer("key", t.key),
					zap.Any("panic", r))
			}
		}()
		result, err = t.job(exec)
	}()
	t.finish(result, err, panicked)
}

// outcome maps the job's return onto a terminal state and reply. Caller
// holds t.mu.
func (t *Task) outcome() (State, *rpc.Reply) {
	switch {
	case t.panicked != nil:
		return Failed, rpc.NewErrorReply(t.call.ID, t.panicked)
	case t.err == nil:
		return Completed, rpc.NewResult(t.call.ID, t.result)
	case errors.Is(t.err, ErrCancelled),
		errors.Is(t.err, context.Canceled) && t.token.IsCancelled():
		return Cancelled, rpc.NewErrorReply(t.call.ID, rpc.NewCancelledError())
	default:
		return Failed, rpc.NewErrorReply(t.call.ID, rpc.FromError(t.err))
	}
}

func (m *Manager) flush(t *Task) {
	client := t.call.Client
	for _, n := range t.takeNotifications() {
		if client == nil {
			continue
		}
		if err := client.Notify(n); err != nil {
			m.logger.Warn("failed to send progress",
				zap.Stringer("key", t.key),
				zap.Error(err))
		}
	}
}

// conclude removes the task and sends its terminal reply unless the
// client is gone. The id is free again before the reply is written, so a
// client may reuse it as soon as it reads the reply.
func (m *Manager) conclude(t *Task, final State, reply *rpc.Reply) {
	defer t.token.release()
	m.unregister(t)

	t.mu.Lock()
	orphaned := t.orphaned
	t.mu.Unlock()

	fields := []zap.Field{
		zap.String("method", t.Method()),
		zap.Stringer("key", t.key),
		zap.Stringer("state", final),
	}
	if reply.Error != nil {
		fields = append(fields, zap.Int("code", reply.Error.Code), zap.String("error", reply.Error.Message))
	}
	m.logger.Debug("task finished", fields...)

	if orphaned || t.call.Client == nil {
		return
	}
	if err := t.call.Client.Reply(reply); err != nil {
		m.logger.Warn("failed to send reply", zap.Stringer("key", t.key), zap.Error(err))
	}
}

func (m *Manager) unregister(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks[t.key] == t {
		delete(m.tasks, t.key)
	}
	if i := slices.Index(m.order, t); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
}

func (m *Manager) nextTick() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

// Shutdown refuses new tasks, cancels every in-flight task and waits for
// async jobs to return or ctx to expire. A final poll sends the replies
// of tasks that finished.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	snapshot := append([]*Task(nil), m.order...)
	m.mu.Unlock()

	for _, t := range snapshot {
		t.token.Cancel()
	}

	waited := make(chan struct{})
	go func() {
		m.running.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
	m.Poll()
	return nil
}
