// Package task runs the handlers behind dispatched calls. A Manager owns
// every in-flight Task, advances them once per host tick, relays their
// progress and sends exactly one terminal reply per task.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/machinefabric/rendercore-go/rpc"
)

// ErrSyncTick is returned by Execution.NextTick for synchronous tasks,
// which run inside the tick and cannot wait for the next one.
var ErrSyncTick = errors.New("synchronous task cannot wait for the next tick")

// Key identifies a task: call ids are only unique per client.
type Key struct {
	Client string
	ID     string
}

func (k Key) String() string { return k.Client + "/" + k.ID }

// KeyOf returns the task key of a call.
func KeyOf(call *rpc.Call) Key {
	client := ""
	if call.Client != nil {
		client = call.Client.ClientID()
	}
	return Key{Client: client, ID: call.ID.Key()}
}

// Job is the body of a task. It receives the execution handle through
// which it reports progress and observes cancellation.
type Job func(exec *Execution) (any, error)

// Progress is the last progress reported by a task.
type Progress struct {
	Operation string
	Amount    float64
}

// Task is the execution unit backing one dispatched call.
type Task struct {
	key    Key
	call   *rpc.Call
	async  bool
	job    Job
	token  *Token
	policy DisconnectPolicy

	mu            sync.Mutex
	state         State
	orphaned      bool
	progress      Progress
	notifications []*rpc.Notification
	done          bool
	result        any
	err           error
	panicked      *rpc.Error
}

// New creates a pending task for call. Async tasks run on their own
// goroutine once started; sync tasks run inline during a manager poll.
func New(call *rpc.Call, async bool, policy DisconnectPolicy, job Job) *Task {
	return &Task{
		key:    KeyOf(call),
		call:   call,
		async:  async,
		job:    job,
		token:  NewToken(context.Background()),
		policy: policy,
		state:  Pending,
	}
}

func (t *Task) Key() Key { return t.key }
func (t *Task) ID() rpc.ID { return t.call.ID }
func (t *Task) Method() string { return t.call.Method }
func (t *Task) IsAsync() bool { return t.async }
func (t *Task) Token() *Token { return t.token }
func (t *Task) Call() *rpc.Call { return t.call }

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Progress returns the last-known progress.
func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Policy returns the disconnect policy currently in force.
func (t *Task) Policy() DisconnectPolicy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy
}

// transition moves the task to a new state. Caller holds t.mu.
func (t *Task) transition(to State) error {
	if !CanTransition(t.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
	}
	t.state = to
	return nil
}

func (t *Task) reportProgress(operation string, amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || t.state != Running {
		return
	}
	t.progress = Progress{Operation: operation, Amount: amount}
	if !t.orphaned {
		t.notifications = append(t.notifications, rpc.NewProgressNotification(t.call.ID, operation, amount))
	}
}

func (t *Task) finish(result any, err error, panicked *rpc.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.result = result
	t.err = err
	t.panicked = panicked
}

// takeNotifications drains queued progress notifications.
func (t *Task) takeNotifications() []*rpc.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := t.notifications
	t.notifications = nil
	return pending
}

// Execution is the handle a running job uses to talk to its manager.
type Execution struct {
	task    *Task
	manager *Manager
}

// Call returns the call being served.
func (e *Execution) Call() *rpc.Call { return e.task.call }

// Token returns the task's cancellation token.
func (e *Execution) Token() *Token { return e.task.token }

// Context is cancelled together with the token.
func (e *Execution) Context() context.Context { return e.task.token.Context() }

// Cancelled reports whether cancellation has been requested.
func (e *Execution) Cancelled() bool { return e.task.token.IsCancelled() }

// Progress sends a progress notification to the client. Reports made
// after the job returned are dropped.
func (e *Execution) Progress(operation string, amount float64) {
	e.task.reportProgress(operation, amount)
}

// KeepOnDisconnect marks this invocation as persisting its result, so a
// client disconnect does not cancel it.
func (e *Execution) KeepOnDisconnect() {
	e.SetDisconnectPolicy(KeepOnDisconnect)
}

// SetDisconnectPolicy overrides the entrypoint default for this invocation.
func (e *Execution) SetDisconnectPolicy(policy DisconnectPolicy) {
	e.task.mu.Lock()
	defer e.task.mu.Unlock()
	e.task.policy = policy
}

// NextTick blocks until the manager's next poll, so a long job can do one
// bounded slice of work per host tick. It returns ErrCancelled as soon as
// the token is cancelled.
func (e *Execution) NextTick() error {
	if !e.task.async {
		return ErrSyncTick
	}
	tick := e.manager.nextTick()
	select {
	case <-tick:
		return e.task.token.Check()
	case <-e.task.token.Done():
		return ErrCancelled
	}
}
