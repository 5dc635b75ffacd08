package entrypoint

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/machinefabric/rendercore-go/rpc"
	"github.com/machinefabric/rendercore-go/schema"
	"github.com/machinefabric/rendercore-go/task"
)

// ConfigError is a startup registration failure.
type ConfigError struct {
	Type       string `json:"type"`
	Entrypoint string `json:"entrypoint,omitempty"`
	Details    string `json:"details"`
}

func (e *ConfigError) Error() string {
	if e.Entrypoint != "" {
		return fmt.Sprintf("Entrypoint registration failed for '%s': %s", e.Entrypoint, e.Details)
	}
	return fmt.Sprintf("Entrypoint registration failed: %s", e.Details)
}

// Registry is the name-keyed table of entrypoints. It is filled during
// startup, frozen by Setup, and read without locking afterwards; Add must
// not race with Find.
//
// The host calls Update, PreRender and PostRender once per tick from the
// goroutine that owns rendering.
type Registry struct {
	logger      *zap.Logger
	entrypoints map[string]*Entrypoint
	order       []*Entrypoint
	frozen      bool
	context     *Context

	renderMu     sync.Mutex
	beforeRender []func()
	afterRender  []func()
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:      logger.Named("entrypoints"),
		entrypoints: make(map[string]*Entrypoint),
		context:     NewContext(),
	}
}

// Add registers e. The registry keeps its own copy of e and of its
// schemas.
func (r *Registry) Add(e *Entrypoint) error {
	if e == nil {
		return &ConfigError{Type: "MissingEntrypoint", Details: "entrypoint is nil"}
	}
	if r.frozen {
		return &ConfigError{Type: "RegistryFrozen", Entrypoint: e.Name, Details: "registry is already set up"}
	}
	if e.Name == "" {
		return &ConfigError{Type: "EmptyName", Details: "entrypoint name is empty"}
	}
	if _, exists := r.entrypoints[e.Name]; exists {
		return &ConfigError{Type: "DuplicateName", Entrypoint: e.Name, Details: "an entrypoint with this name is already registered"}
	}
	if e.Handler == nil {
		return &ConfigError{Type: "MissingHandler", Entrypoint: e.Name, Details: "entrypoint has no handler"}
	}
	for _, declared := range []struct {
		context string
		schema  *schema.Schema
	}{{"params", e.Params}, {"result", e.Result}} {
		if declared.schema == nil {
			continue
		}
		if _, err := schema.Compile(declared.schema, declared.context); err != nil {
			return &ConfigError{Type: "InvalidSchema", Entrypoint: e.Name, Details: err.Error()}
		}
	}

	stored := *e
	stored.Params = e.Params.Clone()
	stored.Result = e.Result.Clone()
	r.entrypoints[stored.Name] = &stored
	r.order = append(r.order, &stored)

	r.logger.Info("entrypoint registered",
		zap.String("name", stored.Name),
		zap.String("plugin", stored.Plugin),
		zap.Bool("async", stored.Async))
	return nil
}

// MustAdd is Add for static registration code; it panics on error.
func (r *Registry) MustAdd(e *Entrypoint) {
	if err := r.Add(e); err != nil {
		panic(err)
	}
}

// Find looks up an entrypoint by name.
func (r *Registry) Find(name string) (*Entrypoint, bool) {
	e, ok := r.entrypoints[name]
	return e, ok
}

// Len returns the number of registered entrypoints.
func (r *Registry) Len() int { return len(r.order) }

// Names returns every entrypoint name in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	for _, e := range r.order {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the discovery information of the named entrypoint.
func (r *Registry) Describe(name string) (Description, bool) {
	e, ok := r.entrypoints[name]
	if !ok {
		return Description{}, false
	}
	return e.Describe(), true
}

// Entrypoints returns the entrypoints in registration order.
func (r *Registry) Entrypoints() []*Entrypoint {
	return append([]*Entrypoint(nil), r.order...)
}

// Context returns the shared context handed to Setup.
func (r *Registry) Context() *Context { return r.context }

// Setup runs once after registration: it hands ctx to every entrypoint's
// Setup hook, in registration order, and freezes the table.
func (r *Registry) Setup(ctx *Context) error {
	if r.frozen {
		return &ConfigError{Type: "RegistryFrozen", Details: "registry is already set up"}
	}
	if ctx == nil {
		ctx = NewContext()
	}
	r.context = ctx
	for _, e := range r.order {
		if e.Setup == nil {
			continue
		}
		if err := e.Setup(ctx); err != nil {
			return fmt.Errorf("setting up entrypoint '%s': %w", e.Name, err)
		}
	}
	r.frozen = true
	r.logger.Info("entrypoints ready", zap.Int("count", len(r.order)))
	return nil
}

// IsSetUp reports whether Setup has completed.
func (r *Registry) IsSetUp() bool { return r.frozen }

// Update runs every Update hook; called once per host tick.
func (r *Registry) Update() {
	for _, e := range r.order {
		if e.Update != nil {
			e.Update()
		}
	}
}

// PreRender runs every PreRender hook, then the work handlers queued with
// Request.BeforeRender, in the order it was queued.
func (r *Registry) PreRender() {
	for _, e := range r.order {
		if e.PreRender != nil {
			e.PreRender()
		}
	}
	for _, fn := range r.drain(&r.beforeRender) {
		fn()
	}
}

// PostRender runs every PostRender hook, then the work queued with
// Request.AfterRender.
func (r *Registry) PostRender() {
	for _, e := range r.order {
		if e.PostRender != nil {
			e.PostRender()
		}
	}
	for _, fn := range r.drain(&r.afterRender) {
		fn()
	}
}

func (r *Registry) queueBeforeRender(fn func()) {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()
	r.beforeRender = append(r.beforeRender, fn)
}

func (r *Registry) queueAfterRender(fn func()) {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()
	r.afterRender = append(r.afterRender, fn)
}

func (r *Registry) drain(queue *[]func()) []func() {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()
	pending := *queue
	*queue = nil
	return pending
}

// Job adapts e's handler to the task manager.
func (r *Registry) Job(e *Entrypoint) task.Job {
	return func(exec *task.Execution) (any, error) {
		return e.Handler(&Request{Execution: exec, entrypoint: e, registry: r})
	}
}

// NewTask builds the task that will run e's handler for call.
func (r *Registry) NewTask(e *Entrypoint, call *rpc.Call) *task.Task {
	return task.New(call, e.Async, e.Disconnect, r.Job(e))
}
