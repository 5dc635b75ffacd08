package task

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrCancelled is returned by a handler that stopped because its token was
// cancelled. Returning it (or an error wrapping it) ends the task in the
// Cancelled state rather than Failed.
var ErrCancelled = errors.New("task cancelled")

// Token is the cooperative stop signal shared between the manager, which
// cancels it, and the handler, which polls it. It wraps a cancellable
// context so handlers can also pass it to blocking calls that honour
// context cancellation.
type Token struct {
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewToken creates a token derived from parent. Cancelling parent cancels
// the token too.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Token{parent: parent, ctx: ctx, cancel: cancel}
}

// Cancel requests cancellation. It is safe to call any number of times
// from any goroutine.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// IsCancelled reports whether cancellation has been requested.
func (t *Token) IsCancelled() bool {
	return t.cancelled.Load() || t.parent.Err() != nil
}

// Check returns ErrCancelled once cancellation has been requested. It is
// the checkpoint handlers call between slices of work.
func (t *Token) Check() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// Context returns the context cancelled together with the token.
func (t *Token) Context() context.Context { return t.ctx }

// Done is closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// release frees the context resources once the task is over. It does not
// mark the token as cancelled.
func (t *Token) release() { t.cancel() }
