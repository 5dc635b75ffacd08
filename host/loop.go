// Package host drives the per-tick lifecycle of a server. The goroutine
// that calls Tick or Run owns the registry hooks and every synchronous
// handler.
package host

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/machinefabric/rendercore-go/entrypoint"
	"github.com/machinefabric/rendercore-go/task"
)

// RenderFunc produces one frame. A nil RenderFunc skips rendering.
type RenderFunc func(ctx context.Context) error

// Loop runs Update, task polling, PreRender, render and PostRender in
// that order once per tick.
type Loop struct {
	registry *entrypoint.Registry
	manager  *task.Manager
	render   RenderFunc
	logger   *zap.Logger

	frames uint64
}

// NewLoop creates a loop over a set-up registry.
func NewLoop(registry *entrypoint.Registry, manager *task.Manager, render RenderFunc, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		registry: registry,
		manager:  manager,
		render:   render,
		logger:   logger.Named("host"),
	}
}

// Tick runs one iteration. A render error is returned after PostRender
// has still run.
func (l *Loop) Tick(ctx context.Context) error {
	l.registry.Update()
	l.manager.Poll()
	l.registry.PreRender()

	var err error
	if l.render != nil {
		err = l.render(ctx)
	}
	l.frames++

	l.registry.PostRender()
	return err
}

// Frames returns the number of completed ticks.
func (l *Loop) Frames() uint64 { return l.frames }

// Run ticks every interval until ctx is done. Render failures are logged
// and do not stop the loop.
func (l *Loop) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("host loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("host loop stopped", zap.Uint64("frames", l.frames))
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("render failed", zap.Uint64("frame", l.frames), zap.Error(err))
			}
		}
	}
}
