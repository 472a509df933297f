package core

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

// shutdownTimeout bounds how long module Stop hooks may take once the
// process is going down. The run store aborts active runs on Stop, so
// drivers and tool calls unwind well inside the limit.
const shutdownTimeout = 30 * time.Second

// App owns the ordered set of loaded modules and walks them through
// start and stop. IDs come from config.Resolve; load order is start
// order, and shutdown walks it backwards.
type App struct {
	ctx    *AppContext
	loaded []loadedModule
	logger *slog.Logger
}

type loadedModule struct {
	id      ModuleID
	module  Module
	started bool
}

// NewApp wraps an AppContext into an App with no modules loaded.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// LoadModules runs the Configure → Provision → Validate chain for each
// ID, in order. On failure everything already loaded is unwound and the
// App is left empty.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			a.unwind()
			return fmt.Errorf("loading module %s: %w", id, err)
		}
		info := mod.ModuleInfo()
		a.loaded = append(a.loaded, loadedModule{id: info.ID, module: mod})
		a.logger.Info("module loaded", "module", string(info.ID))
	}
	return nil
}

// Start walks the loaded modules in order, starting those that run
// background work. A failed Start rolls back the ones already running.
func (a *App) Start() error {
	for i := range a.loaded {
		lm := &a.loaded[i]
		s, ok := lm.module.(Starter)
		if !ok {
			continue
		}
		a.logger.Info("starting module", "module", string(lm.id))
		if err := s.Start(); err != nil {
			a.logger.Error("module start failed", "module", string(lm.id), "error", err)
			a.stopFrom(i - 1)
			return fmt.Errorf("starting module %s: %w", lm.id, err)
		}
		lm.started = true
	}
	a.logger.Info("all modules started")
	return nil
}

// Stop shuts every started module down, newest first.
func (a *App) Stop() {
	a.stopFrom(len(a.loaded) - 1)
}

func (a *App) stopFrom(idx int) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := idx; i >= 0; i-- {
		lm := &a.loaded[i]
		if !lm.started {
			continue
		}
		if s, ok := lm.module.(Stopper); ok {
			a.logger.Info("stopping module", "module", string(lm.id))
			if err := s.Stop(ctx); err != nil {
				a.logger.Error("module stop error", "module", string(lm.id), "error", err)
			}
		}
		lm.started = false
	}
}

// unwind stops every loaded module regardless of started state. Used
// when loading fails partway, so whatever Provision acquired (listeners,
// database handles, the MCP config file) is released.
func (a *App) unwind() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(a.loaded) - 1; i >= 0; i-- {
		if s, ok := a.loaded[i].module.(Stopper); ok {
			_ = s.Stop(ctx)
		}
	}
	a.loaded = nil
}

// Run starts the modules and parks until SIGINT or SIGTERM, then stops
// them. The gateway keeps serving and the run store keeps fanning out
// events until the signal lands.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	a.logger.Info("shutdown signal received")
	a.Stop()
	a.logger.Info("shutdown complete")
	return nil
}
