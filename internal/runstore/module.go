package runstore

import (
	"context"
	"log/slog"

	"github.com/voxscribe/voxscribe/internal/core"
	"github.com/voxscribe/voxscribe/internal/cron"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Provisioner = (*Module)(nil)
	_ core.Starter     = (*Module)(nil)
	_ core.Stopper     = (*Module)(nil)
	_ cron.Job         = (*SweepJob)(nil)
)

// Ledger is the subset of the cost-ledger surface the store needs. Defined
// here to avoid importing the ledger module.
type Ledger interface {
	Record(ctx context.Context, summary FinishSummary) error
}

// Module hosts the process-wide run store and its TTL sweeper.
type Module struct {
	appCtx    *core.AppContext
	logger    *slog.Logger
	store     *Store
	scheduler *cron.Scheduler
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "runs.store",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.store = NewStore(ctx.Logger, WithFinishHook(m.recordFinish))
	ctx.RegisterService("runs.store", m.store)
	return nil
}

// Start implements core.Starter. The ledger is resolved lazily so module
// load order does not matter.
func (m *Module) Start() error {
	m.scheduler = cron.NewScheduler(m.logger)
	if err := m.scheduler.RegisterJob(&SweepJob{Store: m.store, Logger: m.logger}); err != nil {
		return err
	}
	return m.scheduler.Start()
}

// Stop implements core.Stopper. Aborts all non-terminal runs so drivers and
// tool invocations observe cancellation.
func (m *Module) Stop(ctx context.Context) error {
	m.store.Shutdown()
	if m.scheduler != nil {
		return m.scheduler.Stop(ctx)
	}
	return nil
}

// recordFinish forwards a finished run to the ledger service, if one is
// registered.
func (m *Module) recordFinish(summary FinishSummary) {
	svc, ok := m.appCtx.Service("ledger.store")
	if !ok {
		return
	}
	ledger, ok := svc.(Ledger)
	if !ok {
		return
	}
	if err := ledger.Record(context.Background(), summary); err != nil {
		m.logger.Error("ledger record failed", "run_id", summary.RunID, "error", err)
	}
}
