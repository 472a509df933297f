package runstore

import (
	"context"
	"log/slog"
)

// SweepJob drives periodic TTL cleanup of the store through the cron
// scheduler.
type SweepJob struct {
	Store        *Store
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Name implements cron.Job.
func (j *SweepJob) Name() string { return "run_ttl_sweep" }

// Schedule implements cron.Job.
func (j *SweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run implements cron.Job.
func (j *SweepJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if n := j.Store.Sweep(); n > 0 && j.Logger != nil {
		j.Logger.Debug("run ttl sweep", "released", n)
	}
	return nil
}
