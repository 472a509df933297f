// Package sqlite implements the persistent cost ledger: one row per
// finished run with its terminal status, token totals, and estimated
// cost. It uses modernc.org/sqlite (pure Go, no CGO) with WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxscribe/voxscribe/internal/core"
	"github.com/voxscribe/voxscribe/internal/runstore"

	_ "modernc.org/sqlite" // SQLite driver registration
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ runstore.Ledger   = (*Ledger)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module hosts the SQLite cost ledger and publishes it as the
// "ledger.store" service, where the run store's finish hook finds it.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	ledger *Ledger
}

// Ledger records finished runs.
type Ledger struct {
	db        *sql.DB
	retention int
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "ledger.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("ledger: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	if dir := filepath.Dir(m.config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("ledger: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", m.config.Path)
	if err != nil {
		return fmt.Errorf("ledger: open %s: %w", m.config.Path, err)
	}

	// SQLite handles one writer at a time; limit pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	if m.config.walEnabled() {
		if _, err := db.ExecContext(context.TODO(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return fmt.Errorf("ledger: enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(context.TODO(), fmt.Sprintf("PRAGMA busy_timeout=%d", m.config.BusyTimeout)); err != nil {
		_ = db.Close()
		return fmt.Errorf("ledger: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return err
	}

	m.db = db
	m.ledger = &Ledger{db: db, retention: m.config.Retention}

	ctx.RegisterService("ledger.store", m.ledger)

	m.logger.Info("cost ledger provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)

	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("ledger: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("cost ledger stopping")
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Store returns the ledger implementation.
func (m *Module) Store() *Ledger {
	return m.ledger
}

// Record implements runstore.Ledger. Replays of the same run ID overwrite
// the prior row, so a duplicated finish hook stays harmless.
func (l *Ledger) Record(ctx context.Context, s runstore.FinishSummary) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_costs
			(run_id, status, error, total_tokens, cost_usd, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.RunID, string(s.Status), s.Error, s.TotalTokens, s.EstimatedCostUSD,
		s.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording run %s: %w", s.RunID, err)
	}

	if l.retention > 0 {
		_, err = l.db.ExecContext(ctx, `
			DELETE FROM run_costs WHERE run_id NOT IN (
				SELECT run_id FROM run_costs ORDER BY finished_at DESC LIMIT ?
			)`, l.retention)
		if err != nil {
			return fmt.Errorf("ledger: pruning: %w", err)
		}
	}
	return nil
}

// Entry is one row of the ledger.
type Entry struct {
	RunID       string
	Status      string
	Error       string
	TotalTokens int64
	CostUSD     float64
	Duration    time.Duration
	FinishedAt  time.Time
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, status, error, total_tokens, cost_usd, duration_ms, finished_at
		FROM run_costs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var durationMs int64
		var finished string
		if err := rows.Scan(&e.RunID, &e.Status, &e.Error, &e.TotalTokens, &e.CostUSD, &durationMs, &finished); err != nil {
			return nil, fmt.Errorf("ledger: scanning: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Totals returns the lifetime token and cost sums.
func (l *Ledger) Totals(ctx context.Context) (tokens int64, costUSD float64, err error) {
	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_usd), 0) FROM run_costs`,
	).Scan(&tokens, &costUSD)
	if err != nil {
		err = fmt.Errorf("ledger: totals: %w", err)
	}
	return tokens, costUSD, err
}
