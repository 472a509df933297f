package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxscribe/voxscribe/internal/runstore"
)

func openTestLedger(t *testing.T, retention int) *Ledger {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := migrate(db); err != nil {
		t.Fatal(err)
	}
	return &Ledger{db: db, retention: retention}
}

func summary(id string, tokens int64, cost float64) runstore.FinishSummary {
	return runstore.FinishSummary{
		RunID:            id,
		Status:           runstore.StatusSuccess,
		TotalTokens:      tokens,
		EstimatedCostUSD: cost,
		Duration:         90 * time.Second,
	}
}

func TestLedgerRecordAndRecent(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t, 0)
	ctx := context.Background()

	if err := l.Record(ctx, summary("run-1", 1200, 0.05)); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, summary("run-2", 800, 0.02)); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Status != string(runstore.StatusSuccess) {
			t.Errorf("status = %s", e.Status)
		}
		if e.Duration != 90*time.Second {
			t.Errorf("duration = %s", e.Duration)
		}
	}
}

func TestLedgerRecordIdempotent(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t, 0)
	ctx := context.Background()

	if err := l.Record(ctx, summary("run-1", 100, 0.01)); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, summary("run-1", 200, 0.02)); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].TotalTokens != 200 {
		t.Errorf("tokens = %d, want the replayed 200", entries[0].TotalTokens)
	}
}

func TestLedgerTotals(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t, 0)
	ctx := context.Background()

	_ = l.Record(ctx, summary("run-1", 1000, 0.10))
	_ = l.Record(ctx, summary("run-2", 500, 0.05))

	tokens, cost, err := l.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tokens != 1500 {
		t.Errorf("tokens = %d, want 1500", tokens)
	}
	if cost < 0.149 || cost > 0.151 {
		t.Errorf("cost = %v, want ~0.15", cost)
	}
}

func TestLedgerRetention(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t, 2)
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := l.Record(ctx, summary(id, 10, 0.001)); err != nil {
			t.Fatal(err)
		}
		// Distinct finished_at timestamps so retention ordering is stable.
		time.Sleep(5 * time.Millisecond)
	}

	entries, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries after retention, want 2", len(entries))
	}
	for _, e := range entries {
		if e.RunID == "run-1" {
			t.Error("oldest run survived retention")
		}
	}
}
