package runstore

import (
	"context"
	"testing"
	"time"
)

func TestSweepJob_Defaults(t *testing.T) {
	t.Parallel()

	j := &SweepJob{Store: NewStore(testLogger())}
	if j.Name() != "run_ttl_sweep" {
		t.Fatalf("name = %q", j.Name())
	}
	if j.Schedule() != "*/5 * * * *" {
		t.Fatalf("schedule = %q", j.Schedule())
	}

	j.ScheduleExpr = "@every 1m"
	if j.Schedule() != "@every 1m" {
		t.Fatalf("schedule override = %q", j.Schedule())
	}
}

func TestSweepJob_RunSweepsStore(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	s := NewStore(testLogger(), WithClock(clock.Now))
	id, _, _ := s.CreateRun()
	_ = s.SetStatus(id, StatusSuccess, "")
	clock.advance(TTL + time.Minute)

	j := &SweepJob{Store: s, Logger: testLogger()}
	if err := j.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Has(id) {
		t.Fatal("expired run survived sweep job")
	}
}

func TestSweepJob_HonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := &SweepJob{Store: NewStore(testLogger())}
	if err := j.Run(ctx); err == nil {
		t.Fatal("cancelled context accepted")
	}
}
