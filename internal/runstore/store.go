// Package runstore owns the in-memory lifecycle of pipeline runs: run
// records, their bounded event rings, subscriber fan-out, client-driven
// cancellation, and TTL-based cleanup. It is the only shared mutable
// surface in the process; all reads and writes go through Store methods.
package runstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Process-wide constants. Deliberately not configurable.
const (
	// RingCap bounds the per-run event ring; overflow drops the oldest event.
	RingCap = 1000

	// TTL is how long a run record is kept after its last update.
	TTL = 30 * time.Minute
)

// ErrUnknownRun is returned for operations on run IDs the store does not hold.
var ErrUnknownRun = errors.New("runstore: unknown run")

// Event is a single append-only record in a run's ring.
type Event struct {
	Seq     int64     `json:"seq"`
	Kind    string    `json:"event"`
	Payload any       `json:"data"`
	At      time.Time `json:"at"`
}

// Snapshot is a point-in-time public view of a run.
type Snapshot struct {
	ID        string
	Status    Status
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
	Events    int64
}

// FinishSummary is handed to the finish hook when a run reaches a terminal
// status, for cost/outcome ledgers.
type FinishSummary struct {
	RunID            string
	Status           Status
	Error            string
	TotalTokens      int64
	EstimatedCostUSD float64
	Duration         time.Duration
}

type run struct {
	id        string
	createdAt time.Time
	updatedAt time.Time
	status    Status
	lastErr   string

	ring    []Event
	nextSeq int64

	ctx       context.Context
	cancel    context.CancelFunc
	abortOnce sync.Once

	subs    map[int64]*subscriber
	nextSub int64
}

// Store is the process-wide registry of runs. All methods are safe for
// concurrent use; internal synchronization is the store's responsibility.
type Store struct {
	mu     sync.Mutex
	runs   map[string]*run
	logger *slog.Logger
	now    func() time.Time

	finishHook func(FinishSummary)
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the store's time source. Only for testing.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFinishHook installs a callback invoked (asynchronously) whenever
// Finish is called on a run, e.g. to record a ledger row.
func WithFinishHook(hook func(FinishSummary)) Option {
	return func(s *Store) { s.finishHook = hook }
}

// NewStore creates an empty run store.
func NewStore(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		runs:   make(map[string]*run),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRun allocates a new run record in status pending and returns its
// opaque ID together with the run's cancellation context. The context is
// done once the run is aborted or the store shuts down.
func (s *Store) CreateRun() (string, context.Context, error) {
	id, err := generateID()
	if err != nil {
		return "", nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := s.now()
	r := &run{
		id:        id,
		createdAt: now,
		updatedAt: now,
		status:    StatusPending,
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[int64]*subscriber),
	}

	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	s.logger.Debug("run created", "run_id", id)
	return id, ctx, nil
}

// Has reports whether the store holds the given run.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[id]
	return ok
}

// GetStatus returns the current status and last error of a run.
func (s *Store) GetStatus(id string) (Status, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return r.status, r.lastErr, nil
}

// Get returns a snapshot of a run.
func (s *Store) Get(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return Snapshot{
		ID:        r.id,
		Status:    r.status,
		LastError: r.lastErr,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
		Events:    r.nextSeq,
	}, nil
}

// SetStatus writes a new status. Terminal statuses are sticky: once a run
// is success, error, or aborted, later writes are ignored.
func (s *Store) SetStatus(id string, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if r.status.Terminal() {
		return nil
	}
	r.status = status
	r.lastErr = errMsg
	r.updatedAt = s.now()
	return nil
}

// AppendEvent allocates the next sequence number for the run, appends the
// event to the ring (dropping the oldest entry on overflow), and broadcasts
// it to subscribers. Subscriber handlers never run on the caller's
// goroutine.
func (s *Store) AppendEvent(id, kind string, payload any) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}

	r.nextSeq++
	e := Event{
		Seq:     r.nextSeq,
		Kind:    kind,
		Payload: payload,
		At:      s.now(),
	}

	if len(r.ring) >= RingCap {
		copy(r.ring, r.ring[1:])
		r.ring[len(r.ring)-1] = e
	} else {
		r.ring = append(r.ring, e)
	}
	r.updatedAt = e.At

	subs := make([]*subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	// Fan out without holding the store lock.
	for _, sub := range subs {
		sub.enqueue(e)
	}
	return nil
}

// Subscribe atomically snapshots the run's ring and attaches the handler to
// future broadcasts. The handler first receives every buffered event in
// order (the replay), then every subsequent event exactly once, serialized
// on a dedicated goroutine. The returned context is done when the run is
// aborted.
//
// The unsubscribe function is idempotent. If the departing subscriber was
// the last one and the run is still pending or running, the store aborts
// the run.
func (s *Store) Subscribe(id string, handler func(Event)) (unsubscribe func(), replayed int, cancelled context.Context, err error) {
	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return nil, 0, nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}

	replay := make([]Event, len(r.ring))
	copy(replay, r.ring)

	sub := newSubscriber(handler, replay)
	r.nextSub++
	subID := r.nextSub
	r.subs[subID] = sub
	s.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			cur, ok := s.runs[id]
			var lastLeft bool
			var status Status
			if ok {
				delete(cur.subs, subID)
				lastLeft = len(cur.subs) == 0
				status = cur.status
			}
			s.mu.Unlock()

			sub.close()

			if ok && lastLeft && !status.Terminal() {
				s.Abort(id, "Client disconnected")
			}
		})
	}

	return unsub, len(replay), r.ctx, nil
}

// Abort fires the run's cancellation signal exactly once, marks the run
// aborted, and appends a terminal error event. Safe to call multiple times
// and on already-terminal runs (no-op after the first effective call).
func (s *Store) Abort(id, reason string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if reason == "" {
		reason = "Run aborted"
	}

	r.abortOnce.Do(func() {
		s.mu.Lock()
		alreadyTerminal := r.status.Terminal()
		s.mu.Unlock()

		r.cancel()
		if alreadyTerminal {
			return
		}

		_ = s.SetStatus(id, StatusAborted, reason)
		_ = s.AppendEvent(id, "error", map[string]any{
			"message": reason,
			"aborted": true,
		})
		s.logger.Info("run aborted", "run_id", id, "reason", reason)
	})
	return nil
}

// Finish stamps the run's updatedAt (starting the TTL clock) and invokes
// the finish hook, if any, on a separate goroutine.
func (s *Store) Finish(id string, summary FinishSummary) {
	s.mu.Lock()
	r, ok := s.runs[id]
	if ok {
		r.updatedAt = s.now()
		summary.RunID = r.id
		summary.Status = r.status
		summary.Error = r.lastErr
		summary.Duration = r.updatedAt.Sub(r.createdAt)
	}
	hook := s.finishHook
	s.mu.Unlock()

	if ok && hook != nil {
		go hook(summary)
	}
}

// Sweep removes runs whose updatedAt is older than TTL. Runs with live
// subscribers are skipped; stale non-terminal runs are aborted first and
// collected on a later pass. Returns the number of runs released.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	var expired []string
	var stale []string
	for id, r := range s.runs {
		if now.Sub(r.updatedAt) <= TTL || len(r.subs) > 0 {
			continue
		}
		if r.status.Terminal() {
			expired = append(expired, id)
		} else {
			stale = append(stale, id)
		}
	}
	for _, id := range expired {
		delete(s.runs, id)
	}
	s.mu.Unlock()

	for _, id := range stale {
		_ = s.Abort(id, "Run expired")
	}
	if len(expired) > 0 {
		s.logger.Info("swept expired runs", "count", len(expired))
	}
	return len(expired)
}

// Shutdown aborts every non-terminal run. Called on process shutdown so
// drivers and tool invocations short-circuit.
func (s *Store) Shutdown() {
	s.mu.Lock()
	var active []string
	for id, r := range s.runs {
		if !r.status.Terminal() {
			active = append(active, id)
		}
	}
	s.mu.Unlock()

	for _, id := range active {
		_ = s.Abort(id, "Server shutting down")
	}
}

// Stats reports aggregate counts for health and metrics surfaces.
func (s *Store) Stats() (total, active, subscribers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		total++
		if !r.status.Terminal() {
			active++
		}
		subscribers += len(r.subs)
	}
	return total, active, subscribers
}

// generateID produces a 32-character hex string from 16 random bytes.
func generateID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("runstore: crypto/rand unavailable: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
