package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// inflightRecord is a pending tool invocation awaiting its result.
type inflightRecord struct {
	id        string
	startedAt time.Time
}

// inflightRegistry pairs tool-result events with the tool-use events that
// caused them. Results arrive in invocation order per tool name, so a FIFO
// queue per tool suffices.
type inflightRegistry struct {
	queues map[string][]inflightRecord
	now    func() time.Time
}

func newInflightRegistry(now func() time.Time) *inflightRegistry {
	if now == nil {
		now = time.Now
	}
	return &inflightRegistry{
		queues: make(map[string][]inflightRecord),
		now:    now,
	}
}

// push registers a tool invocation and returns its record. id may be the
// runtime-provided block ID; when empty a synthetic one is generated.
func (r *inflightRegistry) push(tool, id string) inflightRecord {
	if id == "" {
		id = syntheticID(tool)
	}
	rec := inflightRecord{id: id, startedAt: r.now()}
	r.queues[tool] = append(r.queues[tool], rec)
	return rec
}

// pop removes and returns the oldest pending invocation for the tool.
// When nothing is pending (a result without a matching use), a fresh
// record stamped now is returned so duration reads as zero.
func (r *inflightRegistry) pop(tool string) inflightRecord {
	q := r.queues[tool]
	if len(q) == 0 {
		return inflightRecord{id: syntheticID(tool), startedAt: r.now()}
	}
	rec := q[0]
	r.queues[tool] = q[1:]
	return rec
}

// syntheticID builds a tool-scoped opaque identifier.
func syntheticID(tool string) string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return tool + "-0"
	}
	return tool + "-" + hex.EncodeToString(buf[:])
}
