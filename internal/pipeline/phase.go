package pipeline

// Phase is one of the four pipeline stages.
type Phase string

const (
	PhaseTranscribe Phase = "transcribe"
	PhaseDraft      Phase = "draft"
	PhaseReview     Phase = "review"
	PhaseExport     Phase = "export"
)

// phaseOrder is the pipeline order, leftmost first.
var phaseOrder = []Phase{PhaseTranscribe, PhaseDraft, PhaseReview, PhaseExport}

// PhaseStatus is the state of a single phase.
type PhaseStatus string

const (
	PhasePending PhaseStatus = "pending"
	PhaseRunning PhaseStatus = "running"
	PhaseSuccess PhaseStatus = "success"
	PhaseError   PhaseStatus = "error"
)

// terminal reports whether a phase status is final.
func (s PhaseStatus) terminal() bool {
	return s == PhaseSuccess || s == PhaseError
}

// PhaseMachine tracks the status of each pipeline phase and derives legal
// transitions from tool lifecycle events. Invalid transitions (leaving a
// terminal phase, re-entering the current status) are silently ignored.
// Every applied transition is reported through notify.
type PhaseMachine struct {
	statuses map[Phase]PhaseStatus
	notify   func(Phase, PhaseStatus)
}

// NewPhaseMachine creates a machine with all phases pending. notify is
// invoked once per applied transition; nil means no notifications.
func NewPhaseMachine(notify func(Phase, PhaseStatus)) *PhaseMachine {
	if notify == nil {
		notify = func(Phase, PhaseStatus) {}
	}
	m := &PhaseMachine{
		statuses: make(map[Phase]PhaseStatus, len(phaseOrder)),
		notify:   notify,
	}
	for _, p := range phaseOrder {
		m.statuses[p] = PhasePending
	}
	return m
}

// Set applies a transition if it is legal: pending → running → success or
// error. Returns true if the status changed.
func (m *PhaseMachine) Set(p Phase, s PhaseStatus) bool {
	cur, ok := m.statuses[p]
	if !ok || cur == s || cur.terminal() {
		return false
	}
	// Only forward movement: pending may not jump straight back, and a
	// running phase may not return to pending.
	if s == PhasePending {
		return false
	}
	m.statuses[p] = s
	m.notify(p, s)
	return true
}

// Status returns the current status of a phase.
func (m *PhaseMachine) Status(p Phase) PhaseStatus {
	return m.statuses[p]
}

// Statuses returns a copy of the full phase map.
func (m *PhaseMachine) Statuses() map[Phase]PhaseStatus {
	out := make(map[Phase]PhaseStatus, len(m.statuses))
	for p, s := range m.statuses {
		out[p] = s
	}
	return out
}

// Current returns the rightmost non-pending phase, or PhaseTranscribe when
// nothing has started.
func (m *PhaseMachine) Current() Phase {
	cur := PhaseTranscribe
	for _, p := range phaseOrder {
		if m.statuses[p] != PhasePending {
			cur = p
		}
	}
	return cur
}

// phaseForTool maps a pipeline tool to the phase it drives.
func phaseForTool(tool string) (Phase, bool) {
	switch tool {
	case ToolTranscribe:
		return PhaseTranscribe, true
	case ToolDraft:
		return PhaseDraft, true
	case ToolExport:
		return PhaseExport, true
	}
	return "", false
}

// next returns the phase after p in pipeline order, or false for the last.
func next(p Phase) (Phase, bool) {
	for i, q := range phaseOrder {
		if q == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

// ToolUse applies the transitions caused by the assistant invoking a tool:
// starting a later phase implies the earlier ones it depends on finished.
func (m *PhaseMachine) ToolUse(tool string) {
	switch tool {
	case ToolTranscribe:
		m.Set(PhaseTranscribe, PhaseRunning)
	case ToolDraft:
		if m.Status(PhaseTranscribe) == PhaseRunning {
			m.Set(PhaseTranscribe, PhaseSuccess)
		}
		m.Set(PhaseDraft, PhaseRunning)
	case ToolExport:
		if m.Status(PhaseDraft) == PhaseRunning {
			m.Set(PhaseDraft, PhaseSuccess)
		}
		if m.Status(PhaseReview) == PhaseRunning {
			m.Set(PhaseReview, PhaseSuccess)
		}
		m.Set(PhaseExport, PhaseRunning)
	}
}

// ToolResult applies the transitions caused by a tool finishing. A
// successful result completes the tool's phase and starts the next one; an
// error result marks the phase failed with no downstream movement.
func (m *PhaseMachine) ToolResult(tool string, isError bool) {
	p, ok := phaseForTool(tool)
	if !ok {
		return
	}
	if isError {
		m.Set(p, PhaseError)
		return
	}
	m.Set(p, PhaseSuccess)
	if nx, ok := next(p); ok {
		m.Set(nx, PhaseRunning)
	}
}

// Judge applies a reviewer verdict: approval completes review, a final
// rejection (the round cap exhausted without approval) fails it.
func (m *PhaseMachine) Judge(approved, final bool) {
	if approved {
		m.Set(PhaseReview, PhaseSuccess)
		return
	}
	if final {
		m.Set(PhaseReview, PhaseError)
	}
}
