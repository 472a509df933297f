// Package pipeline implements the four-phase document pipeline driver:
// it consumes the upstream runtime's message stream, tracks phases, cost,
// and transcription progress, and emits the typed run event stream.
package pipeline

import "time"

// Event kinds emitted into the run store. Payload shapes are the structs
// below.
const (
	EventStatus          = "status"
	EventToolUse         = "tool_use"
	EventToolResult      = "tool_result"
	EventTranscriptChunk = "transcript_chunk"
	EventTodo            = "todo"
	EventJudgeRound      = "judge_round"
	EventCost            = "cost"
	EventLog             = "log"
	EventFinal           = "final"
	EventError           = "error"
)

// Names of the MCP tools the pipeline prompt allows.
const (
	ToolTranscribe = "transcribe_audio"
	ToolDraft      = "draft_document"
	ToolExport     = "export_docx"
	ToolTodo       = "TodoWrite"
)

// EmitFunc appends one event to the run's stream.
type EmitFunc func(kind string, payload any)

// StatusPayload reports a phase transition.
type StatusPayload struct {
	Step   Phase       `json:"step"`
	Status PhaseStatus `json:"status"`
	At     time.Time `json:"at"`
	Meta   any       `json:"meta,omitempty"`
}

// ToolUsePayload reports a tool invocation the assistant requested.
type ToolUsePayload struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	StartedAt    time.Time `json:"startedAt"`
	InputSummary string    `json:"inputSummary"`
}

// ToolResultPayload reports a completed tool invocation.
type ToolResultPayload struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IsError    bool      `json:"isError"`
	Content    string    `json:"content"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
}

// TranscriptChunkPayload reports aggregated transcription progress.
type TranscriptChunkPayload struct {
	Transcript      string    `json:"transcript,omitempty"`
	ProcessedChunks int       `json:"processedChunks"`
	TotalChunks     int       `json:"totalChunks"`
	At              time.Time `json:"at"`
}

// TodoItem is one entry of the assistant's todo tracker.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// TodoPayload carries the assistant's current todo list.
type TodoPayload struct {
	Todos []TodoItem `json:"todos"`
}

// JudgeRoundPayload reports one reviewer verdict.
type JudgeRoundPayload struct {
	Round           int       `json:"round"`
	Approved        bool      `json:"approved"`
	Reasons         []string  `json:"reasons,omitempty"`
	RequiredChanges []string  `json:"required_changes,omitempty"`
	RevisedDraft    string    `json:"revised_draft,omitempty"`
	At              time.Time `json:"at"`
}

// CostPayload carries the running cost summary.
type CostPayload struct {
	Summary Summary   `json:"summary"`
	At      time.Time `json:"at"`
}

// LogPayload is a freeform log line surfaced to stream clients.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// FinalPayload is the single terminal event of a successful run.
type FinalPayload struct {
	OK           bool   `json:"ok"`
	Draft        string `json:"draft,omitempty"`
	Docx         string `json:"docx,omitempty"`
	DocxRelative string `json:"docxRelative,omitempty"`
	Recovered    bool   `json:"recovered,omitempty"`
}

// ErrorPayload reports a run-level error.
type ErrorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Aborted bool   `json:"aborted,omitempty"`
}
