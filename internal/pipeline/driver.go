package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/voxscribe/voxscribe/internal/runstore"
	"github.com/voxscribe/voxscribe/internal/runtime"
)

// ErrAborted is returned by Run when the run's cancellation signal fired.
var ErrAborted = errors.New("pipeline: run aborted")

// recoveryMinSize is the minimum output-file size for the error-recovery
// probe to treat a run as recovered.
const recoveryMinSize = 1000

// defaultMaxTurns bounds the upstream runtime's agent loop.
const defaultMaxTurns = 50

// inputSummaryLimit caps the tool-input summary carried in tool_use events.
const inputSummaryLimit = 200

// Config is the input for one pipeline run. Emit and SetStatus funnel the
// driver's output into the run store; the driver holds no store reference.
type Config struct {
	RunID string

	// Absolute paths, already validated against the project root.
	AudioPath    string
	TemplatePath string
	OutputPath   string

	// OutputRelative is the project-root-relative form of OutputPath,
	// reported in the final event.
	OutputRelative string

	// PromptPath optionally names an extra instruction file appended to
	// the generated prompt.
	PromptPath string

	// GuidelinesPath names the policy guidelines file embedded in the
	// prompt and handed to the reviewer.
	GuidelinesPath string

	InputLanguage  string
	OutputLanguage string
	ProjectRoot    string

	// MaxReviewRounds caps reviewer verdicts. Clamped to 0..1; 0 disables
	// the judge gate entirely.
	MaxReviewRounds int

	// MaxTurns bounds the upstream agent loop. 0 = default.
	MaxTurns int

	Runtime runtime.Runtime

	Emit      EmitFunc
	SetStatus func(status runstore.Status, errMsg string)

	// OnFinish receives the final cost summary on every exit path.
	OnFinish func(Summary)

	Logger *slog.Logger
	Tracer trace.Tracer
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = defaultMaxTurns
	}
	if c.MaxReviewRounds < 0 {
		c.MaxReviewRounds = 0
	}
	if c.MaxReviewRounds > 1 {
		c.MaxReviewRounds = 1
	}
	if c.Emit == nil {
		c.Emit = func(string, any) {}
	}
	if c.SetStatus == nil {
		c.SetStatus = func(runstore.Status, string) {}
	}
	return c
}

// Driver runs the four-phase pipeline for a single run. One driver per
// run, driven by a single goroutine.
type Driver struct {
	cfg      Config
	tracker  *CostTracker
	machine  *PhaseMachine
	agg      *TranscriptAggregator
	inflight *inflightRegistry

	judgeRounds int
	finished    bool
}

// NewDriver creates a driver for one run.
func NewDriver(cfg Config) *Driver {
	cfg = cfg.withDefaults()
	d := &Driver{
		cfg:      cfg,
		tracker:  NewCostTracker(),
		agg:      NewTranscriptAggregator(),
		inflight: newInflightRegistry(cfg.Now),
	}
	d.machine = NewPhaseMachine(func(p Phase, s PhaseStatus) {
		d.emit(EventStatus, StatusPayload{Step: p, Status: s, At: cfg.Now()})
	})
	return d
}

func (d *Driver) emit(kind string, payload any) {
	d.cfg.Emit(kind, payload)
}

// Run drives the pipeline to completion. It returns ErrAborted when the
// cancellation signal fired, or the terminal error otherwise. The final
// status has been written through SetStatus before Run returns.
func (d *Driver) Run(ctx context.Context) error {
	ctx, span := d.cfg.Tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("run.id", d.cfg.RunID)))
	defer span.End()

	defer func() {
		if d.cfg.OnFinish != nil {
			d.cfg.OnFinish(d.tracker.Summary())
		}
	}()

	d.cfg.SetStatus(runstore.StatusRunning, "")
	d.machine.Set(PhaseTranscribe, PhaseRunning)

	prompt, err := buildPrompt(d.cfg)
	if err != nil {
		return d.fail(span, err)
	}

	msgs, err := d.cfg.Runtime.Run(ctx, runtime.RunRequest{
		Prompt:            prompt,
		AllowedTools:      []string{ToolTranscribe, ToolDraft, ToolExport, ToolTodo},
		Subagents:         []runtime.SubagentDescriptor{reviewerDescriptor(d.cfg)},
		BypassPermissions: true,
		MaxTurns:          d.cfg.MaxTurns,
	})
	if err != nil {
		return d.fail(span, fmt.Errorf("pipeline: starting runtime: %w", err))
	}

	for {
		// A ready message must never win over an already-fired cancellation
		// signal; select alone picks between the two at random.
		if ctx.Err() != nil {
			return d.abort(span)
		}
		select {
		case <-ctx.Done():
			return d.abort(span)
		case m, ok := <-msgs:
			if !ok {
				// Stream ended without a final result.
				return d.recoverOrFail(span, errors.New("pipeline: runtime stream ended without result"))
			}
			if err := d.handle(m); err != nil {
				return d.recoverOrFail(span, err)
			}
			if d.finished {
				span.SetStatus(codes.Ok, "")
				return nil
			}
		}
	}
}

// errResult signals that the runtime reported a terminal error.
type errResult struct{ msg string }

func (e errResult) Error() string { return e.msg }

// handle processes one upstream message. A non-nil return aborts iteration
// and enters the recovery path.
func (d *Driver) handle(m runtime.Message) error {
	if d.tracker.Record(m) {
		d.emit(EventCost, CostPayload{Summary: d.tracker.Summary(), At: d.cfg.Now()})
	}

	switch m.Type {
	case runtime.MessageSystem:
		if m.SessionID != "" {
			d.emit(EventLog, LogPayload{Level: "info", Message: "session started: " + m.SessionID})
		}

	case runtime.MessageAssistant:
		d.handleAssistant(m)

	case runtime.MessageStream:
		if m.Stream == nil {
			break
		}
		switch m.Stream.Kind {
		case "tool_result":
			d.handleToolResult(m.Stream)
		case "text":
			d.handleText(m.Stream.Text)
		}

	case runtime.MessageResult:
		return d.handleResult(m.Result)
	}
	return nil
}

func (d *Driver) handleAssistant(m runtime.Message) {
	for _, block := range m.Content {
		if block.Type != "tool_use" {
			continue
		}

		rec := d.inflight.push(block.Name, block.ID)
		d.emit(EventToolUse, ToolUsePayload{
			ID:           rec.id,
			Name:         block.Name,
			StartedAt:    rec.startedAt,
			InputSummary: summarizeInput(block.Input),
		})
		d.machine.ToolUse(block.Name)

		if block.Name == ToolTodo {
			var todo TodoPayload
			if err := json.Unmarshal(block.Input, &todo); err == nil && len(todo.Todos) > 0 {
				d.emit(EventTodo, todo)
			}
		}
	}
}

func (d *Driver) handleToolResult(sp *runtime.StreamPayload) {
	rec := d.inflight.pop(sp.ToolName)
	finished := d.cfg.Now()
	d.emit(EventToolResult, ToolResultPayload{
		ID:         rec.id,
		Name:       sp.ToolName,
		IsError:    sp.IsError,
		Content:    sp.Text,
		FinishedAt: finished,
		DurationMs: finished.Sub(rec.startedAt).Milliseconds(),
	})

	if sp.IsError {
		d.machine.ToolResult(sp.ToolName, true)
		d.emit(EventError, ErrorPayload{
			Message: sp.ToolName + " failed",
			Details: sp.Text,
		})
		return
	}

	if sp.ToolName == ToolTranscribe {
		d.foldTranscription(sp.Text)
	}
	d.machine.ToolResult(sp.ToolName, false)
}

// foldTranscription parses a transcription tool result and folds it into
// the aggregator. Parse failures are non-fatal and silently ignored.
func (d *Driver) foldTranscription(content string) {
	raw, ok := ExtractJSONObject(content)
	if !ok {
		return
	}
	var p TranscriptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}

	if p.Usage != nil {
		d.tracker.RecordTranscription(p.Usage.InputTokens, p.Usage.OutputTokens)
		d.emit(EventCost, CostPayload{Summary: d.tracker.Summary(), At: d.cfg.Now()})
	}

	d.agg.Update(p)
	processed, total, preview := d.agg.Snapshot()
	d.emit(EventTranscriptChunk, TranscriptChunkPayload{
		Transcript:      preview,
		ProcessedChunks: processed,
		TotalChunks:     total,
		At:              d.cfg.Now(),
	})
}

// handleText inspects free text for a reviewer verdict. Verdicts beyond
// the round cap are ignored, as is everything when the cap is zero.
func (d *Driver) handleText(text string) {
	if d.cfg.MaxReviewRounds == 0 {
		return
	}
	v, ok := ParseVerdict(text)
	if !ok {
		return
	}
	if d.judgeRounds >= d.cfg.MaxReviewRounds {
		return
	}
	d.judgeRounds++

	approved := *v.Approved
	d.emit(EventJudgeRound, JudgeRoundPayload{
		Round:           d.judgeRounds,
		Approved:        approved,
		Reasons:         v.Reasons,
		RequiredChanges: v.RequiredChanges,
		RevisedDraft:    v.RevisedDraft,
		At:              d.cfg.Now(),
	})
	d.machine.Judge(approved, d.judgeRounds >= d.cfg.MaxReviewRounds)
}

func (d *Driver) handleResult(res *runtime.Result) error {
	if res == nil {
		return errResult{"pipeline: empty result message"}
	}
	if res.IsError {
		return errResult{"pipeline: runtime reported error: " + res.Text}
	}

	final, ok := ParseFinalResult(res.Text)
	if !ok || final.Status != "ok" {
		return errResult{"pipeline: unparsable final result"}
	}

	d.machine.Set(PhaseExport, PhaseSuccess)
	d.emit(EventFinal, FinalPayload{
		OK:           true,
		Draft:        final.Draft,
		Docx:         final.Docx,
		DocxRelative: d.cfg.OutputRelative,
	})
	d.cfg.SetStatus(runstore.StatusSuccess, "")
	d.finished = true
	return nil
}

// abort handles the cancellation signal: a single error event, status
// aborted, no final event.
func (d *Driver) abort(span trace.Span) error {
	d.emit(EventError, ErrorPayload{Message: "Run aborted by client", Aborted: true})
	d.cfg.SetStatus(runstore.StatusAborted, "Run aborted by client")
	span.SetStatus(codes.Error, "aborted")
	d.cfg.Logger.Info("run aborted", "run_id", d.cfg.RunID)
	return ErrAborted
}

// recoverOrFail probes the output document after an upstream failure. A
// non-empty exported file means the pipeline finished even though the
// final message was lost; the run is then converted to a success.
func (d *Driver) recoverOrFail(span trace.Span, cause error) error {
	if info, err := os.Stat(d.cfg.OutputPath); err == nil && info.Size() > recoveryMinSize {
		d.cfg.Logger.Warn("recovered run from exported document",
			"run_id", d.cfg.RunID, "docx", d.cfg.OutputPath, "cause", cause)
		d.emit(EventLog, LogPayload{Level: "warn", Message: "runtime failed after export; recovered from output document"})
		d.machine.Set(PhaseExport, PhaseSuccess)
		d.emit(EventFinal, FinalPayload{
			OK:           true,
			Docx:         d.cfg.OutputPath,
			DocxRelative: d.cfg.OutputRelative,
			Recovered:    true,
		})
		d.cfg.SetStatus(runstore.StatusSuccess, "")
		span.SetStatus(codes.Ok, "recovered")
		return nil
	}
	return d.fail(span, cause)
}

func (d *Driver) fail(span trace.Span, err error) error {
	d.emit(EventError, ErrorPayload{Message: err.Error()})
	d.cfg.SetStatus(runstore.StatusError, err.Error())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.cfg.Logger.Error("run failed", "run_id", d.cfg.RunID, "error", err)
	return err
}

// summarizeInput renders a compact single-line summary of a tool input.
func summarizeInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	compact := make(map[string]any)
	if err := json.Unmarshal(raw, &compact); err != nil {
		s := string(raw)
		if len(s) > inputSummaryLimit {
			s = s[:inputSummaryLimit]
		}
		return s
	}
	out, err := json.Marshal(compact)
	if err != nil {
		return ""
	}
	s := string(out)
	if len(s) > inputSummaryLimit {
		s = s[:inputSummaryLimit]
	}
	return s
}
