package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxscribe/voxscribe/internal/runstore"
	"github.com/voxscribe/voxscribe/internal/runtime"
)

// scriptRuntime replays a fixed message sequence and closes the stream.
type scriptRuntime struct {
	msgs    []runtime.Message
	lastReq runtime.RunRequest
}

func (s *scriptRuntime) Run(_ context.Context, req runtime.RunRequest) (<-chan runtime.Message, error) {
	s.lastReq = req
	ch := make(chan runtime.Message, len(s.msgs))
	for _, m := range s.msgs {
		ch <- m
	}
	close(ch)
	return ch, nil
}

// stallRuntime hands back a stream that never produces anything.
type stallRuntime struct{ ch chan runtime.Message }

func (s *stallRuntime) Run(context.Context, runtime.RunRequest) (<-chan runtime.Message, error) {
	return s.ch, nil
}

type capturedEvent struct {
	kind    string
	payload any
}

// harness collects everything a driver run emits.
type harness struct {
	events   []capturedEvent
	statuses []runstore.Status
	errMsgs  []string
	summary  *Summary
}

func (h *harness) config(rt runtime.Runtime) Config {
	return Config{
		RunID:          "run-test",
		AudioPath:      "/project/audio/meeting.mp3",
		TemplatePath:   "/project/templates/report.docx",
		OutputPath:     "/project/out/report.docx",
		OutputRelative: "out/report.docx",
		InputLanguage:  "de",
		OutputLanguage: "en",
		MaxReviewRounds: 1,
		Runtime:        rt,
		Emit: func(kind string, payload any) {
			h.events = append(h.events, capturedEvent{kind, payload})
		},
		SetStatus: func(s runstore.Status, errMsg string) {
			h.statuses = append(h.statuses, s)
			h.errMsgs = append(h.errMsgs, errMsg)
		},
		OnFinish: func(s Summary) { h.summary = &s },
		Now:      func() time.Time { return time.Unix(1_700_000_000, 0) },
	}
}

func (h *harness) kinds() []string {
	out := make([]string, len(h.events))
	for i, e := range h.events {
		out[i] = e.kind
	}
	return out
}

func (h *harness) finalStatus(t *testing.T) runstore.Status {
	t.Helper()
	if len(h.statuses) == 0 {
		t.Fatal("no status written")
	}
	return h.statuses[len(h.statuses)-1]
}

// requireSubsequence asserts want appears in order within got.
func requireSubsequence(t *testing.T, got, want []string) {
	t.Helper()
	i := 0
	for _, k := range got {
		if i < len(want) && k == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Fatalf("event kinds %v missing ordered subsequence %v (matched %d)", got, want, i)
	}
}

func toolUse(name, id, input string) runtime.Message {
	return runtime.Message{
		Type: runtime.MessageAssistant,
		Content: []runtime.ContentBlock{{
			Type:  "tool_use",
			ID:    id,
			Name:  name,
			Input: json.RawMessage(input),
		}},
	}
}

func toolResult(name, text string, isErr bool) runtime.Message {
	return runtime.Message{
		Type: runtime.MessageStream,
		Stream: &runtime.StreamPayload{
			Kind:     "tool_result",
			ToolName: name,
			IsError:  isErr,
			Text:     text,
		},
	}
}

func freeText(text string) runtime.Message {
	return runtime.Message{
		Type:   runtime.MessageStream,
		Stream: &runtime.StreamPayload{Kind: "text", Text: text},
	}
}

func resultMsg(text string, isErr bool) runtime.Message {
	return runtime.Message{
		Type:   runtime.MessageResult,
		Result: &runtime.Result{IsError: isErr, Text: text},
	}
}

func TestDriverHappyPath(t *testing.T) {
	t.Parallel()

	rt := &scriptRuntime{msgs: []runtime.Message{
		{Type: runtime.MessageSystem, SessionID: "sess-1"},
		toolUse(ToolTranscribe, "tu-1", `{"audio":"meeting.mp3","startChunk":0}`),
		toolResult(ToolTranscribe, `{"transcript":"hello","startChunk":0,"processedChunks":1,"totalChunks":1,"nextChunk":null,"usage":{"inputTokens":1000,"outputTokens":200}}`, false),
		toolUse(ToolDraft, "tu-2", `{"transcript":"hello"}`),
		toolResult(ToolDraft, "draft text", false),
		freeText(`{"approved": true, "reasons": ["complete"]}`),
		toolUse(ToolExport, "tu-3", `{"draft":"draft text"}`),
		toolResult(ToolExport, "exported", false),
		resultMsg(`{"status":"ok","draft":"draft text","docx":"/project/out/report.docx"}`, false),
	}}

	h := &harness{}
	d := NewDriver(h.config(rt))
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	requireSubsequence(t, h.kinds(), []string{
		EventStatus, // transcribe running
		EventLog,
		EventToolUse,
		EventToolResult,
		EventTranscriptChunk,
		EventStatus, // transcribe success
		EventStatus, // draft running
		EventToolUse,
		EventToolResult,
		EventStatus, // draft success
		EventStatus, // review running
		EventJudgeRound,
		EventStatus, // review success
		EventToolUse,
		EventStatus, // export running
		EventToolResult,
		EventStatus, // export success
		EventFinal,
	})

	if got := h.finalStatus(t); got != runstore.StatusSuccess {
		t.Errorf("final status = %s, want success", got)
	}
	if h.summary == nil {
		t.Fatal("OnFinish not invoked")
	}
	// 1200 transcription tokens land in the gemini buckets.
	if h.summary.TotalTokens != 1200 {
		t.Errorf("total tokens = %d, want 1200", h.summary.TotalTokens)
	}

	// Transcript progress precedes the transcribe success transition.
	for _, e := range h.events {
		if e.kind == EventTranscriptChunk {
			p := e.payload.(TranscriptChunkPayload)
			if p.ProcessedChunks != 1 || p.TotalChunks != 1 || p.Transcript != "hello" {
				t.Errorf("transcript payload = %+v", p)
			}
		}
		if e.kind == EventFinal {
			f := e.payload.(FinalPayload)
			if !f.OK || f.DocxRelative != "out/report.docx" || f.Recovered {
				t.Errorf("final payload = %+v", f)
			}
		}
	}

	// Runtime request carries the pipeline tools and the reviewer.
	req := rt.lastReq
	if len(req.AllowedTools) != 4 || !req.BypassPermissions {
		t.Errorf("request = %+v", req)
	}
	if len(req.Subagents) != 1 || req.Subagents[0].Name != ReviewerName {
		t.Errorf("subagents = %+v", req.Subagents)
	}
}

func TestDriverToolErrorFailsRun(t *testing.T) {
	t.Parallel()

	rt := &scriptRuntime{msgs: []runtime.Message{
		toolUse(ToolTranscribe, "tu-1", `{}`),
		toolResult(ToolTranscribe, "ffmpeg exploded", true),
		// Stream ends without a result message.
	}}

	h := &harness{}
	d := NewDriver(h.config(rt))
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil for a failed run")
	}

	if got := h.finalStatus(t); got != runstore.StatusError {
		t.Errorf("final status = %s, want error", got)
	}

	var sawToolError, sawFinal bool
	for _, e := range h.events {
		switch e.kind {
		case EventError:
			if p, ok := e.payload.(ErrorPayload); ok && p.Details == "ffmpeg exploded" {
				sawToolError = true
			}
		case EventFinal:
			sawFinal = true
		case EventStatus:
			p := e.payload.(StatusPayload)
			if p.Step == PhaseDraft {
				t.Error("draft phase moved after transcribe error")
			}
		}
	}
	if !sawToolError {
		t.Error("tool error event missing")
	}
	if sawFinal {
		t.Error("final event emitted for a failed run")
	}
}

func TestDriverAbort(t *testing.T) {
	t.Parallel()

	rt := &stallRuntime{ch: make(chan runtime.Message)}
	h := &harness{}
	d := NewDriver(h.config(rt))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	err := <-done
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run = %v, want ErrAborted", err)
	}

	if got := h.finalStatus(t); got != runstore.StatusAborted {
		t.Errorf("final status = %s, want aborted", got)
	}
	last := h.events[len(h.events)-1]
	if last.kind != EventError {
		t.Fatalf("last event = %s, want error", last.kind)
	}
	p := last.payload.(ErrorPayload)
	if !p.Aborted || p.Message != "Run aborted by client" {
		t.Errorf("abort payload = %+v", p)
	}
	if h.summary == nil {
		t.Error("OnFinish not invoked on abort")
	}
}

func TestDriverAbortWinsOverReadyMessages(t *testing.T) {
	t.Parallel()

	// The whole script is buffered and ready; the fired cancellation
	// signal must still stop the run before any message is consumed.
	rt := &scriptRuntime{msgs: []runtime.Message{
		toolUse(ToolTranscribe, "tu-1", `{}`),
		toolResult(ToolTranscribe, "hello", false),
		resultMsg(`{"status":"ok","docx":"x"}`, false),
	}}

	h := &harness{}
	d := NewDriver(h.config(rt))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Run(ctx); !errors.Is(err, ErrAborted) {
		t.Fatalf("Run = %v, want ErrAborted", err)
	}
	if got := h.finalStatus(t); got != runstore.StatusAborted {
		t.Errorf("final status = %s, want aborted", got)
	}
	for _, e := range h.events {
		if e.kind == EventToolUse || e.kind == EventFinal {
			t.Fatalf("message processed after abort fired: %s", e.kind)
		}
	}
}

func TestDriverRecoversFromExportedDocument(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "report.docx")
	if err := os.WriteFile(out, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}

	rt := &scriptRuntime{msgs: []runtime.Message{
		toolUse(ToolExport, "tu-1", `{}`),
		toolResult(ToolExport, "exported", false),
		// Runtime dies before delivering the result message.
		resultMsg("context deadline exceeded", true),
	}}

	h := &harness{}
	cfg := h.config(rt)
	cfg.OutputPath = out
	d := NewDriver(cfg)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := h.finalStatus(t); got != runstore.StatusSuccess {
		t.Errorf("final status = %s, want success", got)
	}
	var final *FinalPayload
	for _, e := range h.events {
		if e.kind == EventFinal {
			p := e.payload.(FinalPayload)
			final = &p
		}
	}
	if final == nil {
		t.Fatal("no final event")
	}
	if !final.Recovered || final.Docx != out {
		t.Errorf("final = %+v", final)
	}
}

func TestDriverRecoveryProbeRejectsSmallFile(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "report.docx")
	if err := os.WriteFile(out, []byte("tiny"), 0o644); err != nil {
		t.Fatal(err)
	}

	rt := &scriptRuntime{msgs: []runtime.Message{
		resultMsg("runtime crashed", true),
	}}

	h := &harness{}
	cfg := h.config(rt)
	cfg.OutputPath = out
	d := NewDriver(cfg)
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil despite failed probe")
	}
	if got := h.finalStatus(t); got != runstore.StatusError {
		t.Errorf("final status = %s, want error", got)
	}
}

func TestDriverJudgeRejectionCapOne(t *testing.T) {
	t.Parallel()

	rt := &scriptRuntime{msgs: []runtime.Message{
		toolUse(ToolDraft, "tu-1", `{}`),
		toolResult(ToolDraft, "draft", false),
		freeText(`{"approved": false, "reasons": ["off-policy"], "required_changes": ["fix tone"]}`),
		// A second verdict past the cap must be ignored.
		freeText(`{"approved": true}`),
	}}

	h := &harness{}
	d := NewDriver(h.config(rt))
	_ = d.Run(context.Background())

	var rounds []JudgeRoundPayload
	reviewStatuses := []PhaseStatus{}
	for _, e := range h.events {
		if e.kind == EventJudgeRound {
			rounds = append(rounds, e.payload.(JudgeRoundPayload))
		}
		if e.kind == EventStatus {
			if p := e.payload.(StatusPayload); p.Step == PhaseReview {
				reviewStatuses = append(reviewStatuses, p.Status)
			}
		}
	}
	if len(rounds) != 1 {
		t.Fatalf("judge rounds = %d, want 1", len(rounds))
	}
	if rounds[0].Approved || rounds[0].Round != 1 {
		t.Errorf("round = %+v", rounds[0])
	}
	last := reviewStatuses[len(reviewStatuses)-1]
	if last != PhaseError {
		t.Errorf("review status = %s, want error", last)
	}
}

func TestDriverZeroRoundCapIgnoresVerdicts(t *testing.T) {
	t.Parallel()

	rt := &scriptRuntime{msgs: []runtime.Message{
		freeText(`{"approved": false}`),
		resultMsg(`{"status":"ok","docx":"/project/out/report.docx"}`, false),
	}}

	h := &harness{}
	cfg := h.config(rt)
	cfg.MaxReviewRounds = 0
	d := NewDriver(cfg)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, e := range h.events {
		if e.kind == EventJudgeRound {
			t.Fatal("judge round emitted with cap 0")
		}
	}
	if got := h.finalStatus(t); got != runstore.StatusSuccess {
		t.Errorf("final status = %s, want success", got)
	}
}

func TestDriverTodoEvents(t *testing.T) {
	t.Parallel()

	rt := &scriptRuntime{msgs: []runtime.Message{
		toolUse(ToolTodo, "tu-1", `{"todos":[{"content":"transcribe","status":"in_progress","activeForm":"Transcribing"}]}`),
		resultMsg(`{"status":"ok","docx":"x"}`, false),
	}}

	h := &harness{}
	d := NewDriver(h.config(rt))
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var todo *TodoPayload
	for _, e := range h.events {
		if e.kind == EventTodo {
			p := e.payload.(TodoPayload)
			todo = &p
		}
	}
	if todo == nil || len(todo.Todos) != 1 || todo.Todos[0].Content != "transcribe" {
		t.Fatalf("todo payload = %+v", todo)
	}
}

func TestDriverEmitsCostOnUsage(t *testing.T) {
	t.Parallel()

	rt := &scriptRuntime{msgs: []runtime.Message{
		usageMessage("m-1", 500, 100, 0, 0),
		resultMsg(`{"status":"ok","docx":"x"}`, false),
	}}

	h := &harness{}
	d := NewDriver(h.config(rt))
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var cost *CostPayload
	for _, e := range h.events {
		if e.kind == EventCost {
			p := e.payload.(CostPayload)
			cost = &p
		}
	}
	if cost == nil {
		t.Fatal("no cost event")
	}
	if cost.Summary.TotalTokens != 600 {
		t.Errorf("cost tokens = %d, want 600", cost.Summary.TotalTokens)
	}
}
