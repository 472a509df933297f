package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxscribe/voxscribe/internal/pipeline"
	"github.com/voxscribe/voxscribe/internal/runstore"
	"github.com/voxscribe/voxscribe/internal/runtime"
)

// scriptedAgent replays a fixed message stream for every run.
type scriptedAgent struct {
	msgs []runtime.Message
}

func (a *scriptedAgent) Run(context.Context, runtime.RunRequest) (<-chan runtime.Message, error) {
	ch := make(chan runtime.Message, len(a.msgs))
	for _, m := range a.msgs {
		ch <- m
	}
	close(ch)
	return ch, nil
}

// stallingAgent never produces a message, so runs stay running until
// aborted.
type stallingAgent struct{}

func (stallingAgent) Run(ctx context.Context, _ runtime.RunRequest) (<-chan runtime.Message, error) {
	ch := make(chan runtime.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// happyScript is a minimal successful run: one export and an ok result.
func happyScript() []runtime.Message {
	return []runtime.Message{
		{
			Type: runtime.MessageAssistant,
			Content: []runtime.ContentBlock{{
				Type: "tool_use", ID: "tu-1", Name: pipeline.ToolExport,
				Input: json.RawMessage(`{}`),
			}},
		},
		{
			Type: runtime.MessageStream,
			Stream: &runtime.StreamPayload{
				Kind: "tool_result", ToolName: pipeline.ToolExport, Text: "exported",
			},
		},
		{
			Type:   runtime.MessageResult,
			Result: &runtime.Result{Text: `{"status":"ok","draft":"d","docx":"out/report.docx"}`},
		},
	}
}

// newTestGateway builds a gateway around a temp project root with an audio
// file and a template in place.
func newTestGateway(t *testing.T, agent runtime.Runtime) (*Gateway, string) {
	t.Helper()

	root := t.TempDir()
	for _, f := range []string{"audio/meeting.mp3", "templates/report.docx"} {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := Config{ProjectRoot: root}
	cfg.defaults()

	g := &Gateway{
		config:  cfg,
		logger:  logger,
		metrics: NewMetrics(),
		store:   runstore.NewStore(logger),
		agent:   agent,
	}
	return g, root
}

// createRun posts a valid run request and returns the run ID.
func createRun(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	body := `{"audio":"audio/meeting.mp3","template":"templates/report.docx","outdoc":"out/report.docx","outputLanguage":"en"}`
	resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create run status = %d", resp.StatusCode)
	}
	var rr RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		t.Fatal(err)
	}
	if rr.RunID == "" {
		t.Fatal("empty run ID")
	}
	return rr.RunID
}
