package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/voxscribe/voxscribe/internal/pipeline"
	"github.com/voxscribe/voxscribe/internal/runstore"
	"github.com/voxscribe/voxscribe/internal/validate"
)

// CreateRunRequest is the JSON body of POST /runs. All paths are resolved
// against and confined to the project root.
type CreateRunRequest struct {
	Audio          string `json:"audio"`
	Template       string `json:"template"`
	Output         string `json:"outdoc"`
	Prompt         string `json:"prompt,omitempty"`
	InputLanguage  string `json:"inputLanguage,omitempty"`
	OutputLanguage string `json:"outputLanguage,omitempty"`
}

// RunResponse is the JSON shape of run status replies.
type RunResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// handleCreateRun validates the request, allocates a run, and launches its
// pipeline driver. Replies 201 with the run ID; the caller follows up on
// the stream endpoint.
func (g *Gateway) handleCreateRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		cfg, err := g.pipelineConfig(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		id, runCtx, err := g.store.CreateRun()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not allocate run")
			return
		}
		g.launch(id, runCtx, cfg)

		writeJSON(w, http.StatusCreated, RunResponse{RunID: id, Status: string(runstore.StatusPending)})
	}
}

// pipelineConfig validates a create request and assembles the driver
// configuration, minus the run identity and store sinks.
func (g *Gateway) pipelineConfig(req CreateRunRequest) (pipeline.Config, error) {
	root := g.config.ProjectRoot

	audio, err := validate.AudioPath(root, req.Audio)
	if err != nil {
		return pipeline.Config{}, err
	}
	template, err := validate.DocxPath(root, req.Template)
	if err != nil {
		return pipeline.Config{}, err
	}
	output, err := validate.DocxPath(root, req.Output)
	if err != nil {
		return pipeline.Config{}, err
	}
	if err := validate.InputLanguage(req.InputLanguage); err != nil {
		return pipeline.Config{}, err
	}
	if err := validate.OutputLanguage(req.OutputLanguage); err != nil {
		return pipeline.Config{}, err
	}

	var promptPath string
	if req.Prompt != "" {
		if promptPath, err = validate.ProjectPath(root, req.Prompt); err != nil {
			return pipeline.Config{}, err
		}
	}
	var guidelines string
	if g.config.GuidelinesPath != "" {
		if guidelines, err = validate.ProjectPath(root, g.config.GuidelinesPath); err != nil {
			return pipeline.Config{}, err
		}
	}

	rel, err := filepath.Rel(root, output)
	if err != nil {
		rel = output
	}

	return pipeline.Config{
		AudioPath:       audio,
		TemplatePath:    template,
		OutputPath:      output,
		OutputRelative:  rel,
		PromptPath:      promptPath,
		GuidelinesPath:  guidelines,
		InputLanguage:   req.InputLanguage,
		OutputLanguage:  req.OutputLanguage,
		ProjectRoot:     root,
		MaxReviewRounds: g.config.MaxReviewRounds,
		MaxTurns:        g.config.MaxTurns,
		Runtime:         g.agent,
		Logger:          g.logger,
		Tracer:          g.tracer,
	}, nil
}

// launch wires the driver's sinks to the run store and starts it on its
// own goroutine, bound to the run's cancellation context.
func (g *Gateway) launch(id string, runCtx context.Context, cfg pipeline.Config) {
	cfg.RunID = id
	cfg.Emit = func(kind string, payload any) {
		// The store's Abort already appended the abort error event; the
		// driver's mirror of it would duplicate the frame.
		if p, ok := payload.(pipeline.ErrorPayload); ok && p.Aborted {
			if status, _, err := g.store.GetStatus(id); err == nil && status == runstore.StatusAborted {
				return
			}
		}
		if err := g.store.AppendEvent(id, kind, payload); err != nil {
			g.logger.Warn("append event failed", "run_id", id, "error", err)
		}
	}
	cfg.SetStatus = func(status runstore.Status, errMsg string) {
		_ = g.store.SetStatus(id, status, errMsg)
	}
	cfg.OnFinish = func(s pipeline.Summary) {
		g.store.Finish(id, runstore.FinishSummary{
			TotalTokens:      s.TotalTokens,
			EstimatedCostUSD: s.EstimatedCostUSD,
		})
		if snap, err := g.store.Get(id); err == nil {
			g.metrics.RunFinished(string(snap.Status), snap.UpdatedAt.Sub(snap.CreatedAt))
		}
	}

	g.metrics.RunStarted()
	driver := pipeline.NewDriver(cfg)
	go func() {
		if err := driver.Run(runCtx); err != nil && !errors.Is(err, pipeline.ErrAborted) {
			g.logger.Error("pipeline run failed", "run_id", id, "error", err)
		}
	}()
}

// handleGetRun replies with the run's current status.
func (g *Gateway) handleGetRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		snap, err := g.store.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		writeJSON(w, http.StatusOK, RunResponse{
			RunID:  snap.ID,
			Status: string(snap.Status),
			Error:  snap.LastError,
		})
	}
}

// handleAbort fires the run's cancellation signal. Idempotent: aborting a
// terminal or already-aborted run is a no-op reply.
func (g *Gateway) handleAbort() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := g.store.Abort(id, "Run aborted by client"); err != nil {
			writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		status, _, _ := g.store.GetStatus(id)
		writeJSON(w, http.StatusOK, RunResponse{RunID: id, Status: string(status)})
	}
}
