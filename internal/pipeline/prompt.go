package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/voxscribe/voxscribe/internal/runtime"
)

// ReviewerName is the subagent the runtime dispatches review rounds to.
const ReviewerName = "draft-reviewer"

// buildPrompt assembles the instruction prompt handed to the upstream
// runtime: the pipeline steps, the allowed tools with example argument
// shapes, and the policy guidelines when a guidelines file is configured.
func buildPrompt(cfg Config) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, `You orchestrate a document pipeline. Work through these steps in order:

1. Transcribe the audio file with the %s tool. The tool is chunked; keep
   calling it with the returned nextChunk until nextChunk is null.
   Example: {"audio": %q, "inputLanguage": %q, "startChunk": 0}
2. Generate a draft with the %s tool from the full transcript.
   Example: {"transcript": "...", "template": %q, "outputLanguage": %q}
3. Hand the draft to the %s subagent and apply its verdict. Revise at most
   %d time(s); stop once it answers {"approved": true}.
4. Export the approved draft with the %s tool.
   Example: {"draft": "...", "template": %q, "output": %q}

When the export succeeds, answer with exactly one JSON object:
{"status": "ok", "draft": "<final draft>", "docx": %q}
`,
		ToolTranscribe,
		cfg.AudioPath, cfg.InputLanguage,
		ToolDraft,
		cfg.TemplatePath, cfg.OutputLanguage,
		ReviewerName,
		cfg.MaxReviewRounds,
		ToolExport,
		cfg.TemplatePath, cfg.OutputPath,
		cfg.OutputPath,
	)

	if cfg.GuidelinesPath != "" {
		guidelines, err := os.ReadFile(cfg.GuidelinesPath)
		if err != nil {
			return "", fmt.Errorf("pipeline: reading guidelines: %w", err)
		}
		b.WriteString("\nPolicy guidelines the draft must follow:\n\n")
		b.Write(guidelines)
		b.WriteString("\n")
	}

	return b.String(), nil
}

// reviewerDescriptor builds the reviewer subagent handed to the runtime.
func reviewerDescriptor(cfg Config) runtime.SubagentDescriptor {
	return runtime.SubagentDescriptor{
		Name:        ReviewerName,
		Description: "Reviews a document draft against the policy guidelines and answers with a JSON verdict.",
		Prompt: `Review the draft you are given against the policy guidelines. Answer with
exactly one JSON object: {"approved": <bool>, "reasons": [...],
"required_changes": [...], "revised_draft": "<only when rejecting>"}.`,
		Tools: []string{},
	}
}
