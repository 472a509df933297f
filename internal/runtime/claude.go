package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// scanBufSize bounds a single stream-json line. Assistant turns carrying a
// full transcript can be large.
const scanBufSize = 10 << 20

// queueSize is the CLI runtime's push buffer toward the driver.
const queueSize = 256

// CLIConfig configures the agent CLI subprocess.
type CLIConfig struct {
	// Command is the agent binary. Defaults to "claude".
	Command string

	// Args are extra arguments placed before the generated ones.
	Args []string

	// MCPConfig is the path of the MCP server configuration handed to the
	// CLI, connecting the transcription, drafting, and export providers.
	MCPConfig string

	// WorkDir is the subprocess working directory.
	WorkDir string

	Logger *slog.Logger
}

// CLIRuntime runs the upstream agent as a subprocess speaking NDJSON
// ("stream-json") on stdout and translates its wire messages into the
// Message stream the pipeline driver consumes.
type CLIRuntime struct {
	cfg CLIConfig
}

// NewCLIRuntime creates a runtime around the configured CLI.
func NewCLIRuntime(cfg CLIConfig) *CLIRuntime {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLIRuntime{cfg: cfg}
}

// Run implements Runtime. The subprocess is bound to ctx: cancellation
// kills it, which also interrupts any in-flight tool invocation.
func (r *CLIRuntime) Run(ctx context.Context, req RunRequest) (<-chan Message, error) {
	args := append([]string{}, r.cfg.Args...)
	args = append(args,
		"--output-format", "stream-json",
		"--verbose",
	)
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if req.BypassPermissions {
		args = append(args, "--permission-mode", "bypassPermissions")
	}
	if r.cfg.MCPConfig != "" {
		args = append(args, "--mcp-config", r.cfg.MCPConfig)
	}
	if len(req.Subagents) > 0 {
		agents, err := marshalAgents(req.Subagents)
		if err != nil {
			return nil, fmt.Errorf("runtime: encoding subagents: %w", err)
		}
		args = append(args, "--agents", agents)
	}
	args = append(args, "-p", req.Prompt)

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = r.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("runtime: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("runtime: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runtime: starting %s: %w", r.cfg.Command, err)
	}
	r.cfg.Logger.Debug("agent runtime started", "command", r.cfg.Command, "pid", cmd.Process.Pid)

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			r.cfg.Logger.Debug("agent stderr", "line", scanner.Text())
		}
	}()

	q := NewQueue(queueSize)
	go func() {
		defer q.Close()

		dec := newWireDecoder()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64<<10), scanBufSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			for _, m := range dec.decode(line) {
				if err := q.Push(ctx, m); err != nil {
					_ = cmd.Process.Kill()
					_ = cmd.Wait()
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			r.cfg.Logger.Warn("agent stdout read failed", "error", err)
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			r.cfg.Logger.Warn("agent runtime exited with error", "error", err)
		}
	}()

	return q.Messages(), nil
}

// marshalAgents renders subagent descriptors in the CLI's --agents shape.
func marshalAgents(subs []SubagentDescriptor) (string, error) {
	out := make(map[string]map[string]any, len(subs))
	for _, s := range subs {
		entry := map[string]any{
			"description": s.Description,
			"prompt":      s.Prompt,
		}
		if s.Tools != nil {
			entry["tools"] = s.Tools
		}
		if s.Model != "" {
			entry["model"] = s.Model
		}
		out[s.Name] = entry
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Wire shapes of the CLI's stream-json output.
type wireMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`

	Message *struct {
		ID      string      `json:"id"`
		Content []wireBlock `json:"content"`
		Usage   *Usage      `json:"usage"`
	} `json:"message"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// wireDecoder translates wire messages. It remembers tool_use IDs so that
// tool_result blocks, which carry only the ID, can be attributed to a tool
// name.
type wireDecoder struct {
	toolNames map[string]string
}

func newWireDecoder() *wireDecoder {
	return &wireDecoder{toolNames: make(map[string]string)}
}

// decode translates one NDJSON line into zero or more runtime messages.
// Unknown or malformed lines are dropped.
func (d *wireDecoder) decode(line []byte) []Message {
	var wm wireMessage
	if err := json.Unmarshal(line, &wm); err != nil {
		return nil
	}
	now := time.Now()

	switch wm.Type {
	case "system":
		return []Message{{Type: MessageSystem, SessionID: wm.SessionID, Timestamp: now}}

	case "assistant":
		if wm.Message == nil {
			return nil
		}
		msg := Message{
			Type:      MessageAssistant,
			ID:        wm.Message.ID,
			SessionID: wm.SessionID,
			Timestamp: now,
			Usage:     wm.Message.Usage,
		}
		out := []Message{}
		for _, b := range wm.Message.Content {
			switch b.Type {
			case "tool_use":
				d.toolNames[b.ID] = b.Name
				msg.Content = append(msg.Content, ContentBlock{
					Type: "tool_use", ID: b.ID, Name: b.Name, Input: b.Input,
				})
			case "text":
				msg.Content = append(msg.Content, ContentBlock{Type: "text", Text: b.Text})
				// Free text also flows as a stream message; reviewer
				// verdicts are read from there.
				out = append(out, Message{
					Type:      MessageStream,
					SessionID: wm.SessionID,
					Timestamp: now,
					Stream:    &StreamPayload{Kind: "text", Text: b.Text},
				})
			}
		}
		return append([]Message{msg}, out...)

	case "user":
		if wm.Message == nil {
			return nil
		}
		var out []Message
		for _, b := range wm.Message.Content {
			if b.Type != "tool_result" {
				continue
			}
			out = append(out, Message{
				Type:      MessageStream,
				SessionID: wm.SessionID,
				Timestamp: now,
				Stream: &StreamPayload{
					Kind:     "tool_result",
					ToolName: d.toolNames[b.ToolUseID],
					IsError:  b.IsError,
					Text:     flattenContent(b.Content),
				},
			})
		}
		return out

	case "result":
		return []Message{{
			Type:      MessageResult,
			SessionID: wm.SessionID,
			Timestamp: now,
			Result: &Result{
				IsError: wm.IsError || (wm.Subtype != "" && wm.Subtype != "success"),
				Subtype: wm.Subtype,
				Text:    wm.Result,
			},
		}}
	}
	return nil
}

// flattenContent renders tool_result content, which is either a plain
// string or a list of text blocks.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
