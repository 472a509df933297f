// Package runtime defines the boundary to the upstream agent runtime that
// drives the document pipeline. The runtime itself (an agent CLI, an SDK, a
// remote service) is external; voxscribe only consumes the message stream it
// yields and the descriptors it accepts.
package runtime

import (
	"context"
	"encoding/json"
	"time"
)

// MessageType identifies which payload field of a Message is populated.
type MessageType string

const (
	// MessageSystem carries session metadata (session id, model, tools).
	MessageSystem MessageType = "system"

	// MessageAssistant carries assistant output: text and tool-use blocks.
	MessageAssistant MessageType = "assistant"

	// MessageStream carries incremental events: tool results and text deltas.
	MessageStream MessageType = "stream"

	// MessageResult is the terminal message of a run.
	MessageResult MessageType = "result"
)

// Usage is per-message token usage, including prompt-cache buckets.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// ContentBlock is one block of assistant content.
type ContentBlock struct {
	Type  string          `json:"type"` // "text" or "tool_use"
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// StreamPayload is an incremental event inside a turn.
type StreamPayload struct {
	// Kind is "tool_result" or "text".
	Kind string `json:"kind"`

	// ToolName names the tool a tool_result belongs to. Results arrive in
	// the same order as the tool_use blocks that caused them, per tool.
	ToolName string `json:"tool_name,omitempty"`

	// IsError marks a failed tool invocation.
	IsError bool `json:"is_error,omitempty"`

	// Text holds the textual portion: tool result content or a free-text
	// delta (reviewer verdicts arrive this way).
	Text string `json:"text,omitempty"`
}

// Result is the terminal payload of a run.
type Result struct {
	IsError bool   `json:"is_error"`
	Subtype string `json:"subtype"` // "success" or "error"
	Text    string `json:"text"`    // final payload, possibly fenced JSON
}

// Message is a single message yielded by the upstream runtime. Check Type
// to determine which payload field is populated.
type Message struct {
	Type MessageType

	// ID is the stable message identifier, when the runtime provides one.
	// Empty for synthetic or incremental messages.
	ID string

	// SessionID is set on system messages and echoed on later ones.
	SessionID string

	// Timestamp is when the runtime produced the message. Zero means "now".
	Timestamp time.Time

	// Usage is set when the message carries token accounting.
	Usage *Usage

	// Content is set on assistant messages.
	Content []ContentBlock

	// Stream is set on stream messages.
	Stream *StreamPayload

	// Result is set on result messages.
	Result *Result
}

// SubagentDescriptor describes a subordinate agent the runtime may invoke,
// such as the draft reviewer.
type SubagentDescriptor struct {
	Name        string
	Description string
	Prompt      string
	Tools       []string
	Model       string
}

// RunRequest is the input handed to the upstream runtime for one run.
type RunRequest struct {
	Prompt            string
	AllowedTools      []string
	Subagents         []SubagentDescriptor
	BypassPermissions bool
	MaxTurns          int
}

// Runtime yields a message stream for a run request. The returned channel is
// closed when the runtime is done; a read error terminates the stream via a
// MessageResult with IsError or by closing the channel early. Implementations
// must honor ctx cancellation promptly, including inside tool invocations.
type Runtime interface {
	Run(ctx context.Context, req RunRequest) (<-chan Message, error)
}
