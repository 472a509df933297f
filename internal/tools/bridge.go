// Package tools manages the MCP providers backing the pipeline: the
// transcription, drafting, and export servers. It keeps one client per
// server, verifies at startup that every required tool is actually served,
// and offers direct invocation with the pipeline's request timeout.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// RequestTimeout bounds a single MCP tool invocation. Transcription of a
// long recording is the slowest call; ten minutes covers it.
const RequestTimeout = 10 * time.Minute

// ErrUnknownTool is returned when no connected server advertises the tool.
var ErrUnknownTool = errors.New("tools: no server advertises tool")

// mcpClient is the slice of the mcp-go client surface the bridge uses.
type mcpClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Bridge is the registry of connected MCP servers and the tools they
// advertise.
type Bridge struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]mcpClient // server name -> client
	owners  map[string]string    // tool name -> server name
}

// NewBridge creates an empty bridge.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		logger:  logger,
		clients: make(map[string]mcpClient),
		owners:  make(map[string]string),
	}
}

// Connect initializes a server's client and indexes its tools. The client
// must already be started; the bridge takes ownership and closes it on
// Close.
func (b *Bridge) Connect(ctx context.Context, name string, c mcpClient) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "voxscribe", Version: "1.0.0"}

	if _, err := c.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("tools: initializing %s: %w", name, err)
	}

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("tools: listing tools of %s: %w", name, err)
	}

	b.mu.Lock()
	b.clients[name] = c
	for _, t := range tools.Tools {
		b.owners[t.Name] = name
	}
	b.mu.Unlock()

	b.logger.Info("mcp server connected", "server", name, "tools", len(tools.Tools))
	return nil
}

// Tools returns the advertised tool names across all servers.
func (b *Bridge) Tools() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.owners))
	for t := range b.owners {
		out = append(out, t)
	}
	return out
}

// Verify checks that every required tool is advertised by some server.
func (b *Bridge) Verify(required []string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var missing []string
	for _, t := range required {
		if _, ok := b.owners[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("tools: required tools not served: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Invoke calls a tool on its owning server, bounded by RequestTimeout and
// the caller's ctx. Returns the flattened text content and the server's
// error flag.
func (b *Bridge) Invoke(ctx context.Context, tool string, args map[string]any) (string, bool, error) {
	b.mu.RLock()
	owner, ok := b.owners[tool]
	c := b.clients[owner]
	b.mu.RUnlock()
	if !ok || c == nil {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}

	callCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	res, err := c.CallTool(callCtx, req)
	if err != nil {
		return "", false, fmt.Errorf("tools: calling %s on %s: %w", tool, owner, err)
	}
	return flattenResult(res), res.IsError, nil
}

// Close shuts down every client.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for name, c := range b.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: closing %s: %w", name, err)
		}
	}
	b.clients = make(map[string]mcpClient)
	b.owners = make(map[string]string)
	return firstErr
}

// flattenResult joins the text blocks of a tool result.
func flattenResult(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
