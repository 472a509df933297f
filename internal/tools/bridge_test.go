package tools

import (
	"context"
	"errors"
	"testing"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// newTestServer builds an in-process MCP server advertising the given
// tools, each echoing its own name.
func newTestServer(t *testing.T, tools ...string) *server.MCPServer {
	t.Helper()
	s := server.NewMCPServer("test-provider", "1.0.0", server.WithToolCapabilities(false))
	for _, name := range tools {
		name := name
		s.AddTool(
			mcp.NewTool(name, mcp.WithDescription("test tool")),
			func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultText("ran " + name), nil
			},
		)
	}
	return s
}

func connect(t *testing.T, b *Bridge, name string, srv *server.MCPServer) {
	t.Helper()
	c, err := mcpclient.NewInProcessClient(srv)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Connect(context.Background(), name, c); err != nil {
		t.Fatal(err)
	}
}

func TestBridgeConnectAndVerify(t *testing.T) {
	t.Parallel()

	b := NewBridge(nil)
	defer b.Close()
	connect(t, b, "transcriber", newTestServer(t, "transcribe_audio"))
	connect(t, b, "drafter", newTestServer(t, "draft_document", "export_docx"))

	if err := b.Verify([]string{"transcribe_audio", "draft_document", "export_docx"}); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if err := b.Verify([]string{"transcribe_audio", "nonexistent_tool"}); err == nil {
		t.Error("Verify passed with a missing tool")
	}
	if got := len(b.Tools()); got != 3 {
		t.Errorf("tool count = %d, want 3", got)
	}
}

func TestBridgeInvoke(t *testing.T) {
	t.Parallel()

	b := NewBridge(nil)
	defer b.Close()
	connect(t, b, "drafter", newTestServer(t, "draft_document"))

	text, isErr, err := b.Invoke(context.Background(), "draft_document", map[string]any{"transcript": "x"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if isErr {
		t.Error("unexpected tool error")
	}
	if text != "ran draft_document" {
		t.Errorf("text = %q", text)
	}
}

func TestBridgeInvokeUnknownTool(t *testing.T) {
	t.Parallel()

	b := NewBridge(nil)
	if _, _, err := b.Invoke(context.Background(), "missing", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
}

func TestBridgeToolError(t *testing.T) {
	t.Parallel()

	s := server.NewMCPServer("failing", "1.0.0")
	s.AddTool(
		mcp.NewTool("export_docx"),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("disk full"), nil
		},
	)

	b := NewBridge(nil)
	defer b.Close()
	connect(t, b, "failing", s)

	text, isErr, err := b.Invoke(context.Background(), "export_docx", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !isErr {
		t.Error("tool error flag not set")
	}
	if text != "disk full" {
		t.Errorf("text = %q", text)
	}
}
