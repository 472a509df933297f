package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"gopkg.in/yaml.v3"

	"github.com/voxscribe/voxscribe/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// connectTimeout bounds startup initialization per server.
const connectTimeout = 30 * time.Second

// ServerConfig describes one stdio MCP server.
type ServerConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// ModuleConfig is the YAML configuration of the tools module.
type ModuleConfig struct {
	Servers map[string]ServerConfig `yaml:"servers"`

	// Required lists tools that must be advertised across the servers.
	// Startup fails when one is missing.
	Required []string `yaml:"required"`
}

// Module hosts the MCP bridge and publishes it as the "tools.mcp" service.
// It also renders the server set as an MCP config file for the agent CLI
// and publishes its path as "tools.mcp_config".
type Module struct {
	config ModuleConfig
	logger *slog.Logger
	appCtx *core.AppContext
	bridge *Bridge

	configPath string
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "tools.mcp",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.bridge = NewBridge(ctx.Logger)

	path, err := m.writeCLIConfig(ctx.DataDir)
	if err != nil {
		return err
	}
	m.configPath = path

	ctx.RegisterService("tools.mcp", m.bridge)
	ctx.RegisterService("tools.mcp_config", m.configPath)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if len(m.config.Servers) == 0 {
		return errors.New("tools: at least one MCP server is required")
	}
	for name, s := range m.config.Servers {
		if s.Command == "" {
			return fmt.Errorf("tools: server %s has no command", name)
		}
	}
	return nil
}

// Start implements core.Starter. Connects every configured server and
// verifies the required tools are actually served, so a misconfigured
// provider fails at startup instead of inside a run.
func (m *Module) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	for name, sc := range m.config.Servers {
		env := make([]string, 0, len(sc.Env))
		for k, v := range sc.Env {
			env = append(env, k+"="+v)
		}
		c := mcpclient.NewClient(transport.NewStdio(sc.Command, env, sc.Args...))
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("tools: starting %s: %w", name, err)
		}
		if err := m.bridge.Connect(ctx, name, c); err != nil {
			return err
		}
	}

	if len(m.config.Required) > 0 {
		if err := m.bridge.Verify(m.config.Required); err != nil {
			return err
		}
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	return m.bridge.Close()
}

// writeCLIConfig renders the configured servers in the agent CLI's
// mcpServers JSON shape and writes it under the data directory.
func (m *Module) writeCLIConfig(dataDir string) (string, error) {
	type cliServer struct {
		Command string            `json:"command"`
		Args    []string          `json:"args,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
	}
	servers := make(map[string]cliServer, len(m.config.Servers))
	for name, s := range m.config.Servers {
		servers[name] = cliServer{Command: s.Command, Args: s.Args, Env: s.Env}
	}

	raw, err := json.MarshalIndent(map[string]any{"mcpServers": servers}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("tools: encoding mcp config: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("tools: creating data dir: %w", err)
	}
	path := filepath.Join(dataDir, "mcp.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("tools: writing mcp config: %w", err)
	}
	return path, nil
}
