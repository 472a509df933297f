package runtime

import (
	"errors"
	"os/exec"

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
	_ Runtime           = (*CLIRuntime)(nil)
)

// ModuleConfig is the YAML configuration of the agent runtime.
type ModuleConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	MCPConfig string   `yaml:"mcp_config"`
	WorkDir   string   `yaml:"workdir"`
}

// Module hosts the CLI runtime and publishes it as the "runtime.agent"
// service.
type Module struct {
	config ModuleConfig
	appCtx *core.AppContext
	rt     *CLIRuntime
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "runtime.claude",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	if m.config.Command == "" {
		m.config.Command = "claude"
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	if m.config.Command == "" {
		m.config.Command = "claude"
	}
	if m.config.WorkDir == "" {
		m.config.WorkDir = ctx.ProjectRoot
	}
	m.rt = NewCLIRuntime(CLIConfig{
		Command:   m.config.Command,
		Args:      m.config.Args,
		MCPConfig: m.config.MCPConfig,
		WorkDir:   m.config.WorkDir,
		Logger:    ctx.Logger,
	})
	ctx.RegisterService("runtime.agent", m.rt)
	return nil
}

// Start implements core.Starter. When no MCP config path is configured,
// the one generated by the tools module is used; resolved lazily so module
// load order does not matter.
func (m *Module) Start() error {
	if m.rt.cfg.MCPConfig != "" {
		return nil
	}
	if svc, ok := m.appCtx.Service("tools.mcp_config"); ok {
		if path, ok := svc.(string); ok {
			m.rt.cfg.MCPConfig = path
		}
	}
	return nil
}

// Validate implements core.Validator. The agent binary must be resolvable
// at startup, not at the first run.
func (m *Module) Validate() error {
	if m.config.Command == "" {
		return errors.New("runtime: command is required")
	}
	if _, err := exec.LookPath(m.config.Command); err != nil {
		return errors.New("runtime: agent command not found: " + m.config.Command)
	}
	return nil
}
