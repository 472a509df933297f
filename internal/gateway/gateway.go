// Package gateway is the HTTP surface of the run pipeline: run creation,
// status, live SSE and WebSocket streams, abort, health, and Prometheus
// metrics. It is a leaf module — nothing imports it.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/voxscribe/voxscribe/internal/core"
	"github.com/voxscribe/voxscribe/internal/runstore"
	"github.com/voxscribe/voxscribe/internal/runtime"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the HTTP gateway module.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	metrics   *Metrics
	startedAt time.Time

	// Resolved lazily at Start() via the service registry.
	store  *runstore.Store
	agent  runtime.Runtime
	tracer trace.Tracer

	// heartbeat overrides the stream keep-alive interval. Zero = default.
	heartbeat time.Duration
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = NewMetrics()
	if g.config.ProjectRoot == "" {
		g.config.ProjectRoot = ctx.ProjectRoot
	}
	ctx.RegisterService("gateway.metrics", g.metrics)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	if g.config.ProjectRoot == "" {
		return errors.New("gateway: project_root is required")
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	svc, ok := g.appCtx.Service("runs.store")
	if !ok {
		return errors.New("gateway: runs.store service not registered")
	}
	store, ok := svc.(*runstore.Store)
	if !ok {
		return errors.New("gateway: runs.store service has unexpected type")
	}
	g.store = store

	svc, ok = g.appCtx.Service("runtime.agent")
	if !ok {
		return errors.New("gateway: runtime.agent service not registered")
	}
	agent, ok := svc.(runtime.Runtime)
	if !ok {
		return errors.New("gateway: runtime.agent service has unexpected type")
	}
	g.agent = agent

	// Optional: no-op spans when telemetry is not loaded.
	if svc, ok := g.appCtx.Service("telemetry.tracer"); ok {
		if tracer, ok := svc.(trace.Tracer); ok {
			g.tracer = tracer
		}
	}

	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: g.config.ReadHeaderTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
