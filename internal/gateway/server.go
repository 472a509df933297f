package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g.metrics.registry, promhttp.HandlerOpts{}))

	mount := func(r chi.Router) {
		r.Post("/runs", g.handleCreateRun())
		r.Get("/runs/{id}", g.handleGetRun())
		r.Get("/runs/{id}/stream", g.handleStream())
		r.Get("/runs/{id}/ws", g.handleWebSocket())
		r.Post("/runs/{id}/abort", g.handleAbort())
	}

	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth))
			mount(r)
		})
	} else {
		mount(r)
	}

	return r
}
