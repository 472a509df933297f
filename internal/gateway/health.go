package gateway

import (
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Runs          struct {
		Total       int `json:"total"`
		Active      int `json:"active"`
		Subscribers int `json:"subscribers"`
	} `json:"runs"`
}

// handleHealth reports process liveness and run-store occupancy.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:        "ok",
			UptimeSeconds: int64(time.Since(g.startedAt) / time.Second),
		}
		resp.Runs.Total, resp.Runs.Active, resp.Runs.Subscribers = g.store.Stats()
		writeJSON(w, http.StatusOK, resp)
	}
}
