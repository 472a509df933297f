package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// handleWebSocket mirrors a run's event stream over a WebSocket: one JSON
// text message per event, replay included, pings as keep-alive. Semantics
// match the SSE endpoint, for clients behind SSE-hostile proxies.
func (g *Gateway) handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !g.store.Has(id) {
			writeError(w, http.StatusNotFound, "unknown run")
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("websocket accept failed", "run_id", id, "error", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "stream closed")

		events, done, unsub, err := g.subscribe(id)
		if err != nil {
			conn.Close(websocket.StatusPolicyViolation, "unknown run")
			return
		}
		defer func() {
			close(done)
			unsub()
		}()

		g.metrics.StreamOpened()
		defer g.metrics.StreamClosed()

		// No inbound messages are expected; CloseRead surfaces the client
		// going away through the returned context.
		ctx := conn.CloseRead(r.Context())

		interval := g.heartbeatEvery()
		heartbeat := time.NewTicker(interval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-heartbeat.C:
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					return
				}

			case e := <-events:
				data, err := json.Marshal(e)
				if err != nil {
					g.logger.Warn("event marshal failed", "run_id", id, "seq", e.Seq, "error", err)
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
				g.metrics.EventStreamed()

				if g.terminal(id, e) {
					conn.Close(websocket.StatusNormalClosure, "run finished")
					return
				}
				heartbeat.Reset(interval)
			}
		}
	}
}
