package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxscribe/voxscribe/internal/pipeline"
	"github.com/voxscribe/voxscribe/internal/runstore"
)

// heartbeatInterval is the SSE/WS keep-alive cadence: a comment is sent
// after this much writer idleness, not on a fixed clock.
const heartbeatInterval = 15 * time.Second

func (g *Gateway) heartbeatEvery() time.Duration {
	if g.heartbeat > 0 {
		return g.heartbeat
	}
	return heartbeatInterval
}

// streamChanBuf absorbs replay bursts so the store's delivery goroutine
// rarely blocks on a slow client.
const streamChanBuf = 64

// subscribe attaches to a run's event stream. The returned channel carries
// replayed and live events in order; closing done releases the store's
// delivery goroutine. terminal reports whether an event ends the stream.
func (g *Gateway) subscribe(id string) (events <-chan runstore.Event, done chan struct{}, unsub func(), err error) {
	ch := make(chan runstore.Event, streamChanBuf)
	done = make(chan struct{})

	unsub, _, _, err = g.store.Subscribe(id, func(e runstore.Event) {
		select {
		case ch <- e:
		case <-done:
		}
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return ch, done, unsub, nil
}

// terminal reports whether an event closes the stream: the final event of
// a successful run, or an error event once the run has reached a terminal
// status.
func (g *Gateway) terminal(id string, e runstore.Event) bool {
	switch e.Kind {
	case pipeline.EventFinal:
		return true
	case pipeline.EventError:
		status, _, err := g.store.GetStatus(id)
		return err == nil && status.Terminal()
	}
	return false
}

// handleStream serves a run's event stream as server-sent events. The
// response stays open until the run finishes or the client disconnects;
// every buffered event is replayed first.
func (g *Gateway) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		events, done, unsub, err := g.subscribe(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		defer func() {
			close(done)
			unsub()
		}()

		h := w.Header()
		h.Set("Content-Type", "text/event-stream; charset=utf-8")
		h.Set("Cache-Control", "no-cache, no-transform")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		g.metrics.StreamOpened()
		defer g.metrics.StreamClosed()

		interval := g.heartbeatEvery()
		heartbeat := time.NewTicker(interval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return

			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()

			case e := <-events:
				data, err := json.Marshal(e)
				if err != nil {
					g.logger.Warn("event marshal failed", "run_id", id, "seq", e.Seq, "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
					return
				}
				flusher.Flush()
				g.metrics.EventStreamed()

				if g.terminal(id, e) {
					return
				}
				// Every frame is a sign of life; restart the idleness clock.
				heartbeat.Reset(interval)
			}
		}
	}
}
