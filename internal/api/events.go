package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/factory-scheduler/internal/model"
)

// SSE event names sent on the experiment event stream. Status transitions
// use the default (unnamed) event.
const (
	sseSnapshot = "snapshot"
	sseDone     = "done"
)

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	exp, ok := s.engine.Registry().Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "experiment not found")
		return
	}

	// Subscribe before taking the snapshot so no transition falls between
	// the two. If the experiment was deleted in between, the channel is
	// already closed and the loop below ends the stream.
	ch, unsub := s.engine.Broker().Subscribe(name)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	eventStreamsOpen.Inc()
	defer eventStreamsOpen.Dec()

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	view := exp.Snapshot()
	if err := writeSSEJSON(w, sseSnapshot, view); err != nil {
		return
	}
	if allTerminal(view) {
		_ = writeSSEEvent(w, sseDone, view.Status.String())
		flush()
		return
	}
	flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, sseDone, "experiment deleted")
				flush()
				return
			}
			if err := writeSSEJSON(w, "", ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if view := exp.Snapshot(); allTerminal(view) {
				_ = writeSSEEvent(w, sseDone, view.Status.String())
				flush()
				return
			}
			flush()
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// allTerminal reports whether every scenario of v has reached a terminal
// status, after which the poller publishes nothing more for it.
func allTerminal(v model.ExperimentView) bool {
	for _, sc := range v.Scenarios {
		if !sc.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// writeSSEJSON encodes v as the data of one SSE event. An empty eventType
// writes an unnamed event.
func writeSSEJSON(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if eventType != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
			return err
		}
	}
	return writeSSEData(w, string(data))
}

// writeSSEData writes a data event. Multi-line strings are split so that
// each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
