package ops

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lotwise/driveline/internal/events"
)

// handleSSEGlobal streams bus events as Server-Sent Events. The stream can be
// narrowed with correlation_id, sandbox_id and repeated type query params.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.serveSSE(w, r, events.Filter{
		CorrelationID: q.Get("correlation_id"),
		SandboxID:     q.Get("sandbox_id"),
		Types:         q["type"],
	})
}

// handleSSECorrelation streams the events of a single correlation ID.
func (s *Server) handleSSECorrelation(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, events.Filter{CorrelationID: r.PathValue("correlationId")})
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter events.Filter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Bus.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("sse subscribe failed", "error", err)
		writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
