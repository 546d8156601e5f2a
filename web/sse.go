package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/broadcast"
	"github.com/gosom/gmaps-extractor/web/auth"
)

// streamEvents sends the job's events as server-sent events until the job
// reaches a terminal state or the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r.Context())
	jobID := mux.Vars(r)["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before reading the job so nothing between the read and the
	// subscription is lost.
	events, cleanup := s.events.Subscribe(r.Context(), jobID)
	defer cleanup()

	job, err := s.svc.Get(r.Context(), jobID, userID)
	if err != nil {
		s.renderError(w, err)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, broadcast.Status(job.ID, job.Status, "connected")); err != nil {
		return
	}

	flusher.Flush()

	if job.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}

			if err := writeEvent(w, ev); err != nil {
				s.log.Debug("sse write failed", zap.String("job_id", jobID), zap.Error(err))
				return
			}

			flusher.Flush()

			if ev.Terminal() {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
				return
			}

			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeEvent(w io.Writer, ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}
