package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/inkfable/story-illustrator/internal/session"
)

// handleProgressStream streams progress snapshots for one session as SSE,
// once a second, until the client disconnects or the batch reaches done.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.registry.Get(sessionID); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func() (done bool, ok bool) {
		progress, found := s.orchestrator.Progress(sessionID)
		if !found {
			return true, false
		}
		payload, err := json.Marshal(progress)
		if err != nil {
			return true, false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return true, false
		}
		flusher.Flush()
		return progress.State == session.StateDone, true
	}

	if done, ok := send(); done || !ok {
		return
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if done, ok := send(); done || !ok {
				return
			}
		}
	}
}
