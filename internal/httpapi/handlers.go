package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/inkfable/story-illustrator/internal/jobs"
	"github.com/inkfable/story-illustrator/internal/service"
	"github.com/inkfable/story-illustrator/internal/session"
	"github.com/inkfable/story-illustrator/internal/storyboard"
)

type createSessionRequest struct {
	Story                string `json:"story"`
	CharacterDescription string `json:"character_description"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.registry.List())
	case http.MethodPost:
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if strings.TrimSpace(req.Story) == "" {
			writeError(w, http.StatusBadRequest, "story is required")
			return
		}
		created := s.registry.Create(req.Story, req.CharacterDescription)
		writeJSON(w, http.StatusCreated, created)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSessionSubtree routes /api/sessions/{id}[/...] by path segments.
func (s *Server) handleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}
	sessionID := segments[0]

	switch {
	case len(segments) == 1:
		s.handleSession(w, r, sessionID)
	case len(segments) == 2 && segments[1] == "storyboard":
		s.handleStoryboard(w, r, sessionID)
	case len(segments) == 3 && segments[1] == "storyboard":
		s.handleStoryboardEdit(w, r, sessionID, segments[2])
	case len(segments) == 2 && segments[1] == "reference":
		s.handleReference(w, r, sessionID)
	case len(segments) == 2 && segments[1] == "generate":
		s.handleGenerate(w, r, sessionID)
	case len(segments) == 4 && segments[1] == "scenes" && segments[3] == "regenerate":
		s.handleRegenerate(w, r, sessionID, segments[2])
	case len(segments) == 2 && segments[1] == "retry-failed":
		s.handleRetryFailed(w, r, sessionID)
	case len(segments) == 2 && segments[1] == "images":
		s.handleImages(w, r, sessionID)
	case len(segments) == 2 && segments[1] == "progress":
		s.handleProgressStream(w, r, sessionID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		snapshot, ok := s.registry.Get(sessionID)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	case http.MethodDelete:
		s.registry.Delete(sessionID)
		if s.store != nil {
			if err := s.store.DeleteSession(r.Context(), sessionID); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type breakdownRequest struct {
	SceneCount int `json:"scene_count"`
}

func (s *Server) handleStoryboard(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req breakdownRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	scenes, err := s.orchestrator.BreakdownStory(r.Context(), sessionID, req.SceneCount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"storyboards": scenes})
}

func (s *Server) handleStoryboardEdit(w http.ResponseWriter, r *http.Request, sessionID, storyboardID string) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var sb storyboard.Storyboard
	if err := json.NewDecoder(r.Body).Decode(&sb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sb.ID = storyboardID
	if err := s.orchestrator.UpdateStoryboard(r.Context(), sessionID, sb); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type referenceRequest struct {
	DataURI string `json:"data_uri"`
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req referenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if !strings.HasPrefix(req.DataURI, "data:image/") {
		writeError(w, http.StatusBadRequest, "data_uri must be an image data URI")
		return
	}
	if err := s.orchestrator.SetReference(r.Context(), sessionID, req.DataURI); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.registry.Get(sessionID); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	job, created := s.queue.Enqueue(jobs.EnqueueRequest{
		Source:    "api",
		SessionID: sessionID,
		Kind:      jobs.KindBatch,
	})
	code := http.StatusAccepted
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"created": created,
		"job":     job,
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request, sessionID, sceneID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	image, err := s.orchestrator.RegenerateScene(r.Context(), sessionID, sceneID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, image)
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.registry.Get(sessionID); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	job, created := s.queue.Enqueue(jobs.EnqueueRequest{
		Source:    "api",
		SessionID: sessionID,
		Kind:      jobs.KindRetryFailed,
	})
	code := http.StatusAccepted
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"created": created,
		"job":     job,
	})
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshot, ok := s.registry.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"images":     snapshot.Results,
		"failed_ids": snapshot.FailedIDs,
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.queue.List())
}

// writeServiceError maps orchestrator errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotReady):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
