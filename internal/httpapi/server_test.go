package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkfable/story-illustrator/internal/jobs"
	"github.com/inkfable/story-illustrator/internal/service"
	"github.com/inkfable/story-illustrator/internal/session"
	"github.com/inkfable/story-illustrator/internal/storyboard"
)

type stubScenes struct{}

func (stubScenes) GenerateScene(_ context.Context, sb storyboard.Storyboard, _, _ string) (*storyboard.GeneratedImage, error) {
	return &storyboard.GeneratedImage{
		ID:           "img-" + sb.ID,
		StoryboardID: sb.ID,
		ImageURL:     "https://cdn.example.com/" + sb.ID + ".png",
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

func (stubScenes) EnsureReference(context.Context, string) (string, error) {
	return "data:image/png;base64,REF", nil
}

type stubBoards struct{}

func (stubBoards) Breakdown(_ context.Context, _, _ string, sceneCount int) ([]storyboard.Storyboard, error) {
	scenes := make([]storyboard.Storyboard, 0, sceneCount)
	for i := 0; i < sceneCount; i++ {
		scenes = append(scenes, storyboard.Storyboard{
			ID:          fmt.Sprintf("sb-%d", i+1),
			SceneNumber: i + 1,
			Description: fmt.Sprintf("scene %d", i+1),
		})
	}
	return scenes, nil
}

func newTestServer(t *testing.T) (*Server, *session.Registry, *jobs.Queue) {
	t.Helper()
	registry := session.NewRegistry()
	orchestrator := service.NewOrchestrator(registry, nil, stubScenes{}, stubBoards{})
	queue := jobs.NewQueue(1)
	t.Cleanup(queue.Stop)
	return NewServer(registry, orchestrator, queue), registry, queue
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_CreateAndGetSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions", map[string]string{
		"story":                 "A fox finds a lantern.",
		"character_description": "a red fox",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, session.StateIdle, created.State)

	rec = doJSON(t, srv, http.MethodGet, "/api/sessions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "A fox finds a lantern.", got.Story)
}

func TestServer_CreateSessionRequiresStory(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions", map[string]string{"story": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetMissingSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StoryboardBreakdown(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	created := registry.Create("A fox finds a lantern.", "")

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/storyboard", map[string]int{"scene_count": 3})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Storyboards []storyboard.Storyboard `json:"storyboards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Storyboards, 3)
}

func TestServer_StoryboardBreakdownErrorMapping(t *testing.T) {
	srv, registry, _ := newTestServer(t)

	// Unknown session maps to 404.
	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/missing/storyboard", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Session without usable story text maps to 400.
	created := registry.Create("   ", "")
	rec = doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/storyboard", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StoryboardEdit(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	created := registry.Create("story", "")
	_, err := registry.Update(created.ID, func(s *session.Session) {
		s.Storyboards = []storyboard.Storyboard{{ID: "sb-1", SceneNumber: 1, Description: "old"}}
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPut, "/api/sessions/"+created.ID+"/storyboard/sb-1", map[string]string{
		"description": "edited",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, _ := registry.Get(created.ID)
	assert.Equal(t, "edited", got.Storyboards[0].Description)
}

func TestServer_ReferenceUpload(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	created := registry.Create("story", "")

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/reference", map[string]string{
		"data_uri": "data:image/png;base64,UPLOADED",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, _ := registry.Get(created.ID)
	assert.Equal(t, "data:image/png;base64,UPLOADED", got.ReferenceImage)

	// Replaced wholesale on a second upload.
	rec = doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/reference", map[string]string{
		"data_uri": "data:image/jpeg;base64,SECOND",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ = registry.Get(created.ID)
	assert.Equal(t, "data:image/jpeg;base64,SECOND", got.ReferenceImage)

	// Non-image payloads are rejected.
	rec = doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/reference", map[string]string{
		"data_uri": "https://example.com/x.png",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GenerateEnqueuesAndDeduplicates(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	created := registry.Create("story", "")
	_, err := registry.Update(created.ID, func(s *session.Session) {
		s.Storyboards = []storyboard.Storyboard{{ID: "sb-1", SceneNumber: 1}}
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var first struct {
		Created bool                `json:"created"`
		Job     *jobs.GenerationJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.Created)
	assert.Equal(t, created.ID, first.Job.SessionID)

	// Second enqueue while the first is still pending returns the same job.
	rec = doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var second struct {
		Created bool                `json:"created"`
		Job     *jobs.GenerationJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.False(t, second.Created)
	assert.Equal(t, first.Job.ID, second.Job.ID)
}

func TestServer_GenerateRunsBatchThroughQueue(t *testing.T) {
	srv, registry, queue := newTestServer(t)
	created := registry.Create("story", "a fox")
	_, err := registry.Update(created.ID, func(s *session.Session) {
		s.Storyboards = []storyboard.Storyboard{
			{ID: "sb-1", SceneNumber: 1},
			{ID: "sb-2", SceneNumber: 2},
		}
	})
	require.NoError(t, err)

	// Wire the queue the way cmd does.
	orchestrator := service.NewOrchestrator(registry, nil, stubScenes{}, stubBoards{})
	queue.Start(func(ctx context.Context, job *jobs.GenerationJob) error {
		switch job.Kind {
		case jobs.KindRetryFailed:
			_, err := orchestrator.RetryFailed(ctx, job.SessionID)
			return err
		default:
			_, err := orchestrator.RunBatch(ctx, job.SessionID)
			return err
		}
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		got, ok := registry.Get(created.ID)
		return ok && got.State == session.StateDone && len(got.Results) == 2
	}, 10*time.Second, 20*time.Millisecond)

	rec = doJSON(t, srv, http.MethodGet, "/api/sessions/"+created.ID+"/images", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var gallery struct {
		Images    []storyboard.GeneratedImage `json:"images"`
		FailedIDs []string                    `json:"failed_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gallery))
	assert.Len(t, gallery.Images, 2)
	assert.Empty(t, gallery.FailedIDs)
}

func TestServer_RegenerateScene(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	created := registry.Create("story", "")
	_, err := registry.Update(created.ID, func(s *session.Session) {
		s.Storyboards = []storyboard.Storyboard{{ID: "sb-1", SceneNumber: 1}}
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/scenes/sb-1/regenerate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var image storyboard.GeneratedImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &image))
	assert.Equal(t, "sb-1", image.StoryboardID)

	rec = doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/scenes/missing/regenerate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RetryFailedEnqueues(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	created := registry.Create("story", "")

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/retry-failed", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/sessions/missing/retry-failed", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DeleteSession(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	created := registry.Create("story", "")

	rec := doJSON(t, srv, http.MethodDelete, "/api/sessions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := registry.Get(created.ID)
	assert.False(t, ok)
}

func TestServer_ProgressStreamSendsSnapshot(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	created := registry.Create("story", "")
	_, err := registry.Update(created.ID, func(s *session.Session) {
		s.Storyboards = []storyboard.Storyboard{{ID: "sb-1", SceneNumber: 1}}
		s.State = session.StateDone
	})
	require.NoError(t, err)

	// Done state closes the stream after the first event.
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+created.ID+"/progress", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "data: "))

	var progress service.Progress
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(body), "data: ")), &progress))
	assert.Equal(t, created.ID, progress.SessionID)
	assert.Equal(t, 1, progress.Total)
}

func TestServer_ListJobs(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	created := registry.Create("story", "")

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []*jobs.GenerationJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}
