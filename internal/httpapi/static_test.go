package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkfable/story-illustrator/internal/jobs"
	"github.com/inkfable/story-illustrator/internal/service"
	"github.com/inkfable/story-illustrator/internal/session"
)

func TestServer_ServesSPAFromStaticDir(t *testing.T) {
	tmp := t.TempDir()
	staticDir := filepath.Join(tmp, "web")
	require.NoError(t, os.MkdirAll(staticDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>gallery</html>"), 0o644))

	registry := session.NewRegistry()
	orchestrator := service.NewOrchestrator(registry, nil, stubScenes{}, stubBoards{})
	queue := jobs.NewQueue(1)
	t.Cleanup(queue.Stop)

	server := NewServer(registry, orchestrator, queue, WithUI(staticDir, true))

	for _, url := range []string{"/", "/sessions/abc"} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "gallery")
	}
}
