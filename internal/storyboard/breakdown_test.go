package storyboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/inkfable/story-illustrator/internal/llm"
)

func newBreakdownServer(t *testing.T, content string, capture *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test/text-model", body.Model)
		require.Len(t, body.Messages, 1)
		if capture != nil {
			*capture = body.Messages[0].Content
		}

		response := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
}

func newTestGenerator(t *testing.T, url string) *Generator {
	t.Helper()
	client, err := llm.NewClient(&llm.Config{
		APIKey:     "test-key",
		APIURL:     url,
		TextModel:  "test/text-model",
		ImageModel: "test/image-model",
		Timeout:    30,
	})
	require.NoError(t, err)
	return NewGenerator(client, language.English)
}

func TestBreakdown(t *testing.T) {
	content := "Here you go:\n" +
		`{"storyboards":[` +
		`{"sceneNumber":1,"description":"Mira finds a lantern","characterAction":"picks it up","setting":"attic","mood":"wonder"},` +
		`{"description":"Mira follows the light","characterAction":"runs","setting":"garden","mood":"excited"}` +
		`]}`

	var prompt string
	server := newBreakdownServer(t, content, &prompt)
	defer server.Close()

	generator := newTestGenerator(t, server.URL)
	scenes, err := generator.Breakdown(context.Background(), "Mira found a glowing lantern in the attic and followed its light into the garden.", "Mira, a small girl with red hair", 2)
	require.NoError(t, err)
	require.Len(t, scenes, 2)

	// Fresh IDs, missing scene numbers filled by position.
	assert.NotEmpty(t, scenes[0].ID)
	assert.NotEmpty(t, scenes[1].ID)
	assert.NotEqual(t, scenes[0].ID, scenes[1].ID)
	assert.Equal(t, 1, scenes[0].SceneNumber)
	assert.Equal(t, 2, scenes[1].SceneNumber)

	// Prompt carries the story, the character, and the scene count.
	assert.Contains(t, prompt, "exactly 2 scenes")
	assert.Contains(t, prompt, "Mira found a glowing lantern")
	assert.Contains(t, prompt, "Mira, a small girl with red hair")
	assert.Contains(t, prompt, "English")
}

func TestBreakdown_DefaultAndClampedSceneCount(t *testing.T) {
	var prompt string
	server := newBreakdownServer(t, `{"storyboards":[{"sceneNumber":1,"description":"d"}]}`, &prompt)
	defer server.Close()

	generator := newTestGenerator(t, server.URL)

	_, err := generator.Breakdown(context.Background(), "A short story.", "", 0)
	require.NoError(t, err)
	assert.Contains(t, prompt, "exactly 6 scenes")

	_, err = generator.Breakdown(context.Background(), "A short story.", "", 100)
	require.NoError(t, err)
	assert.Contains(t, prompt, "exactly 12 scenes")
}

func TestBreakdown_MalformedOutput(t *testing.T) {
	server := newBreakdownServer(t, "Sorry, I cannot structure this story.", nil)
	defer server.Close()

	generator := newTestGenerator(t, server.URL)
	_, err := generator.Breakdown(context.Background(), "A story.", "", 3)

	var malformed *MalformedBreakdownError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Preview, "Sorry, I cannot structure")
}

func TestBreakdown_TransportErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	generator := newTestGenerator(t, server.URL)
	_, err := generator.Breakdown(context.Background(), "A story.", "", 3)

	var transportErr *llm.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusBadGateway, transportErr.Status)
}

func TestStoryLanguage(t *testing.T) {
	generator := NewGenerator(nil, language.English)

	lang := generator.storyLanguage("Il était une fois une petite renarde qui vivait dans la forêt profonde et rêvait de voir la mer un jour.")
	assert.Equal(t, "French", lang)

	// Undetectable input falls back to the configured default.
	lang = generator.storyLanguage(strings.Repeat("7 ", 10))
	assert.NotEmpty(t, lang)
}
