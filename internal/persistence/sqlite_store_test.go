package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkfable/story-illustrator/internal/session"
	"github.com/inkfable/story-illustrator/internal/storyboard"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "illustrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// sampleSession builds a fixture whose child IDs are scoped to the session,
// matching production where every ID is a fresh uuid.
func sampleSession(id string) *session.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &session.Session{
		ID:                   id,
		Story:                "A fox finds a lantern.",
		CharacterDescription: "a red fox",
		ReferenceImage:       "data:image/png;base64,REF",
		State:                session.StateDone,
		FailedIDs:            []string{id + "-sb-2"},
		Storyboards: []storyboard.Storyboard{
			{ID: id + "-sb-1", SceneNumber: 1, Description: "fox wakes", CharacterAction: "stretches", Setting: "den", Mood: "calm"},
			{ID: id + "-sb-2", SceneNumber: 2, Description: "fox walks", CharacterAction: "walks", Setting: "forest", Mood: "curious", CustomPrompt: "wide shot"},
		},
		Results: []storyboard.GeneratedImage{
			{ID: id + "-img-1", StoryboardID: id + "-sb-1", ImageURL: "https://cdn.example.com/1.png", Prompt: "p1", GeneratedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertSession(ctx, sampleSession("s-1")))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, "s-1", got.ID)
	assert.Equal(t, "A fox finds a lantern.", got.Story)
	assert.Equal(t, "data:image/png;base64,REF", got.ReferenceImage)
	assert.Equal(t, session.StateDone, got.State)
	assert.Equal(t, []string{"s-1-sb-2"}, got.FailedIDs)

	require.Len(t, got.Storyboards, 2)
	assert.Equal(t, "s-1-sb-1", got.Storyboards[0].ID)
	assert.Equal(t, "wide shot", got.Storyboards[1].CustomPrompt)

	require.Len(t, got.Results, 1)
	assert.Equal(t, "s-1-sb-1", got.Results[0].StoryboardID)
	assert.Equal(t, "https://cdn.example.com/1.png", got.Results[0].ImageURL)
}

func TestSQLiteStore_UpsertReplacesChildren(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	first := sampleSession("s-1")
	require.NoError(t, store.UpsertSession(ctx, first))

	second := sampleSession("s-1")
	second.Storyboards = second.Storyboards[:1]
	second.Results = []storyboard.GeneratedImage{
		{ID: "img-2", StoryboardID: "s-1-sb-1", ImageURL: "https://cdn.example.com/2.png", GeneratedAt: time.Now().UTC()},
	}
	second.FailedIDs = nil
	require.NoError(t, store.UpsertSession(ctx, second))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Len(t, loaded[0].Storyboards, 1)
	require.Len(t, loaded[0].Results, 1)
	assert.Equal(t, "img-2", loaded[0].Results[0].ID)
	assert.Empty(t, loaded[0].FailedIDs)
}

func TestSQLiteStore_DeleteSession(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertSession(ctx, sampleSession("s-1")))
	require.NoError(t, store.UpsertSession(ctx, sampleSession("s-2")))

	require.NoError(t, store.DeleteSession(ctx, "s-1"))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "s-2", loaded[0].ID)
}

func TestSQLiteStore_DeleteStaleSessions(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	stale := sampleSession("stale")
	stale.UpdatedAt = time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, store.UpsertSession(ctx, stale))

	fresh := sampleSession("fresh")
	require.NoError(t, store.UpsertSession(ctx, fresh))

	removed, err := store.DeleteStaleSessions(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "fresh", loaded[0].ID)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "illustrator.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.UpsertSession(context.Background(), sampleSession("s-1")))
	require.NoError(t, store.Close())

	// Migrations are idempotent across reopen.
	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	loaded, err := reopened.LoadSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}
