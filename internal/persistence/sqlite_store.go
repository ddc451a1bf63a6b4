package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inkfable/story-illustrator/internal/session"
	"github.com/inkfable/story-illustrator/internal/storyboard"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore persists sessions with their storyboards and generated images.
// Credentials are never written here; the store only ever sees session
// content.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// UpsertSession writes the full session snapshot in one transaction.
// Storyboards and images are replaced wholesale; their ordering columns
// preserve the snapshot's slice order across a reload.
func (s *SQLiteStore) UpsertSession(ctx context.Context, snapshot *session.Session) error {
	if snapshot == nil {
		return fmt.Errorf("session is nil")
	}
	failedJSON, err := json.Marshal(snapshot.FailedIDs)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(
		ctx,
		`INSERT INTO sessions (
			id, story, character_description, reference_image, state, failed_ids_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			story=excluded.story,
			character_description=excluded.character_description,
			reference_image=excluded.reference_image,
			state=excluded.state,
			failed_ids_json=excluded.failed_ids_json,
			updated_at=excluded.updated_at`,
		snapshot.ID,
		snapshot.Story,
		snapshot.CharacterDescription,
		snapshot.ReferenceImage,
		string(snapshot.State),
		string(failedJSON),
		snapshot.CreatedAt,
		snapshot.UpdatedAt,
	); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM storyboards WHERE session_id = ?`, snapshot.ID); err != nil {
		return err
	}
	for i, sb := range snapshot.Storyboards {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO storyboards (id, session_id, position, scene_number, description, character_action, setting, mood, custom_prompt)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sb.ID, snapshot.ID, i, sb.SceneNumber, sb.Description, sb.CharacterAction, sb.Setting, sb.Mood, sb.CustomPrompt,
		); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM generated_images WHERE session_id = ?`, snapshot.ID); err != nil {
		return err
	}
	for i, img := range snapshot.Results {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO generated_images (id, session_id, storyboard_id, position, image_url, prompt, generated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			img.ID, snapshot.ID, img.StoryboardID, i, img.ImageURL, img.Prompt, img.GeneratedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadSessions reads every persisted session with its storyboards and
// images, ordered oldest first.
func (s *SQLiteStore) LoadSessions(ctx context.Context) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, story, character_description, reference_image, state, failed_ids_json, created_at, updated_at
		 FROM sessions
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*session.Session, 0)
	byID := make(map[string]*session.Session)
	for rows.Next() {
		var item session.Session
		var state string
		var failedJSON string
		if err := rows.Scan(
			&item.ID,
			&item.Story,
			&item.CharacterDescription,
			&item.ReferenceImage,
			&state,
			&failedJSON,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.State = session.BatchState(state)
		if err := json.Unmarshal([]byte(failedJSON), &item.FailedIDs); err != nil {
			return nil, err
		}
		ret = append(ret, &item)
		byID[item.ID] = &item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadStoryboards(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.loadImages(ctx, byID); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) loadStoryboards(ctx context.Context, byID map[string]*session.Session) error {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, scene_number, description, character_action, setting, mood, custom_prompt
		 FROM storyboards
		 ORDER BY session_id, position ASC`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sb storyboard.Storyboard
		var sessionID string
		if err := rows.Scan(&sb.ID, &sessionID, &sb.SceneNumber, &sb.Description, &sb.CharacterAction, &sb.Setting, &sb.Mood, &sb.CustomPrompt); err != nil {
			return err
		}
		if owner, ok := byID[sessionID]; ok {
			owner.Storyboards = append(owner.Storyboards, sb)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) loadImages(ctx context.Context, byID map[string]*session.Session) error {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, storyboard_id, image_url, prompt, generated_at
		 FROM generated_images
		 ORDER BY session_id, position ASC`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var img storyboard.GeneratedImage
		var sessionID string
		if err := rows.Scan(&img.ID, &sessionID, &img.StoryboardID, &img.ImageURL, &img.Prompt, &img.GeneratedAt); err != nil {
			return err
		}
		if owner, ok := byID[sessionID]; ok {
			owner.Results = append(owner.Results, img)
		}
	}
	return rows.Err()
}

// DeleteSession removes a session and everything attached to it.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM generated_images WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM storyboards WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteStaleSessions removes sessions last touched before the cutoff and
// returns the number removed.
func (s *SQLiteStore) DeleteStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE updated_at <= ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.DeleteSession(ctx, id); err != nil {
			return 0, err
		}
	}
	return int64(len(ids)), nil
}
