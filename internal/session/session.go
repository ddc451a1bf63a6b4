package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkfable/story-illustrator/internal/storyboard"
)

// ErrNotFound marks lookups of sessions or storyboards that do not exist.
// Callers match it with errors.Is.
var ErrNotFound = errors.New("not found")

// BatchState tracks a session's batch generation lifecycle. Transitions are
// one-directional within a run; Done resets to Idle only when a new batch
// starts.
type BatchState string

const (
	StateIdle               BatchState = "idle"
	StatePreparingReference BatchState = "preparing-reference"
	StateGenerating         BatchState = "generating"
	StateRetryingFailed     BatchState = "retrying-failed"
	StateDone               BatchState = "done"
)

// Session is one illustration project: the story, the character, the scene
// breakdown, and everything generated for it. The zero value is not usable;
// create through a Registry.
type Session struct {
	ID                   string                      `json:"id"`
	Story                string                      `json:"story"`
	CharacterDescription string                      `json:"characterDescription"`
	ReferenceImage       string                      `json:"referenceImage,omitempty"`
	Storyboards          []storyboard.Storyboard     `json:"storyboards"`
	Results              []storyboard.GeneratedImage `json:"results"`
	FailedIDs            []string                    `json:"failedIds"`
	State                BatchState                  `json:"state"`
	CreatedAt            time.Time                   `json:"createdAt"`
	UpdatedAt            time.Time                   `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Storyboards = append([]storyboard.Storyboard(nil), s.Storyboards...)
	clone.Results = append([]storyboard.GeneratedImage(nil), s.Results...)
	clone.FailedIDs = append([]string(nil), s.FailedIDs...)
	return &clone
}

// Registry is the in-memory session table. All reads hand out clones; all
// writes go through Update so callers never hold a live pointer into the
// map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session for the given story.
func (r *Registry) Create(story, characterDescription string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:                   uuid.NewString(),
		Story:                story,
		CharacterDescription: characterDescription,
		State:                StateIdle,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	return s.Clone()
}

// Get returns a clone of the session, or false when it does not exist.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// List returns clones of all sessions, newest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Update applies fn to the live session under the registry lock and stamps
// UpdatedAt. fn must not retain the pointer.
func (r *Registry) Update(id string, fn func(*Session)) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %w: %s", ErrNotFound, id)
	}
	fn(s)
	s.UpdatedAt = time.Now().UTC()
	return s.Clone(), nil
}

// Delete removes the session. Deleting a missing session is a no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Hydrate loads persisted sessions into the registry, overwriting any
// in-memory entry with the same ID. In-flight batch states are not
// resumable across restarts, so anything mid-run is reset to idle.
func (r *Registry) Hydrate(sessions []*Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range sessions {
		clone := s.Clone()
		switch clone.State {
		case StateIdle, StateDone:
		default:
			clone.State = StateIdle
		}
		r.sessions[clone.ID] = clone
	}
}

// StaleBefore lists sessions not updated since the cutoff.
func (r *Registry) StaleBefore(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, s := range r.sessions {
		if s.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
