package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/inkfable/story-illustrator/internal/scene"
	"github.com/inkfable/story-illustrator/internal/session"
	"github.com/inkfable/story-illustrator/internal/storyboard"
	"github.com/inkfable/story-illustrator/pkg/log"
	"github.com/inkfable/story-illustrator/pkg/retry"
)

const (
	firstPassPacing = 1000 * time.Millisecond
	retryPassPacing = 800 * time.Millisecond
)

// SceneGenerator is the per-scene image generation surface.
type SceneGenerator interface {
	GenerateScene(ctx context.Context, sb storyboard.Storyboard, referenceImage, identityHint string) (*storyboard.GeneratedImage, error)
	EnsureReference(ctx context.Context, identityText string) (string, error)
}

// BreakdownGenerator turns a story into structured scenes.
type BreakdownGenerator interface {
	Breakdown(ctx context.Context, story, characterDescription string, sceneCount int) ([]storyboard.Storyboard, error)
}

// Store is the persistence surface the orchestrator writes snapshots to.
// A nil store keeps everything in memory.
type Store interface {
	UpsertSession(ctx context.Context, snapshot *session.Session) error
}

// Orchestrator drives batch illustration runs over sessions. It is the only
// writer of a session's result list and failure set; manual entry points
// share that ownership through the registry lock.
type Orchestrator struct {
	registry *session.Registry
	store    Store
	scenes   SceneGenerator
	boards   BreakdownGenerator

	firstPolicy retry.Policy
	retryPolicy retry.Policy
	firstPacing time.Duration
	retryPacing time.Duration

	group singleflight.Group
}

func NewOrchestrator(registry *session.Registry, store Store, scenes SceneGenerator, boards BreakdownGenerator) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		store:       store,
		scenes:      scenes,
		boards:      boards,
		firstPolicy: retry.FirstPass,
		retryPolicy: retry.FailedPass,
		firstPacing: firstPassPacing,
		retryPacing: retryPassPacing,
	}
}

// BreakdownStory generates the storyboard list for the session and replaces
// any previous breakdown. Results and failures from older breakdowns are
// cleared with it.
func (o *Orchestrator) BreakdownStory(ctx context.Context, sessionID string, sceneCount int) ([]storyboard.Storyboard, error) {
	snapshot, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %w: %s", session.ErrNotFound, sessionID)
	}
	if strings.TrimSpace(snapshot.Story) == "" {
		return nil, fmt.Errorf("%w: session %s has no story text", ErrNotReady, sessionID)
	}

	scenes, err := o.boards.Breakdown(ctx, snapshot.Story, snapshot.CharacterDescription, sceneCount)
	if err != nil {
		return nil, err
	}

	updated, err := o.registry.Update(sessionID, func(s *session.Session) {
		s.Storyboards = scenes
		s.Results = nil
		s.FailedIDs = nil
		s.State = session.StateIdle
	})
	if err != nil {
		return nil, err
	}
	o.persist(ctx, updated)
	return updated.Storyboards, nil
}

// UpdateStoryboard replaces the prose fields of one scene. The scene's ID
// and position are fixed.
func (o *Orchestrator) UpdateStoryboard(ctx context.Context, sessionID string, sb storyboard.Storyboard) error {
	found := false
	updated, err := o.registry.Update(sessionID, func(s *session.Session) {
		for i := range s.Storyboards {
			if s.Storyboards[i].ID == sb.ID {
				sb.SceneNumber = s.Storyboards[i].SceneNumber
				s.Storyboards[i] = sb
				found = true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("storyboard %w: %s", session.ErrNotFound, sb.ID)
	}
	o.persist(ctx, updated)
	return nil
}

// SetReference replaces the session's reference image wholesale.
func (o *Orchestrator) SetReference(ctx context.Context, sessionID, dataURI string) error {
	updated, err := o.registry.Update(sessionID, func(s *session.Session) {
		s.ReferenceImage = dataURI
	})
	if err != nil {
		return err
	}
	o.persist(ctx, updated)
	return nil
}

// RunBatch executes one full batch generation for the session: reference
// bootstrap, a sequential first pass over every storyboard, and exactly one
// consolidated retry pass over whatever failed. Concurrent calls for the
// same session collapse into the running one.
func (o *Orchestrator) RunBatch(ctx context.Context, sessionID string) (*session.Session, error) {
	v, err, _ := o.group.Do(sessionID, func() (any, error) {
		return o.runBatch(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

func (o *Orchestrator) runBatch(ctx context.Context, sessionID string) (*session.Session, error) {
	snapshot, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %w: %s", session.ErrNotFound, sessionID)
	}
	if len(snapshot.Storyboards) == 0 {
		return nil, fmt.Errorf("%w: session %s has no storyboards to generate", ErrNotReady, sessionID)
	}

	hint := scene.IdentityHint(snapshot.CharacterDescription, snapshot.Story)

	// Reference bootstrap. Failure falls back to hint-in-prompt generation.
	// The session can be deleted out from under a running batch, so every
	// registry read from here on is checked.
	snapshot = o.setState(ctx, sessionID, session.StatePreparingReference)
	if snapshot == nil {
		return nil, fmt.Errorf("session %w: %s", session.ErrNotFound, sessionID)
	}
	reference := snapshot.ReferenceImage
	if reference == "" {
		ref, err := o.scenes.EnsureReference(ctx, hint)
		if err != nil {
			log.Warn("Reference bootstrap failed for session %s, continuing without: %v", sessionID, err)
		} else {
			reference = ref
			updated, uerr := o.registry.Update(sessionID, func(s *session.Session) {
				s.ReferenceImage = ref
			})
			if uerr != nil {
				return nil, uerr
			}
			snapshot = updated
			o.persist(ctx, snapshot)
		}
	}

	// First pass, in storyboard order. Failures are recorded and iteration
	// continues. Each run starts from an empty result list.
	o.setState(ctx, sessionID, session.StateGenerating)
	_, _ = o.registry.Update(sessionID, func(s *session.Session) {
		s.Results = nil
		s.FailedIDs = nil
	})

	boards := snapshot.Storyboards
	for i, sb := range boards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, genErr := o.generateOne(ctx, sessionID, sb, reference, hint, o.firstPolicy)
		if genErr == nil && i < len(boards)-1 {
			if err := o.pace(ctx, o.firstPacing); err != nil {
				return nil, err
			}
		}
	}

	// One consolidated retry pass over the failed subset. Empty set means
	// no pass at all.
	snapshot, ok = o.registry.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %w: %s", session.ErrNotFound, sessionID)
	}
	if len(snapshot.FailedIDs) > 0 {
		o.setState(ctx, sessionID, session.StateRetryingFailed)
		failed := append([]string(nil), snapshot.FailedIDs...)
		for i, id := range failed {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sb, ok := findStoryboard(snapshot.Storyboards, id)
			if !ok {
				continue
			}
			_, genErr := o.generateOne(ctx, sessionID, sb, reference, hint, o.retryPolicy)
			if genErr == nil && i < len(failed)-1 {
				if err := o.pace(ctx, o.retryPacing); err != nil {
					return nil, err
				}
			}
		}
	}

	final := o.setState(ctx, sessionID, session.StateDone)
	if final == nil {
		return nil, fmt.Errorf("session %w: %s", session.ErrNotFound, sessionID)
	}
	log.Info("Batch done for session %s: %d/%d scenes generated, %d still failed",
		sessionID, len(final.Results), len(final.Storyboards), len(final.FailedIDs))
	return final, nil
}

// RegenerateScene regenerates a single scene on demand, replacing its
// previous result in place.
func (o *Orchestrator) RegenerateScene(ctx context.Context, sessionID, storyboardID string) (*storyboard.GeneratedImage, error) {
	snapshot, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %w: %s", session.ErrNotFound, sessionID)
	}
	sb, ok := findStoryboard(snapshot.Storyboards, storyboardID)
	if !ok {
		return nil, fmt.Errorf("storyboard %w: %s", session.ErrNotFound, storyboardID)
	}

	hint := scene.IdentityHint(snapshot.CharacterDescription, snapshot.Story)
	image, err := o.generateOne(ctx, sessionID, sb, snapshot.ReferenceImage, hint, o.firstPolicy)
	if err != nil {
		return nil, err
	}
	return image, nil
}

// RetryFailed runs one manual pass over the current failure set with the
// conservative policy. An empty set is a no-op.
func (o *Orchestrator) RetryFailed(ctx context.Context, sessionID string) (*session.Session, error) {
	snapshot, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %w: %s", session.ErrNotFound, sessionID)
	}
	if len(snapshot.FailedIDs) == 0 {
		return snapshot, nil
	}

	hint := scene.IdentityHint(snapshot.CharacterDescription, snapshot.Story)
	failed := append([]string(nil), snapshot.FailedIDs...)
	for i, id := range failed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sb, ok := findStoryboard(snapshot.Storyboards, id)
		if !ok {
			continue
		}
		_, genErr := o.generateOne(ctx, sessionID, sb, snapshot.ReferenceImage, hint, o.retryPolicy)
		if genErr == nil && i < len(failed)-1 {
			if err := o.pace(ctx, o.retryPacing); err != nil {
				return nil, err
			}
		}
	}

	final, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %w: %s", session.ErrNotFound, sessionID)
	}
	log.Info("Manual retry for session %s: %d still failed", sessionID, len(final.FailedIDs))
	return final, nil
}

// generateOne runs one scene through the retry wrapper and records the
// outcome on the session: success upserts the result and clears the ID from
// the failure set, failure appends the ID (once, in order).
func (o *Orchestrator) generateOne(ctx context.Context, sessionID string, sb storyboard.Storyboard, reference, hint string, policy retry.Policy) (*storyboard.GeneratedImage, error) {
	image, err := retry.Do(ctx, policy, func(ctx context.Context) (*storyboard.GeneratedImage, error) {
		return o.scenes.GenerateScene(ctx, sb, reference, hint)
	})
	if err != nil {
		log.Warn("Scene %d (%s) failed: %s", sb.SceneNumber, sb.ID, FailureReason(err))
		updated, uerr := o.registry.Update(sessionID, func(s *session.Session) {
			markFailed(s, sb.ID)
		})
		if uerr == nil {
			o.persist(ctx, updated)
		}
		return nil, err
	}

	updated, uerr := o.registry.Update(sessionID, func(s *session.Session) {
		upsertResult(s, *image)
		clearFailed(s, sb.ID)
	})
	if uerr != nil {
		return nil, uerr
	}
	o.persist(ctx, updated)
	log.Info("Scene %d (%s) generated", sb.SceneNumber, sb.ID)
	return image, nil
}

func (o *Orchestrator) setState(ctx context.Context, sessionID string, state session.BatchState) *session.Session {
	updated, err := o.registry.Update(sessionID, func(s *session.Session) {
		s.State = state
	})
	if err != nil {
		return nil
	}
	o.persist(ctx, updated)
	return updated
}

// pace sleeps between items so the upstream API is not hammered. Cancelling
// the run cancels the sleep.
func (o *Orchestrator) pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) persist(ctx context.Context, snapshot *session.Session) {
	if o.store == nil || snapshot == nil {
		return
	}
	if err := o.store.UpsertSession(ctx, snapshot); err != nil {
		log.Error("Failed to persist session %s: %v", snapshot.ID, err)
	}
}

func findStoryboard(boards []storyboard.Storyboard, id string) (storyboard.Storyboard, bool) {
	for _, sb := range boards {
		if sb.ID == id {
			return sb, true
		}
	}
	return storyboard.Storyboard{}, false
}

// upsertResult replaces the result for the same storyboard in place, else
// appends. The list never holds two results for one scene.
func upsertResult(s *session.Session, image storyboard.GeneratedImage) {
	for i := range s.Results {
		if s.Results[i].StoryboardID == image.StoryboardID {
			s.Results[i] = image
			return
		}
	}
	s.Results = append(s.Results, image)
}

// markFailed records the ID in the failure set (once, in order) and evicts
// any stale result for it; a storyboard never holds a result and a failure
// at the same time.
func markFailed(s *session.Session, id string) {
	for i := range s.Results {
		if s.Results[i].StoryboardID == id {
			s.Results = append(s.Results[:i], s.Results[i+1:]...)
			break
		}
	}
	for _, existing := range s.FailedIDs {
		if existing == id {
			return
		}
	}
	s.FailedIDs = append(s.FailedIDs, id)
}

func clearFailed(s *session.Session, id string) {
	for i, existing := range s.FailedIDs {
		if existing == id {
			s.FailedIDs = append(s.FailedIDs[:i], s.FailedIDs[i+1:]...)
			return
		}
	}
}
