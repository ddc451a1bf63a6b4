package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/inkfable/story-illustrator/internal/session"
	"github.com/inkfable/story-illustrator/pkg/icron"
	"github.com/inkfable/story-illustrator/pkg/log"
)

// PruneStore is the persistence surface the pruner deletes through.
type PruneStore interface {
	DeleteStaleSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneService periodically drops sessions that have not been touched for
// MaxAge, from both the registry and the store.
type PruneService struct {
	registry *session.Registry
	store    PruneStore
	cron     *cron.Cron
	cronExpr string
	maxAge   time.Duration
}

func NewPruneService(registry *session.Registry, store PruneStore, c *cron.Cron, cronExpr string, maxAge time.Duration) *PruneService {
	return &PruneService{
		registry: registry,
		store:    store,
		cron:     c,
		cronExpr: cronExpr,
		maxAge:   maxAge,
	}
}

var pruneGroup singleflight.Group

// Schedule registers the prune run on the shared cron. Overlapping ticks
// collapse into one run.
func (s *PruneService) Schedule(ctx context.Context) error {
	next, err := icron.NextRun(s.cronExpr, time.Now())
	if err != nil {
		return err
	}
	log.Info("Session prune scheduled (%s), next run at %s", s.cronExpr, next.Format(time.RFC3339))

	runFunc := func() {
		_, _, _ = pruneGroup.Do("prune", func() (any, error) {
			if err := s.Run(ctx); err != nil {
				log.Error("Session prune failed: %v", err)
			}
			return nil, nil
		})
	}
	_, err = s.cron.AddFunc(s.cronExpr, runFunc)
	return err
}

// Run executes one prune pass.
func (s *PruneService) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.maxAge)

	stale := s.registry.StaleBefore(cutoff)
	for _, id := range stale {
		s.registry.Delete(id)
	}

	if s.store != nil {
		removed, err := s.store.DeleteStaleSessions(ctx, cutoff)
		if err != nil {
			return err
		}
		log.Info("Pruned %d stale sessions (registry: %d)", removed, len(stale))
		return nil
	}
	log.Info("Pruned %d stale sessions", len(stale))
	return nil
}
