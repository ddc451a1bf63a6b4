package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/inkfable/story-illustrator/internal/config"
	"github.com/inkfable/story-illustrator/internal/httpapi"
	"github.com/inkfable/story-illustrator/internal/jobs"
	"github.com/inkfable/story-illustrator/internal/llm"
	"github.com/inkfable/story-illustrator/internal/persistence"
	"github.com/inkfable/story-illustrator/internal/scene"
	"github.com/inkfable/story-illustrator/internal/service"
	"github.com/inkfable/story-illustrator/internal/session"
	"github.com/inkfable/story-illustrator/internal/storyboard"
	"github.com/inkfable/story-illustrator/pkg/log"
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llmClient, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		TextModel:   cfg.LLM.TextModel,
		ImageModel:  cfg.LLM.ImageModel,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		SiteURL:     cfg.LLM.SiteURL,
		AppName:     cfg.LLM.AppName,
	})
	if err != nil {
		log.Fatal("Failed to create LLM client: %v", err)
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		log.Fatal("Failed to open store: %v", err)
	}
	defer store.Close()

	registry := session.NewRegistry()
	loaded, err := store.LoadSessions(ctx)
	if err != nil {
		log.Fatal("Failed to load sessions: %v", err)
	}
	registry.Hydrate(loaded)
	log.Info("Hydrated %d sessions from store", len(loaded))

	orchestrator := service.NewOrchestrator(
		registry,
		store,
		scene.NewGenerator(llmClient),
		storyboard.NewGenerator(llmClient, cfg.Generate.DefaultLanguage),
	)

	queue := jobs.NewQueue(1)
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
	defer queue.Stop()

	cronRunner := cron.New()
	pruner := service.NewPruneService(registry, store, cronRunner, cfg.Generate.PruneCronExpr, cfg.Generate.SessionMaxAge)

	server := httpapi.NewServer(
		registry,
		orchestrator,
		queue,
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithSessionDeleter(store),
	)

	if err := runWithComponents(ctx, cfg, pruner, cronRunner, server); err != nil {
		log.Fatal("Server exited: %v", err)
	}
}

// runWithComponents wires the cron scheduler and the HTTP server to the
// lifecycle context and blocks until shutdown completes.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, cronRunner cronEngine, httpSrv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	cronRunner.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()
	log.Info("HTTP server listening on %s", cfg.HTTP.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		cronRunner.Stop()
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		cronRunner.Stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
