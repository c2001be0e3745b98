// Package app wires configuration to adapters and lifecycle orchestration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"billwatch/internal/config"
	"billwatch/internal/infrastructure/congress"
	"billwatch/internal/infrastructure/llm"
	"billwatch/internal/infrastructure/publish"
	"billwatch/internal/infrastructure/scheduler"
	"billwatch/internal/infrastructure/storage"
	"billwatch/internal/logging"
	"billwatch/internal/metrics"
	"billwatch/internal/ports"
	"billwatch/internal/usecase"
	"billwatch/internal/validate"
)

// Application wires configs to use cases.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.Store
	orch   *usecase.Orchestrator
}

// New builds a runnable application instance: store, migrations, adapters,
// and the orchestrator.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(nil, cfg.Logging.Level)
	}

	metrics.Init()

	if err := storage.RunMigrations(cfg.Database.DSN); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var publishers []ports.Publisher
	if cfg.Channels.Telegram.BotToken != "" {
		publishers = append(publishers, publish.NewTelegram(cfg.Channels.Telegram))
	}
	if cfg.Channels.Mastodon.AccessToken != "" {
		publishers = append(publishers, publish.NewMastodon(cfg.Channels.Mastodon))
	}

	orch := usecase.New(usecase.Deps{
		Feed:       congress.NewFeed(cfg.Congress, nil),
		Store:      store,
		Enricher:   congress.NewEnricher(cfg.Congress, nil),
		Summarizer: llm.NewSummarizer(cfg.Anthropic),
		Publishers: publishers,
		Clock:      ports.SystemClock{},
		Logger:     baseLogger.With("component", "orchestrator"),
	}, usecase.Config{
		Cooldown:            cfg.Pipeline.CooldownDuration(),
		DiscoveryAttempts:   cfg.Pipeline.DiscoveryAttempts,
		DiscoveryRetryDelay: cfg.Pipeline.DiscoveryRetryDelay(),
		DuplicateWindow:     cfg.Pipeline.DuplicateWindow(),
		Thresholds: validate.Thresholds{
			MinFullTextChars:  cfg.Pipeline.MinFullTextChars,
			MinShortTextChars: cfg.Pipeline.MinShortTextChars,
		},
	})

	return &Application{cfg: cfg, logger: baseLogger, store: store, orch: orch}, nil
}

// Close releases held resources.
func (a *Application) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// Store exposes the bill store for the audit and unlock commands.
func (a *Application) Store() *storage.Store {
	return a.store
}

// RunOnce executes a single orchestrator run.
func (a *Application) RunOnce(ctx context.Context, opts usecase.Options) (usecase.RunResult, error) {
	return a.orch.Run(ctx, opts)
}

// Serve starts the daily scheduler and the metrics endpoint, blocking until
// the context is cancelled.
func (a *Application) Serve(ctx context.Context, metricsAddr string) error {
	sched, err := scheduler.New(a.cfg.Scheduler.Location(),
		a.cfg.Scheduler.MorningAt, a.cfg.Scheduler.EveningAt)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	evening, err := time.ParseInLocation("15:04", a.cfg.Scheduler.EveningAt, a.cfg.Scheduler.Location())
	if err != nil {
		return fmt.Errorf("parse evening time: %w", err)
	}

	job := func(trigger time.Time) {
		local := trigger.In(a.cfg.Scheduler.Location())
		// The evening run guards against a same-day double publish.
		isEvening := local.Hour() == evening.Hour() && local.Minute() == evening.Minute()

		result, runErr := a.orch.Run(ctx, usecase.Options{WindowGuard: isEvening})
		if runErr != nil {
			a.logger.Error("scheduled run failed", "run_id", result.RunID, "error", runErr)
			return
		}
		a.logger.Info("scheduled run finished", "run_id", result.RunID, "outcome", result.Outcome, "bill", result.BillID)
	}

	if err := sched.Start(ctx, job); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop(context.Background()) //nolint:errcheck

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.logger.Info("serving", "metrics_addr", metricsAddr,
		"morning", a.cfg.Scheduler.MorningAt, "evening", a.cfg.Scheduler.EveningAt)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
