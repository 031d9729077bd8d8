package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"med-analyzer/api/internal/config"
	"med-analyzer/api/internal/store"
	"med-analyzer/api/internal/vision"
	"med-analyzer/api/internal/vision/gemini"
)

const purgeInterval = time.Hour

// Runtime holds the engine shared by the HTTP server and the bot.
type Runtime struct {
	Engine vision.Engine
	// Ready is nil when no database is configured.
	Ready func(ctx context.Context) error

	closers []func() error
}

// Build creates the Gemini engine and, when a database is configured, the
// analysis journal around it. Retention purging stops with ctx.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	gem, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Engine: gem, closers: []func() error{gem.Close}}
	log.Info("engine_ready", slog.String("engine", gem.Name()), slog.String("model", gem.GetModel()))

	dsn := store.ResolveDSN(cfg.DatabaseURL)
	if dsn == "" {
		log.Info("analysis_journal", slog.String("state", "disabled"))
		return rt, nil
	}
	db, err := store.Open(ctx, dsn)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, db.Close)
	if err := store.EnsureSchema(ctx, db); err != nil {
		_ = rt.Close()
		return nil, err
	}
	log.Info("analysis_journal",
		slog.String("state", "enabled"),
		slog.String("db", store.SafeDSNSummary(dsn)),
		slog.Duration("cache_ttl", cfg.AnalysisCacheTTL))

	repo := store.NewAnalysisRepo(db)
	rt.Engine = vision.WithCache(gem, repo, gem.GetModel(), cfg.AnalysisCacheTTL, log)
	rt.Ready = repo.Ping

	if cfg.AnalysisRetention > 0 {
		go purgeLoop(ctx, repo, cfg.AnalysisRetention, purgeInterval, log)
	}
	return rt, nil
}

// Close releases resources in reverse order of creation.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

type purger interface {
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

func purgeLoop(ctx context.Context, p purger, retention, every time.Duration, log *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		n, err := p.PurgeOlderThan(ctx, retention)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("analysis_purge", slog.String("reason", err.Error()))
		} else if n > 0 {
			log.Info("analysis_purge", slog.Int64("deleted", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
