package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"med-analyzer/api/internal/app"
	"med-analyzer/api/internal/config"
	"med-analyzer/api/internal/handle"
	"med-analyzer/api/internal/httpserver"
	"med-analyzer/api/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	logger := logging.New(cfg.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer rt.Close()

	h := handle.New(rt.Engine, handle.Options{
		Timeout:      cfg.RequestTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Ready:        rt.Ready,
	}, logger)

	srv := httpserver.New(cfg.Addr(),
		httpserver.Wrap(h.Routes(), logger, cfg.CORSAllowedOrigins),
		cfg.ShutdownTimeout, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("http_server", slog.String("reason", err.Error()))
		os.Exit(1)
	}
}
