package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"med-analyzer/api/internal/app"
	"med-analyzer/api/internal/config"
	"med-analyzer/api/internal/handle"
	"med-analyzer/api/internal/httpserver"
	"med-analyzer/api/internal/logging"
	"med-analyzer/api/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if strings.TrimSpace(cfg.TelegramBotToken) == "" {
		log.Fatal("missing required env TELEGRAM_BOT_TOKEN")
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

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatalf("telegram: %v", err)
	}
	bot.Debug = cfg.Debug
	logger.Info("telegram_authorized", slog.String("bot", bot.Self.UserName))

	router := telegram.NewRouter(bot, rt.Engine, cfg.RequestTimeout, logger)
	pollDone := make(chan struct{})

	// the bot process serves the same HTTP API, plus the webhook in webhook mode
	h := handle.New(rt.Engine, handle.Options{
		Timeout:      cfg.RequestTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Ready:        rt.Ready,
	}, logger)
	mux := h.Routes()

	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		path := "/webhook/" + shortHash(bot.Token)
		if err := registerWebhook(bot, strings.TrimRight(webhookURL, "/")+path); err != nil {
			log.Fatalf("telegram webhook: %v", err)
		}
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			upd, err := bot.HandleUpdate(r)
			if err != nil {
				logger.Warn("telegram_webhook", slog.String("reason", err.Error()))
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			router.HandleUpdate(ctx, *upd)
			w.WriteHeader(http.StatusOK)
		})
		close(pollDone)
		logger.Info("telegram_mode", slog.String("mode", "webhook"))
	} else {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn("telegram_delete_webhook", slog.String("reason", err.Error()))
		}
		go func() {
			defer close(pollDone)
			telegram.Poll(ctx, bot, func(upd tgbotapi.Update) { router.HandleUpdate(ctx, upd) }, logger)
		}()
		logger.Info("telegram_mode", slog.String("mode", "polling"))
	}

	srv := httpserver.New(cfg.Addr(), httpserver.Wrap(mux, logger, cfg.CORSAllowedOrigins), cfg.ShutdownTimeout, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("http_server", slog.String("reason", err.Error()))
	}
	// Wait must not overlap HandleUpdate; join the poller first.
	stop()
	<-pollDone
	router.Wait()
}

func registerWebhook(bot *tgbotapi.BotAPI, public string) error {
	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return err
	}
	wh.DropPendingUpdates = true
	_, err = bot.Request(wh)
	return err
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
