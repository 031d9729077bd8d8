package telegram

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"med-analyzer/api/internal/vision"
)

// Bot is the part of *tgbotapi.BotAPI the router needs.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Router struct {
	Bot    Bot
	Engine vision.Engine
	Log    *slog.Logger

	// Timeout bounds one analysis; 0 disables it.
	Timeout    time.Duration
	HTTPClient *http.Client

	inflight sync.Map // chatID -> struct{}
	wg       sync.WaitGroup
}

func NewRouter(bot Bot, engine vision.Engine, timeout time.Duration, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		Bot:        bot,
		Engine:     engine,
		Log:        log,
		Timeout:    timeout,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// HandleUpdate dispatches one update. Image analysis continues in the
// background; Wait blocks until it is done.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	cid := msg.Chat.ID

	switch {
	case msg.IsCommand():
		r.HandleCommand(msg)
	case len(msg.Photo) > 0:
		ph := largestPhoto(msg.Photo)
		r.acceptImage(ctx, cid, ph.FileID, "")
	case msg.Document != nil && isImageMIME(msg.Document.MimeType):
		r.acceptImage(ctx, cid, msg.Document.FileID, msg.Document.MimeType)
	default:
		r.send(cid, textSendPhoto)
	}
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, textStart)
	case "health":
		r.send(cid, textHealthOK)
	default:
		r.send(cid, textUnknownCommand)
	}
}

// Wait blocks until background analyses finish.
func (r *Router) Wait() { r.wg.Wait() }

func (r *Router) send(chatID int64, text string) {
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.Log.Warn("telegram_send", slog.Int64("chat_id", chatID), slog.String("reason", err.Error()))
	}
}

func (r *Router) sendLong(chatID int64, text string) {
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		r.send(chatID, chunk)
	}
}
