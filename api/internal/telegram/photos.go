package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"med-analyzer/api/internal/util"
	"med-analyzer/api/internal/vision"
)

const maxDownloadBytes = 20 << 20

func (r *Router) acceptImage(ctx context.Context, chatID int64, fileID, mime string) {
	if _, busy := r.inflight.LoadOrStore(chatID, struct{}{}); busy {
		r.send(chatID, textBusy)
		return
	}
	r.send(chatID, textPhotoAccepted)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inflight.Delete(chatID)
		r.analyze(ctx, chatID, fileID, mime)
	}()
}

func (r *Router) analyze(ctx context.Context, chatID int64, fileID, mime string) {
	log := r.Log.With(slog.Int64("chat_id", chatID))

	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		log.Error("telegram_get_file", slog.String("reason", err.Error()))
		r.send(chatID, textDownloadFailed+err.Error())
		return
	}
	img, err := r.download(ctx, url)
	if err != nil {
		log.Error("telegram_download", slog.String("reason", err.Error()))
		r.send(chatID, textDownloadFailed+err.Error())
		return
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	text, err := r.Engine.Analyze(ctx, vision.Input{
		Image:       img,
		MIMEType:    util.PickMIME(mime, "", img),
		Instruction: vision.Instruction,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = &vision.EmptyResultError{}
	}
	if err != nil {
		log.Error("analyze_image", slog.String("reason", err.Error()))
		r.send(chatID, replyForError(err))
		return
	}
	r.sendLong(chatID, text)
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxDownloadBytes {
		return nil, fmt.Errorf("file larger than %d bytes", maxDownloadBytes)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	return b, nil
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[len(sizes)-1]
	for _, s := range sizes {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best
}

func isImageMIME(mime string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "image/")
}
