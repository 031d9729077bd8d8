package telegram

import (
	"strings"
	"unicode/utf8"

	"med-analyzer/api/internal/vision"
)

const maxMessageRunes = 3900

const (
	textStart = "Send a photo of a medical image (scan, X-ray, skin condition) and I will return a structured analysis.\n" +
		"Commands: /health\n\n" +
		"The analysis is not a diagnosis. Consult with a Doctor before making any decisions."
	textHealthOK       = "✅ OK"
	textUnknownCommand = "Unknown command. Try /start"
	textSendPhoto      = "Please send an image as a photo or an image file."
	textPhotoAccepted  = "Image received, analysing…"
	textBusy           = "Still working on your previous image, please wait."
	textDownloadFailed = "Could not download the image: "
	textEmptyResult    = "Failed to get an analysis for this image. "
	textQuota          = "Quota exceeded. Try again later."
	textFailed         = "Analysis failed: "
)

// replyForError mirrors the HTTP error taxonomy for chat users.
func replyForError(err error) string {
	if er, ok := vision.AsEmptyResult(err); ok {
		return textEmptyResult + er.Details()
	}
	if vision.IsQuotaExhausted(err) {
		return textQuota
	}
	return textFailed + err.Error()
}

// splitMessage cuts text into chunks of at most limit runes, preferring to
// break on a newline.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var out []string
	rest := []rune(text)
	for len(rest) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if rest[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunk := strings.TrimRight(string(rest[:cut]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		rest = rest[cut:]
	}
	if s := strings.TrimSpace(string(rest)); s != "" {
		out = append(out, s)
	}
	return out
}
