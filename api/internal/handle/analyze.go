package handle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"med-analyzer/api/internal/logging"
	"med-analyzer/api/internal/util"
	"med-analyzer/api/internal/vision"
)

type AnalyzeRequest struct {
	ImageData string `json:"imageData" validate:"required"`
	MimeType  string `json:"mimeType" validate:"required"`
}

type AnalyzeResponse struct {
	Analysis string `json:"analysis"`
}

const (
	msgNotJSON       = "Request must be JSON"
	msgMissingFields = "Missing imageData or mimeType in request body"
	msgBadBase64     = "imageData must be base64-encoded"
	msgEmptyResult   = "Failed to get analysis from Gemini API"
	msgQuota         = "Quota exceeded. Try again later."
)

func (h *Handle) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST only"})
		return
	}
	log := h.log.With(slog.String("request_id", logging.RequestID(r.Context())))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: fmt.Sprintf("body must not be larger than %d bytes", mbe.Limit),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNotJSON})
		return
	}

	req, ok := decodeRequest(body)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNotJSON})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgMissingFields})
		return
	}
	img, _, err := util.DecodeBase64MaybeDataURL(req.ImageData)
	if err != nil || len(img) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadBase64})
		return
	}

	ctx := r.Context()
	if d := requestDeadline(r, h.opts.Timeout); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	started := time.Now()
	text, err := h.engine.Analyze(ctx, vision.Input{
		Image:       img,
		MIMEType:    req.MimeType,
		Instruction: h.instruction,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = &vision.EmptyResultError{}
	}
	if err != nil {
		log.Error("analyze_image", slog.String("reason", err.Error()))
		code, resp := errorFor(err)
		writeJSON(w, code, resp)
		return
	}

	log.Info("analyze_image",
		slog.String("mime_type", req.MimeType),
		slog.Int("image_bytes", len(img)),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()))
	writeJSON(w, http.StatusOK, AnalyzeResponse{Analysis: text})
}

// decodeRequest accepts exactly one JSON object. Field names must match
// exactly; a null field counts as missing.
func decodeRequest(body []byte) (AnalyzeRequest, bool) {
	var req AnalyzeRequest
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return req, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return req, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return req, false
	}
	for key, dst := range map[string]*string{
		"imageData": &req.ImageData,
		"mimeType":  &req.MimeType,
	} {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return req, false
		}
	}
	req.ImageData = strings.TrimSpace(req.ImageData)
	req.MimeType = strings.TrimSpace(req.MimeType)
	return req, true
}

// errorFor maps an engine failure to a status code and body.
func errorFor(err error) (int, errorResponse) {
	if er, ok := vision.AsEmptyResult(err); ok {
		return http.StatusInternalServerError, errorResponse{Error: msgEmptyResult, Details: er.Details()}
	}
	detail := err.Error()
	if vision.IsQuotaExhausted(err) {
		return http.StatusTooManyRequests, errorResponse{Error: msgQuota, BackendDetail: detail}
	}
	return http.StatusInternalServerError, errorResponse{
		Error:         "Unexpected backend error: " + detail,
		BackendDetail: detail,
	}
}

// requestDeadline reads X-Request-Timeout or ?timeoutSec= (seconds), falling
// back to def.
func requestDeadline(r *http.Request, def time.Duration) time.Duration {
	ts := r.Header.Get("X-Request-Timeout")
	if ts == "" {
		ts = r.URL.Query().Get("timeoutSec")
	}
	if ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return def
}
