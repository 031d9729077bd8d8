package handle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"med-analyzer/api/internal/vision"
)

type Options struct {
	// Timeout bounds a single analysis; 0 means no deadline of our own.
	Timeout      time.Duration
	MaxBodyBytes int64
	// Ready backs /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

type Handle struct {
	engine      vision.Engine
	instruction string
	opts        Options
	validate    *validator.Validate
	log         *slog.Logger
}

func New(engine vision.Engine, opts Options, log *slog.Logger) *Handle {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 20 << 20
	}
	return &Handle{
		engine:      engine,
		instruction: vision.Instruction,
		opts:        opts,
		validate:    validator.New(),
		log:         log,
	}
}

// Routes registers every endpoint on a fresh mux.
func (h *Handle) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.Home)
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/analyze-image", h.AnalyzeImage)
	return mux
}

type errorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	BackendDetail string `json:"backend_detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
