package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrCacheMiss is returned by a Cache when there is no fresh record.
var ErrCacheMiss = errors.New("vision: cache miss")

// Record is a stored analysis.
type Record struct {
	Key      string
	MIMEType string
	Model    string
	Analysis string
}

// Cache stores finished analyses keyed by image hash and model.
type Cache interface {
	Find(ctx context.Context, key, model string, maxAge time.Duration) (string, error)
	Save(ctx context.Context, rec Record) error
}

// CachedEngine records every successful analysis and, when ttl > 0, answers
// repeated images from the cache.
type CachedEngine struct {
	next  Engine
	cache Cache
	model string
	ttl   time.Duration
	log   *slog.Logger
}

func WithCache(next Engine, cache Cache, model string, ttl time.Duration, log *slog.Logger) *CachedEngine {
	if log == nil {
		log = slog.Default()
	}
	return &CachedEngine{next: next, cache: cache, model: model, ttl: ttl, log: log}
}

func (c *CachedEngine) Analyze(ctx context.Context, in Input) (string, error) {
	key := ImageKey(in)
	log := c.log.With(slog.String("image_hash", key), slog.String("model", c.model))

	if c.ttl > 0 {
		txt, err := c.cache.Find(ctx, key, c.model, c.ttl)
		switch {
		case err == nil && strings.TrimSpace(txt) != "":
			log.Debug("analysis_cache_hit")
			return txt, nil
		case err != nil && !errors.Is(err, ErrCacheMiss):
			log.Warn("analysis_cache_find", slog.String("reason", err.Error()))
		}
	}

	txt, err := c.next.Analyze(ctx, in)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(txt) == "" {
		return txt, nil
	}
	rec := Record{Key: key, MIMEType: in.MIMEType, Model: c.model, Analysis: txt}
	if err := c.cache.Save(ctx, rec); err != nil {
		log.Warn("analysis_cache_save", slog.String("reason", err.Error()))
	}
	return txt, nil
}

// ImageKey identifies an analysis request independent of the transport.
func ImageKey(in Input) string {
	h := sha256.New()
	h.Write([]byte(in.MIMEType))
	h.Write([]byte{0})
	h.Write(in.Image)
	h.Write([]byte{0})
	h.Write([]byte(in.Instruction))
	return hex.EncodeToString(h.Sum(nil))
}
