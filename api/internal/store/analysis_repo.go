package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"med-analyzer/api/internal/vision"
)

// AnalysisRepo keeps finished analyses. It satisfies vision.Cache.
type AnalysisRepo struct{ DB *sql.DB }

func NewAnalysisRepo(db *sql.DB) *AnalysisRepo { return &AnalysisRepo{DB: db} }

// Find returns the analysis stored for (imageHash, model). Missing rows and
// rows older than maxAge (when maxAge > 0) are reported as vision.ErrCacheMiss.
func (r *AnalysisRepo) Find(ctx context.Context, imageHash, model string, maxAge time.Duration) (string, error) {
	const q = `select analysis, created_at
	           from image_analyses
	           where image_hash=$1 and model=$2`
	var (
		txt string
		ts  time.Time
	)
	if err := r.DB.QueryRowContext(ctx, q, imageHash, model).Scan(&txt, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", vision.ErrCacheMiss
		}
		return "", err
	}
	if maxAge > 0 && time.Since(ts) > maxAge {
		return "", vision.ErrCacheMiss
	}
	return txt, nil
}

// Save upserts on (image_hash, model) and refreshes created_at.
func (r *AnalysisRepo) Save(ctx context.Context, rec vision.Record) error {
	const q = `
insert into image_analyses(image_hash, mime_type, model, analysis)
values ($1,$2,$3,$4)
on conflict (image_hash, model)
do update set mime_type=excluded.mime_type, analysis=excluded.analysis, created_at=now()`
	_, err := r.DB.ExecContext(ctx, q, rec.Key, rec.MIMEType, rec.Model, rec.Analysis)
	return err
}

// PurgeOlderThan deletes analyses created before now-olderThan.
func (r *AnalysisRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	const q = `delete from image_analyses where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

func (r *AnalysisRepo) Ping(ctx context.Context) error { return r.DB.PingContext(ctx) }
