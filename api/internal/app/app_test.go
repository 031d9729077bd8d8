package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"med-analyzer/api/internal/config"
)

type fakePurger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakePurger) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 1, f.err
}

func (f *fakePurger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPurgeLoopRunsUntilCancelled(t *testing.T) {
	p := &fakePurger{err: errors.New("transient")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		purgeLoop(ctx, p, time.Hour, 5*time.Millisecond, discard())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for p.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d purges", p.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("purge loop did not stop")
	}
}

func TestRuntimeCloseReverseOrder(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	rt := &Runtime{closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return boom },
	}}
	if err := rt.Close(); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("order = %v", order)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestBuildWithoutDatabase(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "")
	cfg := &config.Config{GeminiAPIKey: "test-key", GeminiModel: "gemini-1.5-flash-latest"}
	rt, err := Build(context.Background(), cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()
	if rt.Engine == nil {
		t.Fatal("engine is nil")
	}
	if rt.Ready != nil {
		t.Fatal("readiness probe set without a database")
	}
}

func TestBuildRequiresKey(t *testing.T) {
	if _, err := Build(context.Background(), &config.Config{}, discard()); err == nil {
		t.Fatal("expected error")
	}
}
