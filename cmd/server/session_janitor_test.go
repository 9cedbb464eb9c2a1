package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeSessionManager struct {
	calls chan time.Duration
}

func newFakeSessionManager() *fakeSessionManager {
	return &fakeSessionManager{calls: make(chan time.Duration, 1)}
}

func (f *fakeSessionManager) PurgeIdle(_ context.Context, maxIdle time.Duration) int {
	select {
	case f.calls <- maxIdle:
	default:
	}
	return 1
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

func TestStartSessionJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := newManualTicker()
	sessions := newFakeSessionManager()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startSessionJanitorWithTicker(ctx, logger, sessions, time.Minute, time.Hour, func(time.Duration) purgeTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case maxIdle := <-sessions.calls:
		if maxIdle != time.Hour {
			t.Fatalf("expected maxIdle to reach the purge call, got %v", maxIdle)
		}
	case <-time.After(time.Second):
		t.Fatal("expected purge to be invoked")
	}

	cancel()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestStartSessionJanitorDisabledWithoutTTL(t *testing.T) {
	stop := startSessionJanitorWithTicker(context.Background(), nil, newFakeSessionManager(), time.Minute, 0, func(time.Duration) purgeTicker {
		t.Fatal("expected no ticker when maxIdle is zero")
		return nil
	})
	stop()
}
