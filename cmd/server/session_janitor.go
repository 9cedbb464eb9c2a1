package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sessionJanitor interface {
	PurgeIdle(ctx context.Context, maxIdle time.Duration) int
}

type purgeTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) purgeTicker

func startSessionJanitor(ctx context.Context, logger *slog.Logger, sessions sessionJanitor, interval, maxIdle time.Duration) func() {
	return startSessionJanitorWithTicker(ctx, logger, sessions, interval, maxIdle, func(d time.Duration) purgeTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startSessionJanitorWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	sessions sessionJanitor,
	interval time.Duration,
	maxIdle time.Duration,
	newTicker tickerFactory,
) func() {
	if sessions == nil || interval <= 0 || maxIdle <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if purged := sessions.PurgeIdle(workerCtx, maxIdle); purged > 0 && logger != nil {
					logger.Info("purged idle sessions", "count", purged)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
