// Package monitor keeps catalog availability current: a recurring sweep
// probes every content item's sources in priority order and writes the
// online/offline verdict back as channel health.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"streamswitch/internal/models"
	"streamswitch/internal/observability/metrics"
	"streamswitch/internal/sources"
)

const (
	defaultInterval     = 5 * time.Minute
	defaultBatchSize    = 5
	defaultBatchDelay   = time.Second
	defaultProbeTimeout = 5 * time.Second
)

// Catalog is the slice of the catalog repository the monitor needs.
type Catalog interface {
	ListContentItems(ctx context.Context) ([]models.ContentItem, error)
	UpsertChannelHealth(ctx context.Context, health models.ChannelHealth) error
}

// SourceChecker reports whether a single source is currently reachable.
type SourceChecker interface {
	CheckSource(ctx context.Context, src models.StreamSource) error
}

type Config struct {
	Catalog Catalog
	Checker SourceChecker
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	// Interval is the pause between sweep starts. Each sweep probes
	// BatchSize items concurrently; batches run sequentially with
	// BatchDelay between them to bound outbound connections, and
	// ProbeTimeout caps every individual source probe.
	Interval     time.Duration
	BatchSize    int
	BatchDelay   time.Duration
	ProbeTimeout time.Duration
}

// Monitor runs health sweeps on its own schedule, independent of any live
// playback session.
type Monitor struct {
	catalog Catalog
	checker SourceChecker
	logger  *slog.Logger
	metrics *metrics.Recorder

	interval     time.Duration
	batchSize    int
	batchDelay   time.Duration
	probeTimeout time.Duration
}

func New(cfg Config) (*Monitor, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("monitor: catalog is required")
	}
	if cfg.Checker == nil {
		return nil, errors.New("monitor: checker is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	batchDelay := cfg.BatchDelay
	if batchDelay <= 0 {
		batchDelay = defaultBatchDelay
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Monitor{
		catalog:      cfg.Catalog,
		checker:      cfg.Checker,
		logger:       logger,
		metrics:      cfg.Metrics,
		interval:     interval,
		batchSize:    batchSize,
		batchDelay:   batchDelay,
		probeTimeout: probeTimeout,
	}, nil
}

type ticker interface {
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

type tickerFactory func(time.Duration) ticker

// Start launches the sweep loop and returns a stop func that blocks until
// the loop has exited. Cycle failures are logged and never stop the
// schedule.
func (m *Monitor) Start(ctx context.Context) func() {
	return m.startWithTicker(ctx, func(d time.Duration) ticker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func (m *Monitor) startWithTicker(ctx context.Context, newTicker tickerFactory) func() {
	workerCtx, cancel := context.WithCancel(ctx)
	tick := newTicker(m.interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			tick.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-tick.C():
				if err := m.RunCycle(workerCtx); err != nil {
					m.logger.Error("health cycle failed", "error", err)
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

// RunCycle sweeps the whole catalog once. It is also called directly by the
// on-demand refresh endpoint. A panic anywhere in the sweep is recovered
// here so one bad cycle cannot take the schedule down.
func (m *Monitor) RunCycle(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("monitor: cycle panicked: %v", recovered)
		}
		if m.metrics != nil {
			m.metrics.ObserveMonitorCycle(err == nil)
		}
	}()

	items, err := m.catalog.ListContentItems(ctx)
	if err != nil {
		return fmt.Errorf("monitor: list content items: %w", err)
	}

	started := time.Now()
	for start := 0; start < len(items); start += m.batchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.batchDelay):
			}
		}
		end := start + m.batchSize
		if end > len(items) {
			end = len(items)
		}
		group, groupCtx := errgroup.WithContext(ctx)
		for _, item := range items[start:end] {
			item := item
			group.Go(func() error {
				return m.checkItem(groupCtx, item)
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
	}
	m.logger.Info("health cycle complete",
		"items", len(items), "elapsed_ms", time.Since(started).Milliseconds())
	return nil
}

// checkItem probes one item and records its verdict. Probe and write
// failures stay inside the item; only cancellation propagates to the batch.
// It runs on a batch goroutine, so it recovers its own panics: the item
// keeps its previous health row and the rest of the batch completes.
func (m *Monitor) checkItem(ctx context.Context, item models.ContentItem) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error("item check panicked", "content_id", item.ID, "panic", recovered)
		}
	}()

	status := m.probeItem(ctx, item)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.metrics != nil {
		m.metrics.ObserveMonitorItem(string(status))
	}
	health := models.ChannelHealth{
		ContentID:     item.ID,
		Status:        status,
		LastCheckedAt: time.Now().UTC(),
	}
	if err := m.catalog.UpsertChannelHealth(ctx, health); err != nil {
		m.logger.Warn("record channel health",
			"content_id", item.ID, "status", string(status), "error", err)
	}
	return nil
}

// probeItem walks the item's sources in priority order and stops at the
// first reachable one. An item with no valid sources is offline.
func (m *Monitor) probeItem(ctx context.Context, item models.ContentItem) models.HealthStatus {
	set := sources.Normalize(item.Sources)
	for _, src := range set {
		if ctx.Err() != nil {
			return models.HealthUnknown
		}
		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err := m.checker.CheckSource(probeCtx, src)
		cancel()
		if err == nil {
			return models.HealthOnline
		}
	}
	return models.HealthOffline
}
