// Package analytics collects playback lifecycle events and derives aggregate
// reports from them. The recorder is append-only: accepted events are kept
// in memory for report derivation and forwarded to an optional sink on a
// background goroutine, so a slow or broken collector can never stall
// playback or monitoring.
package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"streamswitch/internal/models"
	"streamswitch/internal/observability/metrics"
)

const defaultDeliverTimeout = 5 * time.Second

// Sink delivers one event to an external collector. Implementations are
// best-effort; the recorder treats every returned error as log-and-drop.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event models.AnalyticsEvent) error
}

type Config struct {
	Sink           Sink
	Logger         *slog.Logger
	Metrics        *metrics.Recorder
	DeliverTimeout time.Duration
}

// Recorder is the in-process event log. All methods are safe for concurrent
// use.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Recorder
	timeout time.Duration

	mu     sync.Mutex
	events []models.AnalyticsEvent

	wg sync.WaitGroup
}

func NewRecorder(cfg Config) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.DeliverTimeout
	if timeout <= 0 {
		timeout = defaultDeliverTimeout
	}
	return &Recorder{
		sink:    cfg.Sink,
		logger:  logger,
		metrics: cfg.Metrics,
		timeout: timeout,
	}
}

// Record appends one event and forwards it to the configured sink without
// waiting for delivery. A zero timestamp is stamped at acceptance time; an
// accepted event is never dropped from the in-memory log, whatever the sink
// does.
func (r *Recorder) Record(ctx context.Context, event models.AnalyticsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	if r.sink == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Delivery outlives the caller's request context on purpose.
		dctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		err := r.sink.Deliver(dctx, event)
		if r.metrics != nil {
			r.metrics.ObserveAnalyticsDelivery(r.sink.Name(), err == nil)
		}
		if err != nil {
			r.logger.Warn("analytics delivery failed",
				"sink", r.sink.Name(),
				"contentType", event.ContentType,
				"contentId", event.ContentID,
				"kind", event.Kind,
				"error", err)
		}
	}()
}

// EventCount reports the number of accepted events for one content item.
func (r *Recorder) EventCount(contentType models.ContentType, contentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, event := range r.events {
		if event.ContentType == contentType && event.ContentID == contentID {
			count++
		}
	}
	return count
}

// Close waits for in-flight sink deliveries to settle. The recorder stays
// usable afterwards; Close exists so shutdown does not orphan deliveries.
func (r *Recorder) Close() {
	r.wg.Wait()
}

// Report is the aggregate view derived on demand for one content item.
type Report struct {
	ContentType          models.ContentType  `json:"contentType"`
	ContentID            string              `json:"contentId"`
	EventCount           int                 `json:"eventCount"`
	AverageBandwidthKbps float64             `json:"averageBandwidthKbps"`
	TopQuality           models.QualityLevel `json:"topQuality,omitempty"`
	ErrorRate            float64             `json:"errorRate"`
	BufferingRate        float64             `json:"bufferingRate"`
}

// Report derives the aggregate for one content item from the events recorded
// so far. Derivation copies the matching events and sorts them by timestamp
// first, so out-of-order arrival does not skew ordered statistics. Rates are
// relative to start events; with no starts both rates are zero.
func (r *Recorder) Report(contentType models.ContentType, contentID string) Report {
	r.mu.Lock()
	matched := make([]models.AnalyticsEvent, 0, len(r.events))
	for _, event := range r.events {
		if event.ContentType == contentType && event.ContentID == contentID {
			matched = append(matched, event)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	report := Report{
		ContentType: contentType,
		ContentID:   contentID,
		EventCount:  len(matched),
	}

	var bandwidthTotal float64
	var bandwidthSamples int
	var starts, errors, buffering int
	qualityCounts := make(map[models.QualityLevel]int)
	var topQuality models.QualityLevel
	topCount := 0

	for _, event := range matched {
		if event.BandwidthKbps > 0 {
			bandwidthTotal += event.BandwidthKbps
			bandwidthSamples++
		}
		switch event.Kind {
		case models.EventStart:
			starts++
		case models.EventError:
			errors++
		case models.EventBuffering:
			buffering++
		}
		if event.Quality != "" {
			qualityCounts[event.Quality]++
			// Strict inequality keeps the earliest quality on ties,
			// which is deterministic because matched is sorted.
			if qualityCounts[event.Quality] > topCount {
				topCount = qualityCounts[event.Quality]
				topQuality = event.Quality
			}
		}
	}

	if bandwidthSamples > 0 {
		report.AverageBandwidthKbps = bandwidthTotal / float64(bandwidthSamples)
	}
	report.TopQuality = topQuality
	if starts > 0 {
		report.ErrorRate = float64(errors) / float64(starts)
		report.BufferingRate = float64(buffering) / float64(starts)
	}
	return report
}
