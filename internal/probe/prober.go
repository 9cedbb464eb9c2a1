// Package probe issues the lightweight network requests behind quality
// selection and health monitoring: timed bandwidth samples, RTT round trips,
// and per-format reachability checks. Every failure path degrades to a
// structured result; nothing in this package escalates past its own boundary.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"streamswitch/internal/models"
)

const (
	defaultSampleSize    = 3
	defaultSampleTimeout = 5 * time.Second
)

type ProberConfig struct {
	Client        *http.Client
	SampleSize    int
	SampleTimeout time.Duration
	Logger        *slog.Logger
}

// Prober measures bandwidth and RTT against a fixed-size payload. A single
// instance is shared by all sessions; per-call state lives in Options.
type Prober struct {
	client        *http.Client
	sampleSize    int
	sampleTimeout time.Duration
	logger        *slog.Logger
}

func NewProber(cfg ProberConfig) *Prober {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	sampleSize := cfg.SampleSize
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	sampleTimeout := cfg.SampleTimeout
	if sampleTimeout <= 0 {
		sampleTimeout = defaultSampleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		client:        client,
		sampleSize:    sampleSize,
		sampleTimeout: sampleTimeout,
		logger:        logger,
	}
}

// Options selects the endpoints for one probe run. RTTURL defaults to
// PayloadURL when empty.
type Options struct {
	PayloadURL string
	RTTURL     string
}

// Probe measures RTT with one minimal round trip, then runs the configured
// number of timed payload downloads. Failed samples are skipped; if every
// sample fails the result degrades to bandwidth 0 with a hint derived from
// RTT alone. Probe never returns an error: callers always receive usable
// stats.
func (p *Prober) Probe(ctx context.Context, opts Options) models.NetworkStats {
	stats := models.NetworkStats{SampledAt: time.Now().UTC()}
	rttURL := opts.RTTURL
	if rttURL == "" {
		rttURL = opts.PayloadURL
	}

	rttMs, rttErr := p.measureRTT(ctx, rttURL)
	if rttErr != nil {
		p.logger.Warn("rtt probe failed", "url", rttURL, "error", rttErr)
	} else {
		stats.RTTMs = rttMs
	}

	var total float64
	var succeeded int
	for attempt := 1; attempt <= p.sampleSize; attempt++ {
		if ctx.Err() != nil {
			break
		}
		kbps, err := p.sampleBandwidth(ctx, opts.PayloadURL)
		if err != nil {
			p.logger.Warn("bandwidth sample failed", "url", opts.PayloadURL, "attempt", attempt, "error", err)
			continue
		}
		total += kbps
		succeeded++
	}

	if succeeded == 0 {
		stats.BandwidthKbps = 0
		stats.Hint = hintFromRTT(rttMs, rttErr == nil)
		return stats
	}
	stats.BandwidthKbps = total / float64(succeeded)
	return stats
}

// measureRTT times one minimal HEAD round trip. Any HTTP status completes the
// measurement; only transport failures count as errors.
func (p *Prober) measureRTT(ctx context.Context, url string) (float64, error) {
	rctx, cancel := context.WithTimeout(ctx, p.sampleTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build rtt request: %w", err)
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return float64(elapsed.Microseconds()) / 1000, nil
}

// sampleBandwidth downloads the payload once under its own timeout and
// converts bytes over wall time into kilobits per second.
func (p *Prober) sampleBandwidth(ctx context.Context, url string) (float64, error) {
	sctx, cancel := context.WithTimeout(ctx, p.sampleTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(sctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build sample request: %w", err)
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	bytes, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read payload: %w", err)
	}
	if bytes == 0 {
		return 0, fmt.Errorf("empty payload")
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	return float64(bytes*8) / elapsed.Seconds() / 1000, nil
}

// hintFromRTT is the low-confidence classification used when no bandwidth
// sample succeeded: <50ms looks like a fast link, <200ms a usable one,
// anything slower (or an unmeasurable RTT) is assumed poor.
func hintFromRTT(rttMs float64, measured bool) models.QualityHint {
	if !measured {
		return models.HintLow
	}
	switch {
	case rttMs < 50:
		return models.HintHigh
	case rttMs < 200:
		return models.HintMedium
	default:
		return models.HintLow
	}
}
