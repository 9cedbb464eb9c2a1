package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamswitch/internal/models"
	"streamswitch/internal/observability/metrics"
)

const (
	defaultCheckTimeout = 5 * time.Second

	// manifestSniffWindow bounds how much of a manifest is read while
	// looking for its marker bytes.
	manifestSniffWindow = 4096
)

// Strategy performs one format-specific reachability check. Adding support
// for a new format means registering one more variant in the table below, not
// widening a branch.
type Strategy interface {
	Name() string
	Check(ctx context.Context, client *http.Client, url string) error
}

// manifestStrategy fetches the manifest of a segmented format and sniffs for
// its marker bytes. A reachable URL serving the wrong payload counts as
// unreachable.
type manifestStrategy struct {
	name   string
	marker []byte
}

func (s manifestStrategy) Name() string { return s.name }

func (s manifestStrategy) Check(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build manifest request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("manifest returned status %d", resp.StatusCode)
	}
	head, err := io.ReadAll(io.LimitReader(resp.Body, manifestSniffWindow))
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if !bytes.Contains(head, s.marker) {
		return fmt.Errorf("manifest missing %q marker", string(s.marker))
	}
	return nil
}

// progressiveStrategy issues a HEAD request and verifies the origin can serve
// ranged requests, which seeking in progressive formats depends on.
type progressiveStrategy struct{}

func (progressiveStrategy) Name() string { return "progressive" }

func (progressiveStrategy) Check(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("build head request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("head returned status %d", resp.StatusCode)
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes") {
		return nil
	}
	if resp.ContentLength > 0 {
		return nil
	}
	return fmt.Errorf("origin does not support ranged reads")
}

// genericStrategy is the fallback for unregistered formats: any 2xx response
// counts as reachable.
type genericStrategy struct{}

func (genericStrategy) Name() string { return "generic" }

func (genericStrategy) Check(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("returned status %d", resp.StatusCode)
	}
	return nil
}

var strategies = map[string]Strategy{
	"hls":  manifestStrategy{name: "manifest", marker: []byte("#EXTM3U")},
	"m3u8": manifestStrategy{name: "manifest", marker: []byte("#EXTM3U")},
	"dash": manifestStrategy{name: "manifest", marker: []byte("<MPD")},
	"mpd":  manifestStrategy{name: "manifest", marker: []byte("<MPD")},
	"mp4":  progressiveStrategy{},
	"webm": progressiveStrategy{},
}

// StrategyFor returns the probe variant registered for a source format,
// falling back to the generic 2xx check for formats the table does not know.
func StrategyFor(format string) Strategy {
	if strategy, ok := strategies[strings.ToLower(strings.TrimSpace(format))]; ok {
		return strategy
	}
	return genericStrategy{}
}

type CheckerConfig struct {
	Client  *http.Client
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Checker applies the per-format strategy table with one timeout per probe.
// It is shared by the health monitor and the ad hoc probe endpoint.
type Checker struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder
}

func NewChecker(cfg CheckerConfig) *Checker {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{client: client, timeout: timeout, logger: logger, metrics: cfg.Metrics}
}

// CheckSource probes one source under the checker's timeout. A non-nil error
// marks only this source unreachable; callers continue with the next one.
func (c *Checker) CheckSource(ctx context.Context, src models.StreamSource) error {
	strategy := StrategyFor(src.Format)
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := strategy.Check(cctx, c.client, src.URL)
	if c.metrics != nil {
		c.metrics.ObserveProbe(strategy.Name(), err == nil)
	}
	if err != nil {
		c.logger.Debug("source probe failed", "url", src.URL, "format", src.Format, "strategy", strategy.Name(), "error", err)
	}
	return err
}
