package probe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"streamswitch/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProbeMeasuresBandwidth(t *testing.T) {
	payload := strings.Repeat("x", 64*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		io.WriteString(w, payload)
	}))
	defer server.Close()

	prober := NewProber(ProberConfig{Client: server.Client(), SampleSize: 2, Logger: discardLogger()})
	stats := prober.Probe(context.Background(), Options{PayloadURL: server.URL})

	if stats.BandwidthKbps <= 0 {
		t.Fatalf("expected positive bandwidth, got %f", stats.BandwidthKbps)
	}
	if stats.Hint != "" {
		t.Fatalf("expected no hint on a successful probe, got %q", stats.Hint)
	}
	if stats.SampledAt.IsZero() {
		t.Fatalf("expected SampledAt to be set")
	}
}

func TestProbeSkipsFailedSamples(t *testing.T) {
	var gets atomic.Int64
	payload := strings.Repeat("x", 16*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if gets.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, payload)
	}))
	defer server.Close()

	prober := NewProber(ProberConfig{Client: server.Client(), SampleSize: 3, Logger: discardLogger()})
	stats := prober.Probe(context.Background(), Options{PayloadURL: server.URL})

	if stats.BandwidthKbps <= 0 {
		t.Fatalf("a failed sample must not zero out the probe, got %f", stats.BandwidthKbps)
	}
	if got := gets.Load(); got != 3 {
		t.Fatalf("expected 3 bandwidth samples, got %d", got)
	}
}

func TestProbeDegradedKeepsRTTHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	prober := NewProber(ProberConfig{Client: server.Client(), SampleSize: 3, Logger: discardLogger()})
	stats := prober.Probe(context.Background(), Options{PayloadURL: server.URL})

	if stats.BandwidthKbps != 0 {
		t.Fatalf("expected zero bandwidth when all samples fail, got %f", stats.BandwidthKbps)
	}
	if !stats.Degraded() {
		t.Fatalf("expected degraded stats")
	}
	// Loopback RTT sits far below the 50ms boundary.
	if stats.Hint != models.HintHigh {
		t.Fatalf("expected high hint from a fast RTT, got %q", stats.Hint)
	}
}

func TestProbeUnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	server.Close()

	prober := NewProber(ProberConfig{SampleSize: 2, SampleTimeout: 500 * time.Millisecond, Logger: discardLogger()})
	stats := prober.Probe(context.Background(), Options{PayloadURL: server.URL})

	if stats.BandwidthKbps != 0 {
		t.Fatalf("expected zero bandwidth, got %f", stats.BandwidthKbps)
	}
	if stats.Hint != models.HintLow {
		t.Fatalf("expected low hint when RTT is unmeasurable, got %q", stats.Hint)
	}
}

func TestProbeSampleTimeoutDoesNotBlockRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	prober := NewProber(ProberConfig{
		Client:        server.Client(),
		SampleSize:    2,
		SampleTimeout: 50 * time.Millisecond,
		Logger:        discardLogger(),
	})

	start := time.Now()
	stats := prober.Probe(context.Background(), Options{PayloadURL: server.URL})
	elapsed := time.Since(start)

	if stats.BandwidthKbps != 0 {
		t.Fatalf("expected degraded result, got %f", stats.BandwidthKbps)
	}
	if elapsed > time.Second {
		t.Fatalf("timed-out samples must not stack beyond their own deadlines, took %s", elapsed)
	}
}

func TestProbeHonorsCallerCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prober := NewProber(ProberConfig{Client: server.Client(), Logger: discardLogger()})
	stats := prober.Probe(ctx, Options{PayloadURL: server.URL})

	if stats.BandwidthKbps != 0 {
		t.Fatalf("expected structured default on cancellation, got %f", stats.BandwidthKbps)
	}
}

func TestHintFromRTT(t *testing.T) {
	cases := []struct {
		name     string
		rttMs    float64
		measured bool
		want     models.QualityHint
	}{
		{name: "fast", rttMs: 30, measured: true, want: models.HintHigh},
		{name: "boundary high", rttMs: 50, measured: true, want: models.HintMedium},
		{name: "usable", rttMs: 120, measured: true, want: models.HintMedium},
		{name: "slow", rttMs: 350, measured: true, want: models.HintLow},
		{name: "unmeasured", rttMs: 0, measured: false, want: models.HintLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := hintFromRTT(tc.rttMs, tc.measured); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
