// Command probe-source runs a one-shot reachability and bandwidth probe
// against a stream URL and prints the verdict as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"streamswitch/internal/models"
	"streamswitch/internal/probe"
	"streamswitch/internal/quality"
)

type verdict struct {
	URL              string               `json:"url"`
	Format           string               `json:"format,omitempty"`
	Reachable        bool                 `json:"reachable"`
	Error            string               `json:"error,omitempty"`
	Stats            *models.NetworkStats `json:"stats,omitempty"`
	SuggestedQuality models.QualityLevel  `json:"suggestedQuality,omitempty"`
}

func main() {
	var (
		target        string
		format        string
		rttURL        string
		preferred     string
		samples       int
		sampleTimeout time.Duration
		checkTimeout  time.Duration
		totalTimeout  time.Duration
	)

	flag.StringVar(&target, "url", "", "Stream URL to probe")
	flag.StringVar(&format, "format", "", "Source format (hls, dash, mp4, webm); sniffed from the URL when empty")
	flag.StringVar(&rttURL, "rtt-url", "", "Separate lightweight URL for the RTT measurement")
	flag.StringVar(&preferred, "preferred", "", "Preferred quality level (auto when empty)")
	flag.IntVar(&samples, "samples", 0, "Timed download samples for the bandwidth measurement")
	flag.DurationVar(&sampleTimeout, "sample-timeout", 0, "Timeout for a single bandwidth sample")
	flag.DurationVar(&checkTimeout, "timeout", 0, "Timeout for the reachability check")
	flag.DurationVar(&totalTimeout, "total-timeout", time.Minute, "Overall deadline for the probe run")
	flag.Parse()

	target = strings.TrimSpace(target)
	if target == "" {
		usagef("--url is required")
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		usagef("--url must be absolute")
	}
	preferredLevel, err := models.ParseQualityLevel(preferred)
	if err != nil {
		usagef("invalid --preferred: %v", err)
	}
	if format == "" {
		format = formatFromURL(target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), totalTimeout)
	defer cancel()

	checker := probe.NewChecker(probe.CheckerConfig{Timeout: checkTimeout})
	result := verdict{URL: target, Format: format}
	src := models.StreamSource{URL: target, Format: format, Label: "probe"}
	if err := checker.CheckSource(ctx, src); err != nil {
		result.Error = err.Error()
		printVerdict(result)
		os.Exit(1)
	}

	result.Reachable = true
	prober := probe.NewProber(probe.ProberConfig{
		SampleSize:    samples,
		SampleTimeout: sampleTimeout,
	})
	stats := prober.Probe(ctx, probe.Options{
		PayloadURL: target,
		RTTURL:     strings.TrimSpace(rttURL),
	})
	result.Stats = &stats
	result.SuggestedQuality = quality.SelectQuality(stats, preferredLevel)
	printVerdict(result)
}

func printVerdict(result verdict) {
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode verdict: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
}

func usagef(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	flag.Usage()
	os.Exit(2)
}

func formatFromURL(raw string) string {
	lowered := strings.ToLower(raw)
	switch {
	case strings.Contains(lowered, ".m3u8"):
		return "hls"
	case strings.Contains(lowered, ".mpd"):
		return "dash"
	case strings.Contains(lowered, ".webm"):
		return "webm"
	case strings.Contains(lowered, ".mp4"):
		return "mp4"
	default:
		return ""
	}
}
