package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, playback session lifecycle events, source probes, health monitor
// cycles, and analytics delivery. It coordinates concurrent writers via a
// RWMutex while exposing a thread-safe gauge for active session tracking.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	sessionEvents     map[string]uint64
	probeAttempts     map[string]uint64
	probeFailures     map[string]uint64
	monitorCycles     map[string]uint64
	monitorItems      map[string]uint64
	analyticsAttempts map[string]uint64
	analyticsFailures map[string]uint64
	activeSessions    atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		sessionEvents:     make(map[string]uint64),
		probeAttempts:     make(map[string]uint64),
		probeFailures:     make(map[string]uint64),
		monitorCycles:     make(map[string]uint64),
		monitorItems:      make(map[string]uint64),
		analyticsAttempts: make(map[string]uint64),
		analyticsFailures: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// SessionStarted records a session start and increments the active session
// gauge atomically so concurrent sessions remain consistent.
func (r *Recorder) SessionStarted() {
	r.incrementSessionEvent("start")
	r.activeSessions.Add(1)
}

// SessionStopped records a stop event and decrements the active session
// gauge, guarding against negative counts when concurrent updates race.
func (r *Recorder) SessionStopped() {
	r.incrementSessionEvent("stop")
	r.decrementGauge(&r.activeSessions)
}

// SessionFailed records source exhaustion and releases the session's slot in
// the active gauge.
func (r *Recorder) SessionFailed() {
	r.incrementSessionEvent("failed")
	r.decrementGauge(&r.activeSessions)
}

// SessionRetried records a manual retry out of the failed state and restores
// the session's slot in the active gauge.
func (r *Recorder) SessionRetried() {
	r.incrementSessionEvent("retry")
	r.activeSessions.Add(1)
}

// ObserveFailover records one automatic advance to the next source.
func (r *Recorder) ObserveFailover() {
	r.incrementSessionEvent("failover")
}

func (r *Recorder) incrementSessionEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.sessionEvents[normalized]++
	r.mu.Unlock()
}

// ObserveProbe records one reachability probe keyed by strategy name and, for
// unsuccessful checks, a matching failure.
func (r *Recorder) ObserveProbe(strategy string, ok bool) {
	name := normalizeName(strategy)
	r.mu.Lock()
	r.probeAttempts[name]++
	if !ok {
		r.probeFailures[name]++
	}
	r.mu.Unlock()
}

// ObserveMonitorCycle records one completed health monitor cycle by result.
func (r *Recorder) ObserveMonitorCycle(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.mu.Lock()
	r.monitorCycles[result]++
	r.mu.Unlock()
}

// ObserveMonitorItem records the status verdict the monitor assigned to one
// content item.
func (r *Recorder) ObserveMonitorItem(status string) {
	normalized := normalizeName(status)
	r.mu.Lock()
	r.monitorItems[normalized]++
	r.mu.Unlock()
}

// ObserveAnalyticsDelivery records one sink delivery attempt keyed by sink
// name and, when the sink rejected the event, a matching failure.
func (r *Recorder) ObserveAnalyticsDelivery(sink string, ok bool) {
	name := normalizeName(sink)
	r.mu.Lock()
	r.analyticsAttempts[name]++
	if !ok {
		r.analyticsFailures[name]++
	}
	r.mu.Unlock()
}

// ActiveSessions exposes the current gauge of concurrently active playback
// sessions.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// ProbeCounts returns copies of probe attempt and failure counters for
// testing and reporting purposes.
func (r *Recorder) ProbeCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.probeAttempts))
	for k, v := range r.probeAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.probeFailures))
	for k, v := range r.probeFailures {
		failures[k] = v
	}
	return attempts, failures
}

// SessionEventCounts returns a copy of the session event counters.
func (r *Recorder) SessionEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.sessionEvents))
	for k, v := range r.sessionEvents {
		events[k] = v
	}
	return events
}

// MonitorCounts returns copies of the monitor cycle result counters and the
// per-item status verdict counters.
func (r *Recorder) MonitorCounts() (cycles map[string]uint64, items map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cycles = make(map[string]uint64, len(r.monitorCycles))
	for k, v := range r.monitorCycles {
		cycles[k] = v
	}
	items = make(map[string]uint64, len(r.monitorItems))
	for k, v := range r.monitorItems {
		items[k] = v
	}
	return cycles, items
}

// AnalyticsCounts returns copies of analytics delivery attempt and failure
// counters.
func (r *Recorder) AnalyticsCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.analyticsAttempts))
	for k, v := range r.analyticsAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.analyticsFailures))
	for k, v := range r.analyticsFailures {
		failures[k] = v
	}
	return attempts, failures
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.sessionEvents = make(map[string]uint64)
	r.probeAttempts = make(map[string]uint64)
	r.probeFailures = make(map[string]uint64)
	r.monitorCycles = make(map[string]uint64)
	r.monitorItems = make(map[string]uint64)
	r.analyticsAttempts = make(map[string]uint64)
	r.analyticsFailures = make(map[string]uint64)
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	sessionEvents := sortedKeys(r.sessionEvents)
	probeStrategies := mergedKeys(r.probeAttempts, r.probeFailures)
	monitorResults := sortedKeys(r.monitorCycles)
	monitorStatuses := sortedKeys(r.monitorItems)
	analyticsSinks := mergedKeys(r.analyticsAttempts, r.analyticsFailures)

	fmt.Fprintln(w, "# HELP streamswitch_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE streamswitch_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "streamswitch_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP streamswitch_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamswitch_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "streamswitch_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP streamswitch_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE streamswitch_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "streamswitch_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP streamswitch_session_events_total Playback session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE streamswitch_session_events_total counter")
	for _, event := range sessionEvents {
		fmt.Fprintf(w, "streamswitch_session_events_total{event=\"%s\"} %d\n", event, r.sessionEvents[event])
	}

	fmt.Fprintln(w, "# HELP streamswitch_active_sessions Current number of playback sessions not yet stopped or failed")
	fmt.Fprintln(w, "# TYPE streamswitch_active_sessions gauge")
	fmt.Fprintf(w, "streamswitch_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP streamswitch_probe_attempts_total Reachability probes attempted by strategy")
	fmt.Fprintln(w, "# TYPE streamswitch_probe_attempts_total counter")
	for _, strategy := range probeStrategies {
		fmt.Fprintf(w, "streamswitch_probe_attempts_total{strategy=\"%s\"} %d\n", strategy, r.probeAttempts[strategy])
	}

	fmt.Fprintln(w, "# HELP streamswitch_probe_failures_total Reachability probe failures by strategy")
	fmt.Fprintln(w, "# TYPE streamswitch_probe_failures_total counter")
	for _, strategy := range probeStrategies {
		fmt.Fprintf(w, "streamswitch_probe_failures_total{strategy=\"%s\"} %d\n", strategy, r.probeFailures[strategy])
	}

	fmt.Fprintln(w, "# HELP streamswitch_monitor_cycles_total Health monitor cycles by result")
	fmt.Fprintln(w, "# TYPE streamswitch_monitor_cycles_total counter")
	for _, result := range monitorResults {
		fmt.Fprintf(w, "streamswitch_monitor_cycles_total{result=\"%s\"} %d\n", result, r.monitorCycles[result])
	}

	fmt.Fprintln(w, "# HELP streamswitch_monitor_items_total Content items checked by the health monitor by assigned status")
	fmt.Fprintln(w, "# TYPE streamswitch_monitor_items_total counter")
	for _, status := range monitorStatuses {
		fmt.Fprintf(w, "streamswitch_monitor_items_total{status=\"%s\"} %d\n", status, r.monitorItems[status])
	}

	fmt.Fprintln(w, "# HELP streamswitch_analytics_deliveries_total Analytics sink delivery attempts by sink")
	fmt.Fprintln(w, "# TYPE streamswitch_analytics_deliveries_total counter")
	for _, sink := range analyticsSinks {
		fmt.Fprintf(w, "streamswitch_analytics_deliveries_total{sink=\"%s\"} %d\n", sink, r.analyticsAttempts[sink])
	}

	fmt.Fprintln(w, "# HELP streamswitch_analytics_delivery_failures_total Analytics sink delivery failures by sink")
	fmt.Fprintln(w, "# TYPE streamswitch_analytics_delivery_failures_total counter")
	for _, sink := range analyticsSinks {
		fmt.Fprintf(w, "streamswitch_analytics_delivery_failures_total{sink=\"%s\"} %d\n", sink, r.analyticsFailures[sink])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func mergedKeys(a, b map[string]uint64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for key := range a {
		seen[key] = struct{}{}
	}
	for key := range b {
		seen[key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// SessionStarted increments counters on the default recorder.
func SessionStarted() {
	defaultRecorder.SessionStarted()
}

// SessionStopped decrements active sessions on the default recorder.
func SessionStopped() {
	defaultRecorder.SessionStopped()
}

// ObserveProbe records a probe on the default recorder.
func ObserveProbe(strategy string, ok bool) {
	defaultRecorder.ObserveProbe(strategy, ok)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
