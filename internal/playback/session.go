// Package playback drives viewer sessions through attach, failover, and
// stop. A session is single-threaded from its own viewpoint: one attach
// attempt is in flight at a time, and a stop, manual switch, or fatal report
// preempts the attempt by bumping the generation counter and cancelling the
// attempt's context. Stale completions are discarded.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamswitch/internal/models"
	"streamswitch/internal/observability/metrics"
	"streamswitch/internal/probe"
	"streamswitch/internal/quality"
	"streamswitch/internal/sources"
)

// State names one position in the session lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateAttaching State = "attaching"
	StatePlaying   State = "playing"
	StateBuffering State = "buffering"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions can happen except a stop.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// ErrSourcesExhausted reports that every source in the set was tried and
// rejected. Each descent into the failed state surfaces it exactly once.
var ErrSourcesExhausted = errors.New("playback: all sources exhausted")

const (
	defaultBufferTargetSeconds = 30
	defaultAutoReturnAfter     = time.Minute
	defaultReturnProbeTimeout  = 5 * time.Second
)

// NetworkProber measures link conditions ahead of an attach.
type NetworkProber interface {
	Probe(ctx context.Context, opts probe.Options) models.NetworkStats
}

// ReachabilityChecker verifies that a source answers in its declared format.
type ReachabilityChecker interface {
	CheckSource(ctx context.Context, src models.StreamSource) error
}

// EventRecorder accepts playback transition events. Recording must never
// block playback control flow.
type EventRecorder interface {
	Record(ctx context.Context, event models.AnalyticsEvent)
}

// SessionConfig assembles one session. Engine is required; every other
// collaborator is optional and degrades to a no-op.
type SessionConfig struct {
	ID        string
	Item      models.ContentItem
	Ephemeral *models.StreamSource
	Preferred models.QualityLevel
	Stats     *models.NetworkStats

	Engine  Engine
	Prober  NetworkProber
	Checker ReachabilityChecker
	Events  EventRecorder
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	BufferTargetSeconds int
	AutoReturn          bool
	AutoReturnAfter     time.Duration
}

// Session owns one viewer's source order and lifecycle.
type Session struct {
	id        string
	item      models.ContentItem
	sourceSet []models.StreamSource
	preferred models.QualityLevel

	engine  Engine
	prober  NetworkProber
	checker ReachabilityChecker
	events  EventRecorder
	logger  *slog.Logger
	metrics *metrics.Recorder

	bufferTarget    int
	autoReturn      bool
	autoReturnAfter time.Duration

	mu             sync.Mutex
	state          State
	index          int
	level          models.QualityLevel
	stats          models.NetworkStats
	cached         *models.NetworkStats
	attachedURL    string
	generation     uint64
	cancelAttach   context.CancelFunc
	returnTimer    *time.Timer
	playedOnce     bool
	gaugeHeld      bool
	terminalErr    error
	startedAt      time.Time
	lastActivity   time.Time
	bufferingSince time.Time
}

// NewSession normalizes the item's sources once and builds an idle session.
// An optional ephemeral source is forced to the front of the order without
// touching the catalog. Items without a single valid source are rejected.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("playback: engine is required")
	}
	set := sources.Normalize(cfg.Item.Sources)
	if cfg.Ephemeral != nil {
		set = sources.Prepend(set, *cfg.Ephemeral)
	}
	if len(set) == 0 {
		return nil, quality.ErrNoSources
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	preferred := cfg.Preferred
	if preferred == "" {
		preferred = models.QualityAuto
	}
	bufferTarget := cfg.BufferTargetSeconds
	if bufferTarget <= 0 {
		bufferTarget = defaultBufferTargetSeconds
	}
	after := cfg.AutoReturnAfter
	if after <= 0 {
		after = defaultAutoReturnAfter
	}
	var cached *models.NetworkStats
	if cfg.Stats != nil {
		statsCopy := *cfg.Stats
		cached = &statsCopy
	}
	now := time.Now().UTC()
	return &Session{
		id:              cfg.ID,
		item:            cfg.Item,
		sourceSet:       set,
		preferred:       preferred,
		cached:          cached,
		engine:          cfg.Engine,
		prober:          cfg.Prober,
		checker:         cfg.Checker,
		events:          cfg.Events,
		logger:          logger,
		metrics:         cfg.Metrics,
		bufferTarget:    bufferTarget,
		autoReturn:      cfg.AutoReturn,
		autoReturnAfter: after,
		state:           StateIdle,
		level:           models.QualityAuto,
		lastActivity:    now,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start probes, selects quality, and attaches the first source, failing over
// through the set until one attach succeeds. It blocks until the session is
// playing or every source was rejected, returning ErrSourcesExhausted in the
// latter case.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("playback: session %s already started (state %s)", s.id, state)
	}
	now := time.Now().UTC()
	s.startedAt = now
	s.lastActivity = now
	if s.metrics != nil {
		s.metrics.SessionStarted()
	}
	s.gaugeHeld = true
	gen, attachCtx, cancel := s.beginAttemptLocked(ctx, 0)
	s.mu.Unlock()
	defer cancel()
	return s.attachLoop(attachCtx, gen)
}

// ReportFatal accepts a fatal source error from the engine and fails over to
// the next source, blocking while the replacement attach runs. Once the set
// is exhausted the session turns terminal and ErrSourcesExhausted is
// returned. Segment-level errors must be absorbed by the engine and never
// reported here.
func (s *Session) ReportFatal(ctx context.Context, cause error) error {
	s.mu.Lock()
	switch s.state {
	case StateAttaching, StatePlaying, StateBuffering:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("playback: fatal report ignored in state %s", state)
	}
	s.lastActivity = time.Now().UTC()
	next := s.index + 1
	if next >= len(s.sourceSet) {
		s.failLocked()
		s.mu.Unlock()
		_ = s.engine.Detach()
		s.emitFailure(ctx, cause)
		return ErrSourcesExhausted
	}
	gen, attachCtx, cancel := s.beginAttemptLocked(ctx, next)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ObserveFailover()
	}
	s.logger.Warn("fatal source error, failing over",
		"session_id", s.id, "content_id", s.item.ID, "next_index", next, "error", cause)
	defer cancel()
	return s.attachLoop(attachCtx, gen)
}

// ReportBuffering marks the start or end of an engine stall. The end of a
// stall records a buffering event carrying the stall duration.
func (s *Session) ReportBuffering(ctx context.Context, started bool) error {
	s.mu.Lock()
	now := time.Now().UTC()
	s.lastActivity = now
	if started {
		if s.state != StatePlaying {
			state := s.state
			s.mu.Unlock()
			return fmt.Errorf("playback: buffering start ignored in state %s", state)
		}
		s.state = StateBuffering
		s.bufferingSince = now
		s.mu.Unlock()
		return nil
	}
	if s.state != StateBuffering {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("playback: buffering end ignored in state %s", state)
	}
	s.state = StatePlaying
	stall := now.Sub(s.bufferingSince)
	s.bufferingSince = time.Time{}
	level := s.level
	s.mu.Unlock()

	event := s.newEvent(models.EventBuffering)
	event.Quality = level
	event.BufferingDurationMs = stall.Milliseconds()
	s.record(ctx, event)
	return nil
}

// ReportLevelSwitch records an engine-side ABR level change as a
// quality_change event.
func (s *Session) ReportLevelSwitch(ctx context.Context, level models.QualityLevel) error {
	if !level.IsConcrete() {
		return fmt.Errorf("playback: level switch requires a concrete quality, got %q", level)
	}
	s.mu.Lock()
	switch s.state {
	case StatePlaying, StateBuffering:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("playback: level switch ignored in state %s", state)
	}
	s.level = level
	s.lastActivity = time.Now().UTC()
	bandwidth := s.stats.BandwidthKbps
	s.mu.Unlock()

	event := s.newEvent(models.EventQualityChange)
	event.Quality = level
	event.BandwidthKbps = bandwidth
	s.record(ctx, event)
	return nil
}

// Stop is legal from every state. It cancels any in-flight attach, detaches
// the engine, and records a stop event carrying the elapsed session time.
// Stopping twice is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	if s.cancelAttach != nil {
		s.cancelAttach()
	}
	s.stopReturnTimerLocked()
	s.generation++
	s.state = StateStopped
	s.attachedURL = ""
	now := time.Now().UTC()
	s.lastActivity = now
	var elapsed time.Duration
	if !s.startedAt.IsZero() {
		elapsed = now.Sub(s.startedAt)
	}
	level := s.level
	if s.gaugeHeld && s.metrics != nil {
		s.metrics.SessionStopped()
	}
	s.gaugeHeld = false
	s.mu.Unlock()

	_ = s.engine.Detach()
	event := s.newEvent(models.EventStop)
	event.Quality = level
	event.ElapsedMs = elapsed.Milliseconds()
	s.record(ctx, event)
	s.logger.Info("session stopped",
		"session_id", s.id, "content_id", s.item.ID, "elapsed_ms", elapsed.Milliseconds())
	return nil
}

// SwitchSource re-enters Attaching at an operator-chosen index. Allowed from
// Playing, Buffering, and Failed; an out-of-range index is an error.
func (s *Session) SwitchSource(ctx context.Context, index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.sourceSet) {
		count := len(s.sourceSet)
		s.mu.Unlock()
		return fmt.Errorf("playback: source index %d out of range [0,%d)", index, count)
	}
	switch s.state {
	case StatePlaying, StateBuffering, StateFailed:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("playback: switch not allowed in state %s", state)
	}
	wasFailed := s.state == StateFailed
	s.terminalErr = nil
	s.lastActivity = time.Now().UTC()
	if wasFailed && !s.gaugeHeld {
		if s.metrics != nil {
			s.metrics.SessionRetried()
		}
		s.gaugeHeld = true
	}
	gen, attachCtx, cancel := s.beginAttemptLocked(ctx, index)
	s.mu.Unlock()
	s.logger.Info("manual source switch",
		"session_id", s.id, "content_id", s.item.ID, "source_index", index)
	defer cancel()
	return s.attachLoop(attachCtx, gen)
}

// Retry restarts a failed session from the top of the source order. There is
// no automatic retry; this is always an explicit caller action.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateFailed {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("playback: retry only allowed from failed, state is %s", state)
	}
	now := time.Now().UTC()
	s.terminalErr = nil
	s.playedOnce = false
	s.startedAt = now
	s.lastActivity = now
	if !s.gaugeHeld {
		if s.metrics != nil {
			s.metrics.SessionRetried()
		}
		s.gaugeHeld = true
	}
	gen, attachCtx, cancel := s.beginAttemptLocked(ctx, 0)
	s.mu.Unlock()
	s.logger.Info("session retry", "session_id", s.id, "content_id", s.item.ID)
	defer cancel()
	return s.attachLoop(attachCtx, gen)
}

// Snapshot is a point-in-time copy of observable session state.
type Snapshot struct {
	ID            string              `json:"sessionId"`
	ContentType   models.ContentType  `json:"contentType"`
	ContentID     string              `json:"contentId"`
	State         State               `json:"state"`
	SourceIndex   int                 `json:"sourceIndex"`
	SourceCount   int                 `json:"sourceCount"`
	Quality       models.QualityLevel `json:"quality,omitempty"`
	BandwidthKbps float64             `json:"bandwidthKbps,omitempty"`
	URL           string              `json:"url,omitempty"`
	Error         string              `json:"error,omitempty"`
	StartedAt     time.Time           `json:"startedAt"`
	LastActivity  time.Time           `json:"lastActivity"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:            s.id,
		ContentType:   s.item.Type,
		ContentID:     s.item.ID,
		State:         s.state,
		SourceIndex:   s.index,
		SourceCount:   len(s.sourceSet),
		Quality:       s.level,
		BandwidthKbps: s.stats.BandwidthKbps,
		URL:           s.attachedURL,
		StartedAt:     s.startedAt,
		LastActivity:  s.lastActivity,
	}
	if s.terminalErr != nil {
		snap.Error = s.terminalErr.Error()
	}
	return snap
}

// beginAttemptLocked preempts any in-flight attach and opens a new attempt
// at the given index. The caller holds mu.
func (s *Session) beginAttemptLocked(ctx context.Context, index int) (uint64, context.Context, context.CancelFunc) {
	if s.cancelAttach != nil {
		s.cancelAttach()
	}
	s.stopReturnTimerLocked()
	s.generation++
	s.state = StateAttaching
	s.index = index
	attachCtx, cancel := context.WithCancel(ctx)
	s.cancelAttach = cancel
	return s.generation, attachCtx, cancel
}

// attachLoop runs attempts for one generation until an attach succeeds, the
// set is exhausted, or a preemptor takes over the machine. Preempted loops
// exit silently; the preemptor owns the outcome.
func (s *Session) attachLoop(ctx context.Context, gen uint64) error {
	for {
		s.mu.Lock()
		if s.generation != gen || s.state != StateAttaching {
			s.mu.Unlock()
			return nil
		}
		index := s.index
		s.mu.Unlock()

		stats := s.measure(ctx, index)
		level := quality.SelectQuality(stats, s.preferred)
		sel, absIndex := s.selectWithinTier(index, level, stats)

		attachErr := s.engine.Attach(ctx, AttachParams{
			URL:                 sel.Source.URL,
			StartLevel:          sel.Resolved,
			BufferTargetSeconds: s.bufferTarget,
		})

		s.mu.Lock()
		if s.generation != gen || s.state != StateAttaching {
			s.mu.Unlock()
			return nil
		}
		if attachErr == nil {
			s.index = absIndex
			s.level = sel.Resolved
			s.stats = stats
			s.attachedURL = sel.Source.URL
			s.state = StatePlaying
			first := !s.playedOnce
			s.playedOnce = true
			s.lastActivity = time.Now().UTC()
			s.armReturnTimerLocked()
			s.mu.Unlock()

			kind := models.EventQualityChange
			if first {
				kind = models.EventStart
			}
			event := s.newEvent(kind)
			event.Quality = sel.Resolved
			event.BandwidthKbps = stats.BandwidthKbps
			s.record(ctx, event)
			s.logger.Info("session playing",
				"session_id", s.id, "content_id", s.item.ID,
				"source_index", absIndex, "quality", string(sel.Resolved),
				"bandwidth_kbps", stats.BandwidthKbps)
			return nil
		}

		if ctx.Err() != nil {
			// The caller abandoned the attempt; do not burn through the
			// remaining sources on a dead context.
			s.state = StateStopped
			s.attachedURL = ""
			if s.gaugeHeld && s.metrics != nil {
				s.metrics.SessionStopped()
			}
			s.gaugeHeld = false
			s.mu.Unlock()
			s.logger.Warn("attach abandoned",
				"session_id", s.id, "content_id", s.item.ID, "error", ctx.Err())
			return ctx.Err()
		}

		next := absIndex + 1
		if next >= len(s.sourceSet) {
			s.failLocked()
			s.mu.Unlock()
			s.emitFailure(ctx, attachErr)
			return ErrSourcesExhausted
		}
		s.index = next
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.ObserveFailover()
		}
		s.logger.Warn("source rejected, failing over",
			"session_id", s.id, "content_id", s.item.ID,
			"source_index", absIndex, "next_index", next, "error", attachErr)
	}
}

// failLocked turns the session terminal after exhaustion. The caller holds
// mu and emits the error event after unlocking.
func (s *Session) failLocked() {
	if s.cancelAttach != nil {
		s.cancelAttach()
	}
	s.stopReturnTimerLocked()
	s.generation++
	s.state = StateFailed
	s.terminalErr = ErrSourcesExhausted
	s.attachedURL = ""
	s.lastActivity = time.Now().UTC()
	if s.gaugeHeld && s.metrics != nil {
		s.metrics.SessionFailed()
	}
	s.gaugeHeld = false
}

func (s *Session) emitFailure(ctx context.Context, cause error) {
	event := s.newEvent(models.EventError)
	event.Error = ErrSourcesExhausted.Error()
	s.record(ctx, event)
	s.logger.Error("all sources exhausted",
		"session_id", s.id, "content_id", s.item.ID, "sources", len(s.sourceSet), "error", cause)
}

// measure returns link stats for one attempt: the cached measurement when
// the session was created with one (consumed by the first attempt only), a
// fresh probe against the candidate source otherwise. Without a prober the
// zero value routes selection through the auto fallback.
func (s *Session) measure(ctx context.Context, index int) models.NetworkStats {
	s.mu.Lock()
	cached := s.cached
	s.cached = nil
	s.mu.Unlock()
	if cached != nil {
		return *cached
	}
	if s.prober == nil {
		return models.NetworkStats{SampledAt: time.Now().UTC()}
	}
	return s.prober.Probe(ctx, probe.Options{PayloadURL: s.sourceSet[index].URL})
}

// selectWithinTier resolves a concrete source for the attempt. Candidates
// are the sources at and after index sharing its effective priority, so a
// tier holding several renditions yields the best fit while already-rejected
// entries are never revisited.
func (s *Session) selectWithinTier(index int, level models.QualityLevel, stats models.NetworkStats) (quality.Selection, int) {
	tier := s.sourceSet[index].EffectivePriority()
	end := index + 1
	for end < len(s.sourceSet) && s.sourceSet[end].EffectivePriority() == tier {
		end++
	}
	sel, err := quality.SelectSource(s.sourceSet[index:end], level, stats)
	if err != nil {
		return quality.Selection{Source: s.sourceSet[index], Resolved: models.QualityAuto}, index
	}
	for i := index; i < end; i++ {
		if s.sourceSet[i].URL == sel.Source.URL {
			return sel, i
		}
	}
	return sel, index
}

func (s *Session) armReturnTimerLocked() {
	if !s.autoReturn || s.index == 0 {
		return
	}
	s.stopReturnTimerLocked()
	gen := s.generation
	s.returnTimer = time.AfterFunc(s.autoReturnAfter, func() { s.tryReturnToPrimary(gen) })
}

func (s *Session) stopReturnTimerLocked() {
	if s.returnTimer != nil {
		s.returnTimer.Stop()
		s.returnTimer = nil
	}
}

// tryReturnToPrimary re-checks the top-priority source after a stretch of
// playback on a failover source and switches back when it answers again.
// While the primary stays down the timer re-arms.
func (s *Session) tryReturnToPrimary(gen uint64) {
	s.mu.Lock()
	if s.generation != gen || s.index == 0 || (s.state != StatePlaying && s.state != StateBuffering) {
		s.mu.Unlock()
		return
	}
	primary := s.sourceSet[0]
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultReturnProbeTimeout)
	reachable := s.primaryReachable(ctx, primary)
	cancel()

	s.mu.Lock()
	if s.generation != gen || s.index == 0 || (s.state != StatePlaying && s.state != StateBuffering) {
		s.mu.Unlock()
		return
	}
	if !reachable {
		s.armReturnTimerLocked()
		s.mu.Unlock()
		return
	}
	nextGen, attachCtx, cancelAttempt := s.beginAttemptLocked(context.Background(), 0)
	s.mu.Unlock()
	s.logger.Info("primary source reachable again, switching back",
		"session_id", s.id, "content_id", s.item.ID)
	defer cancelAttempt()
	_ = s.attachLoop(attachCtx, nextGen)
}

func (s *Session) primaryReachable(ctx context.Context, src models.StreamSource) bool {
	if s.checker != nil {
		return s.checker.CheckSource(ctx, src) == nil
	}
	if s.prober == nil {
		return false
	}
	stats := s.prober.Probe(ctx, probe.Options{PayloadURL: src.URL})
	return !stats.Degraded()
}

func (s *Session) newEvent(kind models.EventKind) models.AnalyticsEvent {
	return models.AnalyticsEvent{
		ContentType: s.item.Type,
		ContentID:   s.item.ID,
		Kind:        kind,
		Timestamp:   time.Now().UTC(),
	}
}

func (s *Session) record(ctx context.Context, event models.AnalyticsEvent) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, event)
}
