package playback

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"streamswitch/internal/models"
	"streamswitch/internal/observability/metrics"
)

// ErrSessionNotFound reports a lookup for an unknown or purged session id.
var ErrSessionNotFound = errors.New("playback: session not found")

// ManagerConfig carries the collaborators every managed session shares.
type ManagerConfig struct {
	Prober  NetworkProber
	Checker ReachabilityChecker
	Events  EventRecorder
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	BufferTargetSeconds int
	AutoReturn          bool
	AutoReturnAfter     time.Duration
}

// Manager owns the live session registry.
type Manager struct {
	prober  NetworkProber
	checker ReachabilityChecker
	events  EventRecorder
	logger  *slog.Logger
	metrics *metrics.Recorder

	bufferTarget    int
	autoReturn      bool
	autoReturnAfter time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		prober:          cfg.Prober,
		checker:         cfg.Checker,
		events:          cfg.Events,
		logger:          logger,
		metrics:         cfg.Metrics,
		bufferTarget:    cfg.BufferTargetSeconds,
		autoReturn:      cfg.AutoReturn,
		autoReturnAfter: cfg.AutoReturnAfter,
		sessions:        make(map[string]*Session),
	}
}

// CreateParams describes one new viewer session. A nil Engine gets a
// RemoteEngine, the stand-in for players that attach out of band.
type CreateParams struct {
	Item      models.ContentItem
	Ephemeral *models.StreamSource
	Preferred models.QualityLevel
	Stats     *models.NetworkStats
	Engine    Engine
}

// Create registers a session and starts it. The session stays registered
// even when the start exhausts every source, so callers can inspect the
// failure, switch sources, or retry.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Session, error) {
	engine := params.Engine
	if engine == nil {
		engine = NewRemoteEngine()
	}
	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	session, err := NewSession(SessionConfig{
		ID:                  id,
		Item:                params.Item,
		Ephemeral:           params.Ephemeral,
		Preferred:           params.Preferred,
		Stats:               params.Stats,
		Engine:              engine,
		Prober:              m.prober,
		Checker:             m.checker,
		Events:              m.events,
		Logger:              m.logger,
		Metrics:             m.metrics,
		BufferTargetSeconds: m.bufferTarget,
		AutoReturn:          m.autoReturn,
		AutoReturnAfter:     m.autoReturnAfter,
	})
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()
	return session, session.Start(ctx)
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Stop stops a session and removes it from the registry.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return session.Stop(ctx)
}

// List returns snapshots of every registered session ordered by id.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, session := range sessions {
		snaps = append(snaps, session.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// PurgeIdle stops and removes every session without activity for maxIdle:
// terminal sessions linger until the TTL passes so operators can inspect
// them, and live sessions whose players went silent are reaped the same way.
// It returns the number of sessions removed.
func (m *Manager) PurgeIdle(ctx context.Context, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().Add(-maxIdle)

	m.mu.Lock()
	var expired []*Session
	for id, session := range m.sessions {
		if session.Snapshot().LastActivity.Before(cutoff) {
			expired = append(expired, session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, session := range expired {
		if err := session.Stop(ctx); err != nil {
			m.logger.Warn("stop purged session", "session_id", session.ID(), "error", err)
		}
	}
	if len(expired) > 0 {
		m.logger.Info("purged idle sessions", "count", len(expired))
	}
	return len(expired)
}

func newSessionID() (string, error) {
	var buffer [16]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer[:]), nil
}
