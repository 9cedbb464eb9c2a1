package models

import (
	"fmt"
	"strings"
	"time"
)

// UnsetPriority is the sentinel assigned to sources that arrive without an
// explicit priority. It sorts after every real priority so unprioritized
// sources are tried last while keeping their relative input order.
const UnsetPriority = 1<<31 - 1

// ContentType identifies which catalog collection a content item belongs to.
type ContentType string

const (
	ContentTypeChannel ContentType = "channel"
	ContentTypeMovie   ContentType = "movie"
	ContentTypeEpisode ContentType = "episode"
)

// ParseContentType validates a wire-format content type.
func ParseContentType(raw string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(raw))) {
	case ContentTypeChannel:
		return ContentTypeChannel, nil
	case ContentTypeMovie:
		return ContentTypeMovie, nil
	case ContentTypeEpisode:
		return ContentTypeEpisode, nil
	default:
		return "", fmt.Errorf("unknown content type %q", raw)
	}
}

// StreamSource is one candidate URL for delivering a content item. Lower
// priority numbers are tried first; a nil Priority means the source was stored
// without one and is treated as UnsetPriority.
type StreamSource struct {
	URL                   string `json:"url"`
	Priority              *int   `json:"priority,omitempty"`
	Format                string `json:"format"`
	Label                 string `json:"label,omitempty"`
	Resolution            string `json:"resolution,omitempty"`
	DeclaredBandwidthKbps int    `json:"declaredBandwidthKbps,omitempty"`
}

// EffectivePriority resolves the optional priority to its sortable value.
func (s StreamSource) EffectivePriority() int {
	if s.Priority == nil {
		return UnsetPriority
	}
	return *s.Priority
}

type ContentItem struct {
	Type    ContentType    `json:"type"`
	ID      string         `json:"id"`
	Title   string         `json:"title,omitempty"`
	Sources []StreamSource `json:"sources"`
}

// Key returns the (type, id) identity used across the catalog and analytics.
func (c ContentItem) Key() string {
	return string(c.Type) + ":" + c.ID
}

// HealthStatus is the availability verdict recorded for a content item.
type HealthStatus string

const (
	HealthOnline  HealthStatus = "online"
	HealthOffline HealthStatus = "offline"
	HealthUnknown HealthStatus = "unknown"
)

// ChannelHealth is the only catalog state this service writes. Rows are
// created as "unknown" and upserted by the health monitor; they are never
// deleted.
type ChannelHealth struct {
	ContentID     string       `json:"contentId"`
	Status        HealthStatus `json:"status"`
	LastCheckedAt time.Time    `json:"lastCheckedAt"`
}

// QualityHint is the low-confidence fallback classification derived from RTT
// alone when no bandwidth sample succeeds.
type QualityHint string

const (
	HintHigh   QualityHint = "high"
	HintMedium QualityHint = "medium"
	HintLow    QualityHint = "low"
)

// NetworkStats is the ephemeral result of one network probe. It is recomputed
// per probe and never persisted.
type NetworkStats struct {
	BandwidthKbps float64     `json:"bandwidthKbps"`
	RTTMs         float64     `json:"rttMs"`
	SampledAt     time.Time   `json:"sampledAt"`
	Hint          QualityHint `json:"hint,omitempty"`
}

// Degraded reports whether the probe fell back to the RTT-only path.
func (n NetworkStats) Degraded() bool {
	return n.BandwidthKbps == 0
}

// QualityLevel is an ordered playback tier. QualityAuto delegates the choice
// to the adaptive engine instead of naming a concrete tier.
type QualityLevel string

const (
	QualityAuto  QualityLevel = "auto"
	Quality240p  QualityLevel = "240p"
	Quality360p  QualityLevel = "360p"
	Quality480p  QualityLevel = "480p"
	Quality720p  QualityLevel = "720p"
	Quality1080p QualityLevel = "1080p"
)

var qualityRank = map[QualityLevel]int{
	QualityAuto:  0,
	Quality240p:  1,
	Quality360p:  2,
	Quality480p:  3,
	Quality720p:  4,
	Quality1080p: 5,
}

// Rank orders quality levels from auto (0) up to 1080p. Unknown levels rank
// below auto.
func (q QualityLevel) Rank() int {
	if rank, ok := qualityRank[q]; ok {
		return rank
	}
	return -1
}

// IsConcrete reports whether the level names an actual tier rather than
// delegating to the adaptive engine.
func (q QualityLevel) IsConcrete() bool {
	return q.Rank() > 0
}

// ParseQualityLevel validates a wire-format quality level. The empty string
// resolves to QualityAuto.
func ParseQualityLevel(raw string) (QualityLevel, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return QualityAuto, nil
	}
	level := QualityLevel(trimmed)
	if _, ok := qualityRank[level]; !ok {
		return "", fmt.Errorf("unknown quality level %q", raw)
	}
	return level, nil
}

// EventKind classifies analytics events emitted by playback sessions.
type EventKind string

const (
	EventStart         EventKind = "start"
	EventStop          EventKind = "stop"
	EventError         EventKind = "error"
	EventQualityChange EventKind = "quality_change"
	EventBuffering     EventKind = "buffering"
)

// AnalyticsEvent is an append-only record of one playback transition. Events
// are never mutated after recording; timestamps are non-decreasing within a
// single session's emitted sequence.
type AnalyticsEvent struct {
	ContentType         ContentType  `json:"contentType"`
	ContentID           string       `json:"contentId"`
	Kind                EventKind    `json:"kind"`
	Quality             QualityLevel `json:"quality,omitempty"`
	BandwidthKbps       float64      `json:"bandwidth,omitempty"`
	Error               string       `json:"error,omitempty"`
	BufferingDurationMs int64        `json:"bufferingDurationMs,omitempty"`
	ElapsedMs           int64        `json:"elapsedMs,omitempty"`
	Timestamp           time.Time    `json:"timestamp"`
}
