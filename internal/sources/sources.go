// Package sources orders and validates the candidate stream sources of a
// content item. Playback sessions and the health monitor both work from the
// normalized ordering produced here; sources are read-mostly, so callers copy
// once and never share a lock.
package sources

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"streamswitch/internal/models"
)

// Normalize drops malformed entries and returns a fresh slice stably sorted
// ascending by effective priority. Stability matters: equal-priority sources
// keep their input order, otherwise failover order becomes nondeterministic.
func Normalize(raw []models.StreamSource) []models.StreamSource {
	normalized := make([]models.StreamSource, 0, len(raw))
	for _, src := range raw {
		if !valid(src) {
			continue
		}
		src.URL = strings.TrimSpace(src.URL)
		src.Format = strings.ToLower(strings.TrimSpace(src.Format))
		normalized = append(normalized, src)
	}
	sort.SliceStable(normalized, func(i, j int) bool {
		return normalized[i].EffectivePriority() < normalized[j].EffectivePriority()
	})
	return normalized
}

// Prepend returns a copy of the set with one ephemeral source forced to the
// front, ahead of every persisted priority. The input set is not mutated and
// the ephemeral source is never written back to the catalog.
func Prepend(set []models.StreamSource, ephemeral models.StreamSource) []models.StreamSource {
	ephemeral.URL = strings.TrimSpace(ephemeral.URL)
	ephemeral.Format = strings.ToLower(strings.TrimSpace(ephemeral.Format))
	out := make([]models.StreamSource, 0, len(set)+1)
	if valid(ephemeral) {
		out = append(out, ephemeral)
	}
	return append(out, set...)
}

func valid(src models.StreamSource) bool {
	trimmed := strings.TrimSpace(src.URL)
	if trimmed == "" {
		return false
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Host != ""
}

// ResolutionHeight parses the vertical resolution out of either the "1080p"
// shorthand or a "1920x1080" dimension pair. Malformed values resolve to 0 so
// they never match a concrete tier.
func ResolutionHeight(resolution string) int {
	trimmed := strings.ToLower(strings.TrimSpace(resolution))
	if trimmed == "" {
		return 0
	}
	if idx := strings.LastIndex(trimmed, "x"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(trimmed, "p")
	height, err := strconv.Atoi(trimmed)
	if err != nil || height <= 0 {
		return 0
	}
	return height
}
