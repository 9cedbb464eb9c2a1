// Package quality maps measured network conditions and user preference onto a
// target quality tier and a concrete stream source.
package quality

import (
	"errors"
	"math"

	"streamswitch/internal/models"
	"streamswitch/internal/sources"
)

// ErrNoSources is returned when selection runs against an empty source set.
// Callers treat it the same as exhausting every source.
var ErrNoSources = errors.New("quality: no sources available")

// ladder holds the minimum sustained bandwidth required for each tier,
// highest first.
var ladder = []struct {
	level   models.QualityLevel
	minKbps float64
}{
	{models.Quality1080p, 5000},
	{models.Quality720p, 2500},
	{models.Quality480p, 1000},
	{models.Quality360p, 500},
}

// SelectQuality resolves the target tier for the given stats. A concrete
// preferred level is returned unchanged: explicit user choice always wins and
// is never silently downgraded. With auto, the highest tier whose minimum
// bandwidth fits the measurement is chosen, bottoming out at 240p.
func SelectQuality(stats models.NetworkStats, preferred models.QualityLevel) models.QualityLevel {
	if preferred.IsConcrete() {
		return preferred
	}
	for _, tier := range ladder {
		if stats.BandwidthKbps >= tier.minKbps {
			return tier.level
		}
	}
	return models.Quality240p
}

// Selection pairs the chosen source with the quality it was resolved for.
// Resolved is auto when the fallback had no tier information to honor.
type Selection struct {
	Source   models.StreamSource
	Resolved models.QualityLevel
}

// SelectSource picks one source from an ordered set for the target level.
// The fallback chain is total and deterministic: an exact resolution match
// first, then the source whose declared bandwidth sits closest to the
// measured bandwidth (ties go to the lower priority number), and finally the
// highest-priority source resolved as auto. An empty set is an explicit
// error, never a silent default.
func SelectSource(set []models.StreamSource, level models.QualityLevel, stats models.NetworkStats) (Selection, error) {
	if len(set) == 0 {
		return Selection{}, ErrNoSources
	}
	if level.IsConcrete() {
		target := sources.ResolutionHeight(string(level))
		for _, src := range set {
			if target > 0 && sources.ResolutionHeight(src.Resolution) == target {
				return Selection{Source: src, Resolved: level}, nil
			}
		}
	}
	best := -1
	var bestDelta float64
	for i, src := range set {
		if src.DeclaredBandwidthKbps <= 0 {
			continue
		}
		delta := math.Abs(float64(src.DeclaredBandwidthKbps) - stats.BandwidthKbps)
		switch {
		case best == -1:
			best, bestDelta = i, delta
		case delta < bestDelta:
			best, bestDelta = i, delta
		case delta == bestDelta && src.EffectivePriority() < set[best].EffectivePriority():
			best = i
		}
	}
	if best >= 0 {
		return Selection{Source: set[best], Resolved: level}, nil
	}
	return Selection{Source: set[0], Resolved: models.QualityAuto}, nil
}
