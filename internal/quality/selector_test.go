package quality

import (
	"errors"
	"testing"

	"streamswitch/internal/models"
)

func intPtr(v int) *int {
	return &v
}

func statsWith(bandwidth float64) models.NetworkStats {
	return models.NetworkStats{BandwidthKbps: bandwidth}
}

func TestSelectQualityAuto(t *testing.T) {
	cases := []struct {
		name      string
		bandwidth float64
		want      models.QualityLevel
	}{
		{name: "fast link", bandwidth: 6000, want: models.Quality1080p},
		{name: "exact 1080 threshold", bandwidth: 5000, want: models.Quality1080p},
		{name: "mid link", bandwidth: 1200, want: models.Quality480p},
		{name: "720 band", bandwidth: 2600, want: models.Quality720p},
		{name: "slow link", bandwidth: 700, want: models.Quality360p},
		{name: "floor", bandwidth: 120, want: models.Quality240p},
		{name: "degraded probe", bandwidth: 0, want: models.Quality240p},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectQuality(statsWith(tc.bandwidth), models.QualityAuto)
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSelectQualityPreferredWins(t *testing.T) {
	got := SelectQuality(statsWith(50000), models.Quality360p)
	if got != models.Quality360p {
		t.Fatalf("explicit preference must win, got %q", got)
	}
	got = SelectQuality(statsWith(0), models.Quality1080p)
	if got != models.Quality1080p {
		t.Fatalf("explicit preference must never be downgraded, got %q", got)
	}
}

func TestSelectSourceEmptySet(t *testing.T) {
	if _, err := SelectSource(nil, models.Quality720p, statsWith(3000)); !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
}

func TestSelectSourceExactResolutionMatch(t *testing.T) {
	set := []models.StreamSource{
		{URL: "https://cdn.example/hd.m3u8", Priority: intPtr(1), Resolution: "1920x1080"},
		{URL: "https://cdn.example/sd.m3u8", Priority: intPtr(2), Resolution: "720p"},
	}
	selection, err := SelectSource(set, models.Quality720p, statsWith(3000))
	if err != nil {
		t.Fatalf("SelectSource returned error: %v", err)
	}
	if selection.Source.URL != "https://cdn.example/sd.m3u8" {
		t.Fatalf("expected the 720p source, got %s", selection.Source.URL)
	}
	if selection.Resolved != models.Quality720p {
		t.Fatalf("expected resolved 720p, got %q", selection.Resolved)
	}
}

func TestSelectSourceClosestDeclaredBandwidth(t *testing.T) {
	set := []models.StreamSource{
		{URL: "https://cdn.example/high.m3u8", Priority: intPtr(1), DeclaredBandwidthKbps: 8000},
		{URL: "https://cdn.example/mid.m3u8", Priority: intPtr(2), DeclaredBandwidthKbps: 2400},
		{URL: "https://cdn.example/low.m3u8", Priority: intPtr(3), DeclaredBandwidthKbps: 900},
	}
	selection, err := SelectSource(set, models.Quality720p, statsWith(2500))
	if err != nil {
		t.Fatalf("SelectSource returned error: %v", err)
	}
	if selection.Source.URL != "https://cdn.example/mid.m3u8" {
		t.Fatalf("expected the closest declared bandwidth, got %s", selection.Source.URL)
	}
	if selection.Resolved != models.Quality720p {
		t.Fatalf("expected resolved 720p, got %q", selection.Resolved)
	}
}

func TestSelectSourceBandwidthTiePrefersLowerPriority(t *testing.T) {
	set := []models.StreamSource{
		{URL: "https://cdn.example/above.m3u8", Priority: intPtr(4), DeclaredBandwidthKbps: 3000},
		{URL: "https://cdn.example/below.m3u8", Priority: intPtr(2), DeclaredBandwidthKbps: 2000},
	}
	selection, err := SelectSource(set, models.Quality480p, statsWith(2500))
	if err != nil {
		t.Fatalf("SelectSource returned error: %v", err)
	}
	if selection.Source.URL != "https://cdn.example/below.m3u8" {
		t.Fatalf("tie must go to the lower priority number, got %s", selection.Source.URL)
	}
}

func TestSelectSourceFallsBackToHighestPriority(t *testing.T) {
	set := []models.StreamSource{
		{URL: "https://cdn.example/first.m3u8", Priority: intPtr(1)},
		{URL: "https://cdn.example/second.m3u8", Priority: intPtr(2)},
	}
	selection, err := SelectSource(set, models.Quality1080p, statsWith(6000))
	if err != nil {
		t.Fatalf("SelectSource returned error: %v", err)
	}
	if selection.Source.URL != "https://cdn.example/first.m3u8" {
		t.Fatalf("expected highest-priority source, got %s", selection.Source.URL)
	}
	if selection.Resolved != models.QualityAuto {
		t.Fatalf("expected auto fallback, got %q", selection.Resolved)
	}
}

func TestSelectSourceTotalForSingleSource(t *testing.T) {
	set := []models.StreamSource{{URL: "https://cdn.example/only.m3u8"}}
	selection, err := SelectSource(set, models.Quality240p, statsWith(0))
	if err != nil {
		t.Fatalf("SelectSource returned error: %v", err)
	}
	if selection.Source.URL != "https://cdn.example/only.m3u8" {
		t.Fatalf("unexpected source %s", selection.Source.URL)
	}
}
