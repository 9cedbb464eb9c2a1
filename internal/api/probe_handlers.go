package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"streamswitch/internal/models"
	"streamswitch/internal/probe"
	"streamswitch/internal/quality"
)

type probeRequest struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
	RTTURL string `json:"rttUrl,omitempty"`
}

type probeResponse struct {
	Reachable        bool                 `json:"reachable"`
	Error            string               `json:"error,omitempty"`
	Stats            *models.NetworkStats `json:"stats,omitempty"`
	SuggestedQuality models.QualityLevel  `json:"suggestedQuality,omitempty"`
}

// Probe answers the operator's "test this URL": a reachability check first,
// then a bandwidth measurement only when the source answered at all.
func (h *Handler) Probe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req probeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target := strings.TrimSpace(req.URL)
	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("url must be absolute"))
		return
	}

	src := models.StreamSource{URL: target, Format: strings.ToLower(strings.TrimSpace(req.Format))}
	if h.Checker != nil {
		if err := h.Checker.CheckSource(r.Context(), src); err != nil {
			writeJSON(w, http.StatusOK, probeResponse{Reachable: false, Error: err.Error()})
			return
		}
	}

	resp := probeResponse{Reachable: true}
	if h.Prober != nil {
		stats := h.Prober.Probe(r.Context(), probe.Options{
			PayloadURL: target,
			RTTURL:     strings.TrimSpace(req.RTTURL),
		})
		resp.Stats = &stats
		resp.SuggestedQuality = quality.SelectQuality(stats, models.QualityAuto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// MonitorRefresh runs one health cycle inline under the request context, so
// an operator can cancel it by dropping the request.
func (h *Handler) MonitorRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if h.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("health monitor not configured"))
		return
	}

	started := time.Now()
	if err := h.Monitor.RunCycle(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "completed",
		"elapsedMs": time.Since(started).Milliseconds(),
	})
}
