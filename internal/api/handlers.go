package api

import (
	"net/http"

	"streamswitch/internal/analytics"
	"streamswitch/internal/catalog"
	"streamswitch/internal/monitor"
	"streamswitch/internal/playback"
	"streamswitch/internal/probe"
)

type Handler struct {
	Catalog   catalog.Repository
	Playback  *playback.Manager
	Prober    *probe.Prober
	Checker   *probe.Checker
	Monitor   *monitor.Monitor
	Analytics *analytics.Recorder
}

func NewHandler(repo catalog.Repository, sessions *playback.Manager) *Handler {
	if sessions == nil {
		sessions = playback.NewManager(playback.ManagerConfig{})
	}
	return &Handler{Catalog: repo, Playback: sessions}
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Health reports liveness plus the reachability of the catalog backing the
// directory. Sessions are in-process, so their component is the active
// count only.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}

	status := "ok"
	code := http.StatusOK
	components := make([]componentStatus, 0, 2)
	if h.Catalog != nil {
		entry := componentStatus{Component: "catalog", Status: "ok"}
		if err := h.Catalog.Ping(r.Context()); err != nil {
			entry.Status = "degraded"
			entry.Error = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		components = append(components, entry)
	}

	payload := map[string]interface{}{
		"status":     status,
		"components": components,
	}
	if h.Playback != nil {
		payload["activeSessions"] = h.Playback.Count()
	}
	writeJSON(w, code, payload)
}
