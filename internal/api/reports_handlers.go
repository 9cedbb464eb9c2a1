package api

import (
	"fmt"
	"net/http"
	"strings"

	"streamswitch/internal/models"
)

// Reports serves /api/reports/{contentType}/{contentId}: the playback
// aggregate for one content item derived from the events recorded so far.
func (h *Handler) Reports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Analytics == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("analytics recorder not configured"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	parts := strings.Split(path, "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("expected /api/reports/{contentType}/{contentId}"))
		return
	}
	contentType, err := models.ParseContentType(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, h.Analytics.Report(contentType, parts[1]))
}
