package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"streamswitch/internal/catalog"
	"streamswitch/internal/models"
)

type directoryEntryResponse struct {
	Item   models.ContentItem   `json:"item"`
	Health models.ChannelHealth `json:"health"`
}

type directoryResponse struct {
	Items       []directoryEntryResponse `json:"items"`
	GeneratedAt string                   `json:"generatedAt"`
}

// Directory joins the content items with their current health rows. Items
// without a row yet are reported as unknown, mirroring how replace seeds
// new entries.
func (h *Handler) Directory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}

	var typeFilter models.ContentType
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		parsed, err := models.ParseContentType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		typeFilter = parsed
	}

	items, err := h.Catalog.ListContentItems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list content items: %w", err))
		return
	}
	rows, err := h.Catalog.ListChannelHealth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list channel health: %w", err))
		return
	}
	healthByID := make(map[string]models.ChannelHealth, len(rows))
	for _, row := range rows {
		healthByID[row.ContentID] = row
	}

	entries := make([]directoryEntryResponse, 0, len(items))
	for _, item := range items {
		if typeFilter != "" && item.Type != typeFilter {
			continue
		}
		health, ok := healthByID[item.ID]
		if !ok {
			health = models.ChannelHealth{ContentID: item.ID, Status: models.HealthUnknown}
		}
		entries = append(entries, directoryEntryResponse{Item: item, Health: health})
	}

	writeJSON(w, http.StatusOK, directoryResponse{
		Items:       entries,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthByID serves the current health row for one content id.
func (h *Handler) HealthByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}

	contentID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/health/"), "/")
	if contentID == "" || strings.Contains(contentID, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("content id missing"))
		return
	}

	row, err := h.Catalog.GetChannelHealth(r.Context(), contentID)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("health for %s not found", contentID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}
