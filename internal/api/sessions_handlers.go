package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"streamswitch/internal/catalog"
	"streamswitch/internal/models"
	"streamswitch/internal/playback"
	"streamswitch/internal/quality"
)

type createSessionRequest struct {
	ContentType      string `json:"contentType"`
	ContentID        string `json:"contentId"`
	PreferredQuality string `json:"preferredQuality,omitempty"`
	TestSourceURL    string `json:"testSourceUrl,omitempty"`
}

type sessionCreatedResponse struct {
	SessionID string              `json:"sessionId"`
	URL       string              `json:"url"`
	Quality   models.QualityLevel `json:"quality"`
	ABR       bool                `json:"abr"`
}

type sessionEventRequest struct {
	Type    string `json:"type"`
	Error   string `json:"error,omitempty"`
	Started *bool  `json:"started,omitempty"`
	Level   string `json:"level,omitempty"`
}

type sessionSwitchRequest struct {
	Index int `json:"index"`
}

// Sessions lists active sessions or creates a new one. Creation resolves
// the source and level inline, so the response already carries the URL the
// player should attach to.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Playback.List())
	case http.MethodPost:
		h.createSession(w, r)
	default:
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	contentType, err := models.ParseContentType(req.ContentType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	contentID := strings.TrimSpace(req.ContentID)
	if contentID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("contentId is required"))
		return
	}
	preferred := models.QualityAuto
	if raw := strings.TrimSpace(req.PreferredQuality); raw != "" {
		preferred, err = models.ParseQualityLevel(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	var ephemeral *models.StreamSource
	if raw := strings.TrimSpace(req.TestSourceURL); raw != "" {
		parsed, parseErr := url.Parse(raw)
		if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("testSourceUrl must be absolute"))
			return
		}
		ephemeral = &models.StreamSource{URL: raw, Format: formatFromURL(raw), Label: "test"}
	}

	item, err := h.Catalog.GetContentItem(r.Context(), contentType, contentID)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("content %s/%s not found", contentType, contentID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	session, err := h.Playback.Create(r.Context(), playback.CreateParams{
		Item:      item,
		Ephemeral: ephemeral,
		Preferred: preferred,
	})
	if err != nil {
		if errors.Is(err, playback.ErrSourcesExhausted) && session != nil {
			snap := session.Snapshot()
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"sessionId": snap.ID,
				"error":     snap.Error,
			})
			return
		}
		if errors.Is(err, quality.ErrNoSources) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("content %s/%s has no playable sources", contentType, contentID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	snap := session.Snapshot()
	writeJSON(w, http.StatusCreated, sessionCreatedResponse{
		SessionID: snap.ID,
		URL:       snap.URL,
		Quality:   snap.Quality,
		ABR:       preferred == models.QualityAuto,
	})
}

// SessionByID dispatches /api/sessions/{id} and its subresources. The
// events subresource is how remote players drive the state machine; each
// accepted report answers with the full snapshot so the player always
// learns the current URL and level.
func (h *Handler) SessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(path, "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("session id missing"))
		return
	}
	sessionID := parts[0]
	session, err := h.Playback.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %s not found", sessionID))
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, session.Snapshot())
		case http.MethodDelete:
			if err := h.Playback.Stop(r.Context(), sessionID); err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
		return
	}
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown session resource"))
		return
	}

	switch parts[1] {
	case "events":
		h.handleSessionEvent(w, r, session)
	case "switch":
		h.handleSessionSwitch(w, r, session)
	case "retry":
		h.handleSessionRetry(w, r, session)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown session resource %q", parts[1]))
	}
}

func (h *Handler) handleSessionEvent(w http.ResponseWriter, r *http.Request, session *playback.Session) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req sessionEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "fatal":
		reason := strings.TrimSpace(req.Error)
		if reason == "" {
			reason = "player reported fatal error"
		}
		err = session.ReportFatal(r.Context(), errors.New(reason))
		// Exhaustion is an accepted outcome: the snapshot tells the
		// player the session is failed.
		if errors.Is(err, playback.ErrSourcesExhausted) {
			err = nil
		}
	case "buffering":
		if req.Started == nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("buffering events require started"))
			return
		}
		err = session.ReportBuffering(r.Context(), *req.Started)
	case "level":
		level, parseErr := models.ParseQualityLevel(req.Level)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr)
			return
		}
		if !level.IsConcrete() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("level events require a concrete quality"))
			return
		}
		err = session.ReportLevelSwitch(r.Context(), level)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown event type %q", req.Type))
		return
	}

	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleSessionSwitch(w http.ResponseWriter, r *http.Request, session *playback.Session) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req sessionSwitchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if count := session.Snapshot().SourceCount; req.Index < 0 || req.Index >= count {
		writeError(w, http.StatusBadRequest, fmt.Errorf("index %d out of range [0,%d)", req.Index, count))
		return
	}

	err := session.SwitchSource(r.Context(), req.Index)
	if err != nil && !errors.Is(err, playback.ErrSourcesExhausted) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleSessionRetry(w http.ResponseWriter, r *http.Request, session *playback.Session) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}

	err := session.Retry(r.Context())
	if err != nil && !errors.Is(err, playback.ErrSourcesExhausted) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func formatFromURL(raw string) string {
	lowered := strings.ToLower(raw)
	switch {
	case strings.Contains(lowered, ".m3u8"):
		return "hls"
	case strings.Contains(lowered, ".mpd"):
		return "dash"
	case strings.Contains(lowered, ".webm"):
		return "webm"
	case strings.Contains(lowered, ".mp4"):
		return "mp4"
	default:
		return ""
	}
}
