package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (api *API) RecentSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	limit := parseLimit(r, 20, 100)
	summaries, err := api.chatService.RecentSessions(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

// SessionHistory handles GET /v1/sessions/{id}/history.
func (api *API) SessionHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	sessionID := strings.TrimSuffix(rest, "/history")
	if sessionID == "" || sessionID == rest || strings.Contains(sessionID, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "unknown sessions route")
		return
	}

	limit := parseLimit(r, 10, 200)
	turns, err := api.chatService.SessionHistory(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}

	items := make([]map[string]any, 0, len(turns))
	for _, turn := range turns {
		items = append(items, map[string]any{
			"role":       turn.Role,
			"content":    turn.Content,
			"agent":      turn.Agent,
			"model":      turn.Model,
			"created_at": turn.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      items,
	})
}

// CleanupSessions handles DELETE /v1/sessions/cleanup?days=N.
func (api *API) CleanupSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	days := 30
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "days must be a positive integer")
			return
		}
		days = parsed
	}

	deleted, err := api.chatService.CleanupSessions(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to clean up sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_sessions": deleted,
		"days":             days,
	})
}
