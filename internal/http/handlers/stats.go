package handlers

import "net/http"

func (api *API) ModelStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	stats, err := api.chatService.ModelStats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load model stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": stats})
}

func (api *API) AgentStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	stats, err := api.chatService.AgentStats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load agent stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": stats})
}
