package handlers

import "net/http"

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ModelsStatus reports each routing table candidate and whether its provider
// has credentials configured.
func (api *API) ModelsStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	models := make([]map[string]any, 0, 4)
	available := 0
	for _, ref := range api.chatService.RoutingModels() {
		status := "unconfigured"
		if client, ok := api.registry.Lookup(ref.Provider); ok && client.Available() {
			status = "available"
			available++
		}
		models = append(models, map[string]any{
			"provider":           ref.Provider,
			"model":              ref.Model,
			"supports_streaming": ref.Streams,
			"status":             status,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models":           models,
		"total_models":     len(models),
		"available_models": available,
	})
}
