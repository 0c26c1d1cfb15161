package handlers

import (
	"errors"
	"net/http"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/dispatch"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/http/middleware"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/service"
)

func (api *API) Chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request chatRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := request.validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "query is required and must be a non-empty string")
		return
	}

	output, err := api.chatService.Chat(r.Context(), service.ChatInput{
		SessionID: request.SessionID,
		Query:     request.Query,
	})
	if err != nil {
		var exhausted *dispatch.PlanExhaustedError
		if errors.As(err, &exhausted) {
			writeError(w, r, http.StatusBadGateway, "plan_exhausted", exhausted.Error())
			return
		}
		if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
			// Client went away; nothing useful to write.
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to generate completion")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":    middleware.GetRequestID(r.Context()),
		"session_id":    output.SessionID,
		"answer":        output.Answer,
		"agent":         output.Agent,
		"complexity":    output.Tier,
		"provider":      output.Model.Provider,
		"model":         output.Model.Model,
		"fallback_used": output.Fallback,
		"cached":        output.Cached,
		"usage":         output.Usage,
		"latency_ms":    output.LatencyMS,
	})
}
