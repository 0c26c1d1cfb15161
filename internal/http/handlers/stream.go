package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/dispatch"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/service"
)

// ChatStream serves completions as server-sent events. Fallback only happens
// before the first chunk; a mid-stream provider failure terminates the stream
// with an error event instead of silently truncating.
func (api *API) ChatStream(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	output, err := api.chatService.ChatStream(r.Context(), service.ChatInput{
		SessionID: request.SessionID,
		Query:     request.Query,
	})
	if err != nil {
		var exhausted *dispatch.PlanExhaustedError
		if errors.As(err, &exhausted) {
			writeError(w, r, http.StatusBadGateway, "plan_exhausted", exhausted.Error())
			return
		}
		if r.Context().Err() != nil {
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to open stream")
		return
	}
	defer output.Stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, flusher, "start", map[string]any{
		"session_id":    output.SessionID,
		"agent":         output.Agent,
		"complexity":    output.Tier,
		"provider":      output.Stream.Model.Provider,
		"model":         output.Stream.Model.Model,
		"fallback_used": output.Stream.Fallback(),
	})

	var answer strings.Builder
	for {
		chunk, recvErr := output.Stream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if r.Context().Err() != nil {
				// Caller disconnected; the request is abandoned.
				return
			}
			writeSSE(w, flusher, "error", map[string]any{
				"code":    "stream_interrupted",
				"message": recvErr.Error(),
			})
			return
		}

		if chunk.Text != "" {
			answer.WriteString(chunk.Text)
			writeSSE(w, flusher, "delta", map[string]any{"content": chunk.Text})
		}
		if chunk.Final {
			writeSSE(w, flusher, "done", map[string]any{
				"model": output.Stream.Model.Model,
				"usage": chunk.Usage,
			})
			output.Finish(r.Context(), answer.String(), chunk.Usage)
			return
		}
	}

	// Stream drained without an explicit final chunk; still a clean end.
	writeSSE(w, flusher, "done", map[string]any{"model": output.Stream.Model.Model})
	output.Finish(r.Context(), answer.String(), domain.TokenUsage{})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(encoded)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}
