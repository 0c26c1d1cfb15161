package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/http/middleware"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/provider"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

const maxQueryLength = 8000

type API struct {
	chatService *service.ChatService
	registry    *provider.Registry
}

func NewAPI(chatService *service.ChatService, registry *provider.Registry) *API {
	return &API{
		chatService: chatService,
		registry:    registry,
	}
}

type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

func (r *chatRequest) validate() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" || len(r.Query) > maxQueryLength {
		return errInvalidPayload
	}
	if len(r.SessionID) > 128 {
		return errInvalidPayload
	}
	return nil
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func parseLimit(r *http.Request, fallback, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}
