package httpserver

import (
	"log"
	"net/http"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/http/handlers"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/chat", deps.API.Chat)
	mux.HandleFunc("/v1/chat/stream", deps.API.ChatStream)
	mux.HandleFunc("/v1/models/status", deps.API.ModelsStatus)
	mux.HandleFunc("/v1/sessions/", routeSessions(deps.API))
	mux.HandleFunc("/v1/stats/models", deps.API.ModelStats)
	mux.HandleFunc("/v1/stats/agents", deps.API.AgentStats)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}

func routeSessions(api *handlers.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sessions/recent":
			api.RecentSessions(w, r)
		case "/v1/sessions/cleanup":
			api.CleanupSessions(w, r)
		default:
			api.SessionHistory(w, r)
		}
	}
}
