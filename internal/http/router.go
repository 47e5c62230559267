package httpserver

import (
	"context"
	"log"
	"net/http"

	"github.com/iago/vidai-studio/internal/http/handlers"
	"github.com/iago/vidai-studio/internal/http/middleware"
)

type RouterDependencies struct {
	// Context bounds background work owned by the middleware chain.
	Context        context.Context
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", deps.API.Health)

	mux.HandleFunc("GET /v1/config", deps.API.GetConfig)
	mux.HandleFunc("PUT /v1/config", deps.API.PutConfig)
	mux.HandleFunc("GET /v1/models", deps.API.Models)

	mux.HandleFunc("POST /v1/jobs", deps.API.SubmitJob)
	mux.HandleFunc("GET /v1/jobs", deps.API.ListActiveJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", deps.API.JobStatus)
	mux.HandleFunc("GET /v1/jobs/{id}/events", deps.API.JobEvents)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", deps.API.CancelJob)
	mux.HandleFunc("GET /v1/jobs/{id}/result", deps.API.JobResult)
	mux.HandleFunc("GET /v1/jobs/{id}/export", deps.API.ExportJob)
	mux.HandleFunc("GET /v1/jobs/{id}/file", deps.API.JobFile)

	mux.HandleFunc("GET /v1/history", deps.API.ListHistory)
	mux.HandleFunc("DELETE /v1/history", deps.API.ClearHistory)
	mux.HandleFunc("DELETE /v1/history/{id}", deps.API.DeleteHistoryEntry)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.Context, middleware.RateLimitConfig{
		RPS:   deps.RateLimitRPS,
		Burst: deps.RateLimitBurst,
	})(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
