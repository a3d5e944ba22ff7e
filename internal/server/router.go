package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yinkev/Americano-sub010/internal/api"
	"github.com/yinkev/Americano-sub010/internal/api/handlers"
	"github.com/yinkev/Americano-sub010/internal/api/middleware"
)

type RouterConfig struct {
	GraphHandler *handlers.GraphHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/graph", func(r chi.Router) {
		r.Route("/builds", func(r chi.Router) {
			r.Post("/", cfg.GraphHandler.EnqueueBuild)
			r.Get("/", cfg.GraphHandler.ListBuilds)
			r.Get("/{id}", cfg.GraphHandler.GetBuild)
		})

		r.Get("/stats", cfg.GraphHandler.GetStats)
	})

	return r
}
