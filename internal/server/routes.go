package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/topicwire/topicwire/internal/handler"
	"github.com/topicwire/topicwire/internal/middleware"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Correlation)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.CorrelationHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks, no auth.
	healthHandler := handler.NewHealthHandler(s.broker)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	publishHandler := handler.NewPublishHandler(s.backend)
	subscribeHandler := handler.NewSubscribeHandler(s.backend)
	topicsHandler := handler.NewTopicsHandler(s.backend)

	r.Route("/api/v1/pubsub", func(r chi.Router) {
		r.Use(middleware.BasicAuth(s.backend))
		r.Use(middleware.RateLimit(s.rateLimiter))

		r.Post("/publish/{topic}", publishHandler.Publish)
		r.Post("/subscribe/{topic}", subscribeHandler.Subscribe)
		r.Delete("/subscribe/{topic}", subscribeHandler.Unsubscribe)
		r.Get("/topics", topicsHandler.List)
	})

	return r
}
