package api

import (
	"time"

	"envelope.lock/config"
	"envelope.lock/internal/engine"
	"envelope.lock/internal/relay"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(eng *engine.Engine, rel *relay.Relay, cfg *config.Config) *chi.Mux {
	h := NewHandler(eng, rel, cfg)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(CORS(CORSConfig{
		AllowedOrigins: []string{"127.0.0.1"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))

	// Health
	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit.Enabled {
			limiter := NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute)
			mutationLimiter := NewRateLimiter(cfg.RateLimit.MutationsPerMin, time.Minute)

			r.Use(limiter.Middleware)
			r.Use(JSONOnly)

			r.Route("/envelopes", func(r chi.Router) {
				r.With(mutationLimiter.Middleware).Post("/", h.CreateEnvelope)
				r.Get("/", h.ListEnvelopes)
				r.Get("/{id}", h.GetEnvelope)
				r.With(mutationLimiter.Middleware).Post("/{id}/claim", h.ClaimEnvelope)
				r.With(mutationLimiter.Middleware).Post("/{id}/reclaim", h.ReclaimEnvelope)
			})
			r.Get("/next-id", h.NextID)
			r.Get("/accounts/{id}/balance", h.Balance)
			r.Route("/submissions", func(r chi.Router) {
				r.With(mutationLimiter.Middleware).Post("/", h.Submit)
				r.Get("/{handle}", h.PollSubmission)
			})
		} else {
			r.Use(JSONOnly)

			r.Route("/envelopes", func(r chi.Router) {
				r.Post("/", h.CreateEnvelope)
				r.Get("/", h.ListEnvelopes)
				r.Get("/{id}", h.GetEnvelope)
				r.Post("/{id}/claim", h.ClaimEnvelope)
				r.Post("/{id}/reclaim", h.ReclaimEnvelope)
			})
			r.Get("/next-id", h.NextID)
			r.Get("/accounts/{id}/balance", h.Balance)
			r.Route("/submissions", func(r chi.Router) {
				r.Post("/", h.Submit)
				r.Get("/{handle}", h.PollSubmission)
			})
		}
	})

	return r
}
