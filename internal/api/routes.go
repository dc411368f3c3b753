package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes wires all endpoints. The webhook and the signed public links
// sit outside /api: vendors and mail clients hit them unauthenticated.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Post("/webhooks/email", h.Webhook)
	r.Get("/unsubscribe", h.Unsubscribe)
	r.Post("/unsubscribe", h.Unsubscribe)
	r.Get("/subscriptions/confirm", h.ConfirmSubscription)

	r.Route("/api", func(api chi.Router) {
		api.Route("/campaigns", func(c chi.Router) {
			c.Get("/", h.ListCampaigns)
			c.Post("/", h.CreateCampaign)
			c.Get("/{id}", h.GetCampaign)
			c.Put("/{id}", h.UpdateCampaign)
			c.Post("/{id}/send", h.SendCampaign)
			c.Get("/{id}/stats", h.GetCampaignStats)
			c.Get("/{id}/recipients", h.ListCampaignRecipients)
		})
		api.Route("/lists", func(l chi.Router) {
			l.Post("/", h.EnsureList)
			l.Post("/{id}/subscribers", h.Subscribe)
		})
	})

	return r
}
