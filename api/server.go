/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/users/*          Identity, balances, activity
  /api/shop/*           Catalog and redemption
  /api/leaderboard/*    Rankings
  /api/admin/*          Fulfillment, grants, item management

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/achievements", h.ListAchievements)
		r.Get("/voice/sessions", h.ListVoiceSessions)
		r.Get("/leaderboard/{category}", h.GetLeaderboard)

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", h.GetUser)
				r.Get("/stats", h.GetStats)
				r.Get("/transactions", h.GetTransactions)
				r.Get("/achievements", h.GetAchievements)
				r.Get("/notifications", h.DrainNotifications)
				r.Get("/redemptions", h.GetUserRedemptions)

				r.Post("/chat", h.RecordChat)
				r.Post("/voice/join", h.VoiceJoin)
				r.Post("/voice/leave", h.VoiceLeave)
				r.Post("/daily", h.ClaimDaily)
				r.Post("/link", h.LinkAccount)
				r.Post("/gifts", h.SendGift)
			})
		})

		// Shop routes
		r.Route("/shop/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Get("/{itemID}", h.GetItem)
			r.Get("/{itemID}/can-redeem", h.CanRedeem)
			r.Post("/{itemID}/redeem", h.RedeemItem)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/redemptions/pending", h.ListPendingRedemptions)
			r.Post("/redemptions/{redemptionID}/fulfill", h.FulfillRedemption)
			r.Post("/redemptions/{redemptionID}/refund", h.RefundRedemption)
			r.Post("/grants", h.AdminGrant)
			r.Post("/takes", h.AdminTake)
			r.Put("/items", h.SaveItem)
			r.Post("/users/{userID}/achievements/{name}", h.GrantAchievement)
		})
	})

	return r
}
