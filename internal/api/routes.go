package api

import (
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/middleware"
	"github.com/gofiber/fiber/v2"
)

// Handlers groups everything RegisterRoutes mounts. Nil handlers leave their
// routes out, so a deployment without Stripe or a voice relay still boots.
// Without an auth middleware only the public and webhook routes are served.
type Handlers struct {
	Health   *HealthHandler
	Metrics  fiber.Handler
	Pricing  *PricingHandler
	Cards    *CardsHandler
	Sessions *SessionsHandler
	Stripe   *StripeHandler
	Voice    *VoiceHandler
	Admin    *AdminHandler
}

func RegisterRoutes(app *fiber.App, h Handlers, authMW *middleware.AuthMiddleware) {
	if h.Health != nil {
		app.Get("/health", h.Health.HealthCheck)
	}
	if h.Metrics != nil {
		app.Get("/metrics", h.Metrics)
	}

	webhooks := app.Group("/webhooks")
	if h.Stripe != nil {
		webhooks.Post("/stripe", h.Stripe.HandleWebhook)
	}
	if h.Voice != nil {
		webhooks.Post("/voice", h.Voice.HandleWebhook)
	}

	v1 := app.Group("/v1")
	if h.Pricing != nil {
		v1.Get("/pricing", h.Pricing.ListTiers)
		v1.Get("/pricing/:id", h.Pricing.GetTier)
	}

	if authMW == nil {
		return
	}

	user := v1.Group("", authMW.RequireAuth())
	if h.Cards != nil {
		user.Get("/balance", h.Cards.GetBalance)
		user.Get("/preflight", h.Cards.Preflight)
		user.Get("/cards", h.Cards.ListCards)
		user.Post("/cards/activate", h.Cards.ActivateCard)
	}
	if h.Sessions != nil {
		user.Get("/sessions", h.Sessions.ListSessions)
		user.Get("/sessions/:id", h.Sessions.GetSession)
	}
	if h.Stripe != nil {
		user.Post("/purchases", h.Stripe.CreatePurchase)
		user.Get("/payments", h.Stripe.ListPayments)
	}

	if h.Admin != nil {
		admin := app.Group("/admin", authMW.RequireAuth(), authMW.RequireAdmin())
		admin.Get("/cards/:id", h.Admin.GetCard)
		admin.Post("/cards/:id/refund", h.Admin.RefundCard)
		admin.Put("/pricing/:id", h.Admin.UpsertTier)
		admin.Delete("/pricing/:id", h.Admin.DeactivateTier)
		admin.Post("/sweeps", h.Admin.RunSweeps)
	}
}
