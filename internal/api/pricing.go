package api

import (
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/pricing"
	"github.com/gofiber/fiber/v2"
)

type PricingHandler struct {
	pricingService *pricing.Service
}

func NewPricingHandler(pricingService *pricing.Service) *PricingHandler {
	return &PricingHandler{pricingService: pricingService}
}

type TierResponse struct {
	models.PricingTier
	TotalMinutes int `json:"total_minutes"`
}

func tierResponse(t models.PricingTier) TierResponse {
	return TierResponse{PricingTier: t, TotalMinutes: t.TotalMinutes()}
}

// ListTiers is public and never fails; an unreadable catalog is empty.
func (h *PricingHandler) ListTiers(c *fiber.Ctx) error {
	tiers := h.pricingService.ListActiveTiers(c.UserContext())
	out := make([]TierResponse, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierResponse(t))
	}
	return c.JSON(fiber.Map{"tiers": out})
}

func (h *PricingHandler) GetTier(c *fiber.Ctx) error {
	tier, err := h.pricingService.GetTier(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(tierResponse(*tier))
}
