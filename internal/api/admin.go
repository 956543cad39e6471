package api

import (
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/ledger"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/pricing"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/scheduler"
	"github.com/gofiber/fiber/v2"
)

// AdminHandler exposes operator actions. Routes sit behind RequireAdmin.
type AdminHandler struct {
	ledgerService  *ledger.Service
	pricingService *pricing.Service
	sweeps         *scheduler.SweepScheduler
}

func NewAdminHandler(ledgerService *ledger.Service, pricingService *pricing.Service, sweeps *scheduler.SweepScheduler) *AdminHandler {
	return &AdminHandler{
		ledgerService:  ledgerService,
		pricingService: pricingService,
		sweeps:         sweeps,
	}
}

func (h *AdminHandler) GetCard(c *fiber.Ctx) error {
	card, err := h.ledgerService.GetCard(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(card)
}

// RefundCard excludes a card from the balance, e.g. after a refund issued in
// the processor dashboard whose webhook was lost.
func (h *AdminHandler) RefundCard(c *fiber.Ctx) error {
	res, err := h.ledgerService.ApplyRefund(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (h *AdminHandler) UpsertTier(c *fiber.Ctx) error {
	var tier models.PricingTier
	if err := c.BodyParser(&tier); err != nil {
		return respondError(c, models.NewValidationError("invalid request body", err))
	}
	if id := c.Params("id"); id != "" {
		tier.ID = id
	}

	saved, err := h.pricingService.Upsert(c.UserContext(), tier)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(tierResponse(*saved))
}

func (h *AdminHandler) DeactivateTier(c *fiber.Ctx) error {
	if err := h.pricingService.Deactivate(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RunSweeps runs the expiry and idle-session sweeps immediately.
func (h *AdminHandler) RunSweeps(c *fiber.Ctx) error {
	if h.sweeps == nil {
		return respondError(c, models.NewNotFoundError("sweep scheduler"))
	}
	report, err := h.sweeps.RunOnce(c.UserContext())
	if err != nil {
		return respondError(c, models.NewInternalError("sweep failed", err))
	}
	return c.JSON(report)
}
