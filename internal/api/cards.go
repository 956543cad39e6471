package api

import (
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/balance"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/ledger"
	"github.com/gofiber/fiber/v2"
)

type CardsHandler struct {
	ledgerService  *ledger.Service
	balanceService *balance.Service
}

func NewCardsHandler(ledgerService *ledger.Service, balanceService *balance.Service) *CardsHandler {
	return &CardsHandler{
		ledgerService:  ledgerService,
		balanceService: balanceService,
	}
}

// ActivateCardRequest takes either the card id or the printed activation code.
type ActivateCardRequest struct {
	Card string `json:"card" validate:"required,max=64"`
}

type ActivateCardResponse struct {
	Outcome models.ActivationOutcome `json:"outcome"`
	Card    *models.TimeCard         `json:"card,omitempty"`
}

type PreflightResponse struct {
	Allowed      bool `json:"allowed"`
	TotalMinutes int  `json:"total_minutes"`
}

func (h *CardsHandler) GetBalance(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	b, err := h.balanceService.GetBalance(c.UserContext(), userID)
	if err != nil {
		return respondError(c, models.NewInternalError("failed to compute balance", err))
	}
	return c.JSON(b)
}

// Preflight answers whether a call may start. 402 means no usable minutes.
func (h *CardsHandler) Preflight(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	b, err := h.balanceService.GetBalance(c.UserContext(), userID)
	if err != nil {
		return respondError(c, models.NewInternalError("failed to compute balance", err))
	}

	status := fiber.StatusOK
	if b.TotalMinutes <= 0 {
		status = fiber.StatusPaymentRequired
	}
	return c.Status(status).JSON(PreflightResponse{
		Allowed:      b.TotalMinutes > 0,
		TotalMinutes: b.TotalMinutes,
	})
}

func (h *CardsHandler) ListCards(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	cards, err := h.ledgerService.ListCards(c.UserContext(), userID)
	if err != nil {
		return respondError(c, models.NewInternalError("failed to list time cards", err))
	}
	return c.JSON(fiber.Map{"cards": cards})
}

func (h *CardsHandler) ActivateCard(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	var req ActivateCardRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	res, err := h.ledgerService.ActivateCard(c.UserContext(), models.ActivateCardParams{
		CardRef: req.Card,
		UserID:  userID,
	})
	if err != nil {
		return respondError(c, err)
	}

	// Someone else's card is reported as missing so codes cannot be probed.
	if res.Outcome == models.ActivationNotOwned {
		res = models.ActivationResult{Outcome: models.ActivationNotFound}
	}
	return c.Status(activationStatus(res.Outcome)).JSON(ActivateCardResponse{
		Outcome: res.Outcome,
		Card:    res.Card,
	})
}

func activationStatus(o models.ActivationOutcome) int {
	switch o {
	case models.ActivationActivated, models.ActivationAlreadyActive:
		return fiber.StatusOK
	case models.ActivationNotFound:
		return fiber.StatusNotFound
	case models.ActivationNotOwned:
		return fiber.StatusForbidden
	case models.ActivationExpired:
		return fiber.StatusGone
	case models.ActivationRefunded:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
