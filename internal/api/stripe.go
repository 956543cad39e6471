package api

import (
	"errors"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/payments"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type StripeHandler struct {
	stripeService *payments.StripeService
}

func NewStripeHandler(stripeService *payments.StripeService) *StripeHandler {
	return &StripeHandler{
		stripeService: stripeService,
	}
}

// CreatePurchaseRequest represents the request body for buying a time card
type CreatePurchaseRequest struct {
	TierID string `json:"tier_id" validate:"required,max=64"`
}

// CreatePurchase starts a payment for one pricing tier. The card is created
// when the payment succeeds, not here.
func (h *StripeHandler) CreatePurchase(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	var req CreatePurchaseRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	intent, err := h.stripeService.CreatePurchaseIntent(c.UserContext(), userID, req.TierID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(intent)
}

func (h *StripeHandler) ListPayments(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	list, err := h.stripeService.ListPayments(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payments": list})
}

// HandleWebhook processes Stripe webhook events
func (h *StripeHandler) HandleWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer once the handler returns
	payload := append([]byte(nil), c.Body()...)
	if len(payload) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Empty request body",
		})
	}

	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing Stripe-Signature header",
		})
	}

	eventType, err := h.stripeService.HandleWebhook(c.UserContext(), payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid webhook signature",
			})
		}

		fiberlog.Errorf("stripe webhook %s failed: %v", eventType, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process webhook",
		})
	}

	return c.JSON(fiber.Map{
		"received": true,
		"type":     eventType,
	})
}
