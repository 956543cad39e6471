package api

import (
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/billing"
	"github.com/gofiber/fiber/v2"
)

type SessionsHandler struct {
	billingService *billing.Service
}

func NewSessionsHandler(billingService *billing.Service) *SessionsHandler {
	return &SessionsHandler{billingService: billingService}
}

func (h *SessionsHandler) ListSessions(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	sessions, err := h.billingService.ListSessions(c.UserContext(), userID, c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *SessionsHandler) GetSession(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	session, err := h.billingService.GetSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if session.UserID != userID {
		return respondError(c, billing.ErrSessionNotFound)
	}
	return c.JSON(session)
}
