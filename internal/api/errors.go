package api

import (
	"errors"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/auth"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/billing"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/ledger"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/pricing"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

var validate = validator.New()

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return models.NewValidationError("invalid request body", err)
	}
	if err := validate.Struct(out); err != nil {
		return models.NewValidationError(err.Error(), nil)
	}
	return nil
}

// respondError writes err as a sanitized AppError. Storage failures come out
// as retryable 5xx so webhook senders redeliver.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pricing.ErrTierNotFound):
		err = models.NewNotFoundError("pricing tier")
	case errors.Is(err, ledger.ErrCardNotFound):
		err = models.NewNotFoundError("time card")
	case errors.Is(err, billing.ErrSessionNotFound):
		err = models.NewNotFoundError("billing session")
	}

	appErr := models.SanitizeError(err)
	if appErr.GetStatusCode() >= fiber.StatusInternalServerError {
		fiberlog.Errorf("%s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{"error": appErr})
}

func currentUser(c *fiber.Ctx) (string, error) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return "", models.NewAuthenticationError("authentication required", nil)
	}
	return userID, nil
}
