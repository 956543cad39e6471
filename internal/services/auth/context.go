package auth

import (
	"github.com/gofiber/fiber/v2"
)

const localsKey = "auth_context"

// AuthContext is what the middleware leaves in fiber locals for handlers.
type AuthContext struct {
	UserID string
	Role   string
	Claims *Claims
}

func (a *AuthContext) HasRole(role string) bool {
	return a != nil && role != "" && a.Role == role
}

func SetAuthContext(c *fiber.Ctx, authCtx *AuthContext) {
	c.Locals(localsKey, authCtx)
}

func GetAuthContext(c *fiber.Ctx) *AuthContext {
	authCtx, ok := c.Locals(localsKey).(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

func GetUserID(c *fiber.Ctx) (string, bool) {
	authCtx := GetAuthContext(c)
	if authCtx == nil {
		return "", false
	}
	return authCtx.UserID, authCtx.UserID != ""
}
