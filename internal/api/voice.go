package api

import (
	"errors"
	"net/http"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/voice"
	"github.com/gofiber/fiber/v2"
)

type VoiceHandler struct {
	voiceService *voice.Service
}

func NewVoiceHandler(voiceService *voice.Service) *VoiceHandler {
	return &VoiceHandler{voiceService: voiceService}
}

// HandleWebhook applies a signed call event from the voice platform.
func (h *VoiceHandler) HandleWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)

	headers := make(http.Header)
	for key, value := range c.GetReqHeaders() {
		for _, v := range value {
			headers.Add(key, v)
		}
	}

	result, err := h.voiceService.HandleEvent(c.UserContext(), payload, headers)
	if err != nil {
		if errors.Is(err, voice.ErrInvalidSignature) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid webhook signature",
			})
		}
		return respondError(c, err)
	}
	return c.JSON(result)
}
