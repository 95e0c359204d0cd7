package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/middleware/validation"
	"github.com/rfp-agent/backend/internal/rfp"
	"github.com/rfp-agent/backend/pkg/logger"
)

type RFPGenerator interface {
	Generate(ctx context.Context, text string) (*rfp.ChatReply, error)
}

type ChatHandler struct {
	generator RFPGenerator
}

func NewChatHandler(generator RFPGenerator) *ChatHandler {
	return &ChatHandler{generator: generator}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	text, _ := c.Locals(validation.ChatTextKey).(string)
	if text == "" {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.BodyParser(&req); err != nil || req.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Text is required",
			})
		}
		text = req.Text
	}

	reply, err := h.generator.Generate(c.UserContext(), text)
	if err != nil {
		logger.Error("Failed to generate rfp", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "AI backend error or database connection issue.",
		})
	}

	return c.JSON(reply)
}
