package validation

import (
	"encoding/json"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ChatTextKey is the Locals key under which ChatRequest leaves the sanitized chat text.
const ChatTextKey = "chat_text"

type Config struct {
	MaxChatTextLength   int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func (cfg *Config) defaults() {
	if cfg.MaxChatTextLength <= 0 {
		cfg.MaxChatTextLength = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// ContentType rejects request bodies that are not JSON. Bodiless requests pass.
func ContentType(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		raw := c.Get(fiber.HeaderContentType)
		if raw == "" && len(c.Body()) == 0 {
			return c.Next()
		}

		mediaType, _, err := mime.ParseMediaType(raw)
		if err != nil || !allowed(mediaType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		if !json.Valid(c.Body()) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		return c.Next()
	}
}

// ChatRequest checks the {"text": ...} body of a chat request and stores the sanitized text.
func ChatRequest(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		var req struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if req.Text == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Text is required and must be a string",
			})
		}

		text := sanitizeString(*req.Text)
		if text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Text is required and must be a string",
			})
		}

		if n := utf8.RuneCountInString(text); n > cfg.MaxChatTextLength {
			cfg.Logger.Warn("Chat text too long",
				zap.String("ip", c.IP()),
				zap.Int("length", n),
				zap.Int("max", cfg.MaxChatTextLength),
			)
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Text exceeds maximum length",
			})
		}

		c.Locals(ChatTextKey, text)
		return c.Next()
	}
}

func allowed(mediaType string, types []string) bool {
	for _, t := range types {
		if strings.EqualFold(mediaType, t) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return strings.TrimSpace(input)
}
