package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/events"
	"github.com/rfp-agent/backend/pkg/logger"
)

type EventSource interface {
	Subscribe() (<-chan events.Event, func())
}

// WebSocketHandler streams pipeline events to dashboard clients. Clients only listen; anything
// they send is discarded.
type WebSocketHandler struct {
	hub EventSource
}

func NewWebSocketHandler(hub EventSource) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// Upgrade rejects plain HTTP requests to the events endpoint.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	stream, cancel := h.hub.Subscribe()
	logger.Info("Event stream opened", zap.String("remote", c.RemoteAddr().String()))

	defer func() {
		cancel()
		c.Close()
		logger.Info("Event stream closed")
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := c.WriteJSON(fiber.Map{"type": "connected"}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				logger.Debug("Failed to write event", zap.Error(err))
				return
			}
		}
	}
}
