package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/rfp"
	"github.com/rfp-agent/backend/internal/storage"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/logger"
)

type RFPService interface {
	Confirm(ctx context.Context, req rfp.ConfirmRequest) (*rfp.ConfirmResult, error)
	ListVendors(ctx context.Context) ([]models.Vendor, error)
	ListRFPs(ctx context.Context) ([]models.RFP, error)
	GetRFP(ctx context.Context, id int64) (*models.RFP, []models.Vendor, error)
}

type RFPHandler struct {
	service RFPService
}

func NewRFPHandler(service RFPService) *RFPHandler {
	return &RFPHandler{service: service}
}

func (h *RFPHandler) ListVendors(c *fiber.Ctx) error {
	vendors, err := h.service.ListVendors(c.UserContext())
	if err != nil {
		logger.Error("Failed to list vendors", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch vendors",
		})
	}
	return c.JSON(fiber.Map{"vendors": vendors})
}

func (h *RFPHandler) Confirm(c *fiber.Ctx) error {
	var req rfp.ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	res, err := h.service.Confirm(c.UserContext(), req)
	var invalid *rfp.ValidationError
	switch {
	case errors.As(err, &invalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": invalid.Message})
	case err != nil:
		logger.Error("Failed to confirm rfp", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not save/send RFP",
		})
	case res.Discarded:
		return c.JSON(fiber.Map{"message": "RFP discarded"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"rfp": fiber.Map{
			"id":     res.RFP.ID,
			"title":  res.RFP.Title,
			"status": res.RFP.Status,
		},
		"message":       fmt.Sprintf("RFP saved, %d vendors linked, and emails sent successfully", res.VendorsLinked),
		"vendorsLinked": res.VendorsLinked,
	})
}

func (h *RFPHandler) GetRFP(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid RFP id"})
	}

	found, vendors, err := h.service.GetRFP(c.UserContext(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "RFP not found"})
	}
	if err != nil {
		logger.Error("Failed to fetch rfp", zap.Int64("rfp_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch RFP",
		})
	}

	return c.JSON(fiber.Map{"rfp": found, "vendors": vendors})
}

func (h *RFPHandler) ListRFPs(c *fiber.Ctx) error {
	rfps, err := h.service.ListRFPs(c.UserContext())
	if err != nil {
		logger.Error("Failed to list rfps", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch RFPs",
		})
	}
	return c.JSON(fiber.Map{"rfps": rfps})
}

func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, c.Params(name))
	}
	return id, nil
}
