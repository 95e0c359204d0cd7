package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/pipeline"
	"github.com/rfp-agent/backend/internal/recommendation"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/logger"
)

type PassRunner interface {
	RunOnce(ctx context.Context, trigger string) (*pipeline.PassResult, error)
}

type ProposalLister interface {
	ListProposals(ctx context.Context, rfpID int64) ([]models.ProposalView, error)
}

type Recommender interface {
	GetOrCreate(ctx context.Context, rfpID int64) (*recommendation.Result, error)
}

type VendorHandler struct {
	runner      PassRunner
	proposals   ProposalLister
	recommender Recommender
}

func NewVendorHandler(runner PassRunner, proposals ProposalLister, recommender Recommender) *VendorHandler {
	return &VendorHandler{runner: runner, proposals: proposals, recommender: recommender}
}

// Process runs a poll pass on demand and reports how many proposals it saved.
func (h *VendorHandler) Process(c *fiber.Ctx) error {
	res, err := h.runner.RunOnce(c.UserContext(), pipeline.TriggerManual)
	if errors.Is(err, pipeline.ErrPassInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status":  "busy",
			"message": "A poll pass is already running. Try again shortly.",
		})
	}
	if err != nil {
		logger.Error("Manual poll pass failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Could not process vendor replies",
		})
	}

	return c.JSON(fiber.Map{
		"status":    "success",
		"message":   "Processed vendor replies.",
		"processed": res.Saved,
		"result":    res,
	})
}

func (h *VendorHandler) Proposals(c *fiber.Ctx) error {
	rfpID, err := pathID(c, "rfpId")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid RFP id"})
	}

	proposals, err := h.proposals.ListProposals(c.UserContext(), rfpID)
	if err != nil {
		logger.Error("Failed to list proposals", zap.Int64("rfp_id", rfpID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch proposals",
		})
	}
	return c.JSON(fiber.Map{"proposals": proposals})
}

func (h *VendorHandler) Recommendation(c *fiber.Ctx) error {
	rfpID, err := pathID(c, "rfpId")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid RFP id"})
	}

	res, err := h.recommender.GetOrCreate(c.UserContext(), rfpID)
	if errors.Is(err, recommendation.ErrRFPNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "RFP not found"})
	}
	if err != nil {
		logger.Error("Failed to get recommendation", zap.Int64("rfp_id", rfpID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate recommendation",
		})
	}

	body := fiber.Map{
		"recommendation": res.Recommendation,
		"proposals":      res.Proposals,
	}
	if res.Recommendation == nil {
		body["reasoning"] = res.Reasoning
	}
	return c.JSON(body)
}
