// Package recommendation computes the single best-vendor verdict for an RFP and keeps it frozen
// once it has been stored.
package recommendation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rfp-agent/backend/internal/llm"
	"github.com/rfp-agent/backend/internal/metrics"
	"github.com/rfp-agent/backend/internal/storage"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/logger"
	"github.com/rfp-agent/backend/pkg/textutil"
)

var ErrRFPNotFound = errors.New("rfp not found")

const (
	SourceCache     = "cache"
	SourceStored    = "stored"
	SourceGenerated = "generated"
	SourceFallback  = "fallback"
	SourceNone      = "none"

	NoProposalsReasoning = "No proposals received yet."
	MismatchNote         = " (Fallback match applied due to name mismatch)"
)

type Store interface {
	GetRFP(ctx context.Context, id int64) (*models.RFP, error)
	ListRankedProposals(ctx context.Context, rfpID int64) ([]models.ProposalView, error)
	GetRecommendation(ctx context.Context, rfpID int64) (*models.Recommendation, error)
	InsertRecommendationIfAbsent(ctx context.Context, rfpID int64, rec *models.Recommendation) (bool, error)
}

// Cache is an optional tier in front of the stored recommendations.
type Cache interface {
	GetRecommendation(ctx context.Context, rfpID int64) (*models.Recommendation, bool, error)
	SetRecommendation(ctx context.Context, rfpID int64, rec *models.Recommendation) error
}

type Result struct {
	Recommendation *models.Recommendation
	// Reasoning is only set when there is no recommendation to give.
	Reasoning string
	Proposals []models.ProposalView
	Source    string
}

type Service struct {
	store Store
	llm   llm.Completer
	cache Cache
	group singleflight.Group
}

// NewService wires the recommendation flow. cache may be nil.
func NewService(store Store, completer llm.Completer, cache Cache) *Service {
	return &Service{store: store, llm: completer, cache: cache}
}

// GetOrCreate returns the stored recommendation for rfpID, generating and storing one on the
// first read that finds proposals. Proposals are always read fresh, best score first.
func (s *Service) GetOrCreate(ctx context.Context, rfpID int64) (*Result, error) {
	stored, source, err := s.lookup(ctx, rfpID)
	if err != nil {
		return nil, err
	}

	proposals, err := s.store.ListRankedProposals(ctx, rfpID)
	if err != nil {
		return nil, fmt.Errorf("failed to load proposals: %w", err)
	}

	if stored != nil {
		metrics.Recommendations.WithLabelValues(source).Inc()
		return &Result{Recommendation: stored, Proposals: proposals, Source: source}, nil
	}

	rfp, err := s.store.GetRFP(ctx, rfpID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRFPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rfp: %w", err)
	}

	if len(proposals) == 0 {
		metrics.Recommendations.WithLabelValues(SourceNone).Inc()
		return &Result{Reasoning: NoProposalsReasoning, Proposals: proposals, Source: SourceNone}, nil
	}

	// concurrent first reads for one RFP share a single model call
	v, err, _ := s.group.Do(strconv.FormatInt(rfpID, 10), func() (any, error) {
		return s.generate(ctx, rfp, proposals)
	})
	if err != nil {
		return nil, err
	}

	res := v.(*Result)
	metrics.Recommendations.WithLabelValues(res.Source).Inc()
	return &Result{Recommendation: res.Recommendation, Proposals: proposals, Source: res.Source}, nil
}

func (s *Service) lookup(ctx context.Context, rfpID int64) (*models.Recommendation, string, error) {
	if s.cache != nil {
		rec, hit, err := s.cache.GetRecommendation(ctx, rfpID)
		switch {
		case err != nil:
			logger.Warn("Recommendation cache read failed", zap.Int64("rfp_id", rfpID), zap.Error(err))
		case hit:
			metrics.CacheHits.WithLabelValues("recommendation").Inc()
			return rec, SourceCache, nil
		default:
			metrics.CacheMisses.WithLabelValues("recommendation").Inc()
		}
	}

	rec, err := s.store.GetRecommendation(ctx, rfpID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load stored recommendation: %w", err)
	}

	s.fillCache(ctx, rfpID, rec)
	return rec, SourceStored, nil
}

func (s *Service) generate(ctx context.Context, rfp *models.RFP, proposals []models.ProposalView) (*Result, error) {
	logger.Info("Generating recommendation", zap.Int64("rfp_id", rfp.ID), zap.Int("proposals", len(proposals)))

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildPrompt(rfp, proposals),
		UserPrompt:   "Analyze and recommend the best vendor.",
		MaxTokens:    500,
		Operation:    "recommend",
	})
	if err != nil {
		logger.Warn("Recommendation call failed, serving unsaved fallback", zap.Int64("rfp_id", rfp.ID), zap.Error(err))
		return &Result{Recommendation: Fallback(proposals[0]), Source: SourceFallback}, nil
	}

	parsed, ok := ParseModelOutput(resp.Content)
	if !ok {
		logger.Warn("Recommendation output is not a JSON object, serving unsaved fallback",
			zap.Int64("rfp_id", rfp.ID),
			zap.String("output", textutil.Truncate(resp.Content, 200)),
		)
		return &Result{Recommendation: Fallback(proposals[0]), Source: SourceFallback}, nil
	}

	rec := ResolveVendor(parsed, proposals)

	wrote, err := s.store.InsertRecommendationIfAbsent(ctx, rfp.ID, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to store recommendation: %w", err)
	}

	final := &rec
	if !wrote {
		// another writer stored first; theirs is the frozen answer
		final, err = s.store.GetRecommendation(ctx, rfp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read recommendation: %w", err)
		}
	}

	s.fillCache(ctx, rfp.ID, final)

	logger.Info("Recommendation stored",
		zap.Int64("rfp_id", rfp.ID),
		zap.String("vendor", final.RecommendedVendor),
		zap.Bool("won_insert", wrote),
	)
	return &Result{Recommendation: final, Source: SourceGenerated}, nil
}

func (s *Service) fillCache(ctx context.Context, rfpID int64, rec *models.Recommendation) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetRecommendation(ctx, rfpID, rec); err != nil {
		logger.Warn("Recommendation cache write failed", zap.Int64("rfp_id", rfpID), zap.Error(err))
	}
}

// ModelOutput is the model's answer before its vendor name is checked against real proposals.
type ModelOutput struct {
	RecommendedVendor string
	Reasoning         string
	KeyFactors        []string
}

// ParseModelOutput accepts any JSON object; fields of the wrong type are treated as absent.
func ParseModelOutput(content string) (ModelOutput, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(textutil.StripCodeFences(content)), &raw); err != nil || raw == nil {
		return ModelOutput{}, false
	}

	out := ModelOutput{KeyFactors: []string{}}
	out.RecommendedVendor, _ = raw["recommended_vendor"].(string)
	out.RecommendedVendor = strings.TrimSpace(out.RecommendedVendor)
	out.Reasoning, _ = raw["reasoning"].(string)

	if factors, ok := raw["key_factors"].([]any); ok {
		for _, f := range factors {
			if s, ok := textutil.CoerceString(f); ok && s != "" {
				out.KeyFactors = append(out.KeyFactors, s)
			}
		}
	}
	return out, true
}

// ResolveVendor binds the model's vendor name to one of the proposals, which must be ordered
// best score first. A name is matched by case-insensitive containment in either direction.
func ResolveVendor(out ModelOutput, proposals []models.ProposalView) models.Recommendation {
	top := proposals[0]

	if out.RecommendedVendor == "" {
		summary := top.Summary
		if summary == "" {
			summary = "No additional reasoning available."
		}
		return models.Recommendation{
			RecommendedVendor:   top.VendorName,
			RecommendedVendorID: int64Ptr(top.ID),
			Reasoning:           fmt.Sprintf("Based on AI scoring, %s has the highest score (%s/100). %s", top.VendorName, scoreText(top.Score), summary),
			KeyFactors:          []string{"AI Score", "Price", "Delivery Timeline"},
		}
	}

	name := strings.ToLower(out.RecommendedVendor)
	for _, p := range proposals {
		vendor := strings.ToLower(p.VendorName)
		if vendor == "" {
			continue
		}
		if strings.Contains(vendor, name) || strings.Contains(name, vendor) {
			return models.Recommendation{
				RecommendedVendor:   p.VendorName,
				RecommendedVendorID: int64Ptr(p.ID),
				Reasoning:           out.Reasoning,
				KeyFactors:          out.KeyFactors,
			}
		}
	}

	logger.Warn("Model recommended an unknown vendor, using top score",
		zap.String("model_vendor", out.RecommendedVendor),
		zap.String("vendor", top.VendorName),
	)
	return models.Recommendation{
		RecommendedVendor:   top.VendorName,
		RecommendedVendorID: int64Ptr(top.ID),
		Reasoning:           out.Reasoning + MismatchNote,
		KeyFactors:          out.KeyFactors,
	}
}

// Fallback is served, never stored, when the model could not produce a recommendation.
func Fallback(top models.ProposalView) *models.Recommendation {
	return &models.Recommendation{
		RecommendedVendor:   top.VendorName,
		RecommendedVendorID: int64Ptr(top.ID),
		Reasoning: fmt.Sprintf("Based on AI scoring, %s has the highest score (%s/100). This recommendation is based on automated scoring of price competitiveness, delivery timeline, warranty terms, and proposal completeness.",
			top.VendorName, scoreText(top.Score)),
		KeyFactors: []string{"AI Score", "Price", "Delivery", "Warranty"},
	}
}

func buildPrompt(rfp *models.RFP, proposals []models.ProposalView) string {
	var b strings.Builder
	for i, p := range proposals {
		fmt.Fprintf(&b, "\nProposal %d - %s:\n", i+1, p.VendorName)
		fmt.Fprintf(&b, "- Score: %s/100\n", scoreText(p.Score))
		fmt.Fprintf(&b, "- Price: %s\n", orNA(p.ExtractedData.Price))
		fmt.Fprintf(&b, "- Delivery: %s\n", orNA(p.ExtractedData.Delivery))
		fmt.Fprintf(&b, "- Warranty: %s\n", orNA(p.ExtractedData.Warranty))
		fmt.Fprintf(&b, "- Summary: %s\n", orNA(p.Summary))
	}

	return fmt.Sprintf(`You are a procurement decision assistant.
Analyze multiple vendor proposals for an RFP and provide a recommendation.

RFP Title: "%s"
RFP Requirements: %s

Proposals to Compare:
%s
Task:
1. Compare all proposals across price, delivery, warranty, and overall value
2. Recommend the best vendor with clear reasoning
3. Highlight key differentiators

OUTPUT ONLY A JSON OBJECT:
{
  "recommended_vendor": "<vendor name EXACTLY as shown in proposal>",
  "reasoning": "<2-3 paragraph explanation of why this vendor is recommended, comparing against others>",
  "key_factors": ["<factor1>", "<factor2>", "<factor3>"]
}

Do not include markdown, code blocks, or any other text. Only the JSON object.`, rfp.Title, indentJSON(rfp.StructuredRequirements), b.String())
}

func indentJSON(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func scoreText(score *int) string {
	if score == nil {
		return models.NotAvailable
	}
	return strconv.Itoa(*score)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return models.NotAvailable
	}
	return s
}

func int64Ptr(v int64) *int64 {
	return &v
}
