// Package scoring rates a vendor proposal against its RFP on a 0-100 scale.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/llm"
	"github.com/rfp-agent/backend/internal/metrics"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/logger"
	"github.com/rfp-agent/backend/pkg/textutil"
)

const (
	PathJSON      = "json"
	PathRegex     = "regex"
	PathHeuristic = "heuristic"

	ReasoningDefault   = "Scored by AI"
	ReasoningRegex     = "Parsed from text response"
	ReasoningHeuristic = "AI generation failed; score estimated based on data completeness."
	FloorNote          = " (Adjusted for completeness)"

	floorScore      = 65
	substantialText = 50
	promptTextRunes = 1500
)

var (
	jsonScorePattern  = regexp.MustCompile(`"score"\s*:\s*(\d+)`)
	labelScorePattern = regexp.MustCompile(`(?i)Score:\s*(\d+)`)
)

type Input struct {
	RFPTitle     string
	Requirements json.RawMessage
	VendorName   string
	Extracted    models.ExtractedFields
	ProposalText string
}

type Result struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
	Path      string `json:"-"`
}

type Engine struct {
	llm llm.Completer
}

func NewEngine(completer llm.Completer) *Engine {
	return &Engine{llm: completer}
}

// Score never fails: model output is tried as JSON, then by pattern, and a completeness
// heuristic covers everything else. The floor rule is applied to whichever result wins.
func (e *Engine) Score(ctx context.Context, in Input) Result {
	var result Result

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildPrompt(in),
		UserPrompt:   "Evaluate and score this proposal.",
		MaxTokens:    400,
		Operation:    "score",
	})
	if err != nil {
		logger.Warn("Scoring call failed, estimating score", zap.String("vendor", in.VendorName), zap.Error(err))
		result = Heuristic(in.Extracted, in.ProposalText)
	} else if parsed, ok := Parse(resp.Content); ok {
		result = parsed
	} else {
		logger.Warn("No score found in model output, estimating score",
			zap.String("vendor", in.VendorName),
			zap.String("output", textutil.Truncate(resp.Content, 200)),
		)
		result = Heuristic(in.Extracted, in.ProposalText)
	}

	result = ApplyFloor(result, in.ProposalText)

	metrics.ScoringPath.WithLabelValues(result.Path).Inc()
	metrics.ProposalScores.Observe(float64(result.Score))

	logger.Debug("Proposal scored",
		zap.String("vendor", in.VendorName),
		zap.Int("score", result.Score),
		zap.String("path", result.Path),
	)
	return result
}

// Parse reads a score from model output, first as a JSON object and then by pattern.
func Parse(content string) (Result, bool) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(textutil.StripCodeFences(content)), &parsed); err == nil {
		if score, ok := parsed["score"].(float64); ok {
			reasoning, _ := parsed["reasoning"].(string)
			if reasoning == "" {
				reasoning = ReasoningDefault
			}
			return Result{Score: clamp(score), Reasoning: reasoning, Path: PathJSON}, true
		}
	}

	for _, pattern := range []*regexp.Regexp{jsonScorePattern, labelScorePattern} {
		m := pattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		score, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return Result{Score: clamp(score), Reasoning: ReasoningRegex, Path: PathRegex}, true
	}

	return Result{}, false
}

// Heuristic estimates a score from how complete the proposal looks.
func Heuristic(extracted models.ExtractedFields, proposalText string) Result {
	score := 60
	if extracted.HasPrice() {
		score += 10
	}
	if extracted.HasDelivery() {
		score += 10
	}
	if textutil.RuneLen(proposalText) > substantialText {
		score += 10
	}
	if score > 95 {
		score = 95
	}
	return Result{Score: score, Reasoning: ReasoningHeuristic, Path: PathHeuristic}
}

// ApplyFloor lifts a zero score on a substantial proposal to 65.
func ApplyFloor(r Result, proposalText string) Result {
	if r.Score == 0 && textutil.RuneLen(proposalText) > substantialText {
		metrics.ScoreFloorApplied.Inc()
		r.Score = floorScore
		r.Reasoning += FloorNote
	}
	return r
}

func clamp(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	return int(math.Max(0, math.Min(100, math.Round(score))))
}

func buildPrompt(in Input) string {
	extracted, _ := json.MarshalIndent(in.Extracted, "", "  ")

	return fmt.Sprintf(`You are a procurement evaluation AI.
Evaluate a vendor proposal against an RFP and assign a score from 0-100.

RFP Title: "%s"
RFP Requirements: %s

Vendor: "%s"
Extracted Data: %s

Full Proposal Text:
"""
%s
"""

Evaluation Guidelines:
1. Compare Price, Delivery, Warranty against requirements.
2. If specific requirements are missing, assume standard industry practices.
3. **CRITICAL**: If Extracted Data is "N/A", YOU MUST READ THE FULL PROPOSAL TEXT to find the values.
4. Score generously for complete proposals (typically 60-95 range).
5. Score 0 ONLY if the proposal is completely irrelevant or gibberish.

OUTPUT ONLY A JSON OBJECT:
{
  "score": <number 0-100>,
  "reasoning": "<short explanation>"
}`, in.RFPTitle, requirementsText(in.Requirements), in.VendorName, extracted, textutil.Truncate(in.ProposalText, promptTextRunes))
}

func requirementsText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return `"Standard business requirements"`
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return string(trimmed)
	}
	return buf.String()
}
