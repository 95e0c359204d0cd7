// Package extraction turns a vendor's free-text reply into structured proposal fields and a short summary.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/llm"
	"github.com/rfp-agent/backend/internal/metrics"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/logger"
	"github.com/rfp-agent/backend/pkg/textutil"
)

const (
	FailedToParse = "Failed to parse - see raw_text"

	summaryFallbackRunes = 200
)

type Engine struct {
	llm llm.Completer
}

func NewEngine(completer llm.Completer) *Engine {
	return &Engine{llm: completer}
}

// Extract never fails. When the model is unreachable or its output is unusable the raw
// proposal text is preserved in the fallback object.
func (e *Engine) Extract(ctx context.Context, rfpTitle, vendorName, proposalText string) models.ExtractedFields {
	systemPrompt := fmt.Sprintf(`You are a procurement assistant AI.
Your ONLY job is to extract structured data from a vendor's proposal in response to an RFP.

RFP Context: "%s"
Vendor Name: "%s"

Input Proposal Text:
"""
%s
"""

STRICT INSTRUCTIONS:
1. Analyze the proposal text carefully.
2. Extract the following fields:
   - "price": Total cost or itemized prices found.
   - "delivery": Delivery timeline.
   - "warranty": Warranty terms.
   - "other_details": Payment terms, validity, extras.
3. The format might be bulleted or just "Key: Value" lines. Look for lines starting with "Price:", "Cost:", "Delivery:", etc.
4. If a field is missing, use "N/A".
5. OUTPUT ONLY A VALID JSON OBJECT. Do not output markdown, code blocks, or any conversation.

Example JSON:
{
  "price": "$2,450 per month",
  "delivery": "Starts Jan 10",
  "warranty": "2 years",
  "other_details": "Net 30 payment"
}`, rfpTitle, vendorName, proposalText)

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   "Extract data from the proposal above.",
		MaxTokens:    500,
		Operation:    "extract",
	})
	if err != nil {
		logger.Warn("Extraction call failed, storing raw text", zap.String("vendor", vendorName), zap.Error(err))
		metrics.ExtractionResults.WithLabelValues("fallback").Inc()
		return Fallback(proposalText)
	}

	fields, complete, ok := ParseFields(resp.Content)
	if !ok {
		logger.Warn("Extraction output is not a usable JSON object, storing raw text",
			zap.String("vendor", vendorName),
			zap.String("output", textutil.Truncate(resp.Content, 200)),
		)
		metrics.ExtractionResults.WithLabelValues("fallback").Inc()
		return Fallback(proposalText)
	}

	if complete {
		metrics.ExtractionResults.WithLabelValues("parsed").Inc()
	} else {
		metrics.ExtractionResults.WithLabelValues("partial").Inc()
	}
	return fields
}

// ParseFields decodes model output into proposal fields. Missing or empty fields become "N/A"
// and non-string values are rendered as text. ok is false when the output is not a JSON object
// or names none of the expected fields; complete is true when all four were supplied.
func ParseFields(content string) (fields models.ExtractedFields, complete, ok bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(textutil.StripCodeFences(content)), &raw); err != nil || raw == nil {
		return models.ExtractedFields{}, false, false
	}

	targets := []struct {
		key string
		dst *string
	}{
		{"price", &fields.Price},
		{"delivery", &fields.Delivery},
		{"warranty", &fields.Warranty},
		{"other_details", &fields.OtherDetails},
	}

	present := 0
	for _, t := range targets {
		value, exists := raw[t.key]
		if exists {
			present++
		}
		s, _ := textutil.CoerceString(value)
		if s == "" {
			s = models.NotAvailable
		}
		*t.dst = s
	}

	if present == 0 {
		return models.ExtractedFields{}, false, false
	}
	return fields, present == len(targets), true
}

func Fallback(proposalText string) models.ExtractedFields {
	return models.ExtractedFields{
		RawText:      proposalText,
		Price:        models.NotAvailable,
		Delivery:     models.NotAvailable,
		Warranty:     models.NotAvailable,
		OtherDetails: FailedToParse,
	}
}

// Summarize never fails; without a usable model reply it returns the opening of the text.
func (e *Engine) Summarize(ctx context.Context, rfpTitle, vendorName, proposalText string) string {
	systemPrompt := fmt.Sprintf(`You are a procurement assistant.
Read the vendor's proposal for the RFP: "%s".
Vendor: "%s"

Proposal Text:
"""
%s
"""

Task:
Provide a strong, detailed summary (2-3 sentences) highlighting the key value proposition.
Focus on:
1. Total Cost/Price.
2. Delivery commitment.
3. Any unique benefits or warranties mentioned.
Make it sound professional and helpful for decision making.`, rfpTitle, vendorName, proposalText)

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   "Summarize this proposal.",
		MaxTokens:    300,
		Operation:    "summarize",
	})
	if err != nil {
		logger.Warn("Summary call failed, using text prefix", zap.String("vendor", vendorName), zap.Error(err))
		return SummaryFallback(proposalText)
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return SummaryFallback(proposalText)
	}
	return summary
}

func SummaryFallback(proposalText string) string {
	return textutil.Ellipsize(proposalText, summaryFallbackRunes)
}
